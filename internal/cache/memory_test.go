package cache

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantplane/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(id snowflake.ID) Snapshot {
	return Snapshot{
		ID:        id,
		Slug:      "acme-corp",
		Name:      "Acme Corp",
		StorageID: "tenant_acme_corp_1a2b3c4d",
		Status:    "active",
		Plan:      "pro",
	}
}

func TestMemoryStoreSetAndGet(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(5*time.Minute, clk)
	ctx := context.Background()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	id := node.Generate()
	store.Set(ctx, testSnapshot(id))

	byID, ok := store.GetByID(ctx, id)
	require.True(t, ok)
	assert.Equal(t, "tenant_acme_corp_1a2b3c4d", byID.StorageID)
	assert.Equal(t, clk.Now(), byID.CachedAt)

	bySlug, ok := store.GetBySlug(ctx, "Acme-Corp")
	require.True(t, ok, "slug lookup is case insensitive")
	assert.Equal(t, id, bySlug.ID)
}

func TestMemoryStoreExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(5*time.Minute, clk)
	ctx := context.Background()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	id := node.Generate()
	store.Set(ctx, testSnapshot(id))

	clk.Advance(5 * time.Minute)
	_, ok := store.GetByID(ctx, id)
	assert.True(t, ok, "entry at exactly the TTL is still fresh")

	clk.Advance(time.Millisecond)
	_, ok = store.GetByID(ctx, id)
	assert.False(t, ok, "entry past the TTL reads as a miss")
	_, ok = store.GetBySlug(ctx, "acme-corp")
	assert.False(t, ok)
}

func TestMemoryStoreDeleteRemovesBothKeys(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(5*time.Minute, clk)
	ctx := context.Background()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	id := node.Generate()
	store.Set(ctx, testSnapshot(id))

	store.Delete(ctx, id, "acme-corp")

	_, ok := store.GetByID(ctx, id)
	assert.False(t, ok)
	_, ok = store.GetBySlug(ctx, "acme-corp")
	assert.False(t, ok)
}

func TestMemoryStoreOverwriteRefreshesAge(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(5*time.Minute, clk)
	ctx := context.Background()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	id := node.Generate()
	store.Set(ctx, testSnapshot(id))

	clk.Advance(4 * time.Minute)
	updated := testSnapshot(id)
	updated.Status = "suspended"
	store.Set(ctx, updated)

	clk.Advance(4 * time.Minute)
	snapshot, ok := store.GetByID(ctx, id)
	require.True(t, ok, "rewrite restarts the TTL")
	assert.Equal(t, "suspended", snapshot.Status)
}
