// Package pool owns every live connection to tenant storage. It keeps one
// bounded database/sql pool per storage identity, creates pools lazily, and
// retires pools that have gone idle.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/tenantplane/internal/clock"
	obsmetrics "github.com/smallbiznis/tenantplane/internal/observability/metrics"
	"go.uber.org/zap"
)

var (
	// ErrExhausted means the global connection ceiling is reached. Callers
	// should treat it as transient and retry.
	ErrExhausted = errors.New("pool_exhausted")
	ErrClosed    = errors.New("pool_manager_closed")
)

// Conn is the slice of *sql.DB the manager needs. The indirection keeps the
// sweeper and ceiling logic testable without a live database.
type Conn interface {
	PingContext(ctx context.Context) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Stats() sql.DBStats
	Close() error
}

// Opener dials the storage behind an opaque storage identity.
type Opener func(storageID string) (Conn, error)

// Config bounds the pool manager.
type Config struct {
	PerTenantMax   int
	GlobalMax      int
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	ConnectTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PerTenantMax:   10,
		GlobalMax:      10000,
		IdleTimeout:    30 * time.Minute,
		SweepInterval:  5 * time.Minute,
		ConnectTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PerTenantMax <= 0 {
		c.PerTenantMax = defaults.PerTenantMax
	}
	if c.GlobalMax <= 0 {
		c.GlobalMax = defaults.GlobalMax
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaults.IdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	return c
}

// Handle is the caller-facing view of one tenant's pool.
type Handle struct {
	storageID string
	conn      Conn
	createdAt time.Time

	mu       sync.Mutex
	lastUsed time.Time
}

func (h *Handle) StorageID() string { return h.storageID }

// Conn returns the underlying bounded pool.
func (h *Handle) Conn() Conn { return h.conn }

func (h *Handle) touch(now time.Time) {
	h.mu.Lock()
	h.lastUsed = now
	h.mu.Unlock()
}

func (h *Handle) lastUsedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

// HandleStats is a point-in-time view of one pool, for the stats endpoint.
type HandleStats struct {
	StorageID       string    `json:"storage_id"`
	CreatedAt       time.Time `json:"created_at"`
	LastUsedAt      time.Time `json:"last_used_at"`
	LiveConnections int       `json:"live_connections"`
	MaxConnections  int       `json:"max_connections"`
}

// Stats aggregates the whole manager.
type Stats struct {
	TotalPools       int           `json:"total_pools"`
	TotalConnections int           `json:"total_connections"`
	GlobalMax        int           `json:"global_max"`
	Pools            []HandleStats `json:"pools"`
}

// Manager maps storage identities to live pools.
type Manager struct {
	cfg    Config
	opener Opener
	clk    clock.Clock
	log    *zap.Logger

	mu     sync.Mutex
	pools  map[string]*Handle
	closed bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

func New(cfg Config, opener Opener, clk clock.Clock, log *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		opener:    opener,
		clk:       clk,
		log:       log.Named("pool"),
		pools:     make(map[string]*Handle),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// NewOpener opens a bounded pgx-backed pool per tenant database. The DSN is
// derived from the storage identity by dsnFor.
func NewOpener(cfg Config, dsnFor func(storageID string) string) Opener {
	return func(storageID string) (Conn, error) {
		sqlDB, err := sql.Open("pgx", dsnFor(storageID))
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.PerTenantMax)
		sqlDB.SetMaxIdleConns(cfg.PerTenantMax)
		sqlDB.SetConnMaxIdleTime(30 * time.Second)
		return sqlDB, nil
	}
}

// Get returns the pool for a storage identity, creating it on first use.
// A second call with the same identity returns the same handle and only
// refreshes its last-used timestamp. Creation is rejected with ErrExhausted
// once the sum of live connections across all pools reaches the global
// ceiling.
func (m *Manager) Get(ctx context.Context, storageID string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if handle, ok := m.pools[storageID]; ok {
		handle.touch(m.clk.Now())
		return handle, nil
	}

	if total := m.totalConnectionsLocked(); total >= m.cfg.GlobalMax {
		obsmetrics.ControlPlane().IncPoolExhausted()
		return nil, fmt.Errorf("%w: %d/%d connections in use", ErrExhausted, total, m.cfg.GlobalMax)
	}

	conn, err := m.opener(storageID)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping storage: %w", err)
	}

	now := m.clk.Now()
	handle := &Handle{
		storageID: storageID,
		conn:      conn,
		createdAt: now,
		lastUsed:  now,
	}
	m.pools[storageID] = handle

	m.log.Info("pool created",
		zap.String("storage_id", storageID),
		zap.Int("total_pools", len(m.pools)),
	)
	m.publishStatsLocked()
	return handle, nil
}

// Close drains and removes one pool. Unknown identities are a no-op.
func (m *Manager) Close(storageID string) error {
	m.mu.Lock()
	handle, ok := m.pools[storageID]
	if ok {
		delete(m.pools, storageID)
	}
	m.publishStatsLocked()
	m.mu.Unlock()

	if !ok {
		return nil
	}

	if err := handle.conn.Close(); err != nil {
		return fmt.Errorf("close pool %s: %w", storageID, err)
	}
	m.log.Info("pool closed", zap.String("storage_id", storageID))
	return nil
}

// CloseAll synchronously drains every pool. Used only during orderly
// shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	m.closed = true
	handles := make([]*Handle, 0, len(m.pools))
	for _, handle := range m.pools {
		handles = append(handles, handle)
	}
	m.pools = make(map[string]*Handle)
	m.publishStatsLocked()
	m.mu.Unlock()

	var firstErr error
	for _, handle := range handles {
		if err := handle.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.log.Info("all pools closed", zap.Int("count", len(handles)))
	return firstErr
}

// Stats reports the current pool population.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		TotalPools: len(m.pools),
		GlobalMax:  m.cfg.GlobalMax,
		Pools:      make([]HandleStats, 0, len(m.pools)),
	}
	for _, handle := range m.pools {
		live := handle.conn.Stats().OpenConnections
		stats.TotalConnections += live
		stats.Pools = append(stats.Pools, HandleStats{
			StorageID:       handle.storageID,
			CreatedAt:       handle.createdAt,
			LastUsedAt:      handle.lastUsedAt(),
			LiveConnections: live,
			MaxConnections:  m.cfg.PerTenantMax,
		})
	}
	return stats
}

// StartSweeper runs the idle sweep loop until StopSweeper.
func (m *Manager) StartSweeper() {
	go func() {
		defer close(m.sweepDone)
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.stopSweep:
				return
			}
		}
	}()
}

// StopSweeper terminates the sweep loop.
func (m *Manager) StopSweeper() {
	close(m.stopSweep)
	<-m.sweepDone
}

// Sweep closes pools whose idle age exceeds the timeout and which have zero
// live connections. A pool with any live connection is never evicted,
// regardless of idle time. Returns the number of pools closed.
func (m *Manager) Sweep() int {
	now := m.clk.Now()

	m.mu.Lock()
	var victims []*Handle
	for storageID, handle := range m.pools {
		if now.Sub(handle.lastUsedAt()) <= m.cfg.IdleTimeout {
			continue
		}
		if handle.conn.Stats().OpenConnections > 0 {
			continue
		}
		victims = append(victims, handle)
		delete(m.pools, storageID)
	}
	m.publishStatsLocked()
	m.mu.Unlock()

	for _, handle := range victims {
		if err := handle.conn.Close(); err != nil {
			m.log.Warn("idle pool close failed",
				zap.String("storage_id", handle.storageID),
				zap.Error(err),
			)
			continue
		}
		obsmetrics.ControlPlane().IncPoolEviction()
		m.log.Info("idle pool evicted", zap.String("storage_id", handle.storageID))
	}
	return len(victims)
}

func (m *Manager) totalConnectionsLocked() int {
	total := 0
	for _, handle := range m.pools {
		total += handle.conn.Stats().OpenConnections
	}
	return total
}

func (m *Manager) publishStatsLocked() {
	obsmetrics.ControlPlane().SetPoolStats(len(m.pools), m.totalConnectionsLocked())
}
