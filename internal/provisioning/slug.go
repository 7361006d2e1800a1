package provisioning

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

const (
	maxSlugLen    = 50
	maxDBNameLen  = 63
	slugAttempts  = 10
	suffixCeiling = 10000
)

// slugify normalizes an organization name into a URL-safe identifier:
// lowercase, non-alphanumeric runs collapsed to single hyphens, trimmed,
// and truncated to the registry column width.
func slugify(name string) string {
	s := slug.Make(strings.ToLower(name))
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	return s
}

func randomSuffix() string {
	n, err := rand.Int(rand.Reader, big.NewInt(suffixCeiling))
	if err != nil {
		return "0"
	}
	return n.String()
}

// databaseName derives the physical database name for a tenant. The name
// must stay within the PostgreSQL 63-byte identifier limit, so the slug is
// shortened before the uniqueness suffix rather than after.
func databaseName(prefix, tenantSlug string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	suffix := raw[:8]

	name := fmt.Sprintf("%s%s_%s", prefix, tenantSlug, suffix)
	if len(name) > maxDBNameLen {
		short := tenantSlug
		if len(short) > 30 {
			short = short[:30]
		}
		name = fmt.Sprintf("%s%s_%s", prefix, short, suffix)
		if len(name) > maxDBNameLen {
			name = name[:maxDBNameLen]
		}
	}
	return name
}
