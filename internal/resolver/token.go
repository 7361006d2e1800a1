package resolver

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the access-token payload: the authenticated user plus the tenant
// it claims to act within. The tenant claim is advisory until the resolver
// verifies membership against the registry.
type Claims struct {
	Email    string `json:"email"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (s *Service) verifyToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clk.Now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: token invalid", ErrAuth)
	}
	if strings.TrimSpace(claims.TenantID) == "" {
		return nil, fmt.Errorf("%w: token missing tenant_id", ErrAuth)
	}
	return claims, nil
}

// IssueToken mints an access token for a user within a tenant.
func (s *Service) IssueToken(userID snowflake.ID, email string, tenantID snowflake.ID, role string) (string, error) {
	now := s.clk.Now()
	claims := Claims{
		Email:    strings.ToLower(strings.TrimSpace(email)),
		TenantID: tenantID.String(),
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
