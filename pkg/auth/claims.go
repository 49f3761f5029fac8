// Package auth validates the bearer tokens analysts present and turns their
// claims into the QueryContext every guarded query runs under. Role and
// permission resolution happen upstream; the token carries the result.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// QueryContextKey is the context key for the caller's QueryContext.
	QueryContextKey contextKey = "query_context"
)

// RecentAuthWindow is how long after an interactive login the caller counts
// as recently authenticated, which unlocks restricted PII.
const RecentAuthWindow = 15 * time.Minute

// Claims is the token payload issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	OrganizationID string   `json:"org,omitempty"`       // Active organization; empty for none
	OrgRole        string   `json:"org_role,omitempty"`  // Role within the organization
	GlobalAdmin    bool     `json:"gadm,omitempty"`      // Platform-wide administrator
	Permissions    []string `json:"perms,omitempty"`     // Resolved permission names
	AuthTime       int64    `json:"auth_time,omitempty"` // Unix time of the last interactive login
}

// QueryContext converts the claims into the caller identity used by the
// query layer. now decides whether the login is recent.
func (c *Claims) QueryContext(now time.Time) *models.QueryContext {
	perms := make(map[string]bool, len(c.Permissions))
	for _, p := range c.Permissions {
		perms[p] = true
	}
	recent := false
	if c.AuthTime > 0 {
		recent = now.Sub(time.Unix(c.AuthTime, 0)) <= RecentAuthWindow
	}
	return &models.QueryContext{
		UserID:         c.Subject,
		OrganizationID: c.OrganizationID,
		OrgRole:        c.OrgRole,
		IsGlobalAdmin:  c.GlobalAdmin,
		Permissions:    perms,
		HasRecentAuth:  recent,
		Timestamp:      now.UTC(),
	}
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}
