package testhelpers

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// TestClaims are the claims GenerateTestJWT encodes.
type TestClaims struct {
	Subject        string   `json:"sub"`
	Audience       string   `json:"aud"`
	OrganizationID string   `json:"org,omitempty"`
	OrgRole        string   `json:"org_role,omitempty"`
	GlobalAdmin    bool     `json:"gadm,omitempty"`
	Permissions    []string `json:"perms,omitempty"`
	AuthTime       int64    `json:"auth_time,omitempty"`
}

// GenerateTestJWT creates an unsigned token (alg: none) for tests that run
// with verification disabled. An empty Audience defaults to "bi-gateway" and
// a zero AuthTime to the current time.
func GenerateTestJWT(c TestClaims) string {
	if c.Audience == "" {
		c.Audience = "bi-gateway"
	}
	if c.AuthTime == 0 {
		c.AuthTime = time.Now().Unix()
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	// Marshaling a flat struct cannot fail.
	payload, _ := json.Marshal(c)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}

// GenerateTestJWTWithBearer returns token with "Bearer " prefix for Authorization header.
func GenerateTestJWTWithBearer(c TestClaims) string {
	return "Bearer " + GenerateTestJWT(c)
}
