package models

import "time"

// Permission names consulted by the gateway. The permission set itself is
// resolved upstream and arrives pre-validated in the token.
const (
	PermissionAll                = "*"
	PermissionAnalyticsAdmin     = "analytics.admin"
	PermissionAnalyticsPII       = "analytics.pii"
	PermissionAnalyticsPIIStrict = "analytics.pii.restricted"
)

// QueryContext is the caller identity every guarded query runs under.
// OrganizationID is empty when the caller has no organization scope.
type QueryContext struct {
	UserID         string          `json:"user_id"`
	OrganizationID string          `json:"organization_id,omitempty"`
	OrgRole        string          `json:"org_role,omitempty"`
	IsGlobalAdmin  bool            `json:"is_global_admin"`
	Permissions    map[string]bool `json:"-"`
	HasRecentAuth  bool            `json:"has_recent_auth"`
	Timestamp      time.Time       `json:"timestamp"`
}

// HasPermission reports whether the caller holds perm directly or through the wildcard.
func (q *QueryContext) HasPermission(perm string) bool {
	if q == nil {
		return false
	}
	return q.Permissions[perm] || q.Permissions[PermissionAll]
}

// IsAnalyticsAdmin reports whether the caller may administer BI state (cache, metrics access).
func (q *QueryContext) IsAnalyticsAdmin() bool {
	if q == nil {
		return false
	}
	return q.IsGlobalAdmin || q.HasPermission(PermissionAnalyticsAdmin)
}

// WithOrganization returns a copy scoped to orgID.
func (q QueryContext) WithOrganization(orgID string) QueryContext {
	q.OrganizationID = orgID
	return q
}
