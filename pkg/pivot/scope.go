package pivot

import (
	"strings"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gateway/pkg/dataset"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// ResolveOrgScope decides which organization a pivot runs under.
//
// Global admins may target any organization and default to their own
// context. Datasets without org scope run unscoped. Otherwise the caller
// must carry an organization, may not request a different one, and may not
// filter the org field to any other value.
func ResolveOrgScope(ds *models.Dataset, qc *models.QueryContext, requestedOrg string, filters []models.FilterConfig) (string, error) {
	if qc.IsGlobalAdmin {
		if requestedOrg != "" {
			return requestedOrg, nil
		}
		return qc.OrganizationID, nil
	}
	if !ds.RequiresOrgScope {
		return "", nil
	}
	if qc.OrganizationID == "" {
		return "", apperrors.Forbidden("Organization context required")
	}
	if requestedOrg != "" && requestedOrg != qc.OrganizationID {
		return "", apperrors.Forbidden("Organization context mismatch")
	}

	orgField := ds.OrgScopeFieldID()
	for _, f := range filters {
		if f.Field != orgField {
			continue
		}
		values := []any{f.Value}
		if list, ok := f.Value.([]any); ok && f.Operator == models.OpIn {
			values = list
		}
		for _, v := range values {
			if s, ok := v.(string); !ok || s != qc.OrganizationID {
				return "", apperrors.Forbidden("Organization context mismatch")
			}
		}
	}
	return qc.OrganizationID, nil
}

// checkFieldAccess rejects requests naming fields the caller may not read.
func checkFieldAccess(ds *models.Dataset, qc *models.QueryContext, requested []string) ([]models.DatasetField, error) {
	accessible := dataset.AccessibleFields(ds, qc)
	allowed := make(map[string]bool, len(accessible))
	for _, f := range accessible {
		allowed[f.ID] = true
	}
	var denied []string
	for _, id := range requested {
		if !allowed[id] {
			denied = append(denied, id)
		}
	}
	if len(denied) > 0 {
		return nil, apperrors.Forbidden("Field access denied: " + strings.Join(denied, ", "))
	}
	return accessible, nil
}

// scopeFilters appends the org equality filter for org-scoped datasets.
func scopeFilters(ds *models.Dataset, orgID string, filters []models.FilterConfig) []models.FilterConfig {
	out := append([]models.FilterConfig{}, filters...)
	if ds.RequiresOrgScope && orgID != "" {
		out = append(out, models.FilterConfig{Field: ds.OrgScopeFieldID(), Operator: models.OpEq, Value: orgID})
	}
	return out
}
