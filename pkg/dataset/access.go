package dataset

import (
	"slices"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// MaskedValue replaces the value of a masked dimension.
const MaskedValue = "***"

// CanAccessDataset reports whether the caller's org role may query ds.
// Global admins bypass role restrictions.
func CanAccessDataset(ds *models.Dataset, qc *models.QueryContext) bool {
	if qc.IsGlobalAdmin || len(ds.AllowedRoles) == 0 {
		return true
	}
	return qc.OrgRole != "" && slices.Contains(ds.AllowedRoles, qc.OrgRole)
}

// CanAccessField reports whether the caller holds the field's required permission.
func CanAccessField(f *models.DatasetField, qc *models.QueryContext) bool {
	if f.RequiredPermission == "" || qc.IsGlobalAdmin {
		return true
	}
	return qc.HasPermission(f.RequiredPermission) || qc.HasPermission(models.PermissionAnalyticsAdmin)
}

// AccessibleFields returns the fields of ds the caller may reference.
func AccessibleFields(ds *models.Dataset, qc *models.QueryContext) []models.DatasetField {
	out := make([]models.DatasetField, 0, len(ds.Fields))
	for i := range ds.Fields {
		if CanAccessField(&ds.Fields[i], qc) {
			out = append(out, ds.Fields[i])
		}
	}
	return out
}

// ShouldMask reports whether the caller must see f only as MaskedValue.
// Restricted fields additionally require a recent step-up authentication.
func ShouldMask(f *models.DatasetField, qc *models.QueryContext) bool {
	if !f.IsPII() || qc.IsGlobalAdmin {
		return false
	}
	switch f.PIIClassification {
	case models.PIIRestricted:
		return !(qc.HasPermission(models.PermissionAnalyticsPIIStrict) && qc.HasRecentAuth)
	default:
		return !qc.HasPermission(models.PermissionAnalyticsPII)
	}
}

// FieldsToMask returns the ids of fields the caller must see masked.
func FieldsToMask(fields []models.DatasetField, qc *models.QueryContext) map[string]bool {
	out := make(map[string]bool)
	for i := range fields {
		if ShouldMask(&fields[i], qc) {
			out[fields[i].ID] = true
		}
	}
	return out
}

// MaskRow replaces masked field values in row in place.
func MaskRow(row map[string]any, masked map[string]bool) {
	for id := range masked {
		if _, ok := row[id]; ok {
			row[id] = MaskedValue
		}
	}
}

// FieldView is a field as presented to a caller, with its masking decision.
type FieldView struct {
	models.DatasetField
	Masked bool `json:"masked"`
}

// DatasetView is a dataset restricted to what one caller may see.
type DatasetView struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	ViewName    string                   `json:"view_name"`
	Fields      []FieldView              `json:"fields"`
	Filters     map[string]AllowedFilter `json:"filters"`
}

// Describe returns the caller-specific view of every accessible dataset.
func Describe(datasets []*models.Dataset, qc *models.QueryContext) []DatasetView {
	out := make([]DatasetView, 0, len(datasets))
	for _, ds := range datasets {
		if !CanAccessDataset(ds, qc) {
			continue
		}
		fields := AccessibleFields(ds, qc)
		view := DatasetView{
			ID:          ds.ID,
			Name:        ds.Name,
			Description: ds.Description,
			ViewName:    ViewName(ds.ID),
			Fields:      make([]FieldView, 0, len(fields)),
			Filters:     make(map[string]AllowedFilter),
		}
		allowed := AllowedFilters(ds)
		for i := range fields {
			view.Fields = append(view.Fields, FieldView{DatasetField: fields[i], Masked: ShouldMask(&fields[i], qc)})
			if af, ok := allowed[fields[i].ID]; ok {
				view.Filters[fields[i].ID] = af
			}
		}
		out = append(out, view)
	}
	return out
}
