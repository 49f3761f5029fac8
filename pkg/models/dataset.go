package models

// DataType is the logical type of a dataset field.
type DataType string

const (
	DataTypeString   DataType = "string"
	DataTypeNumber   DataType = "number"
	DataTypeDate     DataType = "date"
	DataTypeDatetime DataType = "datetime"
	DataTypeBoolean  DataType = "boolean"
	DataTypeEnum     DataType = "enum"
	DataTypeJSON     DataType = "json"
	DataTypeUUID     DataType = "uuid"
)

// TimeGrain truncates a temporal field before grouping.
type TimeGrain string

const (
	TimeGrainDay     TimeGrain = "day"
	TimeGrainWeek    TimeGrain = "week"
	TimeGrainMonth   TimeGrain = "month"
	TimeGrainQuarter TimeGrain = "quarter"
)

// PIIClassification marks fields that must be masked or hidden from the workbench.
type PIIClassification string

const (
	PIINone       PIIClassification = "none"
	PIIPersonal   PIIClassification = "personal"
	PIISensitive  PIIClassification = "sensitive"
	PIIRestricted PIIClassification = "restricted"
)

// EnumValue is one allowed value of an enum field.
type EnumValue struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// DatasetField describes one queryable field of a dataset.
type DatasetField struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Description        string            `json:"description,omitempty"`
	SourceColumn       string            `json:"source_column"`
	DataType           DataType          `json:"data_type"`
	TimeGrain          TimeGrain         `json:"time_grain,omitempty"`
	DerivedFrom        string            `json:"derived_from,omitempty"`
	PIIClassification  PIIClassification `json:"pii_classification,omitempty"`
	RequiredPermission string            `json:"required_permission,omitempty"`
	AllowFilter        bool              `json:"allow_filter"`
	AllowGroupBy       bool              `json:"allow_group_by"`
	AllowAggregate     bool              `json:"allow_aggregate"`
	EnumValues         []EnumValue       `json:"enum_values,omitempty"`
}

// IsPII reports whether the field carries any PII classification other than none.
func (f *DatasetField) IsPII() bool {
	return f.PIIClassification != "" && f.PIIClassification != PIINone
}

// Dataset is a tenant-safe abstraction over one secured view.
type Dataset struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	BaseTable        string         `json:"base_table"`
	RequiresOrgScope bool           `json:"requires_org_scope"`
	OrgScopeColumn   string         `json:"org_scope_column,omitempty"`
	AllowedRoles     []string       `json:"allowed_roles,omitempty"`
	Fields           []DatasetField `json:"fields"`
}

// Field returns the field with the given id.
func (d *Dataset) Field(id string) (*DatasetField, bool) {
	for i := range d.Fields {
		if d.Fields[i].ID == id {
			return &d.Fields[i], true
		}
	}
	return nil, false
}

// OrgScopeFieldID returns the field id that carries the organization, defaulting to organizationId.
func (d *Dataset) OrgScopeFieldID() string {
	if d.OrgScopeColumn != "" {
		return d.OrgScopeColumn
	}
	return "organizationId"
}
