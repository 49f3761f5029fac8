// Package dataset holds the semantic catalog: which datasets exist, which
// fields each exposes, and how callers are allowed to see them.
package dataset

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-gateway/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Catalog is an immutable set of datasets keyed by id.
type Catalog struct {
	datasets map[string]*models.Dataset
	ids      []string
}

type catalogFile struct {
	Datasets []datasetSpec `yaml:"datasets"`
}

type datasetSpec struct {
	ID               string      `yaml:"id"`
	Name             string      `yaml:"name"`
	Description      string      `yaml:"description"`
	BaseTable        string      `yaml:"base_table"`
	RequiresOrgScope bool        `yaml:"requires_org_scope"`
	OrgScopeColumn   string      `yaml:"org_scope_column"`
	AllowedRoles     []string    `yaml:"allowed_roles"`
	Fields           []fieldSpec `yaml:"fields"`
}

type fieldSpec struct {
	ID                 string                   `yaml:"id"`
	Name               string                   `yaml:"name"`
	Description        string                   `yaml:"description"`
	SourceColumn       string                   `yaml:"source_column"`
	DataType           models.DataType          `yaml:"data_type"`
	TimeGrains         []models.TimeGrain       `yaml:"time_grains"`
	PIIClassification  models.PIIClassification `yaml:"pii_classification"`
	RequiredPermission string                   `yaml:"required_permission"`
	AllowFilter        bool                     `yaml:"allow_filter"`
	AllowGroupBy       bool                     `yaml:"allow_group_by"`
	AllowAggregate     *bool                    `yaml:"allow_aggregate"`
	EnumValues         []models.EnumValue       `yaml:"enum_values"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file. An empty path loads the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied catalog path
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and validates catalog YAML. Unknown keys are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return NewCatalog(file.toModels()...)
}

// NewCatalog validates datasets and builds a catalog from them.
// Derived time-grain fields must already be present.
func NewCatalog(datasets ...models.Dataset) (*Catalog, error) {
	c := &Catalog{datasets: make(map[string]*models.Dataset, len(datasets))}
	for i := range datasets {
		ds := datasets[i]
		if err := validateDataset(&ds); err != nil {
			return nil, err
		}
		if _, dup := c.datasets[ds.ID]; dup {
			return nil, fmt.Errorf("duplicate dataset %q", ds.ID)
		}
		c.datasets[ds.ID] = &ds
		c.ids = append(c.ids, ds.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

// Get returns the dataset with the given id.
func (c *Catalog) Get(id string) (*models.Dataset, error) {
	ds, ok := c.datasets[id]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q: %w", id, apperrors.ErrNotFound)
	}
	return ds, nil
}

// IDs returns every dataset id in sorted order.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.ids...)
}

// List returns every dataset in id order.
func (c *Catalog) List() []*models.Dataset {
	out := make([]*models.Dataset, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.datasets[id])
	}
	return out
}

// Select returns the dataset named by id, or every dataset when id is empty.
func (c *Catalog) Select(id string) ([]*models.Dataset, error) {
	if id == "" {
		return c.List(), nil
	}
	ds, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	return []*models.Dataset{ds}, nil
}

func (f catalogFile) toModels() []models.Dataset {
	out := make([]models.Dataset, 0, len(f.Datasets))
	for _, spec := range f.Datasets {
		ds := models.Dataset{
			ID:               spec.ID,
			Name:             spec.Name,
			Description:      spec.Description,
			BaseTable:        spec.BaseTable,
			RequiresOrgScope: spec.RequiresOrgScope,
			OrgScopeColumn:   spec.OrgScopeColumn,
			AllowedRoles:     spec.AllowedRoles,
		}
		if ds.Name == "" {
			ds.Name = displayName(inflection.Plural(spec.ID))
		}
		if ds.BaseTable == "" {
			ds.BaseTable = spec.ID
		}

		var derived []models.DatasetField
		for _, fs := range spec.Fields {
			field := fs.toModel()
			ds.Fields = append(ds.Fields, field)
			derived = append(derived, timeGrainFields(field, fs.grains())...)
		}
		ds.Fields = append(ds.Fields, derived...)
		out = append(out, ds)
	}
	return out
}

func (fs fieldSpec) toModel() models.DatasetField {
	field := models.DatasetField{
		ID:                 fs.ID,
		Name:               fs.Name,
		Description:        fs.Description,
		SourceColumn:       fs.SourceColumn,
		DataType:           fs.DataType,
		PIIClassification:  fs.PIIClassification,
		RequiredPermission: fs.RequiredPermission,
		AllowFilter:        fs.AllowFilter,
		AllowGroupBy:       fs.AllowGroupBy,
		EnumValues:         fs.EnumValues,
	}
	if field.Name == "" {
		field.Name = displayName(fs.ID)
	}
	if field.SourceColumn == "" {
		field.SourceColumn = snakeCase(fs.ID)
	}
	if fs.AllowAggregate != nil {
		field.AllowAggregate = *fs.AllowAggregate
	} else {
		field.AllowAggregate = fs.DataType != models.DataTypeJSON && fs.DataType != models.DataTypeBoolean
	}
	return field
}

// grains returns the declared grains, or the defaults for temporal fields.
func (fs fieldSpec) grains() []models.TimeGrain {
	if fs.TimeGrains != nil {
		return fs.TimeGrains
	}
	switch fs.DataType {
	case models.DataTypeDate:
		return []models.TimeGrain{models.TimeGrainWeek, models.TimeGrainMonth, models.TimeGrainQuarter}
	case models.DataTypeDatetime:
		return []models.TimeGrain{models.TimeGrainDay, models.TimeGrainWeek, models.TimeGrainMonth, models.TimeGrainQuarter}
	default:
		return nil
	}
}

// timeGrainFields derives one groupable field per grain, e.g. createdAt -> createdAtMonth.
func timeGrainFields(field models.DatasetField, grains []models.TimeGrain) []models.DatasetField {
	if !field.AllowGroupBy {
		return nil
	}
	out := make([]models.DatasetField, 0, len(grains))
	for _, grain := range grains {
		title := capitalize(string(grain))
		description := field.Description
		if description == "" {
			description = field.Name
		}
		out = append(out, models.DatasetField{
			ID:                 field.ID + title,
			Name:               fmt.Sprintf("%s (%s)", field.Name, title),
			Description:        fmt.Sprintf("%s grouped by %s.", strings.TrimSuffix(description, "."), grain),
			SourceColumn:       field.SourceColumn,
			DataType:           models.DataTypeDate,
			TimeGrain:          grain,
			DerivedFrom:        field.ID,
			PIIClassification:  field.PIIClassification,
			RequiredPermission: field.RequiredPermission,
			AllowGroupBy:       true,
		})
	}
	return out
}

func validateDataset(ds *models.Dataset) error {
	if ds.ID == "" {
		return fmt.Errorf("dataset without id")
	}
	if !identifierPattern.MatchString(ds.ID) {
		return fmt.Errorf("dataset %q: id must be a lower-case identifier", ds.ID)
	}
	if !identifierPattern.MatchString(ds.BaseTable) {
		return fmt.Errorf("dataset %q: invalid base table %q", ds.ID, ds.BaseTable)
	}
	if len(ds.Fields) == 0 {
		return fmt.Errorf("dataset %q: no fields", ds.ID)
	}

	seen := make(map[string]bool, len(ds.Fields))
	for _, f := range ds.Fields {
		if f.ID == "" {
			return fmt.Errorf("dataset %q: field without id", ds.ID)
		}
		if seen[f.ID] {
			return fmt.Errorf("dataset %q: duplicate field %q", ds.ID, f.ID)
		}
		seen[f.ID] = true
		if !identifierPattern.MatchString(f.SourceColumn) {
			return fmt.Errorf("dataset %q: field %q has invalid source column %q", ds.ID, f.ID, f.SourceColumn)
		}
		if FilterTypeOf(f.DataType) == "" && f.DataType != models.DataTypeJSON {
			return fmt.Errorf("dataset %q: field %q has unknown data type %q", ds.ID, f.ID, f.DataType)
		}
	}
	if ds.RequiresOrgScope && !seen[ds.OrgScopeFieldID()] {
		return fmt.Errorf("dataset %q: org scope field %q is not defined", ds.ID, ds.OrgScopeFieldID())
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// displayName turns snake_case or camelCase ids into "Title Case".
func displayName(id string) string {
	words := strings.Fields(strings.ReplaceAll(snakeCase(id), "_", " "))
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func snakeCase(id string) string {
	var b strings.Builder
	for i, r := range id {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
