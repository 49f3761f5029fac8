package dataset

import (
	"strings"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// ViewPrefix starts every secured view name. Governance migrations create
// one view per dataset under this prefix.
const ViewPrefix = "bi_v_"

// ViewName returns the secured view backing a dataset.
func ViewName(datasetID string) string {
	return ViewPrefix + datasetID
}

// TableMapping maps both the base table and the dataset id of every dataset
// to its secured view, so either spelling is rewritten.
func TableMapping(datasets []*models.Dataset) map[string]string {
	m := make(map[string]string, len(datasets)*2)
	for _, ds := range datasets {
		m[ds.BaseTable] = ViewName(ds.ID)
		m[ds.ID] = ViewName(ds.ID)
	}
	return m
}

// AllowedTables returns the secured view names of datasets.
func AllowedTables(datasets []*models.Dataset) map[string]bool {
	out := make(map[string]bool, len(datasets))
	for _, ds := range datasets {
		out[ViewName(ds.ID)] = true
	}
	return out
}

// AllowedColumns returns, per secured view, the source columns free-form SQL
// may reference. Fields with any PII classification are left out entirely.
func AllowedColumns(datasets []*models.Dataset) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(datasets))
	for _, ds := range datasets {
		cols := make(map[string]bool, len(ds.Fields))
		for _, f := range ds.Fields {
			if f.IsPII() {
				continue
			}
			cols[strings.ToLower(f.SourceColumn)] = true
		}
		out[ViewName(ds.ID)] = cols
	}
	return out
}

// ViewNames returns the secured view and base table of every dataset, in input order.
func ViewNames(datasets []*models.Dataset) (views, baseTables []string) {
	for _, ds := range datasets {
		views = append(views, ViewName(ds.ID))
		baseTables = append(baseTables, ds.BaseTable)
	}
	return views, baseTables
}
