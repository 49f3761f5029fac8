package pivot

import (
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

func clubsDataset() *models.Dataset {
	return &models.Dataset{
		ID:               "clubs",
		Name:             "Clubs",
		BaseTable:        "clubs",
		RequiresOrgScope: true,
		OrgScopeColumn:   "organizationId",
		Fields: []models.DatasetField{
			{ID: "club_name", SourceColumn: "club_name", DataType: models.DataTypeString, AllowGroupBy: true, AllowFilter: true},
			{ID: "active", SourceColumn: "active", DataType: models.DataTypeBoolean, AllowGroupBy: true, AllowFilter: true},
			{ID: "region", SourceColumn: "region", DataType: models.DataTypeEnum, AllowGroupBy: true, AllowFilter: true},
			{ID: "organizationId", SourceColumn: "organization_id", DataType: models.DataTypeUUID, AllowGroupBy: true, AllowFilter: true},
			{ID: "fee", SourceColumn: "fee", DataType: models.DataTypeNumber, AllowAggregate: true, AllowFilter: true},
			{ID: "contact_email", SourceColumn: "contact_email", DataType: models.DataTypeString, PIIClassification: models.PIIPersonal, AllowGroupBy: true},
			{ID: "revenue", SourceColumn: "revenue", DataType: models.DataTypeNumber, RequiredPermission: "finance.read", AllowAggregate: true},
			{ID: "created_at", SourceColumn: "created_at", DataType: models.DataTypeDatetime, AllowGroupBy: true, AllowFilter: true},
			{ID: "created_at_month", SourceColumn: "created_at", DataType: models.DataTypeDate, TimeGrain: models.TimeGrainMonth, DerivedFrom: "created_at", AllowGroupBy: true},
		},
	}
}

func strPtr(s string) *string {
	return &s
}

func countMeasure() models.MeasureMeta {
	return models.MeasureMeta{Aggregation: models.AggCount, Key: "count:count", Label: "Count"}
}

func sumFeeMeasure() models.MeasureMeta {
	return models.MeasureMeta{Field: "fee", Aggregation: models.AggSum, Key: "sum:fee", Label: "SUM(fee)"}
}
