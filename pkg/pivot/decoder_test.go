package pivot

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

func TestDecode_DenseMatrix(t *testing.T) {
	measures := []models.MeasureMeta{countMeasure()}
	plan, err := Compile(CompileRequest{
		Dataset:      clubsDataset(),
		RowFields:    []string{"club_name"},
		ColumnFields: []string{"active"},
		Measures:     measures,
	})
	require.NoError(t, err)

	result := plan.Decode([]map[string]any{
		{"r0": "Alpha", "c0": true, "m0": int64(4)},
		{"r0": "Beta", "c0": false, "m0": "2"},
	}, measures)

	assert.Equal(t, []string{"club_name"}, result.RowFields)
	assert.Equal(t, []string{"active"}, result.ColumnFields)
	require.Len(t, result.ColumnKeys, 2)
	assert.Equal(t, models.PivotColumnKey{Key: "true", Label: "active: true", Values: map[string]string{"active": "true"}}, result.ColumnKeys[0])
	assert.Equal(t, "false", result.ColumnKeys[1].Key)

	require.Len(t, result.Rows, 2)
	alpha := result.Rows[0]
	assert.Equal(t, "Alpha", alpha.Key)
	assert.Equal(t, map[string]string{"club_name": "Alpha"}, alpha.Values)
	require.NotNil(t, alpha.Cells["true"]["count:count"])
	assert.InDelta(t, 4.0, *alpha.Cells["true"]["count:count"], 0)

	nullCell, ok := alpha.Cells["false"]["count:count"]
	assert.True(t, ok, "missing combinations are back-filled")
	assert.Nil(t, nullCell)

	require.NotNil(t, result.Rows[1].Cells["false"]["count:count"])
	assert.InDelta(t, 2.0, *result.Rows[1].Cells["false"]["count:count"], 0)
}

func TestDecode_TotalsWithoutDimensions(t *testing.T) {
	measures := []models.MeasureMeta{countMeasure()}
	result := Decode([]map[string]any{{"m0": int64(9)}}, nil, nil, measures,
		[]MeasureAlias{{Key: "count:count", Alias: "m0", Aggregation: models.AggCount}})

	assert.Equal(t, []string{}, result.RowFields)
	require.Len(t, result.ColumnKeys, 1)
	assert.Equal(t, "__total__", result.ColumnKeys[0].Key)
	assert.Equal(t, "Total", result.ColumnKeys[0].Label)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "__total__", result.Rows[0].Key)
	assert.InDelta(t, 9.0, *result.Rows[0].Cells["__total__"]["count:count"], 0)
}

func TestDecode_EmptyRows(t *testing.T) {
	result := Decode(nil, []Dimension{{FieldID: "club_name", Alias: "r0"}}, nil, []models.MeasureMeta{countMeasure()}, nil)
	assert.Empty(t, result.Rows)
	assert.Equal(t, []models.PivotColumnKey{}, result.ColumnKeys)
}

func TestColumnLabel_MultipleFields(t *testing.T) {
	assert.Equal(t, "region: north / active: -", columnLabel([]string{"region", "active"}, map[string]string{"region": "north", "active": ""}))
}

func TestStringify(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"bytes", []byte("abc"), "abc"},
		{"bool", false, "false"},
		{"float", 1.5, "1.5"},
		{"int", int64(12), "12"},
		{"midnight date", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), "2026-03-01"},
		{"timestamp", time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), "2026-03-01T10:30:00Z"},
		{"map", map[string]any{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stringify(tt.in))
		})
	}
}

func TestToNumber(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *float64
	}{
		{"nil", nil, nil},
		{"int64", int64(3), ptr(3)},
		{"numeric string", " 2.5 ", ptr(2.5)},
		{"numeric bytes", []byte("7"), ptr(7)},
		{"big int", big.NewInt(1 << 40), ptr(float64(1 << 40))},
		{"garbage", "abc", nil},
		{"bool", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toNumber(tt.in))
		})
	}
}
