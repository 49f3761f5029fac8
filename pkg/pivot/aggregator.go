package pivot

import (
	"math"
	"slices"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

type bucket struct {
	count    int
	values   []float64
	distinct map[string]bool
}

// Aggregate computes a pivot in-process from raw rows keyed by field id.
// It produces the same shape as Decode; only the arithmetic moves here.
func Aggregate(rows []map[string]any, rowFields, columnFields []string, measures []models.MeasureMeta) *models.PivotResult {
	m := newMatrix(columnFields, measures)
	buckets := make(map[*models.PivotRow]map[string]map[string]*bucket)

	for _, r := range rows {
		colKey := pivotKey(columnFields, r)
		row := m.cell(
			pivotKey(rowFields, r), pivotValues(rowFields, rowFields, r),
			colKey, pivotValues(columnFields, columnFields, r),
		)
		if buckets[row] == nil {
			buckets[row] = make(map[string]map[string]*bucket)
		}
		if buckets[row][colKey] == nil {
			buckets[row][colKey] = make(map[string]*bucket)
		}
		cell := buckets[row][colKey]

		for _, meas := range measures {
			b := cell[meas.Key]
			if b == nil {
				b = &bucket{distinct: make(map[string]bool)}
				cell[meas.Key] = b
			}
			if meas.Aggregation == models.AggCount {
				b.count++
				continue
			}
			if meas.Field == "" {
				continue
			}
			raw := r[meas.Field]
			if meas.Aggregation == models.AggCountDistinct {
				if raw != nil {
					b.distinct[stringify(raw)] = true
				}
				continue
			}
			if n := rawNumber(raw); n != nil {
				b.values = append(b.values, *n)
			}
		}
	}

	for row, cols := range buckets {
		for colKey, cell := range cols {
			for _, meas := range measures {
				if b := cell[meas.Key]; b != nil {
					row.Cells[colKey][meas.Key] = b.finish(meas.Aggregation)
				}
			}
		}
	}
	return m.result(rowFields)
}

// rawNumber accepts numbers and numeric strings only; booleans and other
// values are skipped by numeric aggregations.
func rawNumber(v any) *float64 {
	switch v.(type) {
	case bool:
		return nil
	}
	return toNumber(v)
}

func (b *bucket) finish(agg models.AggregationType) *float64 {
	switch agg {
	case models.AggCount:
		return ptr(float64(b.count))
	case models.AggCountDistinct:
		return ptr(float64(len(b.distinct)))
	}
	v := aggregateValues(agg, b.values)
	if v == nil || agg != models.AggAvg {
		return v
	}
	return ptr(math.Round(*v*100) / 100)
}

func aggregateValues(agg models.AggregationType, values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	switch agg {
	case models.AggSum:
		return ptr(sum(values))
	case models.AggAvg:
		return ptr(sum(values) / float64(len(values)))
	case models.AggMin:
		return ptr(slices.Min(values))
	case models.AggMax:
		return ptr(slices.Max(values))
	case models.AggMedian:
		return ptr(median(values))
	case models.AggStddev:
		return ptr(math.Sqrt(variance(values)))
	case models.AggVariance:
		return ptr(variance(values))
	}
	return nil
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// median interpolates between the two middle values of an even-length set,
// matching PERCENTILE_CONT(0.5).
func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// variance is the population variance, matching VAR_POP.
func variance(values []float64) float64 {
	mean := sum(values) / float64(len(values))
	var acc float64
	for _, v := range values {
		d := v - mean
		acc += d * d
	}
	return acc / float64(len(values))
}

func ptr(f float64) *float64 {
	return &f
}
