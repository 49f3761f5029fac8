//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-gateway/pkg/testhelpers"
)

func TestRedisStore_Integration(t *testing.T) {
	client := testhelpers.GetTestRedis(t)
	ctx := context.Background()
	require.NoError(t, client.FlushDB(ctx).Err())

	s := NewRedisStore(client, time.Minute)
	one := 1.0
	pivot := &models.PivotResult{
		RowFields: []string{"club_name"},
		Rows: []models.PivotRow{{
			Key:    "Alpha",
			Values: map[string]string{"club_name": "Alpha"},
			Cells:  map[string]map[string]*float64{"__total__": {"count:count": &one}},
		}},
	}

	clubs := Key{DatasetID: "clubs", Fingerprint: 7}
	members := Key{DatasetID: "members", Fingerprint: 7}
	require.NoError(t, s.Set(ctx, clubs, &Entry{DatasetID: "clubs", Pivot: pivot, RowCount: 1}, 0))
	require.NoError(t, s.Set(ctx, members, &Entry{DatasetID: "members", RowCount: 2}, 0))

	got, ok, err := s.Get(ctx, clubs)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.RowCount)
	require.NotNil(t, got.Pivot.Rows[0].Cells["__total__"]["count:count"])
	assert.InDelta(t, 1.0, *got.Pivot.Rows[0].Cells["__total__"]["count:count"], 0)

	ttl, err := client.TTL(ctx, clubs.String()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.Invalidate(ctx, "clubs"))
	_, ok, err = s.Get(ctx, clubs)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Get(ctx, members)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Invalidate(ctx, ""))
	_, ok, _ = s.Get(ctx, members)
	assert.False(t, ok)
}
