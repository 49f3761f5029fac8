// Package cache memoizes pivot results per caller and request. Entries are
// keyed by dataset so a dataset's results can be dropped together.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// KeyPrefix is shared by every pivot cache key.
const KeyPrefix = "bi:pivot:"

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 500
)

// Key identifies one cached pivot result.
type Key struct {
	DatasetID   string
	Fingerprint uint64
}

func (k Key) String() string {
	return DatasetPrefix(k.DatasetID) + strconv.FormatUint(k.Fingerprint, 16)
}

// DatasetPrefix returns the key prefix shared by a dataset's entries, or
// the global prefix when datasetID is empty.
func DatasetPrefix(datasetID string) string {
	if datasetID == "" {
		return KeyPrefix
	}
	return KeyPrefix + datasetID + ":"
}

// fingerprintInput is the hashed form of a request. Filters are hashed as a
// set so their order does not split the cache.
type fingerprintInput struct {
	UserID         string
	OrganizationID string
	DatasetID      string
	Rows           []string
	Columns        []string
	Measures       []models.PivotMeasure
	Filters        []models.FilterConfig `hash:"set"`
	Limit          int
}

// KeyFor fingerprints a pivot request for the given caller and scope.
func KeyFor(userID, orgID string, q *models.PivotQuery) (Key, error) {
	fp, err := hashstructure.Hash(fingerprintInput{
		UserID:         userID,
		OrganizationID: orgID,
		DatasetID:      q.DatasetID,
		Rows:           q.Rows,
		Columns:        q.Columns,
		Measures:       q.Measures,
		Filters:        q.Filters,
		Limit:          q.Limit,
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return Key{}, fmt.Errorf("fingerprint pivot request: %w", err)
	}
	return Key{DatasetID: q.DatasetID, Fingerprint: fp}, nil
}

// Entry is a cached pivot result.
type Entry struct {
	DatasetID      string              `json:"dataset_id"`
	Pivot          *models.PivotResult `json:"pivot"`
	RowCount       int                 `json:"row_count"`
	CachedAt       time.Time           `json:"cached_at"`
	ExpiresAt      time.Time           `json:"expires_at"`
	LastAccessedAt time.Time           `json:"last_accessed_at"`
}

// Store holds pivot results.
//
// Concurrent computations of the same key are not coordinated; the last
// Set wins.
type Store interface {
	Get(ctx context.Context, key Key) (*Entry, bool, error)
	Set(ctx context.Context, key Key, entry *Entry, ttl time.Duration) error
	// Invalidate removes one dataset's entries, or everything when datasetID is empty.
	Invalidate(ctx context.Context, datasetID string) error
}

func hasDatasetPrefix(key, datasetID string) bool {
	return strings.HasPrefix(key, DatasetPrefix(datasetID))
}
