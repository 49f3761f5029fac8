package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gateway/pkg/logging"
	"github.com/ekaya-inc/ekaya-gateway/pkg/models"
)

// QueryType classifies an audited query.
type QueryType string

const (
	QueryTypePivot  QueryType = "pivot"
	QueryTypeSQL    QueryType = "sql"
	QueryTypeExport QueryType = "export"
)

// CacheStatus records whether a pivot was served from the result cache.
type CacheStatus string

const (
	CacheHit  CacheStatus = "hit"
	CacheMiss CacheStatus = "miss"
)

// TimestampFormat is the CreatedAt layout covered by the checksum.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// QueryLogEntry is one audited BI query. Entries of the same organization
// form a chain: each checksum covers the previous entry's checksum.
type QueryLogEntry struct {
	ID               uuid.UUID      `json:"id"`
	UserID           string         `json:"user_id"`
	OrganizationID   string         `json:"organization_id,omitempty"`
	QueryType        QueryType      `json:"query_type"`
	QueryHash        string         `json:"query_hash"`
	DatasetID        string         `json:"dataset_id,omitempty"`
	SQLQuery         string         `json:"sql_query,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	RowsReturned     int            `json:"rows_returned"`
	ExecutionTimeMs  int64          `json:"execution_time_ms"`
	CacheStatus      CacheStatus    `json:"cache_status,omitempty"`
	PreviousLogID    *uuid.UUID     `json:"previous_log_id,omitempty"`
	PreviousChecksum string         `json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	Checksum         string         `json:"checksum"`
}

// QueryRecord is what callers report; the auditor fills identity, hash and chain fields.
type QueryRecord struct {
	Context         *models.QueryContext
	QueryType       QueryType
	DatasetID       string
	SQLQuery        string
	PivotQuery      *models.PivotQuery
	Parameters      map[string]any
	RowsReturned    int
	ExecutionTimeMs int64
	CacheStatus     CacheStatus
}

// QueryLogger records audited queries.
type QueryLogger interface {
	LogQuery(ctx context.Context, rec QueryRecord) QueryLogEntry
}

type chainLink struct {
	id       uuid.UUID
	checksum string
}

// QueryAuditor writes query log entries to a dedicated logger and keeps the
// per-organization checksum chain in memory.
type QueryAuditor struct {
	logger *zap.Logger
	secret []byte
	now    func() time.Time

	mu   sync.Mutex
	last map[string]chainLink
}

var _ QueryLogger = (*QueryAuditor)(nil)

// NewQueryAuditor creates an auditor signing entries with secret.
func NewQueryAuditor(logger *zap.Logger, secret []byte) *QueryAuditor {
	return &QueryAuditor{
		logger: logger.Named("bi_query_log"),
		secret: secret,
		now:    time.Now,
		last:   make(map[string]chainLink),
	}
}

// LogQuery appends rec to its organization's chain and logs it.
func (a *QueryAuditor) LogQuery(_ context.Context, rec QueryRecord) QueryLogEntry {
	var userID, orgID string
	if rec.Context != nil {
		userID = rec.Context.UserID
		orgID = rec.Context.OrganizationID
	}

	entry := QueryLogEntry{
		ID:              uuid.New(),
		UserID:          userID,
		OrganizationID:  orgID,
		QueryType:       rec.QueryType,
		QueryHash:       queryHash(rec),
		DatasetID:       rec.DatasetID,
		SQLQuery:        rec.SQLQuery,
		Parameters:      rec.Parameters,
		RowsReturned:    rec.RowsReturned,
		ExecutionTimeMs: rec.ExecutionTimeMs,
		CacheStatus:     rec.CacheStatus,
		CreatedAt:       a.now().UTC(),
	}

	a.mu.Lock()
	if prev, ok := a.last[orgID]; ok {
		id := prev.id
		entry.PreviousLogID = &id
		entry.PreviousChecksum = prev.checksum
	}
	entry.Checksum = ComputeChecksum(a.secret, &entry)
	a.last[orgID] = chainLink{id: entry.ID, checksum: entry.Checksum}
	a.mu.Unlock()

	fields := []zap.Field{
		zap.String("id", entry.ID.String()),
		zap.String("user_id", entry.UserID),
		zap.String("organization_id", entry.OrganizationID),
		zap.String("query_type", string(entry.QueryType)),
		zap.String("query_hash", entry.QueryHash),
		zap.String("dataset_id", entry.DatasetID),
		zap.String("sql", logging.SanitizeQuery(entry.SQLQuery)),
		zap.Any("parameters", entry.Parameters),
		zap.Int("rows_returned", entry.RowsReturned),
		zap.Int64("execution_time_ms", entry.ExecutionTimeMs),
		zap.String("cache_status", string(entry.CacheStatus)),
		zap.String("created_at", entry.CreatedAt.Format(TimestampFormat)),
		zap.String("checksum", entry.Checksum),
	}
	if entry.PreviousLogID != nil {
		fields = append(fields, zap.String("previous_log_id", entry.PreviousLogID.String()))
	}
	a.logger.Info("BI query", fields...)
	return entry
}

func queryHash(rec QueryRecord) string {
	switch {
	case rec.SQLQuery != "":
		return HashSQL(rec.SQLQuery)
	case rec.PivotQuery != nil:
		return HashPivot(rec.PivotQuery)
	default:
		return HashSQL(fmt.Sprintf("%s:%s", rec.QueryType, rec.DatasetID))
	}
}

// HashSQL returns the hex SHA-256 of a SQL string.
func HashSQL(sqlText string) string {
	sum := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(sum[:])
}

// HashPivot returns the hex SHA-256 of the JSON form of a pivot request.
func HashPivot(q *models.PivotQuery) string {
	encoded, err := json.Marshal(q)
	if err != nil {
		return HashSQL(q.DatasetID)
	}
	return HashSQL(string(encoded))
}

type checksumPayload struct {
	ID               string  `json:"id"`
	UserID           string  `json:"userId"`
	OrganizationID   *string `json:"organizationId"`
	QueryType        string  `json:"queryType"`
	QueryHash        string  `json:"queryHash"`
	RowsReturned     int     `json:"rowsReturned"`
	ExecutionTimeMs  int64   `json:"executionTimeMs"`
	PreviousLogID    *string `json:"previousLogId"`
	CreatedAt        string  `json:"createdAt"`
	PreviousChecksum string  `json:"previousChecksum"`
}

// ComputeChecksum signs the chained fields of e with HMAC-SHA256.
func ComputeChecksum(secret []byte, e *QueryLogEntry) string {
	p := checksumPayload{
		ID:               e.ID.String(),
		UserID:           e.UserID,
		QueryType:        string(e.QueryType),
		QueryHash:        e.QueryHash,
		RowsReturned:     e.RowsReturned,
		ExecutionTimeMs:  e.ExecutionTimeMs,
		CreatedAt:        e.CreatedAt.UTC().Format(TimestampFormat),
		PreviousChecksum: e.PreviousChecksum,
	}
	if e.OrganizationID != "" {
		org := e.OrganizationID
		p.OrganizationID = &org
	}
	if e.PreviousLogID != nil {
		prev := e.PreviousLogID.String()
		p.PreviousLogID = &prev
	}
	payload, _ := json.Marshal(p)

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyChain recomputes the checksums of one organization's entries in
// order. It returns the id of the first entry that does not verify, or nil.
func VerifyChain(secret []byte, entries []QueryLogEntry) *uuid.UUID {
	previous := ""
	for i := range entries {
		e := entries[i]
		e.PreviousChecksum = previous
		if !hmac.Equal([]byte(ComputeChecksum(secret, &e)), []byte(e.Checksum)) {
			id := e.ID
			return &id
		}
		previous = e.Checksum
	}
	return nil
}
