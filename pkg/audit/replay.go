package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

const queryLogName = "bi_query_log"

// logLine is the subset of a JSON log record written by QueryAuditor.
type logLine struct {
	Logger          string    `json:"logger"`
	ID              uuid.UUID `json:"id"`
	UserID          string    `json:"user_id"`
	OrganizationID  string    `json:"organization_id"`
	QueryType       QueryType `json:"query_type"`
	QueryHash       string    `json:"query_hash"`
	RowsReturned    int       `json:"rows_returned"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	CreatedAt       string    `json:"created_at"`
	PreviousLogID   string    `json:"previous_log_id"`
	Checksum        string    `json:"checksum"`
}

// ReadLogEntries rebuilds query log entries from JSON log lines, grouped by
// organization in log order. Lines from other loggers and non-JSON lines
// are skipped. The logger name may carry a parent prefix.
func ReadLogEntries(r io.Reader) (map[string][]QueryLogEntry, error) {
	chains := make(map[string][]QueryLogEntry)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		var line logLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if !isQueryLogger(line.Logger) {
			continue
		}

		createdAt, err := time.Parse(TimestampFormat, line.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid created_at: %w", lineNo, err)
		}
		entry := QueryLogEntry{
			ID:              line.ID,
			UserID:          line.UserID,
			OrganizationID:  line.OrganizationID,
			QueryType:       line.QueryType,
			QueryHash:       line.QueryHash,
			RowsReturned:    line.RowsReturned,
			ExecutionTimeMs: line.ExecutionTimeMs,
			CreatedAt:       createdAt,
			Checksum:        line.Checksum,
		}
		if line.PreviousLogID != "" {
			prev, err := uuid.Parse(line.PreviousLogID)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid previous_log_id: %w", lineNo, err)
			}
			entry.PreviousLogID = &prev
		}
		chains[entry.OrganizationID] = append(chains[entry.OrganizationID], entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return chains, nil
}

func isQueryLogger(name string) bool {
	n, suffix := len(name), len(queryLogName)
	return name == queryLogName || (n > suffix && name[n-suffix:] == queryLogName && name[n-suffix-1] == '.')
}
