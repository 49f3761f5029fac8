package guard

import "time"

// Session variable names. The secured views and the bi_readonly role read
// these exact names, so they change together with the governance migrations.
const (
	ReadOnlyRole        = "bi_readonly"
	OrgIDSetting        = "app.org_id"
	GlobalAdminSetting  = "app.is_global_admin"
	StatementTimeoutVar = "statement_timeout"
)

const (
	DefaultStatementTimeout     = 30 * time.Second
	DefaultMaxRowsUI            = 10_000
	DefaultMaxRowsExport        = 100_000
	DefaultMaxEstimatedCost     = 100_000
	DefaultMaxConcurrentPerUser = 2
	DefaultMaxConcurrentPerOrg  = 5
	DefaultMaxPivotRows         = 500
	DefaultMaxPivotColumns      = 50
	DefaultMaxPivotCells        = 25_000
	DefaultSlotExpiryBuffer     = 5 * time.Second
)

// Config holds the guardrail limits. Build it with NewConfig so zero
// fields pick up the defaults.
type Config struct {
	StatementTimeout     time.Duration
	MaxRowsUI            int
	MaxRowsExport        int
	MaxEstimatedCost     float64
	MaxConcurrentPerUser int
	MaxConcurrentPerOrg  int
	MaxPivotRows         int
	MaxPivotColumns      int
	MaxPivotCells        int
	SlotExpiryBuffer     time.Duration
}

// DefaultConfig returns the stock guardrails.
func DefaultConfig() Config {
	return NewConfig(Config{})
}

// NewConfig fills every zero or negative field of c with its default.
func NewConfig(c Config) Config {
	if c.StatementTimeout <= 0 {
		c.StatementTimeout = DefaultStatementTimeout
	}
	if c.MaxRowsUI <= 0 {
		c.MaxRowsUI = DefaultMaxRowsUI
	}
	if c.MaxRowsExport <= 0 {
		c.MaxRowsExport = DefaultMaxRowsExport
	}
	if c.MaxEstimatedCost <= 0 {
		c.MaxEstimatedCost = DefaultMaxEstimatedCost
	}
	if c.MaxConcurrentPerUser <= 0 {
		c.MaxConcurrentPerUser = DefaultMaxConcurrentPerUser
	}
	if c.MaxConcurrentPerOrg <= 0 {
		c.MaxConcurrentPerOrg = DefaultMaxConcurrentPerOrg
	}
	if c.MaxPivotRows <= 0 {
		c.MaxPivotRows = DefaultMaxPivotRows
	}
	if c.MaxPivotColumns <= 0 {
		c.MaxPivotColumns = DefaultMaxPivotColumns
	}
	if c.MaxPivotCells <= 0 {
		c.MaxPivotCells = DefaultMaxPivotCells
	}
	if c.SlotExpiryBuffer <= 0 {
		c.SlotExpiryBuffer = DefaultSlotExpiryBuffer
	}
	return c
}

// SlotTTL is how long a concurrency counter survives without a release.
func (c Config) SlotTTL() time.Duration {
	return c.StatementTimeout + c.SlotExpiryBuffer
}

// RowCeiling returns the applied row limit: the requested limit capped by
// the interactive or export ceiling. A non-positive request takes the ceiling.
func (c Config) RowCeiling(requested int, export bool) int {
	ceiling := c.MaxRowsUI
	if export {
		ceiling = c.MaxRowsExport
	}
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}
