package domain

import "time"

// System columns present on every provisioned table.
const (
	ColumnID        = "id"
	ColumnCreatedAt = "created_at"
	ColumnVersion   = "version"
)

// Record is one row of data conforming to a Schema. The identifier is
// assigned at creation and never reassigned; CreatedAt is set server-side
// once; Version starts at 1 and is incremented on every applied update.
// A Record returned to a caller is a read-only snapshot.
type Record struct {
	ID         string                 `json:"id"`
	SchemaName string                 `json:"schema_name"`
	Data       map[string]interface{} `json:"data"`
	CreatedAt  time.Time              `json:"created_at"`
	Version    int64                  `json:"version"`
}

// Value returns the value of a data field, or nil when absent.
func (r *Record) Value(field string) interface{} {
	return r.Data[field]
}

// Page is one page of query results with navigation metadata.
type Page struct {
	Records     []Record `json:"records"`
	Total       int64    `json:"total"`
	Page        int      `json:"page"`
	PageSize    int      `json:"page_size"`
	HasNext     bool     `json:"has_next"`
	HasPrevious bool     `json:"has_previous"`
}
