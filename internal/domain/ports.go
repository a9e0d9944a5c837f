package domain

import "context"

// DataRepository is the port the API layer drives. Implementations
// orchestrate pool acquisition, query building, execution, and row-to-record
// mapping.
type DataRepository interface {
	Create(ctx context.Context, schemaName string, data map[string]interface{}) (*Record, error)
	CreateBatch(ctx context.Context, schemaName string, items []map[string]interface{}) (int, error)
	GetByID(ctx context.Context, schemaName, id string) (*Record, error)
	GetAll(ctx context.Context, schemaName string, spec QuerySpec) (*Page, error)
	Stream(ctx context.Context, schemaName string, spec QuerySpec) (RecordStream, error)
	Update(ctx context.Context, schemaName, id string, data map[string]interface{}) (*Record, error)
	Delete(ctx context.Context, schemaName, id string) error
	Count(ctx context.Context, schemaName string, spec QuerySpec) (int64, error)
}

// RecordStream is a lazy, finite, forward-only sequence of records.
// Implementations fetch from the store in bounded chunks; the full result
// set is never materialized. Close releases the underlying connection
// promptly and is safe to call more than once.
type RecordStream interface {
	Next(ctx context.Context) (*Record, error) // returns nil, nil when exhausted
	Close() error
}

// AuditEntry records one gateway operation for the audit metastore.
type AuditEntry struct {
	ID         int64
	Operation  string
	SchemaName string
	RecordID   string
	Records    int64
	Status     string
	Detail     string
	DurationMs int64
}

// Audit statuses.
const (
	AuditOK       = "ok"
	AuditNotFound = "not_found"
	AuditError    = "error"
)

// AuditRepository persists audit entries. Writes are best-effort; failures
// must not fail the data operation being audited.
type AuditRepository interface {
	Insert(ctx context.Context, entry *AuditEntry) error
	List(ctx context.Context, schemaName string, limit int) ([]AuditEntry, error)
}
