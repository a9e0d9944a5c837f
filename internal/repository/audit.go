// Package repository implements the persistence ports: the schema-driven
// data repository over DuckDB and the audit repository over the SQLite
// metastore.
package repository

import (
	"context"
	"database/sql"

	"datagate/internal/domain"
)

// AuditRepo persists gateway operation records to the SQLite metastore.
// Inserts go through the single-connection write pool; listing uses the
// read pool.
type AuditRepo struct {
	write *sql.DB
	read  *sql.DB
}

func NewAuditRepo(write, read *sql.DB) *AuditRepo {
	return &AuditRepo{write: write, read: read}
}

func (r *AuditRepo) Insert(ctx context.Context, entry *domain.AuditEntry) error {
	res, err := r.write.ExecContext(ctx,
		`INSERT INTO audit_log (operation, schema_name, record_id, records, status, detail, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Operation, entry.SchemaName, entry.RecordID, entry.Records,
		entry.Status, entry.Detail, entry.DurationMs)
	if err != nil {
		return domain.ErrStore(err, "insert audit entry")
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// List returns the most recent entries, newest first. An empty schemaName
// lists across all schemas.
func (r *AuditRepo) List(ctx context.Context, schemaName string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT id, operation, schema_name, record_id, records, status, detail, duration_ms
	      FROM audit_log`
	args := []interface{}{}
	if schemaName != "" {
		q += ` WHERE schema_name = ?`
		args = append(args, schemaName)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.read.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.ErrStore(err, "list audit entries")
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.Operation, &e.SchemaName, &e.RecordID,
			&e.Records, &e.Status, &e.Detail, &e.DurationMs); err != nil {
			return nil, domain.ErrStore(err, "scan audit entry")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrStore(err, "list audit entries")
	}
	return out, nil
}

// NopAudit discards entries. Used when no audit metastore is configured.
type NopAudit struct{}

func (NopAudit) Insert(context.Context, *domain.AuditEntry) error { return nil }

func (NopAudit) List(context.Context, string, int) ([]domain.AuditEntry, error) {
	return nil, nil
}
