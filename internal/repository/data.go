package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"datagate/internal/config"
	"datagate/internal/ddl"
	"datagate/internal/domain"
	"datagate/internal/duck"
	"datagate/internal/query"
	"datagate/internal/schema"
	"datagate/internal/validate"
)

// DataRepo serves generic CRUD, bulk writes, and streaming reads for every
// registered schema against one DuckDB store. All engine access goes
// through the pool; a handle is released on every path, including
// cancellation.
type DataRepo struct {
	pool     *duck.Pool
	registry *schema.Registry
	limits   config.LimitsConfig
	audit    domain.AuditRepository
	logger   *slog.Logger
}

func NewDataRepo(pool *duck.Pool, registry *schema.Registry, limits config.LimitsConfig, audit domain.AuditRepository, logger *slog.Logger) *DataRepo {
	if audit == nil {
		audit = NopAudit{}
	}
	return &DataRepo{
		pool:     pool,
		registry: registry,
		limits:   limits,
		audit:    audit,
		logger:   logger,
	}
}

// Provision creates the table and indexes for every registered schema.
// Idempotent; safe to run on every startup.
func (r *DataRepo) Provision(ctx context.Context) error {
	h, err := r.pool.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer h.Release()

	for _, name := range r.registry.Names() {
		s, err := r.registry.Resolve(name)
		if err != nil {
			return err
		}

		create, err := ddl.CreateTable(s)
		if err != nil {
			return domain.ErrProcessing("provision schema %q: %v", name, err)
		}
		if _, err := h.Conn.ExecContext(ctx, create); err != nil {
			return domain.ErrStore(err, "create table for schema %q", name)
		}

		indexes, err := ddl.Indexes(s)
		if err != nil {
			return domain.ErrProcessing("provision schema %q: %v", name, err)
		}
		for _, stmt := range indexes {
			if _, err := h.Conn.ExecContext(ctx, stmt); err != nil {
				return domain.ErrStore(err, "create index for schema %q", name)
			}
		}

		r.logger.Info("schema provisioned", "schema", name, "table", s.TableName)
	}
	return nil
}

func (r *DataRepo) Create(ctx context.Context, schemaName string, data map[string]interface{}) (*domain.Record, error) {
	start := time.Now()

	s, err := r.registry.Resolve(schemaName)
	if err != nil {
		return nil, err
	}
	normalized, err := validate.Data(s, data)
	if err != nil {
		return nil, err
	}

	rec := newRecord(schemaName, normalized)

	h, err := r.pool.AcquireWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	built := query.Insert(s, rec)
	if _, err := h.Conn.ExecContext(ctx, built.SQL, built.Args...); err != nil {
		err = mapWriteError(err, s)
		r.recordAudit(ctx, "create", schemaName, rec.ID, 1, start, err)
		return nil, err
	}

	r.recordAudit(ctx, "create", schemaName, rec.ID, 1, start, nil)
	return rec, nil
}

func (r *DataRepo) CreateBatch(ctx context.Context, schemaName string, items []map[string]interface{}) (int, error) {
	start := time.Now()

	s, err := r.registry.Resolve(schemaName)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, domain.ErrValidation("schema %q: bulk create requires at least one record", schemaName)
	}
	if len(items) > r.limits.MaxBatchRecords {
		return 0, domain.ErrBatchTooLarge("schema %q: batch of %d records exceeds limit of %d",
			schemaName, len(items), r.limits.MaxBatchRecords)
	}

	// Validate everything before writing anything. Normalized payloads are
	// retained; full records are only materialized one chunk at a time.
	normalized := make([]map[string]interface{}, len(items))
	for i, item := range items {
		n, err := validate.Data(s, item)
		if err != nil {
			return 0, domain.ErrValidation("record %d: %v", i, err)
		}
		normalized[i] = n
	}

	h, err := r.pool.AcquireWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer h.Release()

	tx, err := h.Conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.ErrStore(err, "begin bulk insert for schema %q", schemaName)
	}

	chunk := make([]*domain.Record, 0, r.limits.InsertChunkSize)
	for offset := 0; offset < len(normalized); offset += r.limits.InsertChunkSize {
		end := offset + r.limits.InsertChunkSize
		if end > len(normalized) {
			end = len(normalized)
		}

		chunk = chunk[:0]
		for _, n := range normalized[offset:end] {
			chunk = append(chunk, newRecord(schemaName, n))
		}

		built := query.BatchInsert(s, chunk)
		if _, err := tx.ExecContext(ctx, built.SQL, built.Args...); err != nil {
			_ = tx.Rollback()
			err = mapWriteError(err, s)
			r.recordAudit(ctx, "create_batch", schemaName, "", int64(len(items)), start, err)
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		err = domain.ErrStore(err, "commit bulk insert for schema %q", schemaName)
		r.recordAudit(ctx, "create_batch", schemaName, "", int64(len(items)), start, err)
		return 0, err
	}

	r.recordAudit(ctx, "create_batch", schemaName, "", int64(len(items)), start, nil)
	return len(items), nil
}

func (r *DataRepo) GetByID(ctx context.Context, schemaName, id string) (*domain.Record, error) {
	s, err := r.registry.Resolve(schemaName)
	if err != nil {
		return nil, err
	}

	h, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	return r.getByID(ctx, h.Conn, s, id)
}

func (r *DataRepo) getByID(ctx context.Context, conn *sql.Conn, s *domain.Schema, id string) (*domain.Record, error) {
	spec := domain.QuerySpec{
		Filters:  []domain.Filter{domain.Eq(domain.ColumnID, id)},
		Page:     1,
		PageSize: 1,
	}
	built, err := query.Select(s, spec, 1)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, built.SQL, built.Args...)
	if err != nil {
		return nil, domain.ErrStore(err, "get %q record %s", s.Name, id)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, domain.ErrStore(err, "get %q record %s", s.Name, id)
		}
		return nil, domain.ErrNotFound("schema %q has no record with id %s", s.Name, id)
	}
	return scanRecord(s, rows)
}

func (r *DataRepo) GetAll(ctx context.Context, schemaName string, spec domain.QuerySpec) (*domain.Page, error) {
	s, err := r.registry.Resolve(schemaName)
	if err != nil {
		return nil, err
	}
	spec = r.normalizePage(spec)

	// Both statements compile before a connection is taken, so validation
	// and pagination errors never consume pool capacity.
	countBuilt, err := query.Count(s, spec.Filters)
	if err != nil {
		return nil, err
	}
	built, err := query.Select(s, spec, r.limits.MaxPageSize)
	if err != nil {
		return nil, err
	}

	h, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	total, err := r.count(ctx, h.Conn, s, countBuilt)
	if err != nil {
		return nil, err
	}

	rows, err := h.Conn.QueryContext(ctx, built.SQL, built.Args...)
	if err != nil {
		return nil, domain.ErrStore(err, "query schema %q", schemaName)
	}
	defer rows.Close()

	records := make([]domain.Record, 0, spec.PageSize)
	for rows.Next() {
		rec, err := scanRecord(s, rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrStore(err, "query schema %q", schemaName)
	}

	return &domain.Page{
		Records:     records,
		Total:       total,
		Page:        spec.Page,
		PageSize:    spec.PageSize,
		HasNext:     int64(spec.Page*spec.PageSize) < total,
		HasPrevious: spec.Page > 1,
	}, nil
}

func (r *DataRepo) Count(ctx context.Context, schemaName string, spec domain.QuerySpec) (int64, error) {
	s, err := r.registry.Resolve(schemaName)
	if err != nil {
		return 0, err
	}

	built, err := query.Count(s, spec.Filters)
	if err != nil {
		return 0, err
	}

	h, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer h.Release()

	return r.count(ctx, h.Conn, s, built)
}

func (r *DataRepo) count(ctx context.Context, conn *sql.Conn, s *domain.Schema, built query.Built) (int64, error) {
	var total int64
	if err := conn.QueryRowContext(ctx, built.SQL, built.Args...).Scan(&total); err != nil {
		return 0, domain.ErrStore(err, "count schema %q", s.Name)
	}
	return total, nil
}

func (r *DataRepo) Update(ctx context.Context, schemaName, id string, data map[string]interface{}) (*domain.Record, error) {
	start := time.Now()

	s, err := r.registry.Resolve(schemaName)
	if err != nil {
		return nil, err
	}
	normalized, err := validate.Partial(s, data)
	if err != nil {
		return nil, err
	}

	byID := []domain.Filter{domain.Eq(domain.ColumnID, id)}
	built, err := query.Update(s, byID, normalized)
	if err != nil {
		return nil, err
	}

	h, err := r.pool.AcquireWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	res, err := h.Conn.ExecContext(ctx, built.SQL, built.Args...)
	if err != nil {
		err = mapWriteError(err, s)
		r.recordAudit(ctx, "update", schemaName, id, 1, start, err)
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		nf := domain.ErrNotFound("schema %q has no record with id %s", schemaName, id)
		r.recordAudit(ctx, "update", schemaName, id, 0, start, nf)
		return nil, nf
	}

	rec, err := r.getByID(ctx, h.Conn, s, id)
	if err != nil {
		return nil, err
	}
	r.recordAudit(ctx, "update", schemaName, id, 1, start, nil)
	return rec, nil
}

func (r *DataRepo) Delete(ctx context.Context, schemaName, id string) error {
	start := time.Now()

	s, err := r.registry.Resolve(schemaName)
	if err != nil {
		return err
	}

	built, err := query.Delete(s, []domain.Filter{domain.Eq(domain.ColumnID, id)})
	if err != nil {
		return err
	}

	h, err := r.pool.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer h.Release()

	res, err := h.Conn.ExecContext(ctx, built.SQL, built.Args...)
	if err != nil {
		err = domain.ErrStore(err, "delete %q record %s", schemaName, id)
		r.recordAudit(ctx, "delete", schemaName, id, 1, start, err)
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		nf := domain.ErrNotFound("schema %q has no record with id %s", schemaName, id)
		r.recordAudit(ctx, "delete", schemaName, id, 0, start, nf)
		return nf
	}

	r.recordAudit(ctx, "delete", schemaName, id, 1, start, nil)
	return nil
}

// normalizePage fills in unspecified pagination inputs. Only zero means
// "unspecified"; negative values pass through and fail statement compilation.
func (r *DataRepo) normalizePage(spec domain.QuerySpec) domain.QuerySpec {
	if spec.Page == 0 {
		spec.Page = 1
	}
	if spec.PageSize == 0 {
		spec.PageSize = r.limits.DefaultPageSize
	}
	return spec
}

// newRecord stamps the server-assigned fields onto a validated payload.
func newRecord(schemaName string, data map[string]interface{}) *domain.Record {
	return &domain.Record{
		ID:         uuid.NewString(),
		SchemaName: schemaName,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
		Version:    1,
	}
}

// mapWriteError classifies engine errors from write statements. Unique
// constraint violations surface as conflicts; everything else is a store
// failure.
func mapWriteError(err error, s *domain.Schema) error {
	msg := err.Error()
	if strings.Contains(msg, "Duplicate key") || strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "PRIMARY KEY or UNIQUE constraint") {
		return domain.ErrConflict("schema %q: record violates a unique constraint", s.Name)
	}
	return domain.ErrStore(err, "write to schema %q", s.Name)
}

// recordAudit writes one audit entry, best-effort. The entry is written
// even when the request context was cancelled mid-operation.
func (r *DataRepo) recordAudit(ctx context.Context, op, schemaName, recordID string, records int64, start time.Time, opErr error) {
	entry := &domain.AuditEntry{
		Operation:  op,
		SchemaName: schemaName,
		RecordID:   recordID,
		Records:    records,
		Status:     domain.AuditOK,
		DurationMs: time.Since(start).Milliseconds(),
	}
	switch {
	case opErr == nil:
	case domain.IsNotFound(opErr):
		entry.Status = domain.AuditNotFound
		entry.Detail = opErr.Error()
	default:
		entry.Status = domain.AuditError
		entry.Detail = opErr.Error()
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.audit.Insert(auditCtx, entry); err != nil {
		r.logger.Warn("audit write failed", "operation", op, "schema", schemaName, "error", err)
	}
}
