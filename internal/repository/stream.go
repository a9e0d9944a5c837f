package repository

import (
	"context"
	"database/sql"

	"datagate/internal/domain"
	"datagate/internal/duck"
	"datagate/internal/query"
)

// Stream returns a forward-only stream over the matching records. The
// stream holds one pool connection until it is exhausted or closed and
// fetches rows in bounded chunks, so memory use is independent of the
// result size.
//
// With no caller sort the stream reads in (created_at, id) order using
// keyset pagination. A caller sort switches to bounded LIMIT/OFFSET chunks
// under that order.
func (r *DataRepo) Stream(ctx context.Context, schemaName string, spec domain.QuerySpec) (domain.RecordStream, error) {
	s, err := r.registry.Resolve(schemaName)
	if err != nil {
		return nil, err
	}

	limit := spec.Limit
	if limit <= 0 || limit > r.limits.MaxStreamLimit {
		limit = r.limits.MaxStreamLimit
	}

	// Compile the first chunk up front so invalid filters and sorts fail
	// before a connection is held.
	if _, err := query.SelectChunk(s, spec, r.limits.StreamChunkSize, 0); err != nil {
		return nil, err
	}

	h, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	return &recordStream{
		handle:    h,
		schema:    s,
		filters:   spec.Filters,
		sorts:     spec.Sorts,
		chunkSize: r.limits.StreamChunkSize,
		remaining: limit,
		keyset:    len(spec.Sorts) == 0,
	}, nil
}

type recordStream struct {
	handle    *duck.Handle
	schema    *domain.Schema
	filters   []domain.Filter
	sorts     []domain.Sort
	chunkSize int

	remaining int  // records left under the stream limit
	keyset    bool // default order, seek past lastKey
	lastKey   *query.Key
	offset    int // caller-sort mode position

	buf    []domain.Record
	idx    int
	done   bool
	closed bool
}

func (st *recordStream) Next(ctx context.Context) (*domain.Record, error) {
	if st.closed {
		return nil, domain.ErrProcessing("stream over schema %q is closed", st.schema.Name)
	}

	if st.idx >= len(st.buf) && !st.done {
		if err := st.fetch(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	if st.idx >= len(st.buf) {
		// Exhausted. Return the connection without waiting for Close.
		st.handle.Release()
		return nil, nil
	}

	rec := &st.buf[st.idx]
	st.idx++
	return rec, nil
}

func (st *recordStream) fetch(ctx context.Context) error {
	n := st.chunkSize
	if st.remaining < n {
		n = st.remaining
	}
	if n == 0 {
		st.done = true
		st.buf, st.idx = nil, 0
		return nil
	}

	var built query.Built
	var err error
	if st.keyset {
		built, err = query.SelectKeyset(st.schema, st.filters, st.lastKey, n)
	} else {
		spec := domain.QuerySpec{Filters: st.filters, Sorts: st.sorts}
		built, err = query.SelectChunk(st.schema, spec, n, st.offset)
	}
	if err != nil {
		return err
	}

	rows, err := st.handle.Conn.QueryContext(ctx, built.SQL, built.Args...)
	if err != nil {
		return domain.ErrStore(err, "stream schema %q", st.schema.Name)
	}
	buf, err := scanAll(st.schema, rows, n)
	if err != nil {
		return err
	}

	st.buf, st.idx = buf, 0
	st.remaining -= len(buf)
	if len(buf) < n {
		st.done = true
	}
	if len(buf) > 0 {
		last := buf[len(buf)-1]
		st.lastKey = &query.Key{CreatedAt: last.CreatedAt, ID: last.ID}
		st.offset += len(buf)
	}
	return nil
}

func scanAll(s *domain.Schema, rows *sql.Rows, capHint int) ([]domain.Record, error) {
	defer rows.Close()

	out := make([]domain.Record, 0, capHint)
	for rows.Next() {
		rec, err := scanRecord(s, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrStore(err, "stream schema %q", s.Name)
	}
	return out, nil
}

func (st *recordStream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	st.buf = nil
	st.handle.Release()
	return nil
}
