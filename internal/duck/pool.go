// Package duck manages pooled connections to embedded DuckDB store files.
package duck

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/duckdb/duckdb-go/v2"
	"golang.org/x/sync/semaphore"

	"datagate/internal/config"
	"datagate/internal/ddl"
	"datagate/internal/domain"
)

// Pool is a bounded set of reusable connections to one DuckDB store file.
// At most one write handle is outstanding at a time (the engine permits a
// single active writer per file); readers share the remaining capacity.
//
// All engine tuning (memory limit, threads, temp directory) is applied on
// the connection-creation path from the one DuckDBConfig — no other
// component sets these.
type Pool struct {
	db     *sql.DB
	cfg    config.DuckDBConfig
	writer *semaphore.Weighted
	logger *slog.Logger
}

// Handle is an exclusively-owned connection lent by the pool. Release must
// be called on every exit path of the operation that acquired it; it is
// idempotent.
type Handle struct {
	Conn     *sql.Conn
	pool     *Pool
	write    bool
	released bool
}

// Open opens (creating if needed) the store file at path and returns a pool
// sized and tuned per cfg. Connections are created lazily by database/sql
// up to cfg.MaxConns; each new connection runs the tuning statements before
// it is handed out for the first time.
func Open(path string, cfg config.DuckDBConfig, logger *slog.Logger) (*Pool, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	boot := bootQueries(cfg)
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		for _, q := range boot {
			if _, err := execer.ExecContext(context.Background(), q, nil); err != nil {
				return fmt.Errorf("apply connection setting %q: %w", q, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open duckdb store: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns)

	return &Pool{
		db:     db,
		cfg:    cfg,
		writer: semaphore.NewWeighted(1),
		logger: logger,
	}, nil
}

// bootQueries builds the per-connection tuning statements from the single
// configuration authority.
func bootQueries(cfg config.DuckDBConfig) []string {
	qs := []string{
		"SET memory_limit = " + ddl.QuoteLiteral(cfg.MemoryLimit),
		fmt.Sprintf("SET threads = %d", cfg.Threads),
	}
	if cfg.TempDirectory != "" {
		qs = append(qs, "SET temp_directory = "+ddl.QuoteLiteral(cfg.TempDirectory))
	}
	return qs
}

// Acquire lends a read connection, blocking cooperatively until one is
// available or cfg.AcquireTimeout elapses. A timed-out acquire holds
// nothing.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	conn, err := p.lease(ctx)
	if err != nil {
		return nil, err
	}
	return &Handle{Conn: conn, pool: p}, nil
}

// AcquireWrite lends a connection holding the single-writer slot. Writers
// queue behind each other; readers are unaffected.
func (p *Pool) AcquireWrite(ctx context.Context) (*Handle, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	if err := p.writer.Acquire(waitCtx, 1); err != nil {
		return nil, domain.ErrResourceExhausted("write slot not available within %s", p.cfg.AcquireTimeout)
	}
	conn, err := p.lease(ctx)
	if err != nil {
		p.writer.Release(1)
		return nil, err
	}
	return &Handle{Conn: conn, pool: p, write: true}, nil
}

// lease obtains a validated connection from the underlying pool, replacing
// broken connections transparently.
func (p *Pool) lease(ctx context.Context) (*sql.Conn, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	for {
		conn, err := p.db.Conn(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, domain.ErrResourceExhausted("connection not available within %s", p.cfg.AcquireTimeout)
			}
			return nil, domain.ErrStore(err, "acquire connection")
		}

		// Cheap liveness probe. A broken connection is discarded and the
		// loop obtains a fresh one.
		if err := conn.PingContext(waitCtx); err != nil {
			p.logger.Warn("discarding broken connection", "error", err)
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			_ = conn.Close()
			continue
		}
		return conn, nil
	}
}

// Release returns the connection to the idle set. Healthy connections are
// never closed eagerly. Safe to call more than once.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	_ = h.Conn.Close() // returns the connection to the pool
	if h.write {
		h.pool.writer.Release(1)
	}
}

// Idle reports the number of idle connections currently in the pool.
func (p *Pool) Idle() int {
	return p.db.Stats().Idle
}

// InUse reports the number of connections currently lent out.
func (p *Pool) InUse() int {
	return p.db.Stats().InUse
}

// Close closes the pool and all its connections.
func (p *Pool) Close() error {
	return p.db.Close()
}
