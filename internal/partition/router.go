package partition

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"datagate/internal/config"
	"datagate/internal/domain"
	"datagate/internal/duck"
	"datagate/internal/repository"
	"datagate/internal/schema"
	"datagate/internal/validate"
)

const storeExt = ".duckdb"

// Router implements the data repository port over a directory of
// time-partitioned store files. Writes route to the partition owning the
// record's partition-column value; reads fan out over all partitions and
// merge. Per-partition pools open lazily and the open set is capped with
// least-recently-used eviction.
type Router struct {
	strategy Strategy
	dir      string
	maxOpen  int
	fallback domain.DataRepository

	duckCfg  config.DuckDBConfig
	limits   config.LimitsConfig
	registry *schema.Registry
	audit    domain.AuditRepository
	logger   *slog.Logger

	mu   sync.Mutex
	open map[string]*partitionEntry
	use  []string // LRU order, most recently used last
}

type partitionEntry struct {
	pool *duck.Pool
	repo *repository.DataRepo
}

// NewRouter builds a router over cfg.Directory. fallback, when non-nil,
// serves schemas that declare no partition column; with a nil fallback such
// schemas are rejected.
func NewRouter(cfg config.PartitionConfig, duckCfg config.DuckDBConfig, limits config.LimitsConfig, registry *schema.Registry, audit domain.AuditRepository, fallback domain.DataRepository, logger *slog.Logger) (*Router, error) {
	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Directory, 0o750); err != nil {
		return nil, domain.ErrStore(err, "create partition directory")
	}
	maxOpen := cfg.MaxOpenPools
	if maxOpen < 1 {
		maxOpen = 1
	}
	if audit == nil {
		audit = repository.NopAudit{}
	}
	return &Router{
		strategy: strategy,
		fallback: fallback,
		dir:      cfg.Directory,
		maxOpen:  maxOpen,
		duckCfg:  duckCfg,
		limits:   limits,
		registry: registry,
		audit:    audit,
		logger:   logger,
	}, nil
}

// repoFor returns the repository for a partition, opening and provisioning
// its store file on first use.
func (r *Router) repoFor(ctx context.Context, name string) (*repository.DataRepo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open == nil {
		r.open = make(map[string]*partitionEntry)
	}
	if e, ok := r.open[name]; ok {
		r.touch(name)
		return e.repo, nil
	}

	if len(r.open) >= r.maxOpen {
		r.evictIdleLocked()
	}

	pool, err := duck.Open(filepath.Join(r.dir, name+storeExt), r.duckCfg, r.logger)
	if err != nil {
		return nil, err
	}
	repo := repository.NewDataRepo(pool, r.registry, r.limits, r.audit, r.logger)
	if err := repo.Provision(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}

	r.open[name] = &partitionEntry{pool: pool, repo: repo}
	r.use = append(r.use, name)
	r.logger.Info("partition opened", "partition", name)
	return repo, nil
}

func (r *Router) touch(name string) {
	for i, n := range r.use {
		if n == name {
			r.use = append(append(r.use[:i:i], r.use[i+1:]...), name)
			return
		}
	}
}

// evictIdleLocked closes the least recently used partition with no
// connections outstanding. When every open partition is busy the cap is
// temporarily exceeded instead of closing a pool under an active stream.
func (r *Router) evictIdleLocked() {
	for i, victim := range r.use {
		e, ok := r.open[victim]
		if !ok || e.pool.InUse() > 0 {
			continue
		}
		r.use = append(r.use[:i], r.use[i+1:]...)
		delete(r.open, victim)
		_ = e.pool.Close()
		r.logger.Info("partition closed", "partition", victim)
		return
	}
}

// partitions lists every partition present on disk, sorted by name.
// Open-but-not-yet-synced partitions are included via the open map.
func (r *Router) partitions() ([]string, error) {
	seen := make(map[string]bool)

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, domain.ErrStore(err, "list partition directory")
	}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), storeExt)
		if !ok || e.IsDir() {
			continue
		}
		if _, _, err := r.strategy.Range(name); err != nil {
			continue
		}
		seen[name] = true
	}

	r.mu.Lock()
	for name := range r.open {
		seen[name] = true
	}
	r.mu.Unlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// partitionFor determines the target partition from the raw payload's
// partition-column value.
func (r *Router) partitionFor(s *domain.Schema, data map[string]interface{}) (string, error) {
	if s.PartitionColumn == "" {
		return "", domain.ErrValidation("schema %q declares no partition column", s.Name)
	}
	p := s.Property(s.PartitionColumn)
	if p == nil {
		return "", domain.ErrValidation("schema %q: partition column %q is not a declared property", s.Name, s.PartitionColumn)
	}
	v, ok := data[s.PartitionColumn]
	if !ok || v == nil {
		return "", domain.ErrValidation("schema %q: partition column %q is required", s.Name, s.PartitionColumn)
	}
	coerced, err := validate.Coerce(p, v)
	if err != nil {
		return "", err
	}
	t, ok := coerced.(time.Time)
	if !ok {
		return "", domain.ErrValidation("schema %q: partition column %q is not a date or datetime", s.Name, s.PartitionColumn)
	}
	return r.strategy.Name(t), nil
}

// resolveTarget returns the schema and, for schemas without a partition
// column, the fallback repository that should serve the operation.
func (r *Router) resolveTarget(schemaName string) (*domain.Schema, domain.DataRepository, error) {
	s, err := r.registry.Resolve(schemaName)
	if err != nil {
		return nil, nil, err
	}
	if s.PartitionColumn == "" {
		if r.fallback == nil {
			return nil, nil, domain.ErrValidation("schema %q declares no partition column", s.Name)
		}
		return s, r.fallback, nil
	}
	return s, nil, nil
}

func (r *Router) Create(ctx context.Context, schemaName string, data map[string]interface{}) (*domain.Record, error) {
	s, fb, err := r.resolveTarget(schemaName)
	if err != nil {
		return nil, err
	}
	if fb != nil {
		return fb.Create(ctx, schemaName, data)
	}
	name, err := r.partitionFor(s, data)
	if err != nil {
		return nil, err
	}
	repo, err := r.repoFor(ctx, name)
	if err != nil {
		return nil, err
	}
	return repo.Create(ctx, schemaName, data)
}

// CreateBatch groups the batch by target partition and writes each group in
// its own transaction. Validation is all-or-nothing across the whole batch;
// committed writes are atomic per partition.
func (r *Router) CreateBatch(ctx context.Context, schemaName string, items []map[string]interface{}) (int, error) {
	s, fb, err := r.resolveTarget(schemaName)
	if err != nil {
		return 0, err
	}
	if fb != nil {
		return fb.CreateBatch(ctx, schemaName, items)
	}
	if len(items) == 0 {
		return 0, domain.ErrValidation("schema %q: bulk create requires at least one record", schemaName)
	}
	if len(items) > r.limits.MaxBatchRecords {
		return 0, domain.ErrBatchTooLarge("schema %q: batch of %d records exceeds limit of %d",
			schemaName, len(items), r.limits.MaxBatchRecords)
	}

	// Every item validates before any partition commits, so one bad record
	// rejects the whole batch with nothing persisted anywhere.
	groups := make(map[string][]map[string]interface{})
	var order []string
	for i, item := range items {
		if _, err := validate.Data(s, item); err != nil {
			return 0, domain.ErrValidation("record %d: %v", i, err)
		}
		name, err := r.partitionFor(s, item)
		if err != nil {
			return 0, domain.ErrValidation("record %d: %v", i, err)
		}
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], item)
	}

	written := 0
	for _, name := range order {
		repo, err := r.repoFor(ctx, name)
		if err != nil {
			return written, err
		}
		n, err := repo.CreateBatch(ctx, schemaName, groups[name])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// locate finds the partition holding the record, searching newest first.
func (r *Router) locate(ctx context.Context, schemaName, id string) (*repository.DataRepo, *domain.Record, error) {
	names, err := r.partitions()
	if err != nil {
		return nil, nil, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		repo, err := r.repoFor(ctx, names[i])
		if err != nil {
			return nil, nil, err
		}
		rec, err := repo.GetByID(ctx, schemaName, id)
		if err == nil {
			return repo, rec, nil
		}
		if !domain.IsNotFound(err) {
			return nil, nil, err
		}
	}
	return nil, nil, domain.ErrNotFound("schema %q has no record with id %s", schemaName, id)
}

func (r *Router) GetByID(ctx context.Context, schemaName, id string) (*domain.Record, error) {
	if _, fb, err := r.resolveTarget(schemaName); err != nil {
		return nil, err
	} else if fb != nil {
		return fb.GetByID(ctx, schemaName, id)
	}
	_, rec, err := r.locate(ctx, schemaName, id)
	return rec, err
}

func (r *Router) Update(ctx context.Context, schemaName, id string, data map[string]interface{}) (*domain.Record, error) {
	if _, fb, err := r.resolveTarget(schemaName); err != nil {
		return nil, err
	} else if fb != nil {
		return fb.Update(ctx, schemaName, id, data)
	}
	repo, _, err := r.locate(ctx, schemaName, id)
	if err != nil {
		return nil, err
	}
	return repo.Update(ctx, schemaName, id, data)
}

func (r *Router) Delete(ctx context.Context, schemaName, id string) error {
	if _, fb, err := r.resolveTarget(schemaName); err != nil {
		return err
	} else if fb != nil {
		return fb.Delete(ctx, schemaName, id)
	}
	repo, _, err := r.locate(ctx, schemaName, id)
	if err != nil {
		return err
	}
	return repo.Delete(ctx, schemaName, id)
}

func (r *Router) Count(ctx context.Context, schemaName string, spec domain.QuerySpec) (int64, error) {
	if _, fb, err := r.resolveTarget(schemaName); err != nil {
		return 0, err
	} else if fb != nil {
		return fb.Count(ctx, schemaName, spec)
	}
	names, err := r.partitions()
	if err != nil {
		return 0, err
	}

	var mu sync.Mutex
	var total int64
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			repo, err := r.repoFor(gctx, name)
			if err != nil {
				return err
			}
			n, err := repo.Count(gctx, schemaName, spec)
			if err != nil {
				return err
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// GetAll merges per-partition streams in the requested order and cuts the
// page window out of the merged sequence. Each partition contributes at
// most page*size records to the merge.
func (r *Router) GetAll(ctx context.Context, schemaName string, spec domain.QuerySpec) (*domain.Page, error) {
	if _, fb, err := r.resolveTarget(schemaName); err != nil {
		return nil, err
	} else if fb != nil {
		return fb.GetAll(ctx, schemaName, spec)
	}
	if spec.Page == 0 {
		spec.Page = 1
	}
	if spec.Page < 0 {
		return nil, domain.ErrUnsafeOperation("page must be at least 1, got %d", spec.Page)
	}
	if spec.PageSize == 0 {
		spec.PageSize = r.limits.DefaultPageSize
	}
	if spec.PageSize < 1 || spec.PageSize > r.limits.MaxPageSize {
		return nil, domain.ErrUnsafeOperation("page size must be in [1, %d], got %d", r.limits.MaxPageSize, spec.PageSize)
	}

	total, err := r.Count(ctx, schemaName, spec)
	if err != nil {
		return nil, err
	}

	window := spec.Page * spec.PageSize
	merged, err := r.openMerged(ctx, schemaName, domain.QuerySpec{
		Filters: spec.Filters,
		Sorts:   spec.Sorts,
		Limit:   window,
	})
	if err != nil {
		return nil, err
	}
	defer merged.Close()

	skip := (spec.Page - 1) * spec.PageSize
	records := make([]domain.Record, 0, spec.PageSize)
	for i := 0; i < window; i++ {
		rec, err := merged.Next(ctx)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		if i >= skip {
			records = append(records, *rec)
		}
	}

	return &domain.Page{
		Records:     records,
		Total:       total,
		Page:        spec.Page,
		PageSize:    spec.PageSize,
		HasNext:     int64(window) < total,
		HasPrevious: spec.Page > 1,
	}, nil
}

func (r *Router) Stream(ctx context.Context, schemaName string, spec domain.QuerySpec) (domain.RecordStream, error) {
	if _, fb, err := r.resolveTarget(schemaName); err != nil {
		return nil, err
	} else if fb != nil {
		return fb.Stream(ctx, schemaName, spec)
	}
	limit := spec.Limit
	if limit <= 0 || limit > r.limits.MaxStreamLimit {
		limit = r.limits.MaxStreamLimit
	}
	return r.openMerged(ctx, schemaName, domain.QuerySpec{
		Filters: spec.Filters,
		Sorts:   spec.Sorts,
		Limit:   limit,
	})
}

// openMerged opens one stream per partition and merges them under the
// requested order. On any failure the already-opened streams are closed.
func (r *Router) openMerged(ctx context.Context, schemaName string, spec domain.QuerySpec) (*mergeStream, error) {
	names, err := r.partitions()
	if err != nil {
		return nil, err
	}

	sources := make([]domain.RecordStream, 0, len(names))
	for _, name := range names {
		repo, err := r.repoFor(ctx, name)
		if err == nil {
			var st domain.RecordStream
			st, err = repo.Stream(ctx, schemaName, spec)
			if err == nil {
				sources = append(sources, st)
				continue
			}
		}
		for _, st := range sources {
			_ = st.Close()
		}
		return nil, err
	}
	return newMergeStream(sources, spec.Sorts, spec.Limit), nil
}

// Prune removes partitions whose entire range ends before the cutoff.
// Returns the names of the removed partitions.
func (r *Router) Prune(ctx context.Context, olderThan time.Time) ([]string, error) {
	names, err := r.partitions()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, name := range names {
		_, end, err := r.strategy.Range(name)
		if err != nil {
			continue
		}
		if !end.After(olderThan) {
			r.mu.Lock()
			if e, ok := r.open[name]; ok {
				delete(r.open, name)
				_ = e.pool.Close()
				for i, n := range r.use {
					if n == name {
						r.use = append(r.use[:i], r.use[i+1:]...)
						break
					}
				}
			}
			r.mu.Unlock()

			if err := os.Remove(filepath.Join(r.dir, name+storeExt)); err != nil && !os.IsNotExist(err) {
				return removed, domain.ErrStore(err, "remove partition %q", name)
			}
			removed = append(removed, name)
			r.logger.Info("partition pruned", "partition", name)
		}
	}
	return removed, nil
}

// Close closes every open partition pool.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.open {
		_ = e.pool.Close()
		delete(r.open, name)
	}
	r.use = nil
	return nil
}
