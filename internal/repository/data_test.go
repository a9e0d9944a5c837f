package repository

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/config"
	"datagate/internal/domain"
	"datagate/internal/duck"
	"datagate/internal/schema"
)

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{
		DefaultPageSize: 5,
		MaxPageSize:     100,
		MaxBatchRecords: 50,
		InsertChunkSize: 10,
		StreamChunkSize: 10,
		MaxStreamLimit:  1000,
	}
}

func wellProductionSchema() *domain.Schema {
	return &domain.Schema{
		Name:      "well_production",
		TableName: "well_production",
		Properties: []domain.Property{
			{Name: "well_name", Type: domain.TypeString, Required: true, Unique: true},
			{Name: "field", Type: domain.TypeString, Indexed: true},
			{Name: "oil_rate", Type: domain.TypeNumber},
			{Name: "gas_rate", Type: domain.TypeNumber},
			{Name: "status", Type: domain.TypeString, Default: "active"},
			{Name: "tags", Type: domain.TypeArray},
			{Name: "measured_at", Type: domain.TypeDatetime},
		},
	}
}

func newTestRepo(t *testing.T) (*DataRepo, *duck.Pool) {
	t.Helper()

	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(wellProductionSchema()))

	path := filepath.Join(t.TempDir(), "data.duckdb")
	pool, err := duck.Open(path, config.DuckDBConfig{
		MemoryLimit:    "256MB",
		Threads:        2,
		MaxConns:       4,
		AcquireTimeout: 2 * time.Second,
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	repo := NewDataRepo(pool, reg, testLimits(), NopAudit{}, slog.Default())
	require.NoError(t, repo.Provision(context.Background()))
	return repo, pool
}

func wellPayload(i int) map[string]interface{} {
	return map[string]interface{}{
		"well_name":   fmt.Sprintf("well-%03d", i),
		"field":       "north",
		"oil_rate":    100.5 + float64(i),
		"tags":        []interface{}{"hp", "offshore"},
		"measured_at": "2026-01-15T08:30:00Z",
	}
}

func seedWells(t *testing.T, repo *DataRepo, n int) {
	t.Helper()
	items := make([]map[string]interface{}, n)
	for i := range items {
		items[i] = wellPayload(i)
	}
	count, err := repo.CreateBatch(context.Background(), "well_production", items)
	require.NoError(t, err)
	require.Equal(t, n, count)
}

func TestDataRepo_CreateAndGet(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	rec, err := repo.Create(ctx, "well_production", wellPayload(1))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, int64(1), rec.Version)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Equal(t, "active", rec.Data["status"]) // default applied
	// The returned record carries the structured value the caller sent, not
	// its stored JSON text.
	assert.Equal(t, []interface{}{"hp", "offshore"}, rec.Data["tags"])

	got, err := repo.GetByID(ctx, "well_production", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "well-001", got.Data["well_name"])
	assert.InDelta(t, 101.5, got.Data["oil_rate"], 0.001)
	assert.Equal(t, []interface{}{"hp", "offshore"}, got.Data["tags"])
}

func TestDataRepo_Create_Validation(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, "well_production", map[string]interface{}{
		"well_name": "w", "bogus": 1,
	})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = repo.Create(ctx, "well_production", map[string]interface{}{"field": "north"})
	require.ErrorAs(t, err, &ve) // required well_name missing
}

func TestDataRepo_Create_UnknownSchema(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.Create(context.Background(), "nope", wellPayload(0))
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestDataRepo_Create_UniqueConflict(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, "well_production", wellPayload(7))
	require.NoError(t, err)

	_, err = repo.Create(ctx, "well_production", wellPayload(7))
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce)
}

func TestDataRepo_CreateBatch_ChunksAndCounts(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	// 25 records with InsertChunkSize 10 exercises the chunk loop.
	seedWells(t, repo, 25)

	total, err := repo.Count(ctx, "well_production", domain.QuerySpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
}

func TestDataRepo_CreateBatch_AllOrNothing(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	items := []map[string]interface{}{
		wellPayload(1),
		{"field": "north"}, // missing required well_name
		wellPayload(2),
	}
	_, err := repo.CreateBatch(ctx, "well_production", items)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	total, err := repo.Count(ctx, "well_production", domain.QuerySpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestDataRepo_CreateBatch_OverLimit(t *testing.T) {
	repo, _ := newTestRepo(t)

	items := make([]map[string]interface{}, 51) // MaxBatchRecords is 50
	for i := range items {
		items[i] = wellPayload(i)
	}
	_, err := repo.CreateBatch(context.Background(), "well_production", items)
	var re *domain.ResourceExhaustedError
	require.ErrorAs(t, err, &re)
}

func TestDataRepo_GetAll_Pagination(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	seedWells(t, repo, 10)

	spec := domain.QuerySpec{
		Sorts:    []domain.Sort{{Field: "well_name"}},
		Page:     1,
		PageSize: 3,
	}
	page, err := repo.GetAll(ctx, "well_production", spec)
	require.NoError(t, err)
	assert.Equal(t, int64(10), page.Total)
	assert.Len(t, page.Records, 3)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrevious)
	assert.Equal(t, "well-000", page.Records[0].Data["well_name"])

	spec.Page = 4
	last, err := repo.GetAll(ctx, "well_production", spec)
	require.NoError(t, err)
	assert.Len(t, last.Records, 1)
	assert.False(t, last.HasNext)
	assert.True(t, last.HasPrevious)
}

func TestDataRepo_GetAll_Defaults(t *testing.T) {
	repo, _ := newTestRepo(t)
	seedWells(t, repo, 8)

	// Zero page and page size mean first page at the default size (5).
	page, err := repo.GetAll(context.Background(), "well_production", domain.QuerySpec{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 5, page.PageSize)
	assert.Len(t, page.Records, 5)
}

func TestDataRepo_GetAll_FilterMatchesCount(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	seedWells(t, repo, 10)

	spec := domain.QuerySpec{
		Filters: []domain.Filter{{Field: "oil_rate", Op: domain.OpGte, Value: 105.0}},
	}
	page, err := repo.GetAll(ctx, "well_production", spec)
	require.NoError(t, err)

	count, err := repo.Count(ctx, "well_production", spec)
	require.NoError(t, err)
	assert.Equal(t, count, page.Total)
	assert.Equal(t, int(count), len(page.Records))
}

func TestDataRepo_GetAll_RejectsBeforeAcquiring(t *testing.T) {
	repo, pool := newTestRepo(t)
	ctx := context.Background()

	// Occupy every connection; invalid requests must still fail fast with
	// their own error instead of waiting on the pool.
	handles := make([]*duck.Handle, 0, 4)
	for i := 0; i < 4; i++ {
		h, err := pool.Acquire(ctx)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	start := time.Now()
	badFilter := domain.QuerySpec{
		Filters: []domain.Filter{{Field: "bogus", Op: domain.OpEq, Value: 1}},
	}
	_, err := repo.GetAll(ctx, "well_production", badFilter)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = repo.Count(ctx, "well_production", badFilter)
	require.ErrorAs(t, err, &ve)

	_, err = repo.GetAll(ctx, "well_production", domain.QuerySpec{Page: -1})
	var unsafe *domain.UnsafeOperationError
	require.ErrorAs(t, err, &unsafe)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDataRepo_GetAll_SingleMatch(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	seedWells(t, repo, 10)

	page, err := repo.GetAll(ctx, "well_production", domain.QuerySpec{
		Filters: []domain.Filter{{Field: "well_name", Op: domain.OpEq, Value: "well-007"}},
	})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, int64(1), page.Total)
	assert.False(t, page.HasNext)
	assert.False(t, page.HasPrevious)
	assert.Equal(t, "well-007", page.Records[0].Data["well_name"])
}

func TestDataRepo_Update(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	rec, err := repo.Create(ctx, "well_production", wellPayload(3))
	require.NoError(t, err)

	updated, err := repo.Update(ctx, "well_production", rec.ID, map[string]interface{}{
		"status": "shut_in",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "shut_in", updated.Data["status"])
	assert.Equal(t, rec.Data["well_name"], updated.Data["well_name"])
	assert.WithinDuration(t, rec.CreatedAt, updated.CreatedAt, time.Millisecond)
}

func TestDataRepo_Update_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.Update(context.Background(), "well_production",
		"00000000-0000-0000-0000-000000000000", map[string]interface{}{"status": "x"})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestDataRepo_Delete(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	rec, err := repo.Create(ctx, "well_production", wellPayload(4))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "well_production", rec.ID))

	_, err = repo.GetByID(ctx, "well_production", rec.ID)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	err = repo.Delete(ctx, "well_production", rec.ID)
	require.ErrorAs(t, err, &nf)
}

func TestDataRepo_ReleasesConnections(t *testing.T) {
	repo, pool := newTestRepo(t)
	ctx := context.Background()
	seedWells(t, repo, 5)

	_, err := repo.GetAll(ctx, "well_production", domain.QuerySpec{})
	require.NoError(t, err)
	_, err = repo.Count(ctx, "well_production", domain.QuerySpec{})
	require.NoError(t, err)
	_, err = repo.GetByID(ctx, "well_production", "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)

	assert.Equal(t, 0, pool.InUse())
}
