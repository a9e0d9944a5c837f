package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/domain"
)

func drain(t *testing.T, st domain.RecordStream) []domain.Record {
	t.Helper()
	var out []domain.Record
	for {
		rec, err := st.Next(context.Background())
		require.NoError(t, err)
		if rec == nil {
			return out
		}
		out = append(out, *rec)
	}
}

func TestStream_AllRecordsAcrossChunks(t *testing.T) {
	repo, pool := newTestRepo(t)
	seedWells(t, repo, 25) // StreamChunkSize is 10

	st, err := repo.Stream(context.Background(), "well_production", domain.QuerySpec{})
	require.NoError(t, err)
	defer st.Close()

	records := drain(t, st)
	assert.Len(t, records, 25)

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		assert.False(t, seen[rec.ID], "record %s yielded twice", rec.ID)
		seen[rec.ID] = true
	}

	// Exhaustion returns the connection even before Close.
	assert.Equal(t, 0, pool.InUse())
}

func TestStream_BufferBoundedByChunkSize(t *testing.T) {
	repo, _ := newTestRepo(t)
	seedWells(t, repo, 35) // well past StreamChunkSize

	st, err := repo.Stream(context.Background(), "well_production", domain.QuerySpec{})
	require.NoError(t, err)
	defer st.Close()

	rs, ok := st.(*recordStream)
	require.True(t, ok)

	// Peak buffered rows never exceed one chunk, regardless of result size.
	seen := 0
	for {
		rec, err := st.Next(context.Background())
		require.NoError(t, err)
		if rec == nil {
			break
		}
		seen++
		assert.LessOrEqual(t, len(rs.buf), rs.chunkSize)
		assert.LessOrEqual(t, cap(rs.buf), rs.chunkSize)
	}
	assert.Equal(t, 35, seen)
}

func TestStream_DefaultOrderIsCreatedAtThenID(t *testing.T) {
	repo, _ := newTestRepo(t)
	seedWells(t, repo, 15)

	st, err := repo.Stream(context.Background(), "well_production", domain.QuerySpec{})
	require.NoError(t, err)
	defer st.Close()

	records := drain(t, st)
	require.Len(t, records, 15)
	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1], records[i]
		ok := prev.CreatedAt.Before(cur.CreatedAt) ||
			(prev.CreatedAt.Equal(cur.CreatedAt) && prev.ID < cur.ID)
		assert.True(t, ok, "records out of order at index %d", i)
	}
}

func TestStream_LimitCapsOutput(t *testing.T) {
	repo, _ := newTestRepo(t)
	seedWells(t, repo, 25)

	st, err := repo.Stream(context.Background(), "well_production", domain.QuerySpec{Limit: 12})
	require.NoError(t, err)
	defer st.Close()

	assert.Len(t, drain(t, st), 12)
}

func TestStream_FilterApplies(t *testing.T) {
	repo, _ := newTestRepo(t)
	seedWells(t, repo, 10)

	st, err := repo.Stream(context.Background(), "well_production", domain.QuerySpec{
		Filters: []domain.Filter{{Field: "oil_rate", Op: domain.OpLt, Value: 104.0}},
	})
	require.NoError(t, err)
	defer st.Close()

	records := drain(t, st)
	assert.Len(t, records, 4)
	for _, rec := range records {
		assert.Less(t, rec.Data["oil_rate"], 104.0)
	}
}

func TestStream_CallerSortUsesOffsetChunks(t *testing.T) {
	repo, _ := newTestRepo(t)
	seedWells(t, repo, 25)

	st, err := repo.Stream(context.Background(), "well_production", domain.QuerySpec{
		Sorts: []domain.Sort{{Field: "well_name", Descending: true}},
	})
	require.NoError(t, err)
	defer st.Close()

	records := drain(t, st)
	require.Len(t, records, 25)
	for i := 1; i < len(records); i++ {
		prev := records[i-1].Data["well_name"].(string)
		cur := records[i].Data["well_name"].(string)
		assert.GreaterOrEqual(t, prev, cur)
	}
}

func TestStream_CloseReleasesConnection(t *testing.T) {
	repo, pool := newTestRepo(t)
	seedWells(t, repo, 25)

	st, err := repo.Stream(context.Background(), "well_production", domain.QuerySpec{})
	require.NoError(t, err)

	rec, err := st.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close()) // idempotent
	assert.Equal(t, 0, pool.InUse())

	_, err = st.Next(context.Background())
	assert.Error(t, err)
}

func TestStream_InvalidSortFailsBeforeAcquire(t *testing.T) {
	repo, pool := newTestRepo(t)

	_, err := repo.Stream(context.Background(), "well_production", domain.QuerySpec{
		Sorts: []domain.Sort{{Field: "bogus"}},
	})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, pool.InUse())
}
