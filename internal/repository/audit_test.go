package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/db"
	"datagate/internal/domain"
)

func TestAuditRepo_InsertAndList(t *testing.T) {
	writeDB, readDB := db.OpenTestAudit(t)
	repo := NewAuditRepo(writeDB, readDB)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &domain.AuditEntry{
		Operation:  "create",
		SchemaName: "well_production",
		RecordID:   "abc",
		Records:    1,
		Status:     domain.AuditOK,
		DurationMs: 12,
	}))
	require.NoError(t, repo.Insert(ctx, &domain.AuditEntry{
		Operation:  "delete",
		SchemaName: "fields_prices",
		Status:     domain.AuditNotFound,
		Detail:     "no such record",
	}))

	all, err := repo.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "delete", all[0].Operation) // newest first

	wells, err := repo.List(ctx, "well_production", 10)
	require.NoError(t, err)
	require.Len(t, wells, 1)
	assert.Equal(t, "create", wells[0].Operation)
	assert.Equal(t, int64(1), wells[0].Records)
	assert.NotZero(t, wells[0].ID)
}

func TestAuditRepo_ListEmpty(t *testing.T) {
	writeDB, readDB := db.OpenTestAudit(t)
	repo := NewAuditRepo(writeDB, readDB)

	entries, err := repo.List(context.Background(), "none", 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
