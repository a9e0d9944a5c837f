package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/config"
	"datagate/internal/db"
	"datagate/internal/domain"
	"datagate/internal/duck"
	"datagate/internal/repository"
	"datagate/internal/schema"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(&domain.Schema{
		Name:      "well_production",
		TableName: "well_production",
		Properties: []domain.Property{
			{Name: "well_name", Type: domain.TypeString, Required: true, Unique: true},
			{Name: "field", Type: domain.TypeString, Indexed: true},
			{Name: "oil_rate", Type: domain.TypeNumber},
			{Name: "status", Type: domain.TypeString, Default: "active"},
		},
	}))

	pool, err := duck.Open(filepath.Join(t.TempDir(), "data.duckdb"), config.DuckDBConfig{
		MemoryLimit:    "256MB",
		Threads:        2,
		MaxConns:       4,
		AcquireTimeout: 2 * time.Second,
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	writeDB, readDB := db.OpenTestAudit(t)
	audit := repository.NewAuditRepo(writeDB, readDB)

	limits := config.LimitsConfig{
		DefaultPageSize: 5,
		MaxPageSize:     100,
		MaxBatchRecords: 20,
		InsertChunkSize: 10,
		StreamChunkSize: 4,
		MaxStreamLimit:  1000,
	}
	repo := repository.NewDataRepo(pool, reg, limits, audit, slog.Default())
	require.NoError(t, repo.Provision(t.Context()))

	h := NewHandler(repo, reg, audit, slog.Default())
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

func createWell(t *testing.T, srv *httptest.Server, name string) domain.Record {
	t.Helper()
	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/v1/data/well_production", map[string]interface{}{
		"well_name": name, "field": "north", "oil_rate": 100.5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var rec domain.Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	return rec
}

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestAPI_CreateAndGet(t *testing.T) {
	srv := newTestServer(t)

	rec := createWell(t, srv, "well-001")
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "active", rec.Data["status"])

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/v1/data/well_production/"+rec.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got domain.Record
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "well-001", got.Data["well_name"])
}

func TestAPI_Create_Errors(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/data/nope", map[string]interface{}{"x": 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/v1/data/well_production", map[string]interface{}{
		"bogus": 1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(raw), "bogus")

	createWell(t, srv, "dup")
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/data/well_production", map[string]interface{}{
		"well_name": "dup",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Bulk(t *testing.T) {
	srv := newTestServer(t)

	records := make([]map[string]interface{}, 15)
	for i := range records {
		records[i] = map[string]interface{}{"well_name": fmt.Sprintf("w-%02d", i)}
	}
	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/v1/data/well_production/bulk",
		map[string]interface{}{"records": records})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	assert.JSONEq(t, `{"created":15}`, string(raw))

	// MaxBatchRecords is 20.
	records = make([]map[string]interface{}, 21)
	for i := range records {
		records[i] = map[string]interface{}{"well_name": fmt.Sprintf("x-%02d", i)}
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/data/well_production/bulk",
		map[string]interface{}{"records": records})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestAPI_QueryAndCount(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 8; i++ {
		createWell(t, srv, fmt.Sprintf("w-%02d", i))
	}

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/v1/data/well_production/query",
		domain.QuerySpec{
			Sorts:    []domain.Sort{{Field: "well_name"}},
			Page:     2,
			PageSize: 3,
		})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var page domain.Page
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Equal(t, int64(8), page.Total)
	require.Len(t, page.Records, 3)
	assert.Equal(t, "w-03", page.Records[0].Data["well_name"])
	assert.True(t, page.HasNext)
	assert.True(t, page.HasPrevious)

	resp, raw = doJSON(t, http.MethodPost, srv.URL+"/v1/data/well_production/count",
		domain.QuerySpec{
			Filters: []domain.Filter{{Field: "well_name", Op: domain.OpLike, Value: "w-0%"}},
		})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"count":8}`, string(raw))
}

func TestAPI_Query_UnknownField(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/v1/data/well_production/query",
		domain.QuerySpec{Filters: []domain.Filter{{Field: "bogus", Op: domain.OpEq, Value: 1}}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(raw), "bogus")
}

func TestAPI_Stream_NDJSON(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 10; i++ {
		createWell(t, srv, fmt.Sprintf("w-%02d", i))
	}

	raw, err := json.Marshal(domain.QuerySpec{Limit: 7})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/data/well_production/stream", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	lines := 0
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var rec domain.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.NotEmpty(t, rec.ID)
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 7, lines)
}

func TestAPI_UpdateAndDelete(t *testing.T) {
	srv := newTestServer(t)
	rec := createWell(t, srv, "w-upd")

	resp, raw := doJSON(t, http.MethodPut, srv.URL+"/v1/data/well_production/"+rec.ID,
		map[string]interface{}{"status": "shut_in"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var updated domain.Record
	require.NoError(t, json.Unmarshal(raw, &updated))
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "shut_in", updated.Data["status"])

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/data/well_production/"+rec.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/data/well_production/"+rec.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Schemas(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/v1/schemas", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"schemas":["well_production"]}`, string(raw))

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/v1/schemas/well_production", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"table_name":"well_production"`)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/schemas/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_AuditTrail(t *testing.T) {
	srv := newTestServer(t)
	rec := createWell(t, srv, "w-audit")
	doJSON(t, http.MethodDelete, srv.URL+"/v1/data/well_production/"+rec.ID, nil)

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/v1/audit?schema=well_production", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Len(t, body.Entries, 2)
	assert.Equal(t, "delete", body.Entries[0].Operation)
	assert.Equal(t, "create", body.Entries[1].Operation)
}

func TestAPI_MalformedBody(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/data/well_production/query", "application/json",
		strings.NewReader("{nope"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
