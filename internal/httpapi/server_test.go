package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/engine"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	eng := engine.New(t.TempDir(), engine.CollectionDefaults{}, nil, zap.NewNop())
	t.Cleanup(func() { _ = eng.Close() })

	s, err := NewServer(eng, zap.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func (s *Server) do(t *testing.T, method, path, tenantID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoContentType, "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tenantID != "" {
		req.Header.Set(TenantHeader, tenantID)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func createCollection(t *testing.T, s *Server, name string, dim int) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/collections", "",
		fmt.Sprintf(`{"name":%q,"dimension":%d,"metric":"l2"}`, name, dim))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// rebuildAndWait schedules a rebuild and polls the collection info until the
// served index covers the store.
func rebuildAndWait(t *testing.T, s *Server, name string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/collections/"+name+"/rebuild", "", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/collections/"+name, "", "")
		if rec.Code != http.StatusOK {
			return false
		}
		var info engine.Info
		if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
			return false
		}
		return !info.Stale
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateCollection(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "docs", 4)

	var info engine.Info
	rec := s.do(t, http.MethodGet, "/collections/docs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "docs", info.Name)
	assert.Equal(t, 4, info.Dimension)
	assert.Equal(t, "l2", info.Metric)
}

func TestCreateCollectionTuningOptions(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/collections", "",
		`{"name":"docs","dimension":4,"overfetch_factor":5,"cache_similarity_threshold":0.9,"cache_ttl":"30s"}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateCollectionBadCacheTTL(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/collections", "",
		`{"name":"docs","dimension":4,"cache_ttl":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestCreateCollectionValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "missing dimension", body: `{"name":"a"}`, want: http.StatusBadRequest},
		{name: "bad name", body: `{"name":"a b","dimension":4}`, want: http.StatusBadRequest},
		{name: "bad metric", body: `{"name":"a","dimension":4,"metric":"hamming"}`, want: http.StatusBadRequest},
		{name: "malformed json", body: `{"name":`, want: http.StatusBadRequest},
	}

	s := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/collections", "", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateCollectionDuplicate(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "docs", 4)

	rec := s.do(t, http.MethodPost, "/collections", "", `{"name":"docs","dimension":4}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnknownCollection(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/collections/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/collections/nope/search", "acme", `{"embedding":[1],"k":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInsertSearchDelete(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "docs", 4)

	rec := s.do(t, http.MethodPost, "/collections/docs/vectors", "acme", `{
		"vectors": [
			{"embedding": [0,0,0,0], "payload": {"tag": "origin"}},
			{"embedding": [1,0,0,0]},
			{"embedding": [5,5,5,5]}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ins InsertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ins))
	require.Equal(t, []uint64{1, 2, 3}, ins.IDs)
	require.Len(t, ins.Versions, 3)

	rebuildAndWait(t, s, "docs")

	rec = s.do(t, http.MethodPost, "/collections/docs/search", "acme",
		`{"embedding":[0.9,0,0,0],"k":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Results, 2)
	assert.Equal(t, uint64(2), res.Results[0].ID)
	assert.Equal(t, uint64(1), res.Results[1].ID)
	assert.False(t, res.CacheHit)
	assert.NotZero(t, res.Generation)

	rec = s.do(t, http.MethodDelete, "/collections/docs/vectors/2", "acme", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/collections/docs/search", "acme",
		`{"embedding":[0.9,0,0,0],"k":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Results, 2)
	assert.Equal(t, uint64(1), res.Results[0].ID)
	assert.Equal(t, uint64(3), res.Results[1].ID)
}

func TestInsertSingle(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "docs", 2)

	rec := s.do(t, http.MethodPost, "/collections/docs/vectors", "acme",
		`{"embedding":[1,2],"payload":{"k":"v"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ins InsertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ins))
	assert.Equal(t, []uint64{1}, ins.IDs)
}

func TestInsertValidation(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "docs", 4)

	// No vectors at all.
	rec := s.do(t, http.MethodPost, "/collections/docs/vectors", "acme", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Wrong dimension.
	rec = s.do(t, http.MethodPost, "/collections/docs/vectors", "acme", `{"embedding":[1,2]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingTenant(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "docs", 2)

	rec := s.do(t, http.MethodPost, "/collections/docs/vectors", "", `{"embedding":[1,2]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/collections/docs/search", "", `{"embedding":[1,2],"k":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTenantIsolation(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "docs", 2)

	rec := s.do(t, http.MethodPost, "/collections/docs/vectors", "acme", `{"embedding":[1,2]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rebuildAndWait(t, s, "docs")

	rec = s.do(t, http.MethodPost, "/collections/docs/search", "globex", `{"embedding":[1,2],"k":5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Empty(t, res.Results)
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "docs", 2)

	rec := s.do(t, http.MethodPost, "/collections/docs/vectors", "acme", `{"embedding":[1,2]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	for i := 0; i < 2; i++ {
		rec = s.do(t, http.MethodDelete, "/collections/docs/vectors/1", "acme", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
	// Never-existed id is also a no-op.
	rec = s.do(t, http.MethodDelete, "/collections/docs/vectors/999", "acme", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodDelete, "/collections/docs/vectors/notanumber", "acme", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRebuild(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "docs", 2)

	rec := s.do(t, http.MethodPost, "/collections/docs/rebuild", "", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestListCollections(t *testing.T) {
	s := newTestServer(t)
	createCollection(t, s, "alpha", 2)
	createCollection(t, s, "beta", 2)

	rec := s.do(t, http.MethodGet, "/collections", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list ListCollectionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.ElementsMatch(t, []string{"alpha", "beta"}, list.Collections)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
