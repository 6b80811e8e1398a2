package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/engine"
	"github.com/fyrsmithlabs/vectord/internal/index"
	"github.com/fyrsmithlabs/vectord/internal/manager"
	"github.com/fyrsmithlabs/vectord/internal/planner"
	"github.com/fyrsmithlabs/vectord/internal/semcache"
	"github.com/fyrsmithlabs/vectord/internal/tenant"
	"github.com/fyrsmithlabs/vectord/internal/vectorstore"
)

// CreateCollectionRequest is the request body for POST /collections.
type CreateCollectionRequest struct {
	Name           string `json:"name"`
	Dimension      int    `json:"dimension"`
	Metric         string `json:"metric,omitempty"`
	IndexVariant   string `json:"index_variant,omitempty"`
	Workload       string `json:"workload,omitempty"`
	LexicalEnabled bool   `json:"lexical_enabled,omitempty"`

	Nlist          int `json:"nlist,omitempty"`
	Nprobe         int `json:"nprobe,omitempty"`
	M              int `json:"m,omitempty"`
	EfConstruction int `json:"ef_construction,omitempty"`
	EfSearch       int `json:"ef_search,omitempty"`

	// Tuning overrides. Zero values inherit the daemon-level defaults.
	OverfetchFactor          int     `json:"overfetch_factor,omitempty"`
	CacheSimilarityThreshold float64 `json:"cache_similarity_threshold,omitempty"`
	CacheTTL                 string  `json:"cache_ttl,omitempty"`
}

// VectorItem is one vector in an insert request.
type VectorItem struct {
	Embedding []float32      `json:"embedding"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// InsertRequest is the request body for POST /collections/:id/vectors.
// Either a single vector or a batch; a batch wins when both are set.
type InsertRequest struct {
	Embedding []float32      `json:"embedding,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Vectors   []VectorItem   `json:"vectors,omitempty"`
}

// InsertResponse carries the assigned ids and store versions, in request
// order.
type InsertResponse struct {
	IDs      []uint64 `json:"ids"`
	Versions []uint64 `json:"versions"`
}

// SearchRequest is the request body for POST /collections/:id/search.
type SearchRequest struct {
	Embedding []float32         `json:"embedding"`
	K         int               `json:"k"`
	Filter    map[string]string `json:"filter,omitempty"`
	Text      string            `json:"text,omitempty"`
}

// SearchHit is one ranked result.
type SearchHit struct {
	ID      uint64         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SearchResponse is the response body for POST /collections/:id/search.
type SearchResponse struct {
	Results    []SearchHit `json:"results"`
	Stale      bool        `json:"stale"`
	CacheHit   bool        `json:"cache_hit"`
	Generation uint64      `json:"generation"`
}

// ListCollectionsResponse is the response body for GET /collections.
type ListCollectionsResponse struct {
	Collections []string `json:"collections"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleCreateCollection creates a collection and returns its info.
func (s *Server) handleCreateCollection(c echo.Context) error {
	var req CreateCollectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var cacheTTL time.Duration
	if req.CacheTTL != "" {
		var err error
		cacheTTL, err = time.ParseDuration(req.CacheTTL)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid cache_ttl: "+err.Error())
		}
	}

	coll, err := s.engine.CreateCollection(c.Request().Context(), engine.CollectionConfig{
		Name:      req.Name,
		Dimension: req.Dimension,
		Metric:    index.Metric(req.Metric),
		Variant:   index.Variant(req.IndexVariant),
		Workload:  manager.Workload(req.Workload),
		Params: index.Params{
			Nlist:          req.Nlist,
			Nprobe:         req.Nprobe,
			M:              req.M,
			EfConstruction: req.EfConstruction,
			EfSearch:       req.EfSearch,
		},
		Planner: planner.Config{
			OverfetchFactor: req.OverfetchFactor,
		},
		Cache: semcache.Config{
			SimilarityThreshold: req.CacheSimilarityThreshold,
			TTL:                 cacheTTL,
		},
		LexicalEnabled: req.LexicalEnabled,
	})
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, coll.Info())
}

// handleListCollections returns the names of all collections.
func (s *Server) handleListCollections(c echo.Context) error {
	return c.JSON(http.StatusOK, ListCollectionsResponse{
		Collections: s.engine.Collections(),
	})
}

// handleCollectionInfo returns a point-in-time collection summary.
func (s *Server) handleCollectionInfo(c echo.Context) error {
	coll, err := s.engine.Collection(c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, coll.Info())
}

// handleInsert appends one vector or a batch and returns ids and versions.
func (s *Server) handleInsert(c echo.Context) error {
	coll, err := s.engine.Collection(c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}

	var req InsertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	items := req.Vectors
	if len(items) == 0 {
		if len(req.Embedding) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "embedding or vectors field is required")
		}
		items = []VectorItem{{Embedding: req.Embedding, Payload: req.Payload}}
	}

	resp := InsertResponse{
		IDs:      make([]uint64, 0, len(items)),
		Versions: make([]uint64, 0, len(items)),
	}
	for _, item := range items {
		id, version, err := coll.Insert(c.Request().Context(), item.Embedding, item.Payload)
		if err != nil {
			return s.httpError(c, err)
		}
		resp.IDs = append(resp.IDs, id)
		resp.Versions = append(resp.Versions, version)
	}
	return c.JSON(http.StatusOK, resp)
}

// handleDelete tombstones a vector. Deleting an absent or already-deleted
// vector returns 204 as well, so retries are safe.
func (s *Server) handleDelete(c echo.Context) error {
	coll, err := s.engine.Collection(c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}

	vectorID, err := strconv.ParseUint(c.Param("vector_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid vector id")
	}

	if err := coll.Delete(c.Request().Context(), vectorID); err != nil {
		if errors.Is(err, vectorstore.ErrNotFound) {
			return c.NoContent(http.StatusNoContent)
		}
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleSearch runs a query and returns the ranked results plus serving
// metadata (staleness, cache hit, generation).
func (s *Server) handleSearch(c echo.Context) error {
	coll, err := s.engine.Collection(c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}

	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := coll.Search(c.Request().Context(), engine.SearchRequest{
		Embedding: req.Embedding,
		K:         req.K,
		Filter:    req.Filter,
		Text:      req.Text,
	})
	if err != nil {
		return s.httpError(c, err)
	}

	hits := make([]SearchHit, 0, len(resp.Results))
	for _, r := range resp.Results {
		hits = append(hits, SearchHit{ID: r.ID, Score: r.Score, Payload: r.Payload})
	}
	return c.JSON(http.StatusOK, SearchResponse{
		Results:    hits,
		Stale:      resp.Stale,
		CacheHit:   resp.CacheHit,
		Generation: resp.Generation,
	})
}

// handleRebuild schedules an index rebuild and returns immediately.
func (s *Server) handleRebuild(c echo.Context) error {
	coll, err := s.engine.Collection(c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	coll.TriggerRebuild()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "rebuild scheduled"})
}

// httpError maps engine errors to status codes. Validation failures are the
// caller's fault; everything unrecognized is a 500 with the detail kept out
// of the response.
func (s *Server) httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, engine.ErrUnknownCollection):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrCollectionExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrInvalidCollectionConfig),
		errors.Is(err, planner.ErrInvalidFilter),
		errors.Is(err, planner.ErrQueryDimensionMismatch),
		errors.Is(err, vectorstore.ErrDimensionMismatch),
		errors.Is(err, vectorstore.ErrInvalidVector),
		errors.Is(err, index.ErrDimensionMismatch),
		errors.Is(err, tenant.ErrMissingTenant),
		errors.Is(err, tenant.ErrInvalidTenant):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, vectorstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, index.ErrMemoryLimit):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, planner.ErrTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
