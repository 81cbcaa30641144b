// Package server exposes the HTTP API: hybrid search, text intake,
// entity lifecycle, runtime configuration, PII review, and graph node
// lookups. Handlers translate between JSON and the domain services;
// every business rule lives behind the interfaces below.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/config"
	"github.com/hsn0918/memex/internal/retention"
	"github.com/hsn0918/memex/internal/search"
	"github.com/hsn0918/memex/internal/store"
)

// RateLimit is the per-IP request budget per minute.
const RateLimit = 100

// Store is the slice of the relational store the API serves directly.
type Store interface {
	UpdateEntity(ctx context.Context, entityType, id string, diffs map[string]interface{}, clientUpdatedAt time.Time) (store.UpdateResult, error)
	PersonByName(ctx context.Context, name string) (store.Person, error)
	MergePersons(ctx context.Context, winnerID, loserID string) error
	MarkPersonPublic(ctx context.Context, id string) error
	PIIPersons(ctx context.Context) ([]store.PIIPerson, error)
	PIIChunks(ctx context.Context) ([]store.PIIChunk, error)
	BulkRedact(ctx context.Context, batchSize int) (int64, error)
	SetSearchWeights(ctx context.Context, bm25, vector float64) error
	AllConfig(ctx context.Context) (map[string]string, error)
	Ping(ctx context.Context) error
}

// Searcher runs the hybrid retrieval pipeline.
type Searcher interface {
	Search(ctx context.Context, q string, limit int) (*search.Response, error)
}

// Deleter drives soft deletes and the retention purge.
type Deleter interface {
	SoftDelete(ctx context.Context, entityType, id string) (time.Time, error)
	HardDelete(ctx context.Context) (retention.HardDeleteResult, error)
}

// CandidateSource proposes person pairs for merge review.
type CandidateSource interface {
	MergeCandidates(ctx context.Context) ([]store.MergeCandidate, error)
}

// Retrier re-runs dead-lettered files through the pipeline.
type Retrier interface {
	RetryDeadLetters(ctx context.Context) (int, error)
}

// NodeBrowser reads graph nodes for the lookup endpoint.
type NodeBrowser interface {
	BrowseNodes(ctx context.Context, label string, filters map[string]string) ([]map[string]interface{}, error)
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	store     Store
	searcher  Searcher
	retention Deleter
	resolver  CandidateSource
	graph     NodeBrowser
	retrier   Retrier
	metrics   http.Handler
	dropZone  string
	auth      authKeys
	logger    *zap.Logger
}

// NewServer wires the API layer. metricsHandler serves the Prometheus
// exposition; it is mounted as-is.
func NewServer(
	st Store,
	searcher Searcher,
	deleter Deleter,
	resolver CandidateSource,
	graph NodeBrowser,
	retrier Retrier,
	metricsHandler http.Handler,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		store:     st,
		searcher:  searcher,
		retention: deleter,
		resolver:  resolver,
		graph:     graph,
		retrier:   retrier,
		metrics:   metricsHandler,
		dropZone:  cfg.Paths.DropZone,
		auth:      authKeys{read: cfg.Auth.ReadKey, write: cfg.Auth.WriteKey},
		logger:    logger,
	}
}

// Router assembles the routing tree. Health and metrics bypass
// authentication; everything else splits into read and write scopes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(httprate.LimitByIP(RateLimit, time.Minute))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.require(scopeRead, s.logger))
		r.Post("/search", s.handleSearch)
		r.Get("/entities/merge-candidates", s.handleMergeCandidates)
		r.Get("/config", s.handleGetConfig)
		r.Get("/pii/report", s.handlePIIReport)
		r.Get("/graph/nodes", s.handleGraphNodes)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth.require(scopeWrite, s.logger))
		r.Post("/ingest/text", s.handleIngestText)
		r.Post("/ingest/retry-dead-letters", s.handleRetryDeadLetters)
		r.Delete("/entities/{type}/{id}", s.handleSoftDelete)
		r.Put("/entities/{type}/{id}", s.handleUpdateEntity)
		r.Post("/entities/hard-delete", s.handleHardDelete)
		r.Post("/entities/merge", s.handleMerge)
		r.Post("/config", s.handleSetWeights)
		r.Post("/pii/mark-public/{id}", s.handleMarkPublic)
		r.Post("/pii/bulk-redact", s.handleBulkRedact)
	})

	return r
}

// handleHealth reports 200 only when both stores answer a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := map[string]string{"relational": "ok", "graph": "ok"}
	healthy := true

	if err := s.store.Ping(ctx); err != nil {
		status["relational"] = err.Error()
		healthy = false
	}
	if err := s.graph.Ping(ctx); err != nil {
		status["graph"] = err.Error()
		healthy = false
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status, s.logger)
}
