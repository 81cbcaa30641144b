package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/archive"
	"github.com/hsn0918/memex/internal/clients/embedding"
	"github.com/hsn0918/memex/internal/clients/extract"
	"github.com/hsn0918/memex/internal/clients/rerank"
	"github.com/hsn0918/memex/internal/clients/tagger"
	"github.com/hsn0918/memex/internal/config"
	"github.com/hsn0918/memex/internal/embedder"
	"github.com/hsn0918/memex/internal/graph"
	"github.com/hsn0918/memex/internal/ingest"
	"github.com/hsn0918/memex/internal/metrics"
	"github.com/hsn0918/memex/internal/ner"
	"github.com/hsn0918/memex/internal/outbox"
	"github.com/hsn0918/memex/internal/pii"
	"github.com/hsn0918/memex/internal/resolve"
	"github.com/hsn0918/memex/internal/retention"
	"github.com/hsn0918/memex/internal/search"
	"github.com/hsn0918/memex/internal/store"
	"github.com/hsn0918/memex/internal/vault"
	"github.com/hsn0918/memex/internal/watcher"
	"github.com/hsn0918/memex/pkg/falkor"
	"github.com/hsn0918/memex/pkg/logger"
)

// StopGrace bounds how long shutdown waits for in-flight requests and
// background workers before giving up.
const StopGrace = 10 * time.Second

// Module assembles the whole application for fx.
var Module = fx.Options(
	InfrastructureModule,
	ClientsModule,
	ServicesModule,
	HTTPServerModule,
	WorkersModule,
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	}),
	fx.StopTimeout(StopGrace),
	fx.Invoke(StartWorkers),
	fx.Invoke(StartHTTPServer),
)

// InfrastructureModule provides configuration, logging, and the two
// stores.
var InfrastructureModule = fx.Module("infrastructure",
	fx.Provide(
		NewAppConfig,
		NewAppLogger,
		NewRelationalStore,
		NewGraphClient,
		NewArchive,
	),
)

// ClientsModule provides the external model-service clients.
var ClientsModule = fx.Module("clients",
	fx.Provide(
		NewEmbeddingClient,
		NewRerankerClient,
		NewExtractorClient,
		NewTaggerClient,
	),
)

// ServicesModule provides the domain services.
var ServicesModule = fx.Module("services",
	fx.Provide(
		NewGraphApplier,
		NewVaultMirror,
		NewPIIScanner,
		NewIngestCoordinator,
		NewSearchService,
		NewRetentionService,
		NewResolver,
	),
)

// HTTPServerModule provides the API layer and the listener.
var HTTPServerModule = fx.Module("http_server",
	fx.Provide(
		NewAPIServer,
		NewHTTPServer,
	),
)

// WorkersModule provides the background loops.
var WorkersModule = fx.Module("workers",
	fx.Provide(
		NewDropWatcher,
		NewEmbedWorker,
		NewConceptWorker,
		NewOutboxDrainer,
	),
)

// ================================
// Infrastructure constructors
// ================================

func NewAppConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func NewAppLogger() (*zap.Logger, error) {
	if err := logger.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.Get(), nil
}

// NewRelationalStore opens PostgreSQL and sizes the vector columns for
// the configured embedding model.
func NewRelationalStore(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*store.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dims := embedding.Dimensions(cfg.Services.Embedding.Model)
	log.Info("opening relational store",
		zap.String("model", cfg.Services.Embedding.Model),
		zap.Int("dimensions", dims))

	st, err := store.Open(ctx, cfg.DSN(), dims)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			st.Close()
			return nil
		},
	})
	return st, nil
}

func NewGraphClient(lc fx.Lifecycle, cfg config.Config) (falkor.GraphClient, error) {
	client, err := falkor.NewClient(falkor.ClientOptions{
		Host:  cfg.Graph.Host,
		Port:  cfg.Graph.Port,
		Graph: cfg.Graph.Name,
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			client.Close()
			return nil
		},
	})
	return client, nil
}

func NewArchive(cfg config.Config, log *zap.Logger) (*archive.Archive, error) {
	return archive.New(cfg, log)
}

// ================================
// Client constructors
// ================================

func NewEmbeddingClient(cfg config.Config) embedding.Embedder {
	return embedding.NewClient(cfg.Services.Embedding.ServiceConfig)
}

func NewRerankerClient(cfg config.Config) rerank.Reranker {
	return rerank.NewClient(cfg.Services.Reranker)
}

func NewExtractorClient(cfg config.Config) extract.Extractor {
	return extract.NewClient(cfg.Services.Extractor)
}

func NewTaggerClient(cfg config.Config) tagger.Tagger {
	return tagger.NewClient(cfg.Services.Tagger)
}

// ================================
// Service constructors
// ================================

func NewGraphApplier(client falkor.GraphClient, log *zap.Logger) *graph.Applier {
	return graph.NewApplier(client, log)
}

func NewVaultMirror(cfg config.Config, log *zap.Logger) *vault.Mirror {
	return vault.NewMirror(cfg.Paths.Vault, log)
}

func NewPIIScanner(tg tagger.Tagger) *pii.Scanner {
	return pii.NewScanner(tg)
}

func NewIngestCoordinator(
	st *store.Store,
	scanner *pii.Scanner,
	extractor extract.Extractor,
	mirror *vault.Mirror,
	arc *archive.Archive,
	log *zap.Logger,
) *ingest.Coordinator {
	return ingest.NewCoordinator(st, scanner, extractor, mirror, arc, log)
}

func NewSearchService(st *store.Store, embedClient embedding.Embedder, rerankClient rerank.Reranker, log *zap.Logger) *search.Service {
	return search.NewService(st, embedClient, rerankClient, log)
}

func NewRetentionService(st *store.Store, cfg config.Config, log *zap.Logger) *retention.Service {
	return retention.NewService(st, cfg.Paths.DeletionLog, cfg.Retention.Days, log)
}

func NewResolver(st *store.Store, log *zap.Logger) *resolve.Resolver {
	return resolve.NewResolver(st, log)
}

// ================================
// HTTP server constructors
// ================================

func NewAPIServer(
	st *store.Store,
	searcher *search.Service,
	deleter *retention.Service,
	resolver *resolve.Resolver,
	applier *graph.Applier,
	coordinator *ingest.Coordinator,
	cfg config.Config,
	log *zap.Logger,
) *Server {
	return NewServer(st, searcher, deleter, resolver, applier, coordinator, metrics.Handler(st, log), cfg, log)
}

func NewHTTPServer(api *Server, cfg config.Config, log *zap.Logger) *http.Server {
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	log.Info("http server configured", zap.String("addr", addr))

	return &http.Server{
		Addr:    addr,
		Handler: api.Router(),
	}
}

// ================================
// Worker constructors
// ================================

func NewDropWatcher(coordinator *ingest.Coordinator, cfg config.Config, log *zap.Logger) *watcher.Watcher {
	return watcher.New(cfg.Paths.DropZone, coordinator.IngestFile, log)
}

func NewEmbedWorker(st *store.Store, client embedding.Embedder, log *zap.Logger) *embedder.Worker {
	return embedder.NewWorker(embedder.StoreSource(st), client, log)
}

func NewConceptWorker(st *store.Store, tg tagger.Tagger, log *zap.Logger) *ner.Worker {
	return ner.NewWorker(ner.StoreSource(st), tg, log)
}

func NewOutboxDrainer(st *store.Store, applier *graph.Applier, mirror *vault.Mirror, log *zap.Logger) *outbox.Drainer {
	return outbox.NewDrainer(st, applier, mirror.Refresh, log)
}

// ================================
// Lifecycle management
// ================================

// Workers bundles the background loops for StartWorkers.
type Workers struct {
	fx.In

	Watcher  *watcher.Watcher
	Embedder *embedder.Worker
	Drainer  *outbox.Drainer
	Concepts *ner.Worker
	Archive  *archive.Archive
}

// StartWorkers launches the background loops once the container is up.
// Any loop exiting with a real error shuts the application down so the
// supervisor can restart it. The drainer waits for the graph store
// inside its own goroutine; ten backoff attempts can outlast the start
// timeout, and the HTTP API does not depend on the graph being up.
func StartWorkers(w Workers, lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("worker exited", zap.String("worker", name), zap.Error(err))
				if shutdownErr := shutdowner.Shutdown(); shutdownErr != nil {
					log.Error("failed to shut down application", zap.Error(shutdownErr))
				}
			}
		}()
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := w.Archive.EnsureBucket(ctx); err != nil {
				return err
			}

			start("watcher", w.Watcher.Run)
			start("embedder", w.Embedder.Run)
			start("concepts", w.Concepts.Run)
			start("drainer", func(ctx context.Context) error {
				if err := w.Drainer.WaitForGraph(ctx); err != nil {
					return err
				}
				return w.Drainer.Run(ctx)
			})
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

// StartHTTPServer binds the listener. Registered after the workers so
// shutdown drains HTTP traffic first and stops the pipeline second.
func StartHTTPServer(httpServer *http.Server, lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting http server", zap.String("addr", httpServer.Addr))
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server failed", zap.Error(err))
					if shutdownErr := shutdowner.Shutdown(); shutdownErr != nil {
						log.Error("failed to shut down application", zap.Error(shutdownErr))
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping http server")
			return httpServer.Shutdown(ctx)
		},
	})
}
