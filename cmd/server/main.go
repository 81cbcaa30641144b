// Command server runs the knowledge service: drop-zone ingestion, the
// embedding and concept workers, the outbox drainer, and the HTTP API.
// The -reindex flag instead runs the offline embedding backfill once
// and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/clients/embedding"
	"github.com/hsn0918/memex/internal/config"
	"github.com/hsn0918/memex/internal/embedder"
	"github.com/hsn0918/memex/internal/server"
	"github.com/hsn0918/memex/internal/store"
	"github.com/hsn0918/memex/pkg/logger"
)

func main() {
	reindex := flag.Bool("reindex", false, "re-embed all chunks into the secondary vector column, then exit")
	promote := flag.Bool("promote", false, "with -reindex, swap the secondary vectors into the primary slot when done")
	flag.Parse()

	if *reindex {
		os.Exit(runReindex(*promote))
	}

	fx.New(server.Module).Run()
}

func runReindex(promote bool) int {
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	log := logger.Get()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Error("failed to load config", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DSN(), embedding.Dimensions(cfg.Services.Embedding.Model))
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		return 1
	}
	defer st.Close()

	client := embedding.NewClient(cfg.Services.Embedding.ServiceConfig)
	job := embedder.NewReindexer(embedder.ReindexStoreSource(st), client, log)
	if err := job.Run(ctx, promote); err != nil {
		log.Error("reindex failed", zap.Error(err))
		return 1
	}
	return 0
}
