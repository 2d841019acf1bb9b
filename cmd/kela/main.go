// Command kela runs the memory service's HTTP edge: it loads configuration,
// wires the core components (Record Store, Vector Index, Indexer,
// Compounding Engine, Ingestion Pipeline, Context Builder, Stats & Health)
// against either in-process or durable backends, and serves the HTTP API
// until an interrupt or terminate signal is received.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tola-byte/kela/internal/compounding"
	"github.com/Tola-byte/kela/internal/config"
	"github.com/Tola-byte/kela/internal/contextbuilder"
	"github.com/Tola-byte/kela/internal/embedding"
	"github.com/Tola-byte/kela/internal/httpapi"
	"github.com/Tola-byte/kela/internal/indexer"
	"github.com/Tola-byte/kela/internal/ingestion"
	"github.com/Tola-byte/kela/internal/logging"
	"github.com/Tola-byte/kela/internal/recordstore"
	"github.com/Tola-byte/kela/internal/stats"
	"github.com/Tola-byte/kela/internal/vectorindex"
	"github.com/Tola-byte/kela/internal/voiceprofile"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kela: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogPath, cfg.LogLevel)
	logger := log.Logger

	store, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize record store")
	}
	defer closeStore()

	index, closeIndex, err := buildIndex(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize vector index")
	}
	defer closeIndex()

	voice := voiceprofile.NewMemory()
	embedder := embedding.NewDeterministic(cfg.Embeddings.Dimensions)
	ix := indexer.New(embedder, index, indexer.WithLogger(logger))

	cache := compounding.NewRelatedCache(cfg.Redis, 10*time.Minute, logger)
	engine := compounding.New(store, index, voice, compounding.WithCache(cache), compounding.WithLogger(logger))

	pipeline := ingestion.New(ix, store, engine, ingestion.WithLogger(logger))
	builder := contextbuilder.New(embedder, index, store, voice, contextbuilder.WithLogger(logger))
	statsSvc := stats.New(store, engine, stats.WithLogger(logger))

	server := httpapi.New(pipeline, builder, store, index, engine, statsSvc, cfg.HTTP.CORSAllowedOrigins, logger)

	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: server}

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("kela listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	} else {
		logger.Info().Msg("kela stopped")
	}
}

func buildStore(cfg config.Config, logger zerolog.Logger) (recordstore.Store, func(), error) {
	if cfg.Postgres.DSN == "" {
		return recordstore.NewMemory(), func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := recordstore.OpenPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, err
	}
	store := recordstore.NewPostgres(pool)
	pgStore, ok := store.(interface{ Init(context.Context) error })
	if ok {
		if err := pgStore.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	logger.Info().Str("dsn", cfg.Postgres.DSN).Msg("record store backed by postgres")
	return store, pool.Close, nil
}

func buildIndex(cfg config.Config) (vectorindex.Index, func(), error) {
	if cfg.Qdrant.DSN == "" {
		return vectorindex.NewMemory(), func() {}, nil
	}
	index, err := vectorindex.NewQdrant(cfg.Qdrant.DSN, cfg.Embeddings.Dimensions, cfg.Qdrant.Metric)
	if err != nil {
		return nil, nil, err
	}
	closer, ok := index.(interface{ Close() error })
	closeFn := func() {}
	if ok {
		closeFn = func() { _ = closer.Close() }
	}
	return index, closeFn, nil
}
