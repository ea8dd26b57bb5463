// Package main provides the newsflow daemon entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsflow/internal/cluster"
	"github.com/thebtf/newsflow/internal/collections"
	"github.com/thebtf/newsflow/internal/config"
	gormdb "github.com/thebtf/newsflow/internal/db/gorm"
	"github.com/thebtf/newsflow/internal/embedding"
	"github.com/thebtf/newsflow/internal/enrich"
	"github.com/thebtf/newsflow/internal/maintenance"
	"github.com/thebtf/newsflow/internal/metrics"
	"github.com/thebtf/newsflow/internal/pipeline"
	"github.com/thebtf/newsflow/internal/resolve"
	"github.com/thebtf/newsflow/internal/scheduler"
	"github.com/thebtf/newsflow/internal/server"
	"github.com/thebtf/newsflow/internal/server/sse"
	"github.com/thebtf/newsflow/internal/trends"
	"github.com/thebtf/newsflow/internal/vector/memindex"
	"github.com/thebtf/newsflow/internal/watcher"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	once := flag.Bool("once", false, "Run one pipeline pass and exit")
	dataDir := flag.String("data-dir", "", "Data directory (default: ~/.newsflow)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load settings, using defaults")
		cfg = config.Default()
	}
	if *dataDir != "" {
		cfg.DBPath = filepath.Join(*dataDir, "newsflow.db")
		cfg.CollectionsPath = filepath.Join(*dataDir, "collections.yml")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()
	}()

	// SQLite store; migrations run automatically.
	store, err := gormdb.NewStore(gormdb.Config{
		Path:     cfg.ResolvedDBPath(),
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer store.Close()

	entityStore := gormdb.NewEntityStore(store)
	clusterStore := gormdb.NewClusterStore(store)
	trendStore := gormdb.NewTrendStore(store)

	registry, err := collections.Load(cfg.ResolvedCollectionsPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load collections registry")
	}

	m := metrics.New()

	// Embedding provider with an optional Redis cache in front.
	embedClient := embedding.NewOpenAIClient(embedding.OpenAIConfig{
		BaseURL:   cfg.EmbedBaseURL,
		APIKey:    apiKey(),
		Model:     cfg.EmbedModel,
		Dimension: cfg.EmbedDimension,
		Timeout:   cfg.EmbedTimeout,
		Retries:   cfg.EmbedRetries,
		Backoff:   cfg.EmbedBackoff,
	})
	var embedder embedding.Provider = embedClient
	if cfg.RedisAddr != "" {
		pool := embedding.NewRedisPool(cfg.RedisAddr)
		defer pool.Close()
		embedder = embedding.NewCachedProvider(embedClient, pool, cfg.CacheTTL, cfg.EmbedModel, m)
	}

	enrichClient := enrich.NewClient(enrich.ClientConfig{
		BaseURL: cfg.EnrichBaseURL,
		APIKey:  apiKey(),
		Timeout: cfg.EnrichTimeout,
		Retries: cfg.EnrichRetries,
	})

	// In-process vector index, hydrated from the database.
	index := memindex.New()
	for _, name := range []string{
		collections.Organizations,
		collections.Sources,
		collections.Stories,
		collections.Clusters,
	} {
		records, err := entityStore.LoadEmbeddings(ctx, name)
		if err != nil {
			log.Fatal().Err(err).Str("collection", name).Msg("Failed to hydrate vector index")
		}
		for _, rec := range records {
			if err := index.Add(ctx, name, rec.ID, rec.Embedding); err != nil {
				log.Fatal().Err(err).Str("collection", name).Msg("Failed to hydrate vector index")
			}
		}
		log.Debug().Str("collection", name).Int("vectors", len(records)).Msg("Hydrated vector index")
	}

	orgResolver := resolve.NewOrganizationResolver(
		*registry.MustGet(collections.Organizations), embedder, index, entityStore, enrichClient)
	sourceResolver := resolve.NewSourceResolver(
		*registry.MustGet(collections.Sources), embedder, index, entityStore)
	storyResolver := resolve.NewStoryResolver(
		*registry.MustGet(collections.Stories), embedder, index, entityStore)

	builder := cluster.NewBuilder(cluster.BuilderConfig{
		Eps:              cfg.ClusterEps,
		MinClusterSize:   cfg.MinClusterSize,
		OversizeFraction: cfg.OversizeFraction,
	})
	classifier := cluster.NewClassifier(cluster.ClassifierConfig{
		MergeThreshold:     cfg.MergeThreshold,
		ReprocessThreshold: cfg.ReprocessThreshold,
		Workers:            cfg.Workers,
	}, index)
	coordinator := cluster.NewCoordinator(clusterStore, index)

	events := sse.NewBroadcaster()
	pipe := pipeline.New(pipeline.Config{
		Workers:          cfg.Workers,
		MemberPoolWindow: cfg.MemberPoolWindow,
	}, pipeline.Deps{
		Entities:    entityStore,
		Clusters:    clusterStore,
		Trends:      trendStore,
		Orgs:        orgResolver,
		Sources:     sourceResolver,
		Stories:     storyResolver,
		Builder:     builder,
		Classifier:  classifier,
		Coordinator: coordinator,
		Summarizer:  enrichClient,
		Projector:   trends.NewProjector(cfg.MinTrendRelevance),
		Metrics:     m,
		Events:      events,
	})

	if *once {
		res, err := pipe.Run(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Pipeline run failed")
		}
		log.Info().
			Int("fragments", res.FragmentsResolved).
			Int("trends", res.Trends).
			Msg("Run complete")
		return
	}

	// Settings edits trigger a shutdown; the supervisor restarts us with
	// the new configuration.
	settingsWatcher, err := watcher.New(config.SettingsPath(), func() {
		log.Info().Msg("Settings changed, restarting")
		cancel()
	})
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable")
	} else {
		if err := settingsWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start settings watcher")
		}
		defer settingsWatcher.Stop()
	}

	sweep := maintenance.NewOrganizationSweep(
		entityStore, index, registry.MustGet(collections.Organizations).Threshold)
	srv := server.New(cfg.AdminAddr, server.Deps{
		Runner:    pipe,
		Fragments: entityStore,
		Trends:    trendStore,
		Sweep:     sweep,
		Metrics:   m,
		Events:    events,
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("Admin server failed")
			cancel()
		}
	}()

	sched := scheduler.New(pipe, cfg.RunInterval)
	log.Info().Str("version", Version).Msg("newsflow started")
	sched.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Admin server shutdown failed")
	}
}

// apiKey returns the provider API key from the environment.
func apiKey() string {
	if k := os.Getenv("NEWSFLOW_API_KEY"); k != "" {
		return k
	}
	return os.Getenv("OPENAI_API_KEY")
}
