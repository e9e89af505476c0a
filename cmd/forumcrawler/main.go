// Command forumcrawler runs the fishing forum ingestion service: a scheduled
// crawl of forum topics and posts, geocoding of place names, and an
// operational HTTP endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fishingmap/forum-crawler/internal/api"
	"github.com/fishingmap/forum-crawler/internal/clock/system"
	"github.com/fishingmap/forum-crawler/internal/config"
	"github.com/fishingmap/forum-crawler/internal/dedup"
	collyfetcher "github.com/fishingmap/forum-crawler/internal/fetcher/colly"
	"github.com/fishingmap/forum-crawler/internal/geocode"
	"github.com/fishingmap/forum-crawler/internal/hash/sha256"
	idgen "github.com/fishingmap/forum-crawler/internal/id/uuid"
	"github.com/fishingmap/forum-crawler/internal/ingest"
	"github.com/fishingmap/forum-crawler/internal/logging"
	"github.com/fishingmap/forum-crawler/internal/metrics"
	"github.com/fishingmap/forum-crawler/internal/pipeline"
	pubmemory "github.com/fishingmap/forum-crawler/internal/publisher/memory"
	pubgcp "github.com/fishingmap/forum-crawler/internal/publisher/pubsub"
	"github.com/fishingmap/forum-crawler/internal/ratelimit"
	"github.com/fishingmap/forum-crawler/internal/robots"
	storememory "github.com/fishingmap/forum-crawler/internal/storage/memory"
	storepg "github.com/fishingmap/forum-crawler/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; env vars apply either way)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "forumcrawler: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closePublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	geocoder, err := buildGeocoder(cfg, logger)
	if err != nil {
		return err
	}

	fetcher := buildFetcher(cfg, logger)

	pipe := pipeline.New(
		fetcher,
		store,
		dedup.NewClassifier(sha256.New()),
		geocoder,
		publisher,
		system.New(),
		idgen.New(),
		nil,
		logging.Component(logger, "pipeline"),
		pipeline.Config{
			ForumRootURL:     cfg.Forum.RootURL,
			MaxForumPages:    cfg.Crawler.MaxForumPages,
			MaxTopicPages:    cfg.Crawler.MaxTopicPages,
			MaxConcurrency:   cfg.Crawler.MaxConcurrency,
			GeocodeStaleness: cfg.GeocodeTTL(),
			ReportTopic:      cfg.PubSub.TopicName,
		},
	)

	scheduler := pipeline.NewScheduler(pipe, cfg.FetchInterval(), logging.Component(logger, "scheduler"))
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	server := api.New(cfg.Server.Port, scheduler, logging.Component(logger, "api"))
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown", zap.Error(err))
	}
	return nil
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (ingest.Store, func(), error) {
	switch cfg.DB.Provider {
	case "postgres":
		store, err := storepg.New(ctx, storepg.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		logger.Info("using postgres store")
		return store, store.Close, nil
	case "memory", "":
		logger.Info("using in-memory store")
		return storememory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown db.provider: %q", cfg.DB.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (ingest.Publisher, func(), error) {
	switch cfg.PubSub.Provider {
	case "gcp":
		pub, err := pubgcp.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, nil, fmt.Errorf("open pubsub publisher: %w", err)
		}
		logger.Info("publishing run reports to pubsub",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
		return pub, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close pubsub publisher", zap.Error(err))
			}
		}, nil
	case "memory", "":
		return pubmemory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown pubsub.provider: %q", cfg.PubSub.Provider)
	}
}

func buildGeocoder(cfg config.Config, logger *zap.Logger) (ingest.Geocoder, error) {
	provider, err := geocode.NewProvider(geocode.ProviderConfig{
		Provider:      cfg.Geocode.Provider,
		GoogleAPIKey:  cfg.Geocode.GoogleAPIKey,
		YandexAPIKey:  cfg.Geocode.YandexAPIKey,
		Timeout:       cfg.HTTPTimeout(),
		CountrySuffix: cfg.Geocode.CountrySuffix,
		Language:      cfg.Geocode.Language,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("build geocoder: %w", err)
	}
	return geocode.NewCache(provider, geocode.CacheConfig{
		TTL:           cfg.GeocodeTTL(),
		NegativeTTL:   time.Duration(cfg.Geocode.NegativeTTLMinutes) * time.Minute,
		MinConfidence: cfg.Geocode.MinConfidence,
	}, nil, logging.Component(logger, "geocode")), nil
}

func buildFetcher(cfg config.Config, logger *zap.Logger) ingest.Fetcher {
	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Forum.UserAgent,
		Timeout:       cfg.HTTPTimeout(),
		SessionCookie: cfg.Forum.SessionCookie,
	})
	policy := robots.New(nil, cfg.Forum.UserAgent,
		time.Duration(cfg.Crawler.RobotsRefreshMinutes)*time.Minute,
		logging.Component(logger, "robots"),
	)
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Crawler.RequestsPerSecond,
		Burst:             1,
		MaxConcurrency:    cfg.Crawler.MaxConcurrency,
	})
	retry := ingest.NewExponentialRetryPolicy(ingest.RetryConfig{
		MaxAttempts: cfg.HTTP.MaxRetries,
		BaseDelay:   time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	})
	return ingest.NewPoliteFetcher(transport, policy, limiter, retry, logging.Component(logger, "fetch"))
}
