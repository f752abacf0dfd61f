// Package app initializes and holds the long-lived services of one harvest run, acting as a
// dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/bibharvest/internal/cache"
	"github.com/JakeFAU/bibharvest/internal/config"
	collyfetcher "github.com/JakeFAU/bibharvest/internal/fetcher/colly"
	"github.com/JakeFAU/bibharvest/internal/fetcher/ratelimit"
	restyfetcher "github.com/JakeFAU/bibharvest/internal/fetcher/resty"
	"github.com/JakeFAU/bibharvest/internal/harvest"
	"github.com/JakeFAU/bibharvest/internal/metrics"
	"github.com/JakeFAU/bibharvest/internal/output"
	"github.com/JakeFAU/bibharvest/internal/sources"
	"github.com/JakeFAU/bibharvest/internal/store"
	"github.com/JakeFAU/bibharvest/internal/store/jsonfile"
	"github.com/JakeFAU/bibharvest/internal/store/postgres"
	"github.com/JakeFAU/bibharvest/internal/store/sqlite"
)

// App holds the caches, transport and pipeline for one run.
type App struct {
	cfg       config.Config
	runID     string
	logger    *zap.Logger
	stores    []store.Store
	responses *cache.Response
	metadata  *cache.Metadata
	pipeline  *harvest.Pipeline
}

// Report summarizes a finished run.
type Report struct {
	RunID     string
	Summary   harvest.Summary
	Output    output.Result
	CacheHits int
	Fetches   int
	Duration  time.Duration
}

// New opens both caches on the configured backend and wires the pipeline. It fails fast if any
// service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	return NewWithTransport(ctx, cfg, nil, logger)
}

// NewWithTransport is New with an explicit transport; nil selects the configured client.
func NewWithTransport(
	ctx context.Context,
	cfg config.Config,
	transport harvest.Transport,
	logger *zap.Logger,
) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	runID := id.String()
	logger = logger.With(zap.String("run_id", runID))
	metrics.Init()

	if transport == nil {
		transport = newTransport(cfg)
	}
	a := &App{cfg: cfg, runID: runID, logger: logger}

	responseStore, metadataStore, err := openStores(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	a.stores = []store.Store{responseStore, metadataStore}

	a.responses, err = cache.OpenResponse(ctx, responseStore, transport, logger.Named("responses"))
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.metadata, err = cache.OpenMetadata(ctx, metadataStore, logger.Named("metadata"))
	if err != nil {
		a.closeStores()
		return nil, err
	}

	harvester := harvest.NewHarvester(a.responses, a.metadata, logger.Named("harvest"))
	a.pipeline = harvest.NewPipeline(harvester, a.metadata, logger.Named("pipeline"))

	logger.Info("application services initialized",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("http_client", cfg.HTTP.Client),
		zap.Int("cached_responses", a.responses.Len()),
		zap.Int("cached_dois", a.metadata.Len()),
	)
	return a, nil
}

// RunID identifies this run in logs.
func (a *App) RunID() string {
	return a.runID
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run loads the sources, harvests and merges them, and writes the output file.
func (a *App) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{RunID: a.runID}

	srcs, err := sources.Load(a.cfg.Sources.File)
	if err != nil {
		return report, err
	}
	a.logger.Info("sources loaded", zap.String("file", a.cfg.Sources.File), zap.Int("sources", len(srcs)))

	records, summary, err := a.pipeline.Run(ctx, srcs)
	report.Summary = summary
	report.CacheHits, report.Fetches = a.responses.Stats()
	if err != nil {
		return report, err
	}

	res, err := output.WriteFile(a.cfg.Output.File, records)
	if err != nil {
		return report, err
	}
	report.Output = res
	report.Duration = time.Since(start)
	a.logger.Info("output written",
		zap.String("file", res.Path),
		zap.Int("rows", res.Rows),
		zap.String("sha256", res.SHA256),
		zap.Duration("duration", report.Duration),
	)

	if a.cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			return report, err
		}
	}
	return report, nil
}

// Close releases the cache stores and flushes the logger.
func (a *App) Close() error {
	err := a.closeStores()
	_ = a.logger.Sync()
	return err
}

func (a *App) closeStores() error {
	var errs []error
	for _, s := range a.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.stores = nil
	return errors.Join(errs...)
}

func newTransport(cfg config.Config) harvest.Transport {
	var transport harvest.Transport
	switch cfg.HTTP.Client {
	case config.ClientResty:
		transport = restyfetcher.New(restyfetcher.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.Timeout(),
			Headers:   cfg.RequestHeaders(),
		})
	default:
		transport = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.HTTP.UserAgent,
			RespectRobots: cfg.HTTP.RespectRobots,
			Timeout:       cfg.Timeout(),
			MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
			Headers:       cfg.RequestHeaders(),
		})
	}
	return ratelimit.Wrap(transport, ratelimit.Config{
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
	})
}

func openStores(ctx context.Context, cfg config.CacheConfig) (store.Store, store.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		responses, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLitePath, Namespace: store.NamespaceResponses})
		if err != nil {
			return nil, nil, err
		}
		dois, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLitePath, Namespace: store.NamespaceMetadata})
		if err != nil {
			_ = responses.Close()
			return nil, nil, err
		}
		return responses, dois, nil
	case config.BackendPostgres:
		pgCfg := postgres.Config{
			DSN:      cfg.PostgresDSN,
			Table:    cfg.PostgresTable,
			MaxConns: cfg.PostgresMaxConns,
		}
		pgCfg.Namespace = store.NamespaceResponses
		responses, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		pgCfg.Namespace = store.NamespaceMetadata
		dois, err := postgres.New(ctx, pgCfg)
		if err != nil {
			_ = responses.Close()
			return nil, nil, err
		}
		return responses, dois, nil
	default:
		responses, err := jsonfile.New(jsonfile.Config{Path: cfg.ResponseFile})
		if err != nil {
			return nil, nil, err
		}
		dois, err := jsonfile.New(jsonfile.Config{Path: cfg.MetadataFile})
		if err != nil {
			return nil, nil, err
		}
		return responses, dois, nil
	}
}
