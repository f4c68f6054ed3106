package main

import (
	"context"
	"time"

	"annualreports/pkg/config"
	"annualreports/pkg/core/browser"
	"annualreports/pkg/core/discover"
	"annualreports/pkg/core/extract"
	"annualreports/pkg/core/fetch"
	"annualreports/pkg/core/ingest"
	"annualreports/pkg/core/llm"
	"annualreports/pkg/core/pipeline"
	"annualreports/pkg/core/prompt"
	"annualreports/pkg/core/store"
	"annualreports/pkg/core/textextract"
	"annualreports/pkg/core/vocab"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// app holds the wired pipeline and the resources it must release.
type app struct {
	orch         *pipeline.Orchestrator
	consolidated *store.ConsolidatedRepo
	vocabulary   *vocab.Vocabulary
	redis        *redis.Client
	closeDB      bool
}

// newStores opens the repositories. With a database URL the Postgres pool is
// initialized and the schema ensured; files are written either way.
func newStores(ctx context.Context, cfg *config.Config) (store.Layout, store.DB, bool, error) {
	layout := store.NewLayout(cfg.DataDir)
	if cfg.Database.URL == "" {
		return layout, nil, false, nil
	}
	if err := store.InitDB(ctx, cfg.Database.URL); err != nil {
		return layout, nil, false, err
	}
	pool := store.GetPool()
	if err := store.EnsureSchema(ctx, pool); err != nil {
		store.Close()
		return layout, nil, false, err
	}
	return layout, pool, true, nil
}

// newReadOnlyApp wires only what consolidate/export/compare need.
func newReadOnlyApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	layout, db, closeDB, err := newStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	v, err := vocab.Load(cfg.Extraction.VocabularyFile)
	if err != nil {
		return nil, err
	}
	extractions := store.NewExtractionRepo(db, layout)
	consolidated := store.NewConsolidatedRepo(db, layout)
	orch := pipeline.NewOrchestrator(nil, nil, nil, nil, extractions, consolidated, layout, logger)
	orch.Vocabulary = v
	return &app{orch: orch, consolidated: consolidated, vocabulary: v, closeDB: closeDB}, nil
}

// newApp wires the full pipeline from configuration.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a, err := newReadOnlyApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	provider, err := llm.New(cfg.Extraction.Provider, cfg.Extraction.Model, llm.Keys{
		Gemini:   cfg.LLM.GeminiAPIKey,
		DeepSeek: cfg.LLM.DeepSeekAPIKey,
		Qwen:     cfg.LLM.QwenAPIKey,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Extraction.PromptsDir != "" {
		if err := prompt.LoadFromDirectory(prompt.Get(), cfg.Extraction.PromptsDir); err != nil {
			a.Close()
			return nil, eris.Wrapf(err, "failed to load prompts from %s", cfg.Extraction.PromptsDir)
		}
	}

	var factory browser.Factory
	if cfg.Browser.Enabled {
		factory = browser.NewFactory(browser.Options{
			ExecPath:   cfg.Browser.ExecPath,
			Headless:   cfg.Browser.Headless,
			UserAgent:  cfg.HTTP.UserAgent,
			NavTimeout: cfg.Browser.NavTimeout,
			Settle:     2 * time.Second,
		})
	}

	pages := ingest.NewClient(cfg.HTTP.Timeout, cfg.HTTP.UserAgent)
	downloads := ingest.NewClient(cfg.HTTP.DownloadTimeout, cfg.HTTP.UserAgent)

	discoverer := discover.New(pages, discover.NewClassifier(cfg.Discovery.WindowYears, nil), factory, logger.Named("discover"))
	discoverer.MaxDocuments = cfg.Discovery.MaxDocuments
	discoverer.MaxYearPages = cfg.Browser.MaxYearPages

	layout := a.orch.Layout
	fetcher := fetch.New(store.NewDocumentRepo(layout, cfg.Download.MinSizeBytes), pages, downloads, logger.Named("fetch"))
	fetcher.MinSizeBytes = cfg.Download.MinSizeBytes
	fetcher.DownloadTimeout = cfg.HTTP.DownloadTimeout

	adapter := extract.NewAdapter(provider, a.vocabulary, extract.Options{
		MinChars:    cfg.Extraction.MinChars,
		MaxChars:    cfg.Extraction.MaxChars,
		CallDelay:   cfg.Extraction.CallDelay,
		CallTimeout: cfg.Extraction.CallTimeout,
		Prompts:     prompt.Get(),
		Logger:      logger.Named("extract"),
	})

	o := a.orch
	o.Discoverer = discoverer
	o.Fetcher = fetcher
	o.Text = textextract.New(cfg.Extraction.MaxChars, logger.Named("text"))
	o.Statements = adapter
	o.Browser = factory
	o.Retry = pipeline.RetryPolicy{Retries: cfg.Extraction.RateLimitRetries, Backoff: cfg.Extraction.RateLimitBackoff}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, using in-process run lock", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			client.Close()
		} else {
			a.redis = client
			o.Locker = pipeline.NewRedisLocker(client, cfg.Redis.LockTTL, logger.Named("lock"))
		}
	}

	logger.Info("pipeline ready",
		zap.String("provider", provider.Name()),
		zap.String("model", provider.Model()),
		zap.Bool("browser", factory != nil),
		zap.Bool("database", a.closeDB),
		zap.Bool("redis", a.redis != nil))
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.closeDB {
		store.Close()
	}
}
