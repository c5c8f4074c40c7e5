package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adviseriq/advisor-cli/internal/cache"
	"github.com/adviseriq/advisor-cli/internal/catalog"
	"github.com/adviseriq/advisor-cli/internal/gateway"
	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/internal/pipeline"
	"github.com/adviseriq/advisor-cli/internal/store"
	"github.com/adviseriq/advisor-cli/pkg/crm"
	"github.com/adviseriq/advisor-cli/pkg/kb"
	"github.com/adviseriq/advisor-cli/pkg/safety"
	"github.com/adviseriq/advisor-cli/pkg/telemetry"
)

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "advisor.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pipelineEnv holds the initialized store, source gateway, and pipeline
// needed by the generate and serve commands.
type pipelineEnv struct {
	Store    store.Store
	Gateway  *gateway.Gateway
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, all source clients, and the pipeline.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load catalog")
	}

	telemetryClient := telemetry.NewClient(cfg.Telemetry.Key,
		telemetry.WithBaseURL(cfg.Telemetry.BaseURL),
		telemetry.WithRateLimit(cfg.Telemetry.RateRPS, cfg.Telemetry.RateBurst))
	kbClient := kb.NewClient(cfg.Knowledge.Key,
		kb.WithBaseURL(cfg.Knowledge.BaseURL),
		kb.WithRateLimit(cfg.Knowledge.RateRPS, cfg.Knowledge.RateBurst))
	crmClient := crm.NewClient(cfg.CRM.Key,
		crm.WithBaseURL(cfg.CRM.BaseURL),
		crm.WithRateLimit(cfg.CRM.RateRPS, cfg.CRM.RateBurst))

	var checker safety.Checker
	if cfg.Safety.Provider == "wordlist" {
		checker = safety.NewWordlistChecker(cfg.Safety.Blocklist)
		zap.L().Info("content safety using local wordlist",
			zap.Int("blocked_terms", len(cfg.Safety.Blocklist)))
	} else {
		checker = safety.NewChecker(cfg.Safety.Key, safety.WithBaseURL(cfg.Safety.BaseURL))
	}

	gw := gateway.New(cfg.Resilience.Breaker(), cfg.Resilience.CallTimeout())
	opts := cfg.Pipeline.Options()

	// Source caches persist through the store so restarts and sibling
	// processes share entries.
	trends := cache.NewWithBackend[[]model.UsageRecord](st)
	profiles := cache.NewWithBackend[*model.CustomerProfile](st)

	p := pipeline.New(
		pipeline.NewRetriever(gw, telemetryClient, kbClient, cat, trends, opts),
		pipeline.NewSentimentAnalyzer(gw, crmClient, opts),
		pipeline.NewReasoner(pipeline.NewHeuristicGenerator(cat), opts),
		pipeline.NewValidator(gw, checker, opts),
		st, crmClient, profiles, opts,
	)

	return &pipelineEnv{Store: st, Gateway: gw, Pipeline: p}, nil
}
