package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hive-sim/internal/cost"
	"github.com/sells-group/hive-sim/internal/credits"
	"github.com/sells-group/hive-sim/internal/demog"
	"github.com/sells-group/hive-sim/internal/model"
	"github.com/sells-group/hive-sim/internal/panel"
	"github.com/sells-group/hive-sim/internal/poll"
	"github.com/sells-group/hive-sim/internal/prompt"
	"github.com/sells-group/hive-sim/internal/sim"
	"github.com/sells-group/hive-sim/internal/store"
	"github.com/sells-group/hive-sim/pkg/anthropicllm"
	"github.com/sells-group/hive-sim/pkg/openai"
)

// env bundles the wired components shared by the serve and run commands.
type env struct {
	Store        store.Store
	Orchestrator *sim.Orchestrator
	Poller       *poll.Poller
	Ledger       *credits.Ledger
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "hive.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initCompleter() (sim.Completer, error) {
	router := &sim.RoutingCompleter{}
	if cfg.OpenAI.Key != "" {
		router.OpenAI = sim.NewOpenAICompleter(openai.NewClient(cfg.OpenAI.Key,
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
			openai.WithModel(cfg.OpenAI.Model)))
	}
	if cfg.Anthropic.Key != "" {
		router.Anthropic = sim.NewAnthropicCompleter(anthropicllm.NewClient(cfg.Anthropic.Key))
	}
	if router.OpenAI == nil && router.Anthropic == nil {
		return nil, eris.New("no completion backend configured (HIVE_OPENAI_KEY or HIVE_ANTHROPIC_KEY)")
	}
	return router, nil
}

func initPool() (*panel.Pool, error) {
	records, err := demog.LoadFile(cfg.Panel.DemographicsPath)
	if err != nil {
		return nil, err
	}
	zap.L().Info("demographic records loaded",
		zap.String("path", cfg.Panel.DemographicsPath),
		zap.Int("count", len(records)))
	return panel.NewPool(records), nil
}

func initCatalog() (*prompt.Catalog, error) {
	if cfg.Panel.CatalogPath == "" {
		return nil, nil
	}
	catalog, err := prompt.LoadCatalog(cfg.Panel.CatalogPath)
	if err != nil {
		return nil, err
	}
	zap.L().Info("perspective catalog loaded",
		zap.String("path", cfg.Panel.CatalogPath),
		zap.Int("entries", catalog.Len()))
	return catalog, nil
}

// creditEstimator adapts the token estimator to the orchestrator's
// credit pricing hook.
type creditEstimator struct {
	est *cost.Estimator
}

func (c creditEstimator) CreditCost(job model.Job) int {
	return c.est.EstimateJob(job).Credits
}

func initEnv(ctx context.Context) (*env, error) {
	s, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	completer, err := initCompleter()
	if err != nil {
		s.Close()
		return nil, err
	}

	pool, err := initPool()
	if err != nil {
		s.Close()
		return nil, err
	}

	catalog, err := initCatalog()
	if err != nil {
		s.Close()
		return nil, err
	}

	ledger := credits.NewLedger(s)
	var biller credits.Biller = credits.FreeBiller{}
	if cfg.Credits.Enabled {
		biller = ledger
	}

	orch := sim.NewOrchestrator(s, pool, completer, biller,
		creditEstimator{est: cost.NewEstimator(nil)}, catalog, sim.Options{
			Workers:      cfg.Sim.Workers,
			JobTimeout:   time.Duration(cfg.Sim.JobTimeoutSecs) * time.Second,
			MaxPanelSize: cfg.Sim.MaxPanelSize,
			RatePerSec:   cfg.Sim.RatePerSec,
			DefaultModel: cfg.OpenAI.Model,
		})

	poller := poll.New(s,
		time.Duration(cfg.Poll.IntervalMillis)*time.Millisecond,
		cfg.Poll.MaxAttempts)

	return &env{Store: s, Orchestrator: orch, Poller: poller, Ledger: ledger}, nil
}
