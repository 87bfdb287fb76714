package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finresearch-cli/internal/batch"
	"github.com/sells-group/finresearch-cli/internal/derive"
	"github.com/sells-group/finresearch-cli/internal/extract"
	"github.com/sells-group/finresearch-cli/internal/fetcher"
	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/pipeline"
	"github.com/sells-group/finresearch-cli/internal/source"
	"github.com/sells-group/finresearch-cli/internal/store"
	"github.com/sells-group/finresearch-cli/internal/validate"
	"github.com/sells-group/finresearch-cli/internal/waterfall"
	"github.com/sells-group/finresearch-cli/pkg/anthropic"
	"github.com/sells-group/finresearch-cli/pkg/perplexity"
)

// appEnv holds the store, the source directory and the wired pipeline used
// by run, batch and serve.
type appEnv struct {
	Store     store.Store
	Directory *source.Directory
	Pipeline  *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Orchestrator returns a batch orchestrator that archives into the store.
func (e *appEnv) Orchestrator() *batch.Orchestrator {
	return batch.New(cfg.Batch.Options(), e.Pipeline.Record, batch.WithArchiver(e.Store))
}

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initDirectory merges the built-in companies, the config file's companies
// and those synced into the store.
func initDirectory(ctx context.Context, st store.Store) (*source.Directory, error) {
	dir := source.NewDirectory(source.DefaultCompanies()...)
	dir.Add(cfg.Moneycontrol.Companies...)
	if st != nil {
		stored, err := st.ListCompanies(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "list companies")
		}
		dir.Add(stored...)
	}
	return dir, nil
}

func newExtractor() *extract.Extractor {
	return extract.New(cfg.Extract.Options())
}

// buildRegistry registers every source that has what it needs to run.
func buildRegistry(st store.Store, dir *source.Directory) *source.Registry {
	retry := cfg.Retry.Policy()
	ex := newExtractor()
	queries := source.NewQueryBuilder(cfg.Perplexity.FinanceFocus)

	reg := source.NewRegistry(source.WithBreaker(cfg.Retry.BreakerThreshold, cfg.Retry.BreakerCooldown()))

	withCache := func(c source.Completer) source.Completer {
		if !cfg.Cache.Enabled || st == nil {
			return c
		}
		return &source.CachedCompleter{Next: c, Cache: st, TTL: cfg.Cache.TTL()}
	}

	if cfg.Perplexity.Key != "" {
		client := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
		c := withCache(&source.PerplexityCompleter{
			Client:    client,
			ModelName: cfg.Perplexity.Model,
			Recency:   cfg.Perplexity.Recency,
		})
		reg.Register(source.NewAIText("perplexity", c, queries, ex, retry))
	}

	if cfg.Anthropic.Key != "" {
		client := anthropic.NewClient(cfg.Anthropic.Key, anthropic.WithMaxRetries(0))
		c := withCache(&source.AnthropicCompleter{
			Client:    client,
			ModelName: cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
		})
		reg.Register(source.NewAIText("anthropic", c, queries, ex, retry))
	}

	f := fetcher.NewHTTPFetcher(cfg.Moneycontrol.Options(retry))
	reg.Register(source.NewMoneycontrol(f, dir, ex, cfg.Moneycontrol.BaseURL))

	return reg
}

// initApp opens the store and wires the pipeline. Callers should defer
// env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	selCfg, err := cfg.Selection.Options()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireCredentials(selCfg.Sources); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	dir, err := initDirectory(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sources, err := buildRegistry(st, dir).Resolve(selCfg.Sources)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	p := pipeline.New(
		waterfall.NewSelector(selCfg),
		sources,
		derive.New(cfg.Derive.Options()),
		validate.New(cfg.Validation.Options()),
		st,
	)

	zap.L().Debug("pipeline ready",
		zap.Strings("sources", selCfg.Sources),
		zap.String("store", cfg.Store.Driver),
	)
	return &appEnv{Store: st, Directory: dir, Pipeline: p}, nil
}

// ListCompanies returns the merged directory, refreshed from the store so
// companies synced while serving are visible.
func (e *appEnv) ListCompanies(ctx context.Context) ([]model.Company, error) {
	stored, err := e.Store.ListCompanies(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list companies")
	}
	e.Directory.Add(stored...)
	return e.Directory.Companies(), nil
}
