package query

import (
	"context"
	"log/slog"

	"github.com/fnuworsu/rdgql/pkg/cache"
	"github.com/fnuworsu/rdgql/pkg/config"
	"github.com/fnuworsu/rdgql/pkg/exec"
	"github.com/fnuworsu/rdgql/pkg/logging"
	"github.com/fnuworsu/rdgql/pkg/storage"
)

// Engine executes statements against one storage session
type Engine struct {
	session storage.Session
	config  *config.Config
	plans   *cache.PlanCache
	logger  *slog.Logger
}

// NewEngine creates an engine. A nil config uses the defaults.
func NewEngine(session storage.Session, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.LoadDefaults()
	}
	plans := cache.Disabled()
	if cfg.Cache.Enabled {
		plans = cache.New(cfg.Cache.Size, cfg.Cache.TTL)
	}
	e := &Engine{
		session: session,
		config:  cfg,
		plans:   plans,
		logger:  logging.WithComponent("query"),
	}
	e.logger.Debug("engine.open", "database", session.Name(), "cache", cfg.Cache.Enabled, "parallel", cfg.Execution.Parallel)
	return e
}

// Session returns the engine's storage session
func (e *Engine) Session() storage.Session { return e.session }

// PlanCache returns the engine's plan cache
func (e *Engine) PlanCache() *cache.PlanCache { return e.plans }

func (e *Engine) options() PlanOptions {
	return PlanOptions{
		Timeout:    e.config.Execution.Timeout,
		Parallel:   e.config.Execution.Parallel,
		MaxWorkers: e.config.Execution.MaxWorkers,
	}
}

func (e *Engine) newContext(goctx context.Context, q *Query, params map[string]any) *exec.Context {
	ctx := exec.NewContext(
		exec.WithSession(e.session),
		exec.WithTimeout(e.config.Execution.Timeout),
		exec.WithProfiling(e.config.Execution.Profiling),
		exec.WithParams(params),
		exec.WithGoContext(goctx),
	)
	if q.ID != "" {
		ctx.Logger = ctx.Logger.With("statement", q.ID)
	}
	return ctx
}

// plan returns a runnable plan for q, reusing a cached template when one
// exists. The returned plan is never the cached instance.
func (e *Engine) plan(ctx *exec.Context, q *Query) (*exec.Plan, bool, error) {
	key := cache.Key(q.String())
	if plan, ok := e.plans.Get(ctx, key); ok {
		ctx.Logger.Debug("cache.hit", "key", key)
		return plan, true, nil
	}
	plan, err := BuildPlan(ctx, q, e.options())
	if err != nil {
		return nil, false, err
	}
	if e.plans.Put(ctx, key, plan) {
		ctx.Logger.Debug("cache.store", "key", key, "size", e.plans.Len())
	}
	return plan, false, nil
}

// Execute runs q and collects its rows
func (e *Engine) Execute(goctx context.Context, q *Query, params map[string]any) (*Result, error) {
	ctx := e.newContext(goctx, q, params)
	ctx.Logger.Debug("query.start", "database", e.session.Name())

	plan, cached, err := e.plan(ctx, q)
	if err != nil {
		ctx.Logger.Warn("query.failed", "stage", "plan", "error", err)
		return nil, err
	}
	rs, err := plan.Execute(ctx)
	if err != nil {
		ctx.Logger.Warn("query.failed", "stage", "execute", "error", err)
		return nil, err
	}

	res := &Result{
		Columns: q.Columns(),
		Rows:    rs.Rows,
		Elapsed: ctx.Elapsed(),
		Cached:  cached,
	}
	if ctx.Profiling {
		res.Plan = plan.PrettyPrint(0, 2)
	}
	ctx.Logger.Info("query.done", "rows", len(rs.Rows), "elapsed", res.Elapsed, "cached", cached)
	return res, nil
}

// Explain returns the pretty-printed plan of q without running it
func (e *Engine) Explain(goctx context.Context, q *Query) (string, error) {
	ctx := e.newContext(goctx, q, nil)
	plan, _, err := e.plan(ctx, q)
	if err != nil {
		return "", err
	}
	return plan.PrettyPrint(0, 2), nil
}

// Close releases the plan cache and the storage session
func (e *Engine) Close() error {
	e.plans.Purge()
	e.logger.Debug("engine.close", "database", e.session.Name())
	return e.session.Close()
}
