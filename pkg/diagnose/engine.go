package diagnose

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/types"
)

// Prober runs the actual probes; implemented by health.Checker.
type Prober interface {
	RunFullDiagnostic(ctx context.Context, inst *types.Instance) *types.Diagnostic
	QuickHealthCheck(ctx context.Context, inst *types.Instance) *types.Diagnostic
}

// Engine orchestrates diagnostics: it rate-limits full runs, caches
// reports with a TTL, and appends every run to the per-instance
// history ring.
type Engine struct {
	prober    Prober
	ttl       time.Duration
	rateLimit time.Duration
	history   *History
	logger    zerolog.Logger

	mu      sync.Mutex
	cache   map[string]*types.Diagnostic
	lastRun map[string]time.Time
}

// NewEngine creates a diagnostic engine. history may be nil, in which
// case no trend data is retained.
func NewEngine(prober Prober, ttl, rateLimit time.Duration, history *History) *Engine {
	return &Engine{
		prober:    prober,
		ttl:       ttl,
		rateLimit: rateLimit,
		history:   history,
		logger:    log.WithComponent("diagnose"),
		cache:     make(map[string]*types.Diagnostic),
		lastRun:   make(map[string]time.Time),
	}
}

// Run executes a full diagnostic for the instance, honoring the rate
// limit: a call arriving inside the limit window returns the cached
// entry if one is fresh, otherwise RateLimited.
func (e *Engine) Run(ctx context.Context, inst *types.Instance) (*types.Diagnostic, error) {
	e.mu.Lock()
	last, ran := e.lastRun[inst.ID]
	if ran && time.Since(last) < e.rateLimit {
		if cached := e.freshLocked(inst.ID); cached != nil {
			e.mu.Unlock()
			return cached, nil
		}
		wait := e.rateLimit - time.Since(last)
		e.mu.Unlock()
		return nil, errdefs.New(errdefs.KindRateLimited,
			"diagnostic for %s rate limited, retry in %s", inst.ID, wait.Round(time.Second))
	}
	e.lastRun[inst.ID] = time.Now()
	e.mu.Unlock()

	d := e.prober.RunFullDiagnostic(ctx, inst)

	e.mu.Lock()
	e.cache[inst.ID] = d
	e.mu.Unlock()

	if e.history != nil {
		if err := e.history.Append(d); err != nil {
			e.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("failed to append diagnostic history")
		}
	}
	return d, nil
}

// Force runs a full diagnostic ignoring the rate limit. The result
// still lands in the cache and the history ring. Used by the repair
// engine, which needs a current view regardless of recent runs.
func (e *Engine) Force(ctx context.Context, inst *types.Instance) *types.Diagnostic {
	d := e.prober.RunFullDiagnostic(ctx, inst)

	e.mu.Lock()
	e.cache[inst.ID] = d
	e.lastRun[inst.ID] = time.Now()
	e.mu.Unlock()

	if e.history != nil {
		if err := e.history.Append(d); err != nil {
			e.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("failed to append diagnostic history")
		}
	}
	return d
}

// Quick runs the reduced probe set. Quick checks bypass the cache and
// the rate limit; they are the repair engine's verification tool.
func (e *Engine) Quick(ctx context.Context, inst *types.Instance) *types.Diagnostic {
	return e.prober.QuickHealthCheck(ctx, inst)
}

// Last returns the cached diagnostic for an instance if still fresh.
// A stale entry is discarded on read.
func (e *Engine) Last(instanceID string) (*types.Diagnostic, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d := e.freshLocked(instanceID); d != nil {
		return d, true
	}
	return nil, false
}

// Invalidate drops the cached entry for an instance. Called after
// mutations that make the cached view meaningless (repair, restore,
// credential regeneration).
func (e *Engine) Invalidate(instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, instanceID)
}

// Forget drops all state for a deleted instance.
func (e *Engine) Forget(instanceID string) {
	e.mu.Lock()
	delete(e.cache, instanceID)
	delete(e.lastRun, instanceID)
	e.mu.Unlock()
	if e.history != nil {
		_ = e.history.Drop(instanceID)
	}
}

// freshLocked returns the cached entry if within TTL, deleting it
// otherwise. Callers hold e.mu.
func (e *Engine) freshLocked(instanceID string) *types.Diagnostic {
	d, ok := e.cache[instanceID]
	if !ok {
		return nil
	}
	if time.Since(d.Timestamp) >= e.ttl {
		delete(e.cache, instanceID)
		return nil
	}
	return d
}
