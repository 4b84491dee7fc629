// Package engine runs monitoring passes: read the cluster, evaluate every
// resource, record violations in the ledger, decide, act and notify.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nautilusbot/nautilus/internal/escalation"
	"github.com/nautilusbot/nautilus/internal/executor"
	"github.com/nautilusbot/nautilus/internal/inventory"
	"github.com/nautilusbot/nautilus/internal/ledger"
	"github.com/nautilusbot/nautilus/internal/metrics"
	"github.com/nautilusbot/nautilus/internal/notifier"
	"github.com/nautilusbot/nautilus/internal/rules"
	"github.com/nautilusbot/nautilus/internal/types"
)

// Collector reads namespaces. *inventory.Collector satisfies it.
type Collector interface {
	CollectAll(ctx context.Context, namespaces []string) (map[string]*inventory.Namespace, error)
}

// Ledger records violations and serves rolling counts. *ledger.Ledger satisfies it.
type Ledger interface {
	escalation.Counter
	RecordViolations(ctx context.Context, id types.Identity, vs []types.Violation) (*ledger.Entry, error)
}

// Notifier publishes plans. *notifier.Dispatcher satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, n notifier.Notification) error
}

// NamespaceSource returns the namespaces to monitor. It is called once per
// pass so configuration reloads apply to the next pass.
type NamespaceSource func() []string

// StaticNamespaces returns a NamespaceSource over a fixed list.
func StaticNamespaces(ns ...string) NamespaceSource {
	return func() []string { return ns }
}

// Options configures the Engine.
type Options struct {
	PassInterval time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{PassInterval: time.Hour}
}

// Dependencies are the collaborators of the Engine. Notifier and Metrics
// are optional.
type Dependencies struct {
	Collector  Collector
	Evaluator  *rules.Evaluator
	Ledger     Ledger
	Executor   executor.Executor
	Notifier   Notifier
	Metrics    *metrics.Recorder
	Namespaces NamespaceSource
}

// Engine runs monitoring passes. Passes never overlap.
type Engine struct {
	collector  Collector
	evaluator  *rules.Evaluator
	ledger     Ledger
	policy     *escalation.Policy
	executor   executor.Executor
	notifier   Notifier
	metrics    *metrics.Recorder
	namespaces NamespaceSource
	logger     *zap.Logger
	opts       Options
	clock      func() time.Time

	passMu sync.Mutex

	lastMu sync.RWMutex
	last   *PassResult
}

// New creates an Engine.
func New(deps Dependencies, logger *zap.Logger, opts Options) *Engine {
	if deps.Evaluator == nil {
		deps.Evaluator = rules.NewEvaluator(nil)
	}
	if deps.Namespaces == nil {
		deps.Namespaces = StaticNamespaces()
	}
	if opts.PassInterval <= 0 {
		opts.PassInterval = DefaultOptions().PassInterval
	}
	return &Engine{
		collector:  deps.Collector,
		evaluator:  deps.Evaluator,
		ledger:     deps.Ledger,
		policy:     escalation.NewPolicy(deps.Ledger),
		executor:   deps.Executor,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		namespaces: deps.Namespaces,
		logger:     logger.Named("engine"),
		opts:       opts,
		clock:      time.Now,
	}
}

// SetClock overrides the time source. Must be called before use (not concurrent).
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// LastPass returns the most recent completed pass, or nil.
func (e *Engine) LastPass() *PassResult {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	return e.last
}

// Start runs a pass immediately and then every PassInterval until ctx is
// cancelled. Pass failures are logged and do not stop the loop.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting engine", zap.Duration("interval", e.opts.PassInterval))

	ticker := time.NewTicker(e.opts.PassInterval)
	defer ticker.Stop()

	for {
		if _, err := e.RunPass(ctx, e.namespaces()); err != nil && ctx.Err() == nil {
			e.logger.Error("Pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			e.logger.Info("Engine stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunPass runs one synchronous monitoring pass over namespaces. Failures for
// one namespace, kind or resource are recorded in the result and the pass
// continues. An error is returned only when the pass could not run to the end.
func (e *Engine) RunPass(ctx context.Context, namespaces []string) (*PassResult, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	pass := &PassResult{
		ID:         uuid.NewString(),
		StartedAt:  e.clock(),
		Namespaces: make(map[string]*NamespaceResult),
		Order:      uniqueNamespaces(namespaces),
	}
	logger := e.logger.With(zap.String("pass", pass.ID))
	logger.Info("Pass started", zap.Strings("namespaces", pass.Order))

	err := e.run(ctx, logger, pass)

	pass.FinishedAt = e.clock()
	pass.Interrupted = err != nil
	e.metrics.Pass(pass.Duration(), err, pass.FinishedAt)

	e.lastMu.Lock()
	e.last = pass
	e.lastMu.Unlock()

	if err != nil {
		logger.Warn("Pass interrupted", zap.Error(err))
		return pass, err
	}
	logger.Info("Pass complete", zap.Duration("duration", pass.Duration()))
	return pass, nil
}

func (e *Engine) run(ctx context.Context, logger *zap.Logger, pass *PassResult) error {
	collected, err := e.collector.CollectAll(ctx, pass.Order)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	for _, ns := range pass.Order {
		c, ok := collected[ns]
		if !ok {
			continue
		}
		nr := &NamespaceResult{Name: ns, Excluded: c.Excluded}
		pass.Namespaces[ns] = nr

		for kind, kerr := range c.Errors {
			if nr.Errors == nil {
				nr.Errors = make(map[types.Kind]string)
			}
			nr.Errors[kind] = kerr.Error()
			e.metrics.CollectorError(string(kind))
		}
		for _, x := range c.Excluded {
			e.metrics.Excluded(x.Reason)
			logger.Debug("Resource excluded",
				zap.String("uid", string(x.Identity.UID)),
				zap.String("namespace", x.Identity.Namespace),
				zap.String("name", x.Identity.Name),
				zap.String("reason", x.Reason),
			)
		}

		for _, kind := range types.Kinds {
			for _, snap := range c.Snapshots(kind) {
				if err := ctx.Err(); err != nil {
					return err
				}
				nr.add(kind, e.process(ctx, logger, pass.ID, snap))
			}
		}
	}
	return nil
}

// process handles one resource. The ledger is updated before deciding so the
// current occurrence counts toward escalation.
func (e *Engine) process(ctx context.Context, logger *zap.Logger, passID string, snap types.Snapshot) ResourceResult {
	id := snap.Identity
	log := logger.With(
		zap.String("uid", string(id.UID)),
		zap.String("kind", string(id.Kind)),
		zap.String("namespace", id.Namespace),
		zap.String("name", id.Name),
	)

	res := e.evaluator.Evaluate(snap)
	rr := ResourceResult{
		Snapshot:   snap,
		Violations: res.Violations,
		Plan:       escalation.Plan{Identity: id},
	}
	for _, re := range res.Errors {
		rr.RuleErrors = append(rr.RuleErrors, re.Error())
		log.Warn("Rule could not be evaluated", zap.String("rule", string(re.Rule)), zap.Error(re.Err))
	}
	for _, v := range res.Violations {
		e.metrics.Violation(string(id.Kind), string(v.Reason), v.Severity.Label())
		log.Info("Violation detected",
			zap.String("reason", string(v.Reason)),
			zap.String("severity", string(v.Severity)),
			zap.String("message", v.Message),
		)
	}
	if len(res.Violations) == 0 {
		return rr
	}

	if _, err := e.ledger.RecordViolations(ctx, id, res.Violations); err != nil {
		rr.LedgerError = err.Error()
		e.metrics.LedgerError()
		log.Error("Ledger write failed, skipping escalation", zap.Error(err))
		return rr
	}

	plan, err := e.policy.Plan(ctx, id, res.Violations)
	if err != nil {
		rr.LedgerError = err.Error()
		e.metrics.LedgerError()
		log.Error("Ledger read failed, skipping escalation", zap.Error(err))
		return rr
	}
	rr.Plan = plan
	e.metrics.Decision(plan.Decision.String())
	log.Info("Decision",
		zap.Stringer("decision", plan.Decision),
		zap.String("action", string(plan.Action)),
	)

	switch {
	case plan.Action.Executable():
		err := e.executor.Execute(ctx, plan.Action, id)
		e.metrics.Action(string(plan.Action), err)
		if err != nil {
			rr.ActionError = err.Error()
			log.Error("Action failed", zap.String("action", string(plan.Action)), zap.Error(err))
		} else {
			log.Info("Action executed", zap.String("action", string(plan.Action)))
		}
	case plan.Action == escalation.ActionFlag:
		e.metrics.Action(string(plan.Action), nil)
		log.Warn("Resource flagged for removal")
	}

	if e.notifier != nil {
		n := notifier.Notification{
			PassID:      passID,
			Plan:        plan,
			Violations:  res.Violations,
			ActionError: rr.ActionError,
		}
		if err := e.notifier.Dispatch(ctx, n); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Notification failed", zap.Error(err))
		}
	}
	return rr
}

func uniqueNamespaces(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, ns := range in {
		if ns == "" {
			continue
		}
		if _, ok := seen[ns]; ok {
			continue
		}
		seen[ns] = struct{}{}
		out = append(out, ns)
	}
	return out
}
