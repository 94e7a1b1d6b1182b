// Package scheduler drives rule evaluation: a cron cadence enqueues
// every enabled rule onto a bounded worker pool, and each worker runs
// the evaluate-commit-dispatch pipeline for one rule. A failure in one
// rule never affects another.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"area-engine/internal/actions"
	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/credentials"
	"area-engine/internal/models"
	"area-engine/internal/ratelimit"
	"area-engine/internal/reactions"
	"area-engine/internal/state"
	"area-engine/internal/store"
)

// Evaluation outcomes recorded per rule and exposed via Status.
const (
	OutcomeFired               = "fired"
	OutcomeNotFired            = "not_fired"
	OutcomeLockContention      = "lock_contention"
	OutcomeRateLimited         = "rate_limited"
	OutcomeNoCredential        = "no_credential"
	OutcomeRefreshFailed       = "refresh_failed"
	OutcomeProviderUnavailable = "provider_unavailable"
	OutcomeConfigInvalid       = "config_invalid"
	OutcomeDispatchFailed      = "dispatch_failed"
	OutcomeInternalError       = "internal_error"
)

// Options configures the scheduler.
type Options struct {
	// Cadence is the interval between evaluation cycles.
	Cadence time.Duration
	// Workers bounds concurrent rule evaluations.
	Workers int
	// DrainGrace bounds how long Stop waits for in-flight evaluations.
	DrainGrace time.Duration
	// RefreshFailureLimit disables a rule after this many consecutive
	// failed credential refreshes.
	RefreshFailureLimit int
	// ProviderTimeout bounds each provider call chain per rule.
	ProviderTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Cadence <= 0 {
		o.Cadence = 30 * time.Second
	}
	if o.Workers < 1 {
		o.Workers = 8
	}
	if o.DrainGrace <= 0 {
		o.DrainGrace = 10 * time.Second
	}
	if o.RefreshFailureLimit < 1 {
		o.RefreshFailureLimit = 3
	}
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = 15 * time.Second
	}
	return o
}

// RuleStatus is the per-rule view exposed by the status endpoint.
type RuleStatus struct {
	RuleID          string     `json:"rule_id"`
	LastOutcome     string     `json:"last_outcome,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
	LastFiredAt     *time.Time `json:"last_fired_at,omitempty"`
	RefreshFailures int        `json:"refresh_failures,omitempty"`
	Disabled        bool       `json:"disabled,omitempty"`
}

// Snapshot is the full engine status.
type Snapshot struct {
	Running   bool                       `json:"running"`
	Workers   int                        `json:"workers"`
	Cadence   string                     `json:"cadence"`
	Rules     map[string]*RuleStatus     `json:"rules"`
	Providers []ratelimit.ProviderStatus `json:"providers"`
}

// Scheduler owns the evaluation loop.
type Scheduler struct {
	rules       store.RuleStore
	tracker     *state.Tracker
	resolver    *credentials.Resolver
	limiter     *ratelimit.Limiter
	evaluators  *actions.Registry
	dispatchers *reactions.Registry
	logger      logging.Logger
	opts        Options

	mu       sync.Mutex
	running  bool
	cron     *cron.Cron
	statuses map[string]*RuleStatus

	// Pool state is rebuilt on every Start. Workers hold their own
	// references, so an evaluation abandoned at shutdown can finish
	// against its old generation without touching the next one.
	tasks    chan *models.Rule
	stopCh   chan struct{}
	workerWG *sync.WaitGroup
	taskWG   *sync.WaitGroup
}

// New creates a scheduler. It does not start evaluating until Start.
func New(rules store.RuleStore, tracker *state.Tracker, resolver *credentials.Resolver, limiter *ratelimit.Limiter, evaluators *actions.Registry, dispatchers *reactions.Registry, opts Options, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Scheduler{
		rules:       rules,
		tracker:     tracker,
		resolver:    resolver,
		limiter:     limiter,
		evaluators:  evaluators,
		dispatchers: dispatchers,
		logger:      logger,
		opts:        opts.withDefaults(),
		statuses:    make(map[string]*RuleStatus),
	}
}

// Start launches the worker pool and the cadence. Starting a running
// scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.tasks = make(chan *models.Rule, s.opts.Workers*2)
	s.stopCh = make(chan struct{})
	s.workerWG = &sync.WaitGroup{}
	s.taskWG = &sync.WaitGroup{}

	for i := 0; i < s.opts.Workers; i++ {
		s.workerWG.Add(1)
		go s.worker(s.tasks, s.stopCh, s.workerWG, s.taskWG)
	}

	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.opts.Cadence)
	if _, err := s.cron.AddFunc(spec, s.runCycle); err != nil {
		close(s.stopCh)
		s.workerWG.Wait()
		return errors.InternalError("failed to schedule evaluation cadence", err)
	}
	s.cron.Start()

	s.running = true
	s.logger.Info("scheduler started",
		logging.Duration("cadence", s.opts.Cadence),
		logging.Int("workers", s.opts.Workers))

	// Kick off a first cycle immediately rather than waiting a full
	// cadence after startup.
	go s.runCycle()
	return nil
}

// Stop halts the cadence and waits up to DrainGrace for in-flight
// evaluations. Evaluations still running after the grace are abandoned
// and their locks force-released. Stopping a stopped scheduler is a
// no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cronStop := s.cron.Stop()
	close(s.stopCh)
	tasks, workerWG, taskWG := s.tasks, s.workerWG, s.taskWG
	s.mu.Unlock()

	<-cronStop.Done()

	// Discard tasks that were queued but never picked up; workers are
	// already on their way out.
	for {
		select {
		case <-tasks:
			taskWG.Done()
			continue
		default:
		}
		break
	}

	drained := make(chan struct{})
	go func() {
		taskWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		workerWG.Wait()
		s.logger.Info("scheduler drained cleanly")
	case <-time.After(s.opts.DrainGrace):
		// The abandoned evaluations keep their own channels and wait
		// groups; once they finish they exit without touching whatever
		// pool a later Start builds.
		released := s.tracker.ForceUnlockAll()
		s.logger.Warn("drain grace expired, abandoning in-flight evaluations",
			logging.Int("locks_released", released))
	}

	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the cadence is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a snapshot of the engine state.
func (s *Scheduler) Status() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules := make(map[string]*RuleStatus, len(s.statuses))
	for id, status := range s.statuses {
		copied := *status
		rules[id] = &copied
	}

	return &Snapshot{
		Running:   s.running,
		Workers:   s.opts.Workers,
		Cadence:   s.opts.Cadence.String(),
		Rules:     rules,
		Providers: s.limiter.Snapshot(),
	}
}

// RunOnce evaluates a single rule immediately, outside the cadence.
// The per-rule lock still applies; a concurrent evaluation surfaces as
// a lock_contention error.
func (s *Scheduler) RunOnce(ctx context.Context, ruleID string) (*models.EvaluationResult, error) {
	rule, err := s.rules.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	result := s.evaluateRule(ctx, rule)
	if result.ErrorKind == string(errors.ErrTypeLockContention) {
		return nil, errors.LockContentionError(ruleID)
	}
	return result, nil
}

// runCycle is one tick: load enabled rules and hand each to the pool.
// A full queue skips the rule; the next tick retries it.
func (s *Scheduler) runCycle() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	tasks, stopCh, taskWG := s.tasks, s.stopCh, s.taskWG
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ProviderTimeout)
	rules, err := s.rules.ListEnabledRules(ctx)
	cancel()
	if err != nil {
		s.logger.Error("failed to load rules for cycle", err)
		return
	}

	for _, rule := range rules {
		select {
		case <-stopCh:
			return
		default:
		}

		taskWG.Add(1)
		select {
		case tasks <- rule:
		default:
			taskWG.Done()
			s.logger.Warn("worker queue full, deferring rule to next cycle",
				logging.String("rule_id", rule.ID))
		}
	}
}

func (s *Scheduler) worker(tasks <-chan *models.Rule, stopCh <-chan struct{}, workerWG, taskWG *sync.WaitGroup) {
	defer workerWG.Done()
	for {
		select {
		case <-stopCh:
			return
		case rule := <-tasks:
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.ProviderTimeout)
			s.evaluateRule(ctx, rule)
			cancel()
			taskWG.Done()
		}
	}
}
