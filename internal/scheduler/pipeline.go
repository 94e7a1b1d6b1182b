package scheduler

import (
	"context"
	"time"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/models"
	"area-engine/internal/reactions"
)

// evaluateRule runs the full pipeline for one rule: lock, admit,
// resolve credential, evaluate, commit the watermark, dispatch. The
// watermark for a firing event is committed before dispatch, so a
// crash between the two drops at most one reaction and never repeats
// one.
func (s *Scheduler) evaluateRule(ctx context.Context, rule *models.Rule) *models.EvaluationResult {
	result := &models.EvaluationResult{RuleID: rule.ID}

	token, ok := s.tracker.TryLock(rule.ID)
	if !ok {
		// Another evaluation is in flight; this cycle skips silently.
		s.logger.Debug("rule evaluation already in flight", logging.String("rule_id", rule.ID))
		result.ErrorKind = string(errors.ErrTypeLockContention)
		s.recordSkip(rule.ID, OutcomeLockContention)
		return result
	}
	defer s.tracker.Unlock(rule.ID, token)

	s.tracker.Seed(rule.ID, rule.LastTriggered)

	outcome := s.evaluateLocked(ctx, rule, result)
	s.recordOutcome(rule.ID, outcome, result)
	return result
}

func (s *Scheduler) evaluateLocked(ctx context.Context, rule *models.Rule, result *models.EvaluationResult) string {
	actionProvider := rule.ActionProvider()

	if decision := s.limiter.Admit(actionProvider); !decision.Allowed {
		result.ErrorKind = string(errors.ErrTypeRateLimited)
		return OutcomeRateLimited
	}

	cred, err := s.resolver.Resolve(ctx, rule.UserID, actionProvider)
	if err != nil {
		return s.classifyFailure(ctx, rule, result, err)
	}

	evaluator, err := s.evaluators.Get(rule.ActionType)
	if err != nil {
		// An unknown action type can never evaluate; treat it like a
		// broken config.
		return s.classifyFailure(ctx, rule, result,
			errors.ConfigInvalidError("unknown action type "+rule.ActionType))
	}

	var watermark *time.Time
	if ts, ok := s.tracker.Watermark(rule.ID); ok {
		watermark = &ts
	}

	evaluation, err := evaluator.Evaluate(ctx, rule, cred.AccessToken, watermark)
	if err != nil {
		return s.classifyFailure(ctx, rule, result, err)
	}

	result.OccurredAt = evaluation.OccurredAt

	if !evaluation.Fired {
		// First observation of an event-backed condition: persist the
		// baseline so the next cycle has a watermark to compare against.
		if evaluation.OccurredAt != nil {
			if err := s.tracker.Commit(ctx, rule.ID, *evaluation.OccurredAt); err != nil {
				s.logger.Error("failed to commit baseline watermark", err,
					logging.String("rule_id", rule.ID))
				result.ErrorKind = string(errors.GetType(err))
				return OutcomeInternalError
			}
		}
		return OutcomeNotFired
	}

	dispatcher, err := s.dispatchers.Get(rule.ReactionType)
	if err != nil {
		return s.classifyFailure(ctx, rule, result,
			errors.ConfigInvalidError("unknown reaction type "+rule.ReactionType))
	}

	// The reaction gate is checked before the commit: a denied dispatch
	// leaves the watermark unchanged so the event re-fires next cycle
	// instead of being dropped.
	if decision := s.limiter.Admit(rule.ReactionProvider()); !decision.Allowed {
		result.ErrorKind = string(errors.ErrTypeRateLimited)
		return OutcomeRateLimited
	}

	// Commit before dispatch: a replayed event must never dispatch twice.
	if evaluation.OccurredAt != nil {
		if err := s.tracker.Commit(ctx, rule.ID, *evaluation.OccurredAt); err != nil {
			s.logger.Error("failed to commit watermark, suppressing dispatch", err,
				logging.String("rule_id", rule.ID))
			result.ErrorKind = string(errors.GetType(err))
			return OutcomeInternalError
		}
	}

	result.Fired = true

	if err := s.dispatch(ctx, rule, dispatcher, evaluation.Event); err != nil {
		switch kind := s.classifyFailure(ctx, rule, result, err); kind {
		case OutcomeConfigInvalid, OutcomeNoCredential, OutcomeRefreshFailed, OutcomeRateLimited:
			return kind
		}
		s.logger.Warn("reaction dispatch failed",
			logging.String("rule_id", rule.ID),
			logging.String("reaction_type", rule.ReactionType),
			logging.Err(err))
		return OutcomeDispatchFailed
	}

	s.logger.Info("rule fired",
		logging.String("rule_id", rule.ID),
		logging.String("action_type", rule.ActionType),
		logging.String("reaction_type", rule.ReactionType))
	return OutcomeFired
}

// dispatch performs the reaction effect. The dispatcher lookup and the
// provider gate already passed before the watermark commit.
func (s *Scheduler) dispatch(ctx context.Context, rule *models.Rule, dispatcher reactions.Dispatcher, event map[string]string) error {
	provider := rule.ReactionProvider()

	// Webhook deliveries go to a user-supplied URL and carry no
	// provider credential.
	token := ""
	if provider != "webhook" {
		cred, err := s.resolver.Resolve(ctx, rule.UserID, provider)
		if err != nil {
			return err
		}
		token = cred.AccessToken
	}

	return dispatcher.Dispatch(ctx, &reactions.Dispatch{
		Rule:  rule,
		Token: token,
		Event: event,
	})
}

// classifyFailure maps an evaluation or dispatch error onto an outcome
// and applies its side effects: backoff windows for rate limits, rule
// disablement for broken configs and persistent refresh failures.
func (s *Scheduler) classifyFailure(ctx context.Context, rule *models.Rule, result *models.EvaluationResult, err error) string {
	errType := errors.GetType(err)
	result.ErrorKind = string(errType)

	switch errType {
	case errors.ErrTypeRateLimited:
		if retryAfter, ok := errors.RetryAfterOf(err); ok {
			s.limiter.SetBackoff(errors.ProviderOf(err, rule.ActionProvider()), retryAfter)
		}
		return OutcomeRateLimited

	case errors.ErrTypeConfigInvalid:
		// Terminal: the rule cannot succeed until its config changes.
		s.disableRule(ctx, rule, err)
		return OutcomeConfigInvalid

	case errors.ErrTypeNoCredential:
		s.logger.Warn("rule has no usable credential",
			logging.String("rule_id", rule.ID),
			logging.Err(err))
		return OutcomeNoCredential

	case errors.ErrTypeRefreshFailed:
		failures := s.bumpRefreshFailures(rule.ID)
		s.logger.Warn("credential refresh failed",
			logging.String("rule_id", rule.ID),
			logging.Int("consecutive_failures", failures),
			logging.Err(err))
		if failures >= s.opts.RefreshFailureLimit {
			s.disableRule(ctx, rule, err)
		}
		return OutcomeRefreshFailed

	case errors.ErrTypeProviderUnavailable, errors.ErrTypeConnection, errors.ErrTypeTimeout:
		s.logger.Warn("provider unavailable",
			logging.String("rule_id", rule.ID),
			logging.Err(err))
		return OutcomeProviderUnavailable

	default:
		s.logger.Error("rule evaluation failed", err, logging.String("rule_id", rule.ID))
		return OutcomeInternalError
	}
}

func (s *Scheduler) disableRule(ctx context.Context, rule *models.Rule, cause error) {
	if err := s.rules.SetRuleEnabled(ctx, rule.ID, false); err != nil {
		s.logger.Error("failed to disable rule", err, logging.String("rule_id", rule.ID))
		return
	}
	s.logger.Warn("rule disabled",
		logging.String("rule_id", rule.ID),
		logging.Err(cause))

	s.mu.Lock()
	s.status(rule.ID).Disabled = true
	s.mu.Unlock()
}

// status returns the status entry for a rule. Caller holds s.mu.
func (s *Scheduler) status(ruleID string) *RuleStatus {
	entry, ok := s.statuses[ruleID]
	if !ok {
		entry = &RuleStatus{RuleID: ruleID}
		s.statuses[ruleID] = entry
	}
	return entry
}

func (s *Scheduler) bumpRefreshFailures(ruleID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.status(ruleID)
	entry.RefreshFailures++
	return entry.RefreshFailures
}

// recordSkip updates the status entry without touching the refresh
// failure counter.
func (s *Scheduler) recordSkip(ruleID, outcome string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.status(ruleID)
	entry.LastOutcome = outcome
	entry.LastEvaluatedAt = &now
}

func (s *Scheduler) recordOutcome(ruleID, outcome string, result *models.EvaluationResult) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.status(ruleID)
	entry.LastOutcome = outcome
	entry.LastError = result.ErrorKind
	entry.LastEvaluatedAt = &now
	if result.Fired {
		entry.LastFiredAt = &now
	}
	// A completed evaluation with a live credential clears the strike
	// counter.
	if outcome == OutcomeFired || outcome == OutcomeNotFired || outcome == OutcomeDispatchFailed {
		entry.RefreshFailures = 0
	}
}
