// Package state tracks per-rule evaluation state: an in-process lock
// that keeps at most one evaluation of a rule in flight, and the
// last-triggered watermark backing idempotent firing.
package state

import (
	"context"
	"sync"
	"time"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/store"
)

// Tracker owns rule locks and watermarks. Watermark writes go through
// the store so they survive restarts; the in-memory copy is a cache
// seeded at startup and on rule load.
type Tracker struct {
	mu         sync.Mutex
	locked     map[string]uint64
	nextToken  uint64
	watermarks map[string]time.Time
	rules      store.RuleStore
	logger     logging.Logger
}

// NewTracker creates a tracker backed by the given rule store.
func NewTracker(rules store.RuleStore, logger logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Tracker{
		locked:     make(map[string]uint64),
		watermarks: make(map[string]time.Time),
		rules:      rules,
		logger:     logger,
	}
}

// TryLock attempts to take the evaluation lock for a rule. It never
// blocks; a held lock returns false and the caller skips the cycle.
// The returned token identifies this acquisition: Unlock requires it,
// so a holder abandoned at shutdown cannot release a lock someone else
// has since taken.
func (t *Tracker) TryLock(ruleID string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, held := t.locked[ruleID]; held {
		return 0, false
	}
	t.nextToken++
	t.locked[ruleID] = t.nextToken
	return t.nextToken, true
}

// Unlock releases the evaluation lock for a rule, but only for the
// acquisition the token belongs to. A stale token is a no-op.
func (t *Tracker) Unlock(ruleID string, token uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locked[ruleID] == token {
		delete(t.locked, ruleID)
	}
}

// IsLocked reports whether a rule's evaluation lock is held.
func (t *Tracker) IsLocked(ruleID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, held := t.locked[ruleID]
	return held
}

// Seed primes the in-memory watermark for a rule, typically from the
// rule row loaded at the start of a cycle. A nil ts clears nothing and
// an older ts never regresses the cached value.
func (t *Tracker) Seed(ruleID string, ts *time.Time) {
	if ts == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.watermarks[ruleID]; !ok || ts.After(current) {
		t.watermarks[ruleID] = *ts
	}
}

// Watermark returns the cached watermark for a rule. The second return
// is false when the rule has never triggered.
func (t *Tracker) Watermark(ruleID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.watermarks[ruleID]
	return ts, ok
}

// Commit advances a rule's watermark to max(current, occurredAt) and
// persists it. The cache is only updated after the store write
// succeeds, so a failed write is retried by a later cycle.
func (t *Tracker) Commit(ctx context.Context, ruleID string, occurredAt time.Time) error {
	if occurredAt.IsZero() {
		return errors.ValidationError("cannot commit a zero watermark")
	}

	if err := t.rules.UpdateWatermark(ctx, ruleID, occurredAt); err != nil {
		return err
	}

	t.mu.Lock()
	if current, ok := t.watermarks[ruleID]; !ok || occurredAt.After(current) {
		t.watermarks[ruleID] = occurredAt
	}
	t.mu.Unlock()

	t.logger.Debug("watermark committed",
		logging.String("rule_id", ruleID),
		logging.Time("occurred_at", occurredAt))
	return nil
}

// Forget drops a rule's cached state, used when a rule is deleted.
func (t *Tracker) Forget(ruleID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locked, ruleID)
	delete(t.watermarks, ruleID)
}

// ForceUnlockAll releases every held lock. Called during shutdown
// after the drain grace expires, when in-flight tasks are abandoned.
func (t *Tracker) ForceUnlockAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	released := len(t.locked)
	if released > 0 {
		t.logger.Warn("force-releasing rule locks", logging.Int("count", released))
	}
	t.locked = make(map[string]uint64)
	return released
}
