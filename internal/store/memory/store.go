// Package memory provides the in-memory store backend. It is the default
// backend and the one the test suites run against.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"area-engine/internal/common/errors"
	"area-engine/internal/models"
	"area-engine/internal/store"
)

// Store is a thread-safe in-memory implementation of store.Store.
type Store struct {
	mu    sync.RWMutex
	rules map[string]*models.Rule
	creds map[string]*models.Credential // keyed userID/provider
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		rules: make(map[string]*models.Rule),
		creds: make(map[string]*models.Credential),
	}
}

func credKey(userID, provider string) string {
	return fmt.Sprintf("%s/%s", userID, provider)
}

// CreateRule inserts a new rule.
func (s *Store) CreateRule(ctx context.Context, rule *models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return errors.ValidationError(fmt.Sprintf("rule %s already exists", rule.ID))
	}

	now := time.Now()
	stored := cloneRule(rule)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.rules[rule.ID] = stored
	return nil
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, errors.NotFoundError(fmt.Sprintf("rule %s", id))
	}
	return cloneRule(rule), nil
}

// ListEnabledRules returns every enabled rule.
func (s *Store) ListEnabledRules(ctx context.Context) ([]*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]*models.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		if rule.Enabled {
			rules = append(rules, cloneRule(rule))
		}
	}
	return rules, nil
}

// UpdateWatermark sets last_triggered = max(current, ts).
func (s *Store) UpdateWatermark(ctx context.Context, id string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return errors.NotFoundError(fmt.Sprintf("rule %s", id))
	}

	if rule.LastTriggered == nil || ts.After(*rule.LastTriggered) {
		t := ts
		rule.LastTriggered = &t
		rule.UpdatedAt = time.Now()
	}
	return nil
}

// SetRuleEnabled flips a rule's enabled flag.
func (s *Store) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return errors.NotFoundError(fmt.Sprintf("rule %s", id))
	}

	rule.Enabled = enabled
	rule.UpdatedAt = time.Now()
	return nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return errors.NotFoundError(fmt.Sprintf("rule %s", id))
	}
	delete(s.rules, id)
	return nil
}

// GetCredential returns the active credential for (userID, provider).
func (s *Store) GetCredential(ctx context.Context, userID, provider string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, exists := s.creds[credKey(userID, provider)]
	if !exists {
		return nil, errors.NotFoundError(fmt.Sprintf("credential %s/%s", userID, provider))
	}
	copied := *cred
	return &copied, nil
}

// SaveCredential upserts the credential for its (userID, provider) pair.
func (s *Store) SaveCredential(ctx context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *cred
	copied.UpdatedAt = time.Now()
	s.creds[credKey(cred.UserID, cred.Provider)] = &copied
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error {
	return nil
}

// Health is always healthy for the in-memory backend.
func (s *Store) Health() error {
	return nil
}

func cloneRule(rule *models.Rule) *models.Rule {
	copied := *rule
	copied.ActionConfig = cloneMap(rule.ActionConfig)
	copied.ReactionConfig = cloneMap(rule.ReactionConfig)
	if rule.LastTriggered != nil {
		t := *rule.LastTriggered
		copied.LastTriggered = &t
	}
	return &copied
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ store.Store = (*Store)(nil)
