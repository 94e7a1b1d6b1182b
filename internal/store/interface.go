// Package store defines the persistence boundary consumed by the engine:
// rule listing and watermark updates, rule disabling, and credential
// lookup/upsert. Backends register their factories at init time.
package store

import (
	"context"
	"time"

	"area-engine/internal/models"
)

// RuleStore is the rule-side collaborator boundary.
type RuleStore interface {
	// CreateRule inserts a new rule
	CreateRule(ctx context.Context, rule *models.Rule) error

	// GetRule retrieves a rule by ID
	GetRule(ctx context.Context, id string) (*models.Rule, error)

	// ListEnabledRules returns every rule with enabled = true
	ListEnabledRules(ctx context.Context) ([]*models.Rule, error)

	// UpdateWatermark sets last_triggered = max(current, ts) for the rule.
	// The stored watermark never decreases.
	UpdateWatermark(ctx context.Context, id string, ts time.Time) error

	// SetRuleEnabled flips a rule's enabled flag
	SetRuleEnabled(ctx context.Context, id string, enabled bool) error

	// DeleteRule removes a rule
	DeleteRule(ctx context.Context, id string) error
}

// CredentialStore is the credential-side collaborator boundary.
type CredentialStore interface {
	// GetCredential returns the active credential for (userID, provider),
	// or a not_found error when absent
	GetCredential(ctx context.Context, userID, provider string) (*models.Credential, error)

	// SaveCredential upserts the credential for its (userID, provider) pair
	SaveCredential(ctx context.Context, cred *models.Credential) error
}

// Store combines both boundaries plus lifecycle management.
type Store interface {
	RuleStore
	CredentialStore

	Close() error
	Health() error
}
