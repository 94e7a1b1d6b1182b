// Package models holds the domain types shared between the stores, the
// evaluation engine and the admin surface.
package models

import (
	"strings"
	"time"
)

// Rule binds one action condition to one reaction effect for a user.
// Action and reaction types are namespaced "provider:variant", e.g.
// "github:pr_opened" or "discord:send_message".
type Rule struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	ActionType     string            `json:"action_type"`
	ActionConfig   map[string]string `json:"action_config"`
	ReactionType   string            `json:"reaction_type"`
	ReactionConfig map[string]string `json:"reaction_config"`
	// LastTriggered is the watermark: the most recent external event time
	// already accounted for. Nil means no baseline has been observed yet.
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	Enabled       bool       `json:"enabled"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ProviderOf extracts the provider name from a namespaced type identifier.
func ProviderOf(typeID string) string {
	if i := strings.IndexByte(typeID, ':'); i > 0 {
		return typeID[:i]
	}
	return typeID
}

// ActionProvider returns the provider half of the action type.
func (r *Rule) ActionProvider() string {
	return ProviderOf(r.ActionType)
}

// ReactionProvider returns the provider half of the reaction type.
func (r *Rule) ReactionProvider() string {
	return ProviderOf(r.ReactionType)
}

// Credential is a user's access credential for one provider. One active
// credential per (user, provider) pair; saves are upserts.
type Credential struct {
	UserID       string     `json:"user_id"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsExpired reports whether the credential is expired or will expire within
// the given safety margin. Credentials without an expiry never expire.
func (c *Credential) IsExpired(margin time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(c.ExpiresAt.Add(-margin))
}

// EvaluationResult is the transient outcome of one rule evaluation within a
// scheduler tick. It is never persisted.
type EvaluationResult struct {
	RuleID     string     `json:"rule_id"`
	Fired      bool       `json:"fired"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
}
