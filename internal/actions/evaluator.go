// Package actions holds the action evaluators: one per "provider:variant"
// action type. An evaluator polls its provider and decides whether the
// rule's condition occurred strictly after the rule's watermark.
package actions

import (
	"context"
	"time"

	"area-engine/internal/common/registry"
	"area-engine/internal/models"
)

// Result is what an evaluator reports for one poll. When the provider
// returned an event, OccurredAt carries its timestamp even if the rule
// did not fire, so the first observation can establish the watermark
// baseline without firing.
type Result struct {
	Fired bool
	// OccurredAt is the event time backing the decision. Nil when the
	// provider had nothing to report (e.g. an empty repository) or the
	// condition is stateless (weather thresholds).
	OccurredAt *time.Time
	// Event carries condition-specific fields handed to the reaction,
	// e.g. the PR title or message author.
	Event map[string]string
}

// Evaluator checks one action condition against its provider.
//
// Contract: a missing or malformed rule config is a config_invalid
// error; an unreachable provider or non-2xx response is
// provider_unavailable; a 429 is rate_limited. An empty provider
// response is a successful not-fired result, never an error.
type Evaluator interface {
	registry.Factory

	// Evaluate polls the provider. watermark is nil when the rule has
	// never observed an event.
	Evaluate(ctx context.Context, rule *models.Rule, token string, watermark *time.Time) (*Result, error)
}

// Registry holds the registered evaluator variants.
type Registry = registry.Registry[Evaluator]

// NewRegistry returns a registry pre-populated with every built-in
// evaluator.
func NewRegistry(deps Deps) *Registry {
	r := registry.New[Evaluator]()
	for _, e := range []Evaluator{
		NewGitHubPROpened(deps),
		NewDiscordMessageReceived(deps),
		NewDiscordUserJoined(deps),
		NewWeatherTempAbove(deps),
		NewWeatherTempBelow(deps),
		NewWeatherConditionEquals(deps),
	} {
		r.Register(e.GetType(), e)
	}
	return r
}

// notFired reports an observation without firing.
func notFired(occurredAt *time.Time) *Result {
	return &Result{Fired: false, OccurredAt: occurredAt}
}

// firedAfterWatermark applies the watermark policy shared by every
// event-backed evaluator: fire only when the event is strictly newer
// than the watermark, and never fire on the first observation.
func firedAfterWatermark(occurredAt time.Time, watermark *time.Time, event map[string]string) *Result {
	if watermark == nil || !occurredAt.After(*watermark) {
		return notFired(&occurredAt)
	}
	return &Result{Fired: true, OccurredAt: &occurredAt, Event: event}
}
