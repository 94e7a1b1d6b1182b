// Package reactions holds the reaction dispatchers: one per
// "provider:variant" reaction type. A dispatcher performs the rule's
// effect after the watermark for the firing event has been committed.
package reactions

import (
	"context"

	"area-engine/internal/common/httpclient"
	"area-engine/internal/common/logging"
	"area-engine/internal/common/registry"
	"area-engine/internal/models"
)

// Dispatch carries everything a dispatcher needs for one delivery.
// Event holds the condition-specific fields the evaluator extracted.
type Dispatch struct {
	Rule  *models.Rule
	Token string
	Event map[string]string
}

// Dispatcher performs one reaction effect. A missing or malformed
// reaction config is a config_invalid error; a failed or non-2xx
// provider call is provider_unavailable; a 429 is rate_limited.
type Dispatcher interface {
	registry.Factory

	Dispatch(ctx context.Context, d *Dispatch) error
}

// Registry holds the registered dispatcher variants.
type Registry = registry.Registry[Dispatcher]

// Deps bundles what every dispatcher needs. Discord overrides the API
// root, mainly for tests.
type Deps struct {
	Client  *httpclient.Client
	Logger  logging.Logger
	Discord string
}

const defaultDiscordBase = "https://discord.com/api/v10"

func (d Deps) withDefaults() Deps {
	if d.Client == nil {
		d.Client = httpclient.New()
	}
	if d.Logger == nil {
		d.Logger = logging.GetGlobalLogger()
	}
	if d.Discord == "" {
		d.Discord = defaultDiscordBase
	}
	return d
}

// NewRegistry returns a registry pre-populated with every built-in
// dispatcher.
func NewRegistry(deps Deps) *Registry {
	r := registry.New[Dispatcher]()
	for _, d := range []Dispatcher{
		NewDiscordSendMessage(deps),
		NewWebhookPost(deps),
	} {
		r.Register(d.GetType(), d)
	}
	return r
}
