package actions

import (
	"area-engine/internal/common/httpclient"
	"area-engine/internal/common/logging"
)

// Deps bundles what every evaluator needs. BaseURLs override the
// provider API roots, mainly for tests.
type Deps struct {
	Client  *httpclient.Client
	Logger  logging.Logger
	GitHub  string
	Discord string
	Weather string
}

const (
	defaultGitHubBase  = "https://api.github.com"
	defaultDiscordBase = "https://discord.com/api/v10"
	defaultWeatherBase = "https://api.openweathermap.org/data/2.5"
)

func (d Deps) withDefaults() Deps {
	if d.Client == nil {
		d.Client = httpclient.New()
	}
	if d.Logger == nil {
		d.Logger = logging.GetGlobalLogger()
	}
	if d.GitHub == "" {
		d.GitHub = defaultGitHubBase
	}
	if d.Discord == "" {
		d.Discord = defaultDiscordBase
	}
	if d.Weather == "" {
		d.Weather = defaultWeatherBase
	}
	return d
}
