package actions

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"area-engine/internal/common/errors"
	"area-engine/internal/models"
)

// Weather action types. These are stateless threshold checks against
// current conditions: no watermark is involved, and a condition that
// stays true keeps firing on every cycle.
const (
	TypeWeatherTempAbove       = "weather:temp_above"
	TypeWeatherTempBelow       = "weather:temp_below"
	TypeWeatherConditionEquals = "weather:condition_equals"
)

type weatherObservation struct {
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
	Name string `json:"name"`
}

type weatherBase struct {
	deps Deps
}

// fetch queries current conditions for the configured city. The token
// is the user's API key, passed as a query parameter.
func (w *weatherBase) fetch(ctx context.Context, rule *models.Rule, token string) (*weatherObservation, error) {
	city := strings.TrimSpace(rule.ActionConfig["city"])
	if city == "" {
		return nil, errors.ConfigInvalidError("weather actions require a city")
	}

	endpoint := fmt.Sprintf("%s/weather?%s", w.deps.Weather, url.Values{
		"q":     {city},
		"appid": {token},
		"units": {"metric"},
	}.Encode())

	resp, err := w.deps.Client.Get(ctx, endpoint, "", nil)
	if err != nil {
		return nil, errors.ProviderUnavailableError("weather", err)
	}
	if err := classifyResponse(resp, "weather"); err != nil {
		return nil, err
	}

	var obs weatherObservation
	if err := resp.Decode(&obs); err != nil {
		return nil, errors.ProviderUnavailableError("weather", err)
	}
	return &obs, nil
}

func thresholdOf(rule *models.Rule) (float64, error) {
	raw, ok := rule.ActionConfig["threshold"]
	if !ok {
		// "temperature" is the key rule authors reach for first.
		raw, ok = rule.ActionConfig["temperature"]
	}
	if !ok {
		return 0, errors.ConfigInvalidError("temperature actions require a threshold")
	}
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.ConfigInvalidError(fmt.Sprintf("malformed threshold %q", raw))
	}
	return threshold, nil
}

func weatherEvent(obs *weatherObservation) map[string]string {
	event := map[string]string{
		"city":        obs.Name,
		"temperature": strconv.FormatFloat(obs.Main.Temp, 'f', 1, 64),
	}
	if len(obs.Weather) > 0 {
		event["condition"] = obs.Weather[0].Main
	}
	return event
}

func thresholdResult(fired bool, obs *weatherObservation) *Result {
	if !fired {
		return notFired(nil)
	}
	return &Result{Fired: true, Event: weatherEvent(obs)}
}

type weatherTempAbove struct {
	weatherBase
}

// NewWeatherTempAbove builds the weather:temp_above evaluator.
func NewWeatherTempAbove(deps Deps) Evaluator {
	return &weatherTempAbove{weatherBase{deps: deps.withDefaults()}}
}

func (e *weatherTempAbove) GetType() string {
	return TypeWeatherTempAbove
}

func (e *weatherTempAbove) Evaluate(ctx context.Context, rule *models.Rule, token string, watermark *time.Time) (*Result, error) {
	threshold, err := thresholdOf(rule)
	if err != nil {
		return nil, err
	}
	obs, err := e.fetch(ctx, rule, token)
	if err != nil {
		return nil, err
	}
	return thresholdResult(obs.Main.Temp > threshold, obs), nil
}

type weatherTempBelow struct {
	weatherBase
}

// NewWeatherTempBelow builds the weather:temp_below evaluator.
func NewWeatherTempBelow(deps Deps) Evaluator {
	return &weatherTempBelow{weatherBase{deps: deps.withDefaults()}}
}

func (e *weatherTempBelow) GetType() string {
	return TypeWeatherTempBelow
}

func (e *weatherTempBelow) Evaluate(ctx context.Context, rule *models.Rule, token string, watermark *time.Time) (*Result, error) {
	threshold, err := thresholdOf(rule)
	if err != nil {
		return nil, err
	}
	obs, err := e.fetch(ctx, rule, token)
	if err != nil {
		return nil, err
	}
	return thresholdResult(obs.Main.Temp < threshold, obs), nil
}

type weatherConditionEquals struct {
	weatherBase
}

// NewWeatherConditionEquals builds the weather:condition_equals
// evaluator, matching the condition name case-insensitively.
func NewWeatherConditionEquals(deps Deps) Evaluator {
	return &weatherConditionEquals{weatherBase{deps: deps.withDefaults()}}
}

func (e *weatherConditionEquals) GetType() string {
	return TypeWeatherConditionEquals
}

func (e *weatherConditionEquals) Evaluate(ctx context.Context, rule *models.Rule, token string, watermark *time.Time) (*Result, error) {
	want := strings.TrimSpace(rule.ActionConfig["condition"])
	if want == "" {
		return nil, errors.ConfigInvalidError("weather:condition_equals requires a condition")
	}
	obs, err := e.fetch(ctx, rule, token)
	if err != nil {
		return nil, err
	}

	fired := false
	for _, w := range obs.Weather {
		if strings.EqualFold(w.Main, want) {
			fired = true
			break
		}
	}
	return thresholdResult(fired, obs), nil
}
