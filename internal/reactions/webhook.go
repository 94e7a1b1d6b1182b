package reactions

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/lucsky/cuid"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
)

// TypeWebhookPost delivers the firing event as JSON to a user-supplied
// URL. Each delivery carries a unique ID so receivers can deduplicate
// the occasional at-least-once replay.
const TypeWebhookPost = "webhook:post"

type webhookPost struct {
	deps Deps
}

// NewWebhookPost builds the webhook:post dispatcher.
func NewWebhookPost(deps Deps) Dispatcher {
	return &webhookPost{deps: deps.withDefaults()}
}

func (d *webhookPost) GetType() string {
	return TypeWebhookPost
}

type webhookPayload struct {
	DeliveryID  string            `json:"delivery_id"`
	RuleID      string            `json:"rule_id"`
	ActionType  string            `json:"action_type"`
	DeliveredAt time.Time         `json:"delivered_at"`
	Event       map[string]string `json:"event,omitempty"`
}

func (d *webhookPost) Dispatch(ctx context.Context, dispatch *Dispatch) error {
	rawURL := strings.TrimSpace(dispatch.Rule.ReactionConfig["url"])
	if rawURL == "" {
		return errors.ConfigInvalidError("webhook:post requires a url")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errors.ConfigInvalidError("webhook:post url must be http or https")
	}

	payload := webhookPayload{
		DeliveryID:  cuid.New(),
		RuleID:      dispatch.Rule.ID,
		ActionType:  dispatch.Rule.ActionType,
		DeliveredAt: time.Now().UTC(),
		Event:       dispatch.Event,
	}

	resp, err := d.deps.Client.PostJSON(ctx, rawURL, "", payload, nil)
	if err != nil {
		return errors.ProviderUnavailableError("webhook", err)
	}
	if err := classifyResponse(resp, "webhook"); err != nil {
		return err
	}

	d.deps.Logger.Info("webhook dispatched",
		logging.String("rule_id", dispatch.Rule.ID),
		logging.String("delivery_id", payload.DeliveryID))
	return nil
}
