package reactions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/httpclient"
	"area-engine/internal/common/logging"
)

// TypeDiscordSendMessage posts a message to a channel via a bot token.
const TypeDiscordSendMessage = "discord:send_message"

type discordSendMessage struct {
	deps Deps
}

// NewDiscordSendMessage builds the discord:send_message dispatcher.
func NewDiscordSendMessage(deps Deps) Dispatcher {
	return &discordSendMessage{deps: deps.withDefaults()}
}

func (d *discordSendMessage) GetType() string {
	return TypeDiscordSendMessage
}

func (d *discordSendMessage) Dispatch(ctx context.Context, dispatch *Dispatch) error {
	channelID := strings.TrimSpace(dispatch.Rule.ReactionConfig["channel_id"])
	if channelID == "" {
		return errors.ConfigInvalidError("discord:send_message requires a channel_id")
	}
	content := dispatch.Rule.ReactionConfig["content"]
	if content == "" {
		return errors.ConfigInvalidError("discord:send_message requires a content template")
	}

	token := dispatch.Token
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}

	endpoint := fmt.Sprintf("%s/channels/%s/messages", d.deps.Discord, channelID)
	resp, err := d.deps.Client.PostJSON(ctx, endpoint, token, map[string]string{
		"content": expandTemplate(content, dispatch.Event),
	}, nil)
	if err != nil {
		return errors.ProviderUnavailableError("discord", err)
	}
	if err := classifyResponse(resp, "discord"); err != nil {
		return err
	}

	d.deps.Logger.Info("discord message dispatched",
		logging.String("rule_id", dispatch.Rule.ID),
		logging.String("channel_id", channelID))
	return nil
}

// expandTemplate substitutes {{key}} placeholders with event fields.
// Unknown placeholders are left intact so misconfigured templates stay
// visible in the delivered message.
func expandTemplate(template string, event map[string]string) string {
	if len(event) == 0 {
		return template
	}
	pairs := make([]string, 0, len(event)*2)
	for key, value := range event {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func classifyResponse(resp *httpclient.Response, provider string) error {
	if resp.RateLimited() {
		return errors.RateLimitedError(provider).WithRetryAfter(resp.RetryAfter(time.Minute))
	}
	if !resp.OK() {
		return errors.ProviderUnavailableError(provider,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}
