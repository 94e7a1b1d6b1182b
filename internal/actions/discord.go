package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"area-engine/internal/common/errors"
	"area-engine/internal/models"
)

// Discord action types. Both poll with a bot token, which Discord
// expects under the "Bot" authorization scheme.
const (
	TypeDiscordMessageReceived = "discord:message_received"
	TypeDiscordUserJoined      = "discord:user_joined"
)

func botToken(token string) string {
	if strings.HasPrefix(token, "Bot ") {
		return token
	}
	return "Bot " + token
}

type discordMessageReceived struct {
	deps Deps
}

// NewDiscordMessageReceived builds the discord:message_received
// evaluator, firing on a new message in the configured channel.
func NewDiscordMessageReceived(deps Deps) Evaluator {
	return &discordMessageReceived{deps: deps.withDefaults()}
}

func (e *discordMessageReceived) GetType() string {
	return TypeDiscordMessageReceived
}

type discordMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"author"`
}

func (e *discordMessageReceived) Evaluate(ctx context.Context, rule *models.Rule, token string, watermark *time.Time) (*Result, error) {
	channelID := strings.TrimSpace(rule.ActionConfig["channel_id"])
	if channelID == "" {
		return nil, errors.ConfigInvalidError("discord:message_received requires a channel_id")
	}

	endpoint := fmt.Sprintf("%s/channels/%s/messages?limit=1", e.deps.Discord, channelID)
	resp, err := e.deps.Client.Get(ctx, endpoint, botToken(token), nil)
	if err != nil {
		return nil, errors.ProviderUnavailableError("discord", err)
	}
	if err := classifyResponse(resp, "discord"); err != nil {
		return nil, err
	}

	var messages []discordMessage
	if err := resp.Decode(&messages); err != nil {
		return nil, errors.ProviderUnavailableError("discord", err)
	}
	if len(messages) == 0 {
		return notFired(nil), nil
	}

	msg := messages[0]
	return firedAfterWatermark(msg.Timestamp, watermark, map[string]string{
		"message_id":      msg.ID,
		"message_content": msg.Content,
		"author_id":       msg.Author.ID,
		"author_username": msg.Author.Username,
	}), nil
}

type discordUserJoined struct {
	deps Deps
}

// NewDiscordUserJoined builds the discord:user_joined evaluator,
// firing when a member joins the configured guild.
func NewDiscordUserJoined(deps Deps) Evaluator {
	return &discordUserJoined{deps: deps.withDefaults()}
}

func (e *discordUserJoined) GetType() string {
	return TypeDiscordUserJoined
}

type discordMember struct {
	JoinedAt time.Time `json:"joined_at"`
	User     struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

// Discord pages guild members by user id, 1000 per request. The page
// cap bounds one evaluation at 10k members; larger guilds catch up
// over subsequent cycles since the watermark only advances on a fire.
const (
	memberPageLimit = 1000
	memberPageCap   = 10
)

func (e *discordUserJoined) Evaluate(ctx context.Context, rule *models.Rule, token string, watermark *time.Time) (*Result, error) {
	guildID := strings.TrimSpace(rule.ActionConfig["guild_id"])
	if guildID == "" {
		return nil, errors.ConfigInvalidError("discord:user_joined requires a guild_id")
	}

	// The members list is sorted by user id, not join time, so walk
	// every page with the after cursor and scan for the most recent
	// joiner.
	var latest *discordMember
	after := ""
	for page := 0; page < memberPageCap; page++ {
		endpoint := fmt.Sprintf("%s/guilds/%s/members?limit=%d", e.deps.Discord, guildID, memberPageLimit)
		if after != "" {
			endpoint += "&after=" + after
		}
		resp, err := e.deps.Client.Get(ctx, endpoint, botToken(token), nil)
		if err != nil {
			return nil, errors.ProviderUnavailableError("discord", err)
		}
		if err := classifyResponse(resp, "discord"); err != nil {
			return nil, err
		}

		var members []discordMember
		if err := resp.Decode(&members); err != nil {
			return nil, errors.ProviderUnavailableError("discord", err)
		}
		if len(members) == 0 {
			break
		}

		for i := range members {
			if latest == nil || members[i].JoinedAt.After(latest.JoinedAt) {
				latest = &members[i]
			}
		}

		if len(members) < memberPageLimit {
			break
		}
		after = members[len(members)-1].User.ID
	}
	if latest == nil {
		return notFired(nil), nil
	}

	return firedAfterWatermark(latest.JoinedAt, watermark, map[string]string{
		"member_id":       latest.User.ID,
		"member_username": latest.User.Username,
	}), nil
}
