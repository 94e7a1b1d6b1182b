package reactions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/models"
)

func discordRule(config map[string]string) *models.Rule {
	return &models.Rule{
		ID:             "rule-1",
		UserID:         "user-1",
		ActionType:     "github:pr_opened",
		ReactionType:   TypeDiscordSendMessage,
		ReactionConfig: config,
	}
}

func TestDiscordSendMessage(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/channels/123/messages", req.URL.Path)
		assert.Equal(t, "Bot dc-token", req.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDiscordSendMessage(Deps{Discord: server.URL, Logger: logging.NewDefaultLogger()})
	err := d.Dispatch(context.Background(), &Dispatch{
		Rule:  discordRule(map[string]string{"channel_id": "123", "content": "PR {{pr_title}} by {{pr_author}}"}),
		Token: "dc-token",
		Event: map[string]string{"pr_title": "Add feature", "pr_author": "octocat"},
	})
	require.NoError(t, err)
	assert.Equal(t, "PR Add feature by octocat", got["content"])
}

func TestDiscordSendMessageUnknownPlaceholderKept(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
	}))
	defer server.Close()

	d := NewDiscordSendMessage(Deps{Discord: server.URL, Logger: logging.NewDefaultLogger()})
	err := d.Dispatch(context.Background(), &Dispatch{
		Rule:  discordRule(map[string]string{"channel_id": "123", "content": "hello {{missing}}"}),
		Token: "dc-token",
		Event: map[string]string{"pr_title": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello {{missing}}", got["content"])
}

func TestDiscordSendMessageMissingConfig(t *testing.T) {
	d := NewDiscordSendMessage(Deps{Discord: "http://unused", Logger: logging.NewDefaultLogger()})

	err := d.Dispatch(context.Background(), &Dispatch{
		Rule: discordRule(map[string]string{"content": "hi"}),
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfigInvalid))

	err = d.Dispatch(context.Background(), &Dispatch{
		Rule: discordRule(map[string]string{"channel_id": "123"}),
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfigInvalid))
}

func TestDiscordSendMessageRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Retry-After", "45")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	d := NewDiscordSendMessage(Deps{Discord: server.URL, Logger: logging.NewDefaultLogger()})
	err := d.Dispatch(context.Background(), &Dispatch{
		Rule:  discordRule(map[string]string{"channel_id": "123", "content": "hi"}),
		Token: "dc-token",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimited))
}

func TestWebhookPost(t *testing.T) {
	var payload webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := NewWebhookPost(Deps{Logger: logging.NewDefaultLogger()})
	err := d.Dispatch(context.Background(), &Dispatch{
		Rule: &models.Rule{
			ID:             "rule-1",
			ActionType:     "github:pr_opened",
			ReactionType:   TypeWebhookPost,
			ReactionConfig: map[string]string{"url": server.URL},
		},
		Event: map[string]string{"pr_title": "Add feature"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, payload.DeliveryID)
	assert.Equal(t, "rule-1", payload.RuleID)
	assert.Equal(t, "github:pr_opened", payload.ActionType)
	assert.Equal(t, "Add feature", payload.Event["pr_title"])
	assert.False(t, payload.DeliveredAt.IsZero())
}

func TestWebhookPostInvalidURL(t *testing.T) {
	d := NewWebhookPost(Deps{Logger: logging.NewDefaultLogger()})

	for _, rawURL := range []string{"", "ftp://example.com", "not a url at all\x00"} {
		err := d.Dispatch(context.Background(), &Dispatch{
			Rule: &models.Rule{
				ID:             "rule-1",
				ReactionType:   TypeWebhookPost,
				ReactionConfig: map[string]string{"url": rawURL},
			},
		})
		assert.True(t, errors.IsType(err, errors.ErrTypeConfigInvalid), rawURL)
	}
}

func TestWebhookPostReceiverDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	d := NewWebhookPost(Deps{Logger: logging.NewDefaultLogger()})
	err := d.Dispatch(context.Background(), &Dispatch{
		Rule: &models.Rule{
			ID:             "rule-1",
			ReactionType:   TypeWebhookPost,
			ReactionConfig: map[string]string{"url": server.URL},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeProviderUnavailable))
}

func TestReactionRegistry(t *testing.T) {
	r := NewRegistry(Deps{Logger: logging.NewDefaultLogger()})

	for _, typeID := range []string{TypeDiscordSendMessage, TypeWebhookPost} {
		d, err := r.Get(typeID)
		require.NoError(t, err)
		assert.Equal(t, typeID, d.GetType())
	}

	_, err := r.Get("discord:unknown")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}
