package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"area-engine/internal/common/errors"
	"area-engine/internal/models"
)

func testRule(id string) *models.Rule {
	return &models.Rule{
		ID:           id,
		UserID:       "u1",
		ActionType:   "github:pull_request_opened",
		ActionConfig: map[string]string{"repository": "octo/repo"},
		ReactionType: "discord:send_message",
		ReactionConfig: map[string]string{
			"channel_id": "c1",
			"message":    "new PR",
		},
		Enabled: true,
	}
}

func TestStore_RuleLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateRule(ctx, testRule("r1")))

	t.Run("duplicate create fails", func(t *testing.T) {
		err := s.CreateRule(ctx, testRule("r1"))
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("get returns a copy", func(t *testing.T) {
		rule, err := s.GetRule(ctx, "r1")
		require.NoError(t, err)

		rule.ActionConfig["repository"] = "mutated"

		again, err := s.GetRule(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "octo/repo", again.ActionConfig["repository"])
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteRule(ctx, "r1"))
		_, err := s.GetRule(ctx, "r1")
		assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	})
}

func TestStore_ListEnabledRules(t *testing.T) {
	s := New()
	ctx := context.Background()

	enabled := testRule("r1")
	disabled := testRule("r2")
	disabled.Enabled = false

	require.NoError(t, s.CreateRule(ctx, enabled))
	require.NoError(t, s.CreateRule(ctx, disabled))

	rules, err := s.ListEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "r1", rules[0].ID)
}

func TestStore_UpdateWatermark_Monotonic(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateRule(ctx, testRule("r1")))

	later := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpdateWatermark(ctx, "r1", later))

	// An earlier timestamp must not move the watermark back
	require.NoError(t, s.UpdateWatermark(ctx, "r1", earlier))

	rule, err := s.GetRule(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, rule.LastTriggered)
	assert.True(t, rule.LastTriggered.Equal(later))
}

func TestStore_UpdateWatermark_UnknownRule(t *testing.T) {
	s := New()
	err := s.UpdateWatermark(context.Background(), "missing", time.Now())
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestStore_SetRuleEnabled(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateRule(ctx, testRule("r1")))

	require.NoError(t, s.SetRuleEnabled(ctx, "r1", false))

	rules, err := s.ListEnabledRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestStore_Credentials(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetCredential(ctx, "u1", "github")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	expiry := time.Now().Add(time.Hour)
	require.NoError(t, s.SaveCredential(ctx, &models.Credential{
		UserID:      "u1",
		Provider:    "github",
		AccessToken: "tok1",
		ExpiresAt:   &expiry,
	}))

	cred, err := s.GetCredential(ctx, "u1", "github")
	require.NoError(t, err)
	assert.Equal(t, "tok1", cred.AccessToken)

	// Upsert replaces, never duplicates
	require.NoError(t, s.SaveCredential(ctx, &models.Credential{
		UserID:      "u1",
		Provider:    "github",
		AccessToken: "tok2",
	}))

	cred, err = s.GetCredential(ctx, "u1", "github")
	require.NoError(t, err)
	assert.Equal(t, "tok2", cred.AccessToken)
	assert.Nil(t, cred.ExpiresAt)
}
