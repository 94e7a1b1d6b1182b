package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"area-engine/internal/common/errors"
	"area-engine/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "area.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRule(id string) *models.Rule {
	return &models.Rule{
		ID:             id,
		UserID:         "user-1",
		ActionType:     "github:pr_opened",
		ActionConfig:   map[string]string{"repository": "octo/hello"},
		ReactionType:   "discord:send_message",
		ReactionConfig: map[string]string{"channel_id": "123", "content": "new PR"},
		Enabled:        true,
	}
}

func TestRuleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRule(ctx, testRule("rule-1")))

	got, err := s.GetRule(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "github:pr_opened", got.ActionType)
	assert.Equal(t, "octo/hello", got.ActionConfig["repository"])
	assert.Equal(t, "discord:send_message", got.ReactionType)
	assert.Nil(t, got.LastTriggered)
	assert.True(t, got.Enabled)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetRuleNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRule(context.Background(), "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestListEnabledRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	enabled := testRule("rule-on")
	disabled := testRule("rule-off")
	disabled.Enabled = false

	require.NoError(t, s.CreateRule(ctx, enabled))
	require.NoError(t, s.CreateRule(ctx, disabled))

	rules, err := s.ListEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "rule-on", rules[0].ID)
}

func TestUpdateWatermarkMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRule(ctx, testRule("rule-1")))

	later := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	require.NoError(t, s.UpdateWatermark(ctx, "rule-1", later))
	require.NoError(t, s.UpdateWatermark(ctx, "rule-1", earlier))

	got, err := s.GetRule(ctx, "rule-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastTriggered)
	assert.True(t, got.LastTriggered.Equal(later), "watermark must not move backwards")
}

func TestUpdateWatermarkAdvances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRule(ctx, testRule("rule-1")))

	first := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	second := first.Add(30 * time.Minute)

	require.NoError(t, s.UpdateWatermark(ctx, "rule-1", first))
	require.NoError(t, s.UpdateWatermark(ctx, "rule-1", second))

	got, err := s.GetRule(ctx, "rule-1")
	require.NoError(t, err)
	assert.True(t, got.LastTriggered.Equal(second))
}

func TestUpdateWatermarkSubSecondAdvance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRule(ctx, testRule("rule-1")))

	whole := time.Date(2026, 3, 10, 12, 0, 5, 0, time.UTC)
	halfLater := whole.Add(500 * time.Millisecond)

	require.NoError(t, s.UpdateWatermark(ctx, "rule-1", whole))
	require.NoError(t, s.UpdateWatermark(ctx, "rule-1", halfLater))

	got, err := s.GetRule(ctx, "rule-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastTriggered)
	assert.True(t, got.LastTriggered.Equal(halfLater),
		"a sub-second-later event in the same second must advance the watermark")

	// And the reverse order still never regresses.
	require.NoError(t, s.UpdateWatermark(ctx, "rule-1", whole))
	got, err = s.GetRule(ctx, "rule-1")
	require.NoError(t, err)
	assert.True(t, got.LastTriggered.Equal(halfLater))
}

func TestUpdateWatermarkUnknownRule(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateWatermark(context.Background(), "missing", time.Now())
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestSetRuleEnabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRule(ctx, testRule("rule-1")))
	require.NoError(t, s.SetRuleEnabled(ctx, "rule-1", false))

	got, err := s.GetRule(ctx, "rule-1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	rules, err := s.ListEnabledRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestDeleteRule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRule(ctx, testRule("rule-1")))
	require.NoError(t, s.DeleteRule(ctx, "rule-1"))

	_, err := s.GetRule(ctx, "rule-1")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	err = s.DeleteRule(ctx, "rule-1")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestCredentialUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetCredential(ctx, "user-1", "github")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, s.SaveCredential(ctx, &models.Credential{
		UserID:       "user-1",
		Provider:     "github",
		AccessToken:  "tok-1",
		RefreshToken: "ref-1",
		ExpiresAt:    &expires,
	}))

	got, err := s.GetCredential(ctx, "user-1", "github")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.AccessToken)
	assert.Equal(t, "ref-1", got.RefreshToken)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expires))

	require.NoError(t, s.SaveCredential(ctx, &models.Credential{
		UserID:      "user-1",
		Provider:    "github",
		AccessToken: "tok-2",
	}))

	got, err = s.GetCredential(ctx, "user-1", "github")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got.AccessToken)
	assert.Empty(t, got.RefreshToken)
	assert.Nil(t, got.ExpiresAt)
}

func TestHealth(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Health())
}
