package actions

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/models"
)

func githubRule() *models.Rule {
	return &models.Rule{
		ID:           "rule-1",
		UserID:       "user-1",
		ActionType:   TypeGitHubPROpened,
		ActionConfig: map[string]string{"repository": "octo/hello"},
		Enabled:      true,
	}
}

func newGitHubEvaluator(baseURL string) Evaluator {
	return NewGitHubPROpened(Deps{GitHub: baseURL, Logger: logging.NewDefaultLogger()})
}

func prList(createdAt time.Time) string {
	return fmt.Sprintf(`[{"number":7,"title":"Add feature","html_url":"https://github.com/octo/hello/pull/7","created_at":%q,"user":{"login":"octocat"}}]`,
		createdAt.Format(time.RFC3339))
}

func TestGitHubFiresOnNewerPR(t *testing.T) {
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/repos/octo/hello/pulls", req.URL.Path)
		assert.Equal(t, "open", req.URL.Query().Get("state"))
		assert.Equal(t, "Bearer gh-token", req.Header.Get("Authorization"))
		fmt.Fprint(w, prList(created))
	}))
	defer server.Close()

	watermark := created.Add(-time.Hour)
	result, err := newGitHubEvaluator(server.URL).Evaluate(context.Background(), githubRule(), "gh-token", &watermark)
	require.NoError(t, err)
	assert.True(t, result.Fired)
	require.NotNil(t, result.OccurredAt)
	assert.True(t, result.OccurredAt.Equal(created))
	assert.Equal(t, "Add feature", result.Event["pr_title"])
	assert.Equal(t, "octocat", result.Event["pr_author"])
}

func TestGitHubFirstObservationDoesNotFire(t *testing.T) {
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, prList(created))
	}))
	defer server.Close()

	result, err := newGitHubEvaluator(server.URL).Evaluate(context.Background(), githubRule(), "gh-token", nil)
	require.NoError(t, err)
	assert.False(t, result.Fired, "a nil watermark establishes the baseline without firing")
	require.NotNil(t, result.OccurredAt, "the baseline must still be reported")
	assert.True(t, result.OccurredAt.Equal(created))
}

func TestGitHubPRAtWatermarkDoesNotFire(t *testing.T) {
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, prList(created))
	}))
	defer server.Close()

	// Equal to the watermark: already accounted for.
	result, err := newGitHubEvaluator(server.URL).Evaluate(context.Background(), githubRule(), "gh-token", &created)
	require.NoError(t, err)
	assert.False(t, result.Fired)
}

func TestGitHubEmptyRepositoryNotFired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	watermark := time.Now()
	result, err := newGitHubEvaluator(server.URL).Evaluate(context.Background(), githubRule(), "gh-token", &watermark)
	require.NoError(t, err)
	assert.False(t, result.Fired)
	assert.Nil(t, result.OccurredAt)
}

func TestGitHubMissingRepositoryConfig(t *testing.T) {
	rule := githubRule()
	rule.ActionConfig = map[string]string{}

	_, err := newGitHubEvaluator("http://unused").Evaluate(context.Background(), rule, "gh-token", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfigInvalid))
}

func TestGitHubMalformedRepositoryConfig(t *testing.T) {
	rule := githubRule()
	rule.ActionConfig["repository"] = "no-slash"

	_, err := newGitHubEvaluator("http://unused").Evaluate(context.Background(), rule, "gh-token", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfigInvalid))
}

func TestGitHubServerErrorIsProviderUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newGitHubEvaluator(server.URL).Evaluate(context.Background(), githubRule(), "gh-token", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeProviderUnavailable))
}

func TestGitHubRateLimitedCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newGitHubEvaluator(server.URL).Evaluate(context.Background(), githubRule(), "gh-token", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimited))

	retryAfter, ok := errors.RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, retryAfter)
}

func TestGitHubUnreachableIsProviderUnavailable(t *testing.T) {
	_, err := newGitHubEvaluator("http://127.0.0.1:1").Evaluate(context.Background(), githubRule(), "gh-token", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeProviderUnavailable))
}
