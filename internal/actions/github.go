package actions

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/httpclient"
	"area-engine/internal/models"
)

// TypeGitHubPROpened fires when a new pull request is opened on the
// configured repository.
const TypeGitHubPROpened = "github:pr_opened"

type githubPROpened struct {
	deps Deps
}

// NewGitHubPROpened builds the github:pr_opened evaluator.
func NewGitHubPROpened(deps Deps) Evaluator {
	return &githubPROpened{deps: deps.withDefaults()}
}

func (e *githubPROpened) GetType() string {
	return TypeGitHubPROpened
}

type githubPR struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

func (e *githubPROpened) Evaluate(ctx context.Context, rule *models.Rule, token string, watermark *time.Time) (*Result, error) {
	repo := strings.TrimSpace(rule.ActionConfig["repository"])
	if repo == "" {
		return nil, errors.ConfigInvalidError("github:pr_opened requires a repository in owner/name form")
	}
	if parts := strings.Split(repo, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, errors.ConfigInvalidError(fmt.Sprintf("malformed repository %q, expected owner/name", repo))
	}

	endpoint := fmt.Sprintf("%s/repos/%s/pulls?%s", e.deps.GitHub, repo, url.Values{
		"state":     {"open"},
		"sort":      {"created"},
		"direction": {"desc"},
		"per_page":  {"1"},
	}.Encode())

	resp, err := e.deps.Client.Get(ctx, endpoint, token, map[string]string{
		"Accept": "application/vnd.github+json",
	})
	if err != nil {
		return nil, errors.ProviderUnavailableError("github", err)
	}
	if err := classifyResponse(resp, "github"); err != nil {
		return nil, err
	}

	var prs []githubPR
	if err := resp.Decode(&prs); err != nil {
		return nil, errors.ProviderUnavailableError("github", err)
	}
	if len(prs) == 0 {
		// No open pull requests is a normal outcome.
		return notFired(nil), nil
	}

	pr := prs[0]
	return firedAfterWatermark(pr.CreatedAt, watermark, map[string]string{
		"pr_number": fmt.Sprintf("%d", pr.Number),
		"pr_title":  pr.Title,
		"pr_url":    pr.HTMLURL,
		"pr_author": pr.User.Login,
	}), nil
}

// classifyResponse maps a completed non-2xx provider exchange onto the
// engine's error taxonomy. A rate-limited response keeps the provider's
// retry-after hint so the scheduler can install a backoff window.
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
