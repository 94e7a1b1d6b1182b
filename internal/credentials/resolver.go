// Package credentials resolves the access token a rule evaluation or
// dispatch needs. Expired OAuth tokens are refreshed against the
// provider's token endpoint, with concurrent requests for the same
// (user, provider) pair coalesced into a single refresh.
package credentials

import (
	"context"
	"net/url"
	"sync"
	"time"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/httpclient"
	"area-engine/internal/common/logging"
	"area-engine/internal/common/utils"
	"area-engine/internal/models"
	"area-engine/internal/store"
)

// ExpiryMargin is how close to expiry a token may get before a resolve
// triggers a refresh. Covers clock skew and the provider call itself.
const ExpiryMargin = 2 * time.Minute

// ProviderAuth holds the OAuth client configuration for one provider.
// Providers using static API keys (e.g. weather) have no entry here;
// their stored credential is returned as-is.
type ProviderAuth struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

type refreshCall struct {
	done chan struct{}
	cred *models.Credential
	err  error
}

// Cache is an optional read-through cache in front of the credential
// store, keyed by (user, provider). Implemented by the redis cache.
type Cache interface {
	Get(ctx context.Context, userID, provider string) (*models.Credential, bool)
	Set(ctx context.Context, cred *models.Credential)
	Invalidate(ctx context.Context, userID, provider string)
}

// Resolver resolves and refreshes credentials.
type Resolver struct {
	store     store.CredentialStore
	cache     Cache
	providers map[string]ProviderAuth
	client    *httpclient.Client
	logger    logging.Logger

	mu       sync.Mutex
	inflight map[string]*refreshCall

	now func() time.Time
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(credStore store.CredentialStore, cache Cache, providers map[string]ProviderAuth, client *httpclient.Client, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if client == nil {
		client = httpclient.New()
	}
	if providers == nil {
		providers = map[string]ProviderAuth{}
	}
	return &Resolver{
		store:     credStore,
		cache:     cache,
		providers: providers,
		client:    client,
		logger:    logger,
		inflight:  make(map[string]*refreshCall),
		now:       time.Now,
	}
}

func credKey(userID, provider string) string {
	return userID + "/" + provider
}

// Resolve returns a credential valid for at least ExpiryMargin. A
// missing credential is a no_credential error; a failed refresh is a
// refresh_failed error. Neither mutates stored state beyond the
// refreshed token itself.
func (r *Resolver) Resolve(ctx context.Context, userID, provider string) (*models.Credential, error) {
	cred, err := r.lookup(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	if !cred.IsExpired(ExpiryMargin) {
		return cred, nil
	}

	if cred.RefreshToken == "" {
		return nil, errors.RefreshFailedError(provider, errors.ValidationError("credential expired and has no refresh token"))
	}

	return r.refresh(ctx, cred)
}

func (r *Resolver) lookup(ctx context.Context, userID, provider string) (*models.Credential, error) {
	if r.cache != nil {
		if cred, ok := r.cache.Get(ctx, userID, provider); ok {
			return cred, nil
		}
	}

	cred, err := r.store.GetCredential(ctx, userID, provider)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return nil, errors.NoCredentialError(userID, provider)
		}
		return nil, err
	}

	if r.cache != nil {
		r.cache.Set(ctx, cred)
	}
	return cred, nil
}

// refresh performs (or joins) the single in-flight refresh for the
// credential's (user, provider) pair.
func (r *Resolver) refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	key := credKey(cred.UserID, cred.Provider)

	r.mu.Lock()
	if call, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.cred, call.err
		case <-ctx.Done():
			return nil, errors.TimeoutError("credential refresh")
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	r.inflight[key] = call
	r.mu.Unlock()

	call.cred, call.err = r.doRefresh(ctx, cred)
	close(call.done)

	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()

	return call.cred, call.err
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (r *Resolver) doRefresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	auth, ok := r.providers[cred.Provider]
	if !ok || auth.TokenURL == "" {
		return nil, errors.RefreshFailedError(cred.Provider, errors.ValidationError("no token endpoint configured"))
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	form.Set("client_id", auth.ClientID)
	form.Set("client_secret", auth.ClientSecret)

	// The exchange retries transient transport failures; a rejection
	// from the endpoint itself is final.
	var resp *httpclient.Response
	retryCfg := utils.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
		RetryableErrors: func(err error) bool {
			return errors.IsType(err, errors.ErrTypeConnection) || errors.IsType(err, errors.ErrTypeTimeout)
		},
	}
	err := utils.RetryWithBackoff(ctx, retryCfg, func() error {
		var callErr error
		resp, callErr = r.client.PostForm(ctx, auth.TokenURL, form)
		return callErr
	})
	if err != nil {
		return nil, errors.RefreshFailedError(cred.Provider, err)
	}
	if !resp.OK() {
		r.logger.Warn("token endpoint rejected refresh",
			logging.String("provider", cred.Provider),
			logging.Int("status", resp.StatusCode))
		return nil, errors.RefreshFailedError(cred.Provider,
			errors.ValidationError("token endpoint returned non-2xx status"))
	}

	var token tokenResponse
	if err := resp.Decode(&token); err != nil {
		return nil, errors.RefreshFailedError(cred.Provider, err)
	}
	if token.AccessToken == "" {
		return nil, errors.RefreshFailedError(cred.Provider,
			errors.ValidationError("token endpoint returned no access token"))
	}

	refreshed := &models.Credential{
		UserID:       cred.UserID,
		Provider:     cred.Provider,
		AccessToken:  token.AccessToken,
		RefreshToken: cred.RefreshToken,
	}
	// Providers rotating refresh tokens return the replacement.
	if token.RefreshToken != "" {
		refreshed.RefreshToken = token.RefreshToken
	}
	if token.ExpiresIn > 0 {
		expires := r.now().Add(time.Duration(token.ExpiresIn) * time.Second)
		refreshed.ExpiresAt = &expires
	}

	if err := r.store.SaveCredential(ctx, refreshed); err != nil {
		return nil, errors.RefreshFailedError(cred.Provider, err)
	}
	if r.cache != nil {
		r.cache.Set(ctx, refreshed)
	}

	r.logger.Info("credential refreshed",
		logging.String("user_id", cred.UserID),
		logging.String("provider", cred.Provider))
	return refreshed, nil
}
