package credentials

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"area-engine/internal/common/logging"
	"area-engine/internal/models"
)

// defaultCacheTTL bounds cache entries for credentials without an
// expiry, such as API keys.
const defaultCacheTTL = 15 * time.Minute

// RedisCache caches resolved credentials in redis so restarts and
// bursts of rule evaluations do not hammer the credential store.
type RedisCache struct {
	client *redis.Client
	logger logging.Logger
}

// NewRedisCache connects to redis at addr and verifies the connection.
func NewRedisCache(addr, password string, db int, logger logging.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisCache{client: client, logger: logger}, nil
}

func cacheKey(userID, provider string) string {
	return "cred:" + userID + ":" + provider
}

// cachedCredential is the redis wire form. The API-facing model redacts
// the token fields from JSON, so the cache needs its own encoding to
// carry them.
type cachedCredential struct {
	UserID       string     `json:"user_id"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Get returns the cached credential, or false on miss or any redis
// error. Cache failures never fail a resolve.
func (c *RedisCache) Get(ctx context.Context, userID, provider string) (*models.Credential, bool) {
	raw, err := c.client.Get(ctx, cacheKey(userID, provider)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("credential cache read failed", logging.Err(err))
		}
		return nil, false
	}

	var entry cachedCredential
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("corrupt credential cache entry", logging.Err(err))
		return nil, false
	}
	return &models.Credential{
		UserID:       entry.UserID,
		Provider:     entry.Provider,
		AccessToken:  entry.AccessToken,
		RefreshToken: entry.RefreshToken,
		ExpiresAt:    entry.ExpiresAt,
		UpdatedAt:    entry.UpdatedAt,
	}, true
}

// Set caches a credential until shortly before it expires.
func (c *RedisCache) Set(ctx context.Context, cred *models.Credential) {
	raw, err := json.Marshal(cachedCredential{
		UserID:       cred.UserID,
		Provider:     cred.Provider,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt,
		UpdatedAt:    cred.UpdatedAt,
	})
	if err != nil {
		return
	}

	ttl := defaultCacheTTL
	if cred.ExpiresAt != nil {
		if remaining := time.Until(*cred.ExpiresAt) - ExpiryMargin; remaining > 0 && remaining < ttl {
			ttl = remaining
		}
	}

	if err := c.client.Set(ctx, cacheKey(cred.UserID, cred.Provider), raw, ttl).Err(); err != nil {
		c.logger.Warn("credential cache write failed", logging.Err(err))
	}
}

// Invalidate removes a cached credential.
func (c *RedisCache) Invalidate(ctx context.Context, userID, provider string) {
	if err := c.client.Del(ctx, cacheKey(userID, provider)).Err(); err != nil {
		c.logger.Warn("credential cache delete failed", logging.Err(err))
	}
}

// Close releases the redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
