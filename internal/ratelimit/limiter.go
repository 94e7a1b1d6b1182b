// Package ratelimit gates outbound provider calls. Each provider has a
// token-bucket budget, and a 429 from the provider installs a backoff
// window during which every admit for that provider is denied.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"area-engine/internal/common/logging"
)

// Budget describes a provider's steady-state call budget.
type Budget struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultBudget applies to providers without an explicit budget.
var DefaultBudget = Budget{RequestsPerSecond: 5, Burst: 10}

// Decision is the outcome of an admit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// ProviderStatus is a point-in-time view of one provider's gate,
// exposed through the status endpoint.
type ProviderStatus struct {
	Provider     string     `json:"provider"`
	InBackoff    bool       `json:"in_backoff"`
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
	Budget       float64    `json:"requests_per_second"`
	Burst        int        `json:"burst"`
	Tokens       float64    `json:"tokens"`
}

type providerGate struct {
	limiter      *rate.Limiter
	backoffUntil time.Time
}

// Limiter tracks per-provider budgets and backoff windows.
type Limiter struct {
	mu      sync.Mutex
	gates   map[string]*providerGate
	budgets map[string]Budget
	logger  logging.Logger
	now     func() time.Time
}

// New creates a limiter with the given per-provider budgets. Providers
// not present in budgets fall back to DefaultBudget.
func New(budgets map[string]Budget, logger logging.Logger) *Limiter {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if budgets == nil {
		budgets = map[string]Budget{}
	}
	return &Limiter{
		gates:   make(map[string]*providerGate),
		budgets: budgets,
		logger:  logger,
		now:     time.Now,
	}
}

func (l *Limiter) gate(provider string) *providerGate {
	g, ok := l.gates[provider]
	if !ok {
		budget, ok := l.budgets[provider]
		if !ok || budget.RequestsPerSecond <= 0 {
			budget = DefaultBudget
		}
		if budget.Burst < 1 {
			budget.Burst = 1
		}
		g = &providerGate{
			limiter: rate.NewLimiter(rate.Limit(budget.RequestsPerSecond), budget.Burst),
		}
		l.gates[provider] = g
	}
	return g
}

// Admit decides whether a call to provider may proceed now. A denied
// call is not queued; the caller skips the cycle and retries on the
// next tick.
func (l *Limiter) Admit(provider string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	g := l.gate(provider)
	now := l.now()

	if g.backoffUntil.After(now) {
		return Decision{Allowed: false, RetryAfter: g.backoffUntil.Sub(now)}
	}

	res := g.limiter.ReserveN(now, 1)
	if !res.OK() {
		return Decision{Allowed: false, RetryAfter: time.Second}
	}
	if delay := res.DelayFrom(now); delay > 0 {
		// Not admitting this cycle, so hand the token back.
		res.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}
	}

	return Decision{Allowed: true}
}

// SetBackoff installs a deny-all window for provider, typically from a
// 429 Retry-After header. A shorter window never truncates a longer
// one already in place.
func (l *Limiter) SetBackoff(provider string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	g := l.gate(provider)
	until := l.now().Add(retryAfter)
	if until.After(g.backoffUntil) {
		g.backoffUntil = until
		l.logger.Warn("provider backoff installed",
			logging.String("provider", provider),
			logging.Duration("retry_after", retryAfter))
	}
}

// Snapshot returns the current state of every provider gate.
func (l *Limiter) Snapshot() []ProviderStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	statuses := make([]ProviderStatus, 0, len(l.gates))
	for provider, g := range l.gates {
		status := ProviderStatus{
			Provider:  provider,
			InBackoff: g.backoffUntil.After(now),
			Budget:    float64(g.limiter.Limit()),
			Burst:     g.limiter.Burst(),
			Tokens:    g.limiter.TokensAt(now),
		}
		if status.InBackoff {
			until := g.backoffUntil
			status.BackoffUntil = &until
		}
		statuses = append(statuses, status)
	}
	return statuses
}
