package errors

import (
	stderrors "errors"
	"time"
)

const retryAfterKey = "retry_after"

// WithRetryAfter attaches a provider's retry-after hint to an error,
// typically a rate_limited one built from a 429 response.
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	return e.WithContext(retryAfterKey, d)
}

// RetryAfterOf extracts the retry-after hint from an error chain.
// Returns false when the error carries no hint.
func RetryAfterOf(err error) (time.Duration, bool) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return 0, false
	}
	d, ok := appErr.Context[retryAfterKey].(time.Duration)
	return d, ok
}

// ProviderOf extracts the provider name attached to an error chain,
// falling back to the given default.
func ProviderOf(err error, fallback string) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if p, ok := appErr.Context["provider"].(string); ok && p != "" {
			return p
		}
	}
	return fallback
}
