// Package errors provides the structured error taxonomy used to classify
// evaluation and dispatch failures per rule.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	// ErrTypeNoCredential means the user has no stored credential for the provider
	ErrTypeNoCredential ErrorType = "no_credential"
	// ErrTypeRefreshFailed means the credential refresh exchange failed
	ErrTypeRefreshFailed ErrorType = "refresh_failed"
	// ErrTypeConfigInvalid means a rule's action or reaction configuration is unusable
	ErrTypeConfigInvalid ErrorType = "config_invalid"
	// ErrTypeProviderUnavailable means the provider call failed at transport level or returned non-2xx
	ErrTypeProviderUnavailable ErrorType = "provider_unavailable"
	// ErrTypeRateLimited means the per-provider budget denied the call
	ErrTypeRateLimited ErrorType = "rate_limited"
	// ErrTypeLockContention means another evaluation of the rule is already in flight
	ErrTypeLockContention ErrorType = "lock_contention"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeConnection represents connection-level errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NoCredentialError indicates a missing provider credential for a user
func NoCredentialError(userID, provider string) *AppError {
	return &AppError{
		Type:    ErrTypeNoCredential,
		Message: fmt.Sprintf("no %s credential for user %s", provider, userID),
	}
}

// RefreshFailedError indicates a failed token refresh exchange
func RefreshFailedError(provider string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeRefreshFailed,
		Message: fmt.Sprintf("refresh exchange with %s failed", provider),
		Cause:   cause,
	}
}

// ConfigInvalidError indicates an unusable rule configuration
func ConfigInvalidError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfigInvalid,
		Message: msg,
	}
}

// ProviderUnavailableError indicates a failed or non-2xx provider call
func ProviderUnavailableError(provider string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeProviderUnavailable,
		Message: fmt.Sprintf("%s unavailable", provider),
		Cause:   cause,
	}
}

// RateLimitedError indicates a denied per-provider budget
func RateLimitedError(provider string) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimited,
		Message: fmt.Sprintf("rate limit reached for %s", provider),
		Context: map[string]interface{}{"provider": provider},
	}
}

// LockContentionError indicates an evaluation already in flight for the rule
func LockContentionError(ruleID string) *AppError {
	return &AppError{
		Type:    ErrTypeLockContention,
		Message: fmt.Sprintf("evaluation already in flight for rule %s", ruleID),
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error is of a specific type, unwrapping as needed
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}

// IsTransient reports whether the error should be retried on the next cadence
// rather than disabling the rule. ConfigInvalid is the only terminal type;
// RateLimited and LockContention are silent skips.
func IsTransient(err error) bool {
	switch GetType(err) {
	case ErrTypeConfigInvalid:
		return false
	default:
		return true
	}
}
