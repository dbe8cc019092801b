package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionMissing indicates the request carries no usable session.
	ErrSessionMissing = errors.New("platform.session.missing")
	// ErrHeadersWritten indicates a cookie could not be set because the response was already committed.
	ErrHeadersWritten = errors.New("platform.cookies.headers_written")
	// ErrRowLevelSecurity indicates a row does not belong to the session user.
	ErrRowLevelSecurity = errors.New("platform.rls.denied")
	// ErrUserNotFound indicates no user matched the supplied identifier.
	ErrUserNotFound = errors.New("platform.users.not_found")
	// ErrFlowStateNotFound indicates the sign-in flow state was never issued or already consumed.
	ErrFlowStateNotFound = errors.New("platform.flow_state.not_found")
	// ErrFlowStateExpired indicates the sign-in flow state outlived its TTL.
	ErrFlowStateExpired = errors.New("platform.flow_state.expired")

	// ErrRefreshTokenNotFound indicates no refresh token matched the provided identifier.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenRevoked indicates the refresh token has been revoked.
	ErrRefreshTokenRevoked = errors.New("refresh_store.revoked")
	// ErrRefreshTokenExpired indicates the refresh token has exceeded its expiry.
	ErrRefreshTokenExpired = errors.New("refresh_store.expired")
	// ErrRefreshTokenAlreadyRevoked signals an idempotent revoke call on an already-revoked token.
	ErrRefreshTokenAlreadyRevoked = errors.New("refresh_store.already_revoked")
	// ErrRefreshTokenEmptyOpaque indicates that the provided opaque token text is empty.
	ErrRefreshTokenEmptyOpaque = errors.New("refresh_store.empty_token")
)

// Auth error codes reported to callers as part of AuthError.
const (
	AuthErrorFlowStateMissing = "flow_state_not_found"
	AuthErrorFlowStateExpired = "flow_state_expired"
	AuthErrorInvalidGrant     = "invalid_grant"
	AuthErrorInvalidIDToken   = "invalid_id_token"
	AuthErrorUnverifiedEmail  = "email_not_verified"
	AuthErrorMissingCode      = "missing_code"
)

// AuthError is a failure the platform reports about the caller's credentials,
// as opposed to an infrastructure failure.
type AuthError struct {
	Code    string
	Message string
	cause   error
}

func newAuthError(code string, message string, cause error) *AuthError {
	return &AuthError{Code: code, Message: message, cause: cause}
}

// Error implements error.
func (authError *AuthError) Error() string {
	if authError.cause != nil {
		return fmt.Sprintf("platform.auth.%s: %s: %v", authError.Code, authError.Message, authError.cause)
	}
	return fmt.Sprintf("platform.auth.%s: %s", authError.Code, authError.Message)
}

// Unwrap exposes the underlying cause.
func (authError *AuthError) Unwrap() error {
	return authError.cause
}
