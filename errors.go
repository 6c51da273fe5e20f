package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUnauthorized          = "UNAUTHORIZED"
	TextCodeMissingCredentials    = "MISSING_CREDENTIALS"
	TextCodeVerificationFailed    = "VERIFICATION_FAILED"
	TextCodeInvalidTransition     = "INVALID_SESSION_TRANSITION"
	TextCodeTokenMalformed        = "TOKEN_MALFORMED"
	TextCodeTokenExpired          = "TOKEN_EXPIRED"
	TextCodeIdentityUnavailable   = "IDENTITY_UNAVAILABLE"
	TextCodeUnexpectedStatusCode  = "UNEXPECTED_STATUS_CODE"
	TextCodeInvalidIdentityResult = "INVALID_IDENTITY_RESULT"
	TextCodeCredentialEndpoint    = "CREDENTIAL_ENDPOINT_NOT_CONFIGURED"
)

// ErrUnauthorized is returned by Login when the endpoint answers with a status >= 400
var ErrUnauthorized = goerrors.New("Unauthorized", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(goerrors.CodeUnauthorized)

// ErrMissingCredentials is returned by Signup before any network call
var ErrMissingCredentials = goerrors.New("Missing email or password", goerrors.CategoryValidation).
	WithTextCode(TextCodeMissingCredentials).
	WithCode(goerrors.CodeBadRequest)

// ErrVerificationFailed marks a failed authenticate or verify round-trip.
// It is logged and recorded, never returned to callers.
var ErrVerificationFailed = goerrors.New("session verification failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeVerificationFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidSessionTransition is returned when the session state machine
// rejects a move.
var ErrInvalidSessionTransition = goerrors.New("invalid session state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenMalformed token could not be parsed or its signature is wrong
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired token is past its exp claim
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidIdentityResult the identity provider answered without a token
var ErrInvalidIdentityResult = goerrors.New("identity provider returned no access token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidIdentityResult).
	WithCode(goerrors.CodeUnauthorized)

// ErrCredentialEndpoint Login has no absolute URL to post credentials to.
// Configure a base URL, a credential transport, or an identity client that
// exposes its login URL.
var ErrCredentialEndpoint = goerrors.New("credential endpoint is not an absolute URL", goerrors.CategoryInternal).
	WithTextCode(TextCodeCredentialEndpoint)

// IsUnauthorized reports whether err carries the Unauthorized text code
func IsUnauthorized(err error) bool {
	return hasTextCode(err, TextCodeUnauthorized)
}

// IsCredentialEndpointError reports whether Login had no usable endpoint
func IsCredentialEndpointError(err error) bool {
	return hasTextCode(err, TextCodeCredentialEndpoint)
}

// IsValidationError reports whether err is a validation category error
func IsValidationError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryValidation
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}
