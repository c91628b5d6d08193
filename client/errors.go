package client

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials indicates the email/password pair was rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the account is under a temporary lockout.
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenExpired indicates the access credential has lapsed and a refresh is needed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked indicates the credentials were invalidated server-side,
	// including reuse detection. Recovery requires a fresh sign-in.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrCSRFMismatch indicates the CSRF companion value was rejected.
	ErrCSRFMismatch = errors.New("csrf mismatch")
	// ErrRateLimited indicates the server throttled the request.
	ErrRateLimited = errors.New("rate limited")
	// ErrSessionIntegrityViolation indicates cached identity drifted from the
	// credential actually held. Handled by cleanup, never blamed on the user.
	ErrSessionIntegrityViolation = errors.New("session integrity violation")
	// ErrSignedOut indicates an operation that requires a session ran without one.
	ErrSignedOut = errors.New("signed out")
)

// RateLimitedError carries the server-provided retry delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Is reports equivalence with the ErrRateLimited sentinel.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// UserMessage maps an error to the message shown to the person using the app.
// Credential failures deliberately share one message so the UI never reveals
// which factor failed.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountLocked):
		return "Incorrect email or password."
	case errors.Is(err, ErrTokenRevoked):
		return "Session expired, please sign in again."
	case errors.Is(err, ErrRateLimited):
		var rl *RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			return fmt.Sprintf("Too many attempts. Try again in %s.", rl.RetryAfter.Round(time.Second))
		}
		return "Too many attempts. Try again later."
	default:
		return "Something went wrong. Please try again."
	}
}
