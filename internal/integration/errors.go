// ABOUTME: Error taxonomy shared by all external integration clients
// ABOUTME: Distinguishes login failures, token expiry, HTTP status errors and transport failures

package integration

import (
	"errors"
	"fmt"
)

// AuthenticationError means the login step itself failed: bad credentials,
// a rejected login request, or an unusable token in the login response.
type AuthenticationError struct {
	Client string
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	msg := fmt.Sprintf("%s: authentication failed: %s", e.Client, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TokenExpiredError means an authenticated call was rejected with 401.
// The cached token has already been invalidated when this is returned.
type TokenExpiredError struct {
	Client string
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("%s: token rejected by upstream", e.Client)
}

// APIError is a non-success HTTP response from the external system.
type APIError struct {
	Client     string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s: status %d: %s", e.Client, e.StatusCode, body)
}

// NetworkError is a transport-level failure (DNS, connect, timeout, reset).
type NetworkError struct {
	Client string
	Op     string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Client, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsAuthFailure reports whether err is an AuthenticationError or TokenExpiredError.
func IsAuthFailure(err error) bool {
	var authErr *AuthenticationError
	var expiredErr *TokenExpiredError
	return errors.As(err, &authErr) || errors.As(err, &expiredErr)
}

// IsTokenExpired reports whether err is a TokenExpiredError.
func IsTokenExpired(err error) bool {
	var expiredErr *TokenExpiredError
	return errors.As(err, &expiredErr)
}

// StatusCode returns the HTTP status carried by an APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
