package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthorizationRejected marks a 401 from the backend.
	ErrAuthorizationRejected = errors.New("authorization rejected")
	// ErrRefreshFailed marks a refresh that did not produce new credentials.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrNoSession marks a request made without any stored credentials.
	ErrNoSession = errors.New("no session")
)

// AuthenticationRequiredError is returned when the session cannot be
// recovered and the user has to log in again. The session has been cleared.
type AuthenticationRequiredError struct {
	Cause error
}

func (e *AuthenticationRequiredError) Error() string {
	if e.Cause == nil {
		return "authentication required"
	}
	return fmt.Sprintf("authentication required: %v", e.Cause)
}

func (e *AuthenticationRequiredError) Unwrap() error {
	return e.Cause
}

// IsAuthenticationRequired reports whether err asks the user to log in again.
func IsAuthenticationRequired(err error) bool {
	var target *AuthenticationRequiredError
	return errors.As(err, &target)
}
