package source

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nhle/swipe/internal/model"
)

var (
	// ErrNotAuthenticated means no session credential was found.
	ErrNotAuthenticated = errors.New("not authenticated: session cookie not found")

	// ErrCredentialExpired means the decoded credential expiry has passed.
	ErrCredentialExpired = errors.New("session credential expired")

	// ErrNoTargetContext means no authenticated web-app context is open.
	ErrNoTargetContext = errors.New("target context not open: open the web app and sign in")

	// ErrSessionLikelyExpired means a 2xx response carried a markup
	// document, which happens when the request was redirected to a login
	// page.
	ErrSessionLikelyExpired = errors.New("session likely expired: received markup instead of JSON")

	// ErrNoCredential means a relay mutation was requested before any
	// producer pushed a credential.
	ErrNoCredential = errors.New("no credential available")

	// ErrUnexpectedShape means a 2xx JSON body did not match the expected
	// response contract.
	ErrUnexpectedShape = errors.New("unexpected response shape")
)

// AuthError indicates that the remote rejected the credential (HTTP 401
// or 403).
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%d): %s", e.Status, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) means the
// user has to sign in again rather than retry.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) ||
		errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrCredentialExpired) ||
		errors.Is(err, ErrSessionLikelyExpired)
}

// HTTPError is a non-2xx response that is not an authentication failure.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d on %s %s: %s",
		e.StatusCode, e.Method, e.URL, e.Body)
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Status
	}
	return 0
}

// EndpointFailure records why one candidate in a fallback chain failed.
type EndpointFailure struct {
	Candidate string
	Err       error
}

func (e *EndpointFailure) Error() string {
	return fmt.Sprintf("endpoint %s: %v", e.Candidate, e.Err)
}

func (e *EndpointFailure) Unwrap() error {
	return e.Err
}

// AllEndpointsFailedError is returned when every candidate for an
// operation failed. It unwraps to each failure, so
// errors.Is(err, ErrSessionLikelyExpired) detects a login redirect on any
// candidate.
type AllEndpointsFailedError struct {
	Operation model.Operation
	Failures  []*EndpointFailure
}

func (e *AllEndpointsFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("all endpoints failed for %s: %s",
		e.Operation, strings.Join(parts, "; "))
}

func (e *AllEndpointsFailedError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Last returns the failure of the last candidate tried, which is the
// most specific error to show a user.
func (e *AllEndpointsFailedError) Last() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[len(e.Failures)-1].Err
}

// IsGone reports whether err says the remote no longer has the item:
// 404, 409 or 410 from the endpoint or, for a fallback chain, from every
// candidate that was tried.
func IsGone(err error) bool {
	var all *AllEndpointsFailedError
	if errors.As(err, &all) {
		if len(all.Failures) == 0 {
			return false
		}
		for _, f := range all.Failures {
			if !goneStatus(StatusCode(f.Err)) {
				return false
			}
		}
		return true
	}
	return goneStatus(StatusCode(err))
}

func goneStatus(code int) bool {
	switch code {
	case 404, 409, 410:
		return true
	}
	return false
}
