package errors

import (
	"errors"
	"fmt"
)

// ErrMissingCredentials is returned by remote operations when no API token is configured.
var ErrMissingCredentials = errors.New("github credentials are not configured")

// ErrRateLimited is returned when a required request was skipped because the quota is nearly spent.
var ErrRateLimited = errors.New("rate limit reached")

// ErrInvalidRepoFormat is returned when a repository string is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// TransportError wraps a network level failure talking to the remote.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PageError is returned when a page the caller cannot do without could not be fetched.
type PageError struct {
	URL        string
	Page       int
	StatusCode int
	Err        error
}

func (e *PageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetching page %d of %s: %v", e.Page, e.URL, e.Err)
	}
	return fmt.Sprintf("fetching page %d of %s: unexpected status %d", e.Page, e.URL, e.StatusCode)
}

func (e *PageError) Unwrap() error { return e.Err }

// DecodeError reports a payload that could not be parsed as JSON or HTML.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
