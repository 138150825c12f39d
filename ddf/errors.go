package ddf

import (
	"errors"
	"fmt"
)

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrForeignNextLink = errors.New("next link points outside the configured upstream")
	ErrMissingToken    = errors.New("token response has no access_token")
)

// AuthenticationError is returned when the identity endpoint refuses the
// client credentials or answers with something other than a token.
type AuthenticationError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ddf auth error %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("ddf auth error %d: %s", e.Status, e.Body)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// UpstreamRequestError is returned when a listings request fails in transport
// or with a non-success status.
type UpstreamRequestError struct {
	Status int
	URL    string
	Body   string
	Err    error
}

func (e *UpstreamRequestError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("ddf error %d: %v", e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("ddf request failed: %v", e.Err)
	default:
		return fmt.Sprintf("ddf error %d: %s", e.Status, e.Body)
	}
}

func (e *UpstreamRequestError) Unwrap() error { return e.Err }

// PartialResultError records a page failure after at least one page was
// accumulated. It is reported to logs and metrics, never to the caller.
type PartialResultError struct {
	Page    int
	Fetched int
	Err     error
}

func (e *PartialResultError) Error() string {
	return fmt.Sprintf("page %d failed after %d records: %v", e.Page, e.Fetched, e.Err)
}

func (e *PartialResultError) Unwrap() error { return e.Err }
