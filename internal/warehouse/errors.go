package warehouse

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication covers assertion signing and token exchange failures.
	ErrAuthentication = errors.New("warehouse: authentication failed")
	// ErrQuery is a non-success answer from the query endpoint.
	ErrQuery = errors.New("warehouse: query failed")
	// ErrInsert is a non-success answer from the streaming insert endpoint.
	ErrInsert = errors.New("warehouse: insert failed")
	// ErrPartialInsert means the insert call succeeded but rows were rejected.
	ErrPartialInsert = errors.New("warehouse: partial insert failure")
	// ErrMalformedResponse is a body whose schema or rows cannot be decoded.
	ErrMalformedResponse = errors.New("warehouse: malformed response")
	// ErrIncompleteResult is an answer holding only part of the rows.
	ErrIncompleteResult = fmt.Errorf("%w: incomplete result", ErrMalformedResponse)
)

// RemoteError carries the provider's verbatim error text for a failed call.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
	kind       error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("warehouse: %s failed (status %d): %s", e.Op, e.StatusCode, e.Body)
}

func (e *RemoteError) Unwrap() error { return e.kind }

// InsertErrors is returned when the insert response lists rejected rows.
// Rows not listed may already be committed.
type InsertErrors struct {
	Errors []InsertError
	Raw    string
}

func (e *InsertErrors) Error() string {
	return "warehouse: partial insert failure: " + e.Raw
}

func (e *InsertErrors) Unwrap() []error { return []error{ErrPartialInsert, ErrInsert} }
