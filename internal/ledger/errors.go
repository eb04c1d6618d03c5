package ledger

import (
	"errors"
	"fmt"
)

// TransientNetworkError reports a submission or query that never produced
// a response: connection failure, timeout, or cancellation.
type TransientNetworkError struct {
	Op  string // "certify" or "query"
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("ledger %s: network: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// ResponseError reports a response the ledger sent that does not signal
// success.
type ResponseError struct {
	Op     string
	Status int
	Reason string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("ledger %s: status %d: %s", e.Op, e.Status, e.Reason)
}

// IsTransient reports whether err is or wraps a TransientNetworkError.
func IsTransient(err error) bool {
	var te *TransientNetworkError
	return errors.As(err, &te)
}

// IsRejected reports whether err is or wraps a ResponseError.
func IsRejected(err error) bool {
	var re *ResponseError
	return errors.As(err, &re)
}
