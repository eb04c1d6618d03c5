package record

import (
	"errors"
	"fmt"
)

// MalformedResponseError reports a fetch result that is not a well-formed
// record sequence. It is fatal for the current cycle only.
type MalformedResponseError struct {
	Reason string
	Body   string // leading bytes of the offending payload, if any
	Err    error
}

func (e *MalformedResponseError) Error() string {
	msg := "malformed response: " + e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s (body %q)", msg, e.Body)
	}
	return msg
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is or wraps a MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}
