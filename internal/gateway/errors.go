package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownAlgorithm  = errors.New("unknown signature algorithm")
	ErrMalformedResponse = errors.New("malformed gateway response")
	ErrRejected          = errors.New("gateway rejected inquiry")
)

// Error describes a failed inquiry. StatusCode is zero when no HTTP response
// was received.
type Error struct {
	Op         string
	StatusCode int
	Timeout    bool
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("gateway %s: timeout: %v", e.Op, e.Err)
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("gateway %s: status=%d body=%s: %v", e.Op, e.StatusCode, e.Body, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s: status=%d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
