package contractcodec

import (
	"errors"
	"fmt"
)

var errUnknownProtocol = errors.New("protocol not in catalog")

// codecError wraps a decode/encode failure with the protocol and method it
// occurred against, so callers logging the error don't need to thread that
// context through separately.
type codecError struct {
	protocol Protocol
	method   string
	cause    error
}

func newCodecError(protocol Protocol, method string, cause error) *codecError {
	return &codecError{protocol: protocol, method: method, cause: cause}
}

func (e *codecError) Error() string {
	if e.method == "" {
		return fmt.Sprintf("contractcodec: %s: %v", e.protocol, e.cause)
	}
	return fmt.Sprintf("contractcodec: %s.%s: %v", e.protocol, e.method, e.cause)
}

func (e *codecError) Unwrap() error { return e.cause }
