package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a provider failure for the shell and the request log.
type Kind string

const (
	KindConfiguration Kind = "configuration" // missing/invalid credential, unknown provider
	KindConnectivity  Kind = "connectivity"  // unreachable, DNS, refused
	KindAuth          Kind = "auth"          // 401-class credential rejection
	KindRateLimit     Kind = "rate_limit"    // 429-class
	KindQuota         Kind = "quota"         // 402-class insufficient balance
	KindTimeout       Kind = "timeout"       // bounded call exceeded
	KindUpstream      Kind = "upstream"      // other 4xx/5xx with provider detail
	KindValidation    Kind = "validation"    // malformed input
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain, defaulting to upstream for
// untyped errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUpstream
}

// classifyTransport maps a failed round-trip to timeout or connectivity.
func classifyTransport(name string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("%s request timed out. Please try again", name), Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("%s request timed out. Please try again", name), Err: err}
	}
	return &Error{Kind: KindConnectivity, Message: fmt.Sprintf("cannot connect to %s. Please check your connection", name), Err: err}
}
