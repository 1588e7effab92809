package model

import (
	"errors"
	"net/http"
)

// ErrorKind classifies a failed dispatch.
type ErrorKind string

const (
	KindMissingTarget       ErrorKind = "missing-target"
	KindInvalidTargetURL    ErrorKind = "invalid-target-url"
	KindUpstreamUnreachable ErrorKind = "upstream-unreachable"
	KindUpstreamTimeout     ErrorKind = "upstream-timeout"
	KindInternal            ErrorKind = "internal"
)

// Sentinels for errors.Is matching against a *ProxyError of the same kind.
var (
	ErrMissingTarget       = &ProxyError{Kind: KindMissingTarget}
	ErrInvalidTargetURL    = &ProxyError{Kind: KindInvalidTargetURL}
	ErrUpstreamUnreachable = &ProxyError{Kind: KindUpstreamUnreachable}
	ErrUpstreamTimeout     = &ProxyError{Kind: KindUpstreamTimeout}
	ErrInternal            = &ProxyError{Kind: KindInternal}
)

// ProxyError is a terminal failure of one dispatch.
type ProxyError struct {
	Kind    ErrorKind
	Message string
	Route   string // route table entry name, if any
	Err     error
}

// NewError creates a ProxyError of the given kind.
func NewError(kind ErrorKind, msg string, cause error) *ProxyError {
	return &ProxyError{Kind: kind, Message: msg, Err: cause}
}

func (e *ProxyError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProxyError) Unwrap() error { return e.Err }

// Is reports whether target is a *ProxyError of the same kind.
func (e *ProxyError) Is(target error) bool {
	var pe *ProxyError
	if !errors.As(target, &pe) {
		return false
	}
	return pe.Kind == e.Kind
}

// WithRoute returns a copy of e tagged with the route name.
func (e *ProxyError) WithRoute(name string) *ProxyError {
	cp := *e
	cp.Route = name
	return &cp
}

// Status maps the error kind to the HTTP status returned to the caller.
func (e *ProxyError) Status() int {
	switch e.Kind {
	case KindMissingTarget, KindInvalidTargetURL:
		return http.StatusBadRequest
	case KindUpstreamUnreachable, KindUpstreamTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Title is the short error string placed in the "error" field of responses.
func (e *ProxyError) Title() string {
	switch e.Kind {
	case KindMissingTarget:
		return "Missing target URL"
	case KindInvalidTargetURL:
		return "Invalid target URL"
	case KindUpstreamUnreachable:
		return "Upstream unreachable"
	case KindUpstreamTimeout:
		return "Upstream timed out"
	default:
		return "Internal server error"
	}
}

// ClientFault reports whether the caller caused the error.
func (e *ProxyError) ClientFault() bool {
	return e.Kind == KindMissingTarget || e.Kind == KindInvalidTargetURL
}
