// Package provider defines the capability surface owned by the privileged side.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/morezero/capability-bridge/pkg/protocol"
	"github.com/morezero/capability-bridge/pkg/registry"
)

// Provider exposes a set of named asynchronous methods.
type Provider interface {
	Methods() map[string]registry.Method
}

// Detailer is implemented by errors that carry diagnostic context, such as a
// stack trace, to be forwarded with the message.
type Detailer interface {
	Detail() string
}

// Error is a capability failure with an optional diagnostic detail.
type Error struct {
	Message string
	Cause   error
	detail  string
}

// NewError creates an Error with message and detail.
func NewError(message, detail string) *Error {
	return &Error{Message: message, detail: detail}
}

// Wrap annotates cause with message; the cause's text becomes the detail.
func Wrap(cause error, message string) *Error {
	return &Error{Message: message, Cause: cause, detail: cause.Error()}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Cause }

// Detail returns the diagnostic detail.
func (e *Error) Detail() string { return e.detail }

// DetailOf extracts the diagnostic detail of err. Errors without a Detailer in
// their chain are rendered with %+v, which includes stack context for error
// types that format it.
func DetailOf(err error) string {
	var d Detailer
	if errors.As(err, &d) {
		return d.Detail()
	}
	return fmt.Sprintf("%+v", err)
}

// Static is a map-backed provider.
type Static struct {
	methods map[string]registry.Method
}

// NewStatic creates a provider serving methods. A ping method answering "pong"
// is added unless methods already defines one.
func NewStatic(methods map[string]registry.Method) *Static {
	out := make(map[string]registry.Method, len(methods)+1)
	for name, fn := range methods {
		out[name] = fn
	}
	if _, ok := out[protocol.MethodPing]; !ok {
		out[protocol.MethodPing] = Ping
	}
	return &Static{methods: out}
}

// Methods returns a copy of the method set.
func (s *Static) Methods() map[string]registry.Method {
	out := make(map[string]registry.Method, len(s.methods))
	for name, fn := range s.methods {
		out[name] = fn
	}
	return out
}

// Ping answers "pong"; providers use it as a liveness method.
func Ping(context.Context, []interface{}) (interface{}, error) {
	return "pong", nil
}
