package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/morezero/capability-bridge/pkg/protocol"
)

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("bridge call timed out")
	// ErrUnknownMethod matches remote errors for methods the provider does not expose.
	ErrUnknownMethod = errors.New("unknown bridge method")
	// ErrProviderError matches remote errors raised by the provider implementation.
	ErrProviderError = errors.New("bridge provider error")
	// ErrInvalidRequest matches remote errors for requests the provider rejected as malformed.
	ErrInvalidRequest = errors.New("invalid bridge request")
	// ErrBridgeUnavailable is returned once bootstrap gave up waiting for a
	// provider. It is fatal for the client.
	ErrBridgeUnavailable = errors.New("bridge unavailable: no provider announced itself")
	// ErrBridgeClosed is returned for calls pending or started after Detach.
	ErrBridgeClosed = errors.New("bridge closed")
	// ErrNotAttached is returned when the client is used before Attach.
	ErrNotAttached = errors.New("bridge client not attached")
	// ErrAlreadyAttached is returned by a second Attach.
	ErrAlreadyAttached = errors.New("bridge client already attached")
)

// RemoteError is a failure reported by the provider side in a response.
type RemoteError struct {
	Method  string
	Code    string
	Message string
	Detail  string
}

func newRemoteError(method string, d *protocol.ErrorDetail) *RemoteError {
	if d == nil {
		return &RemoteError{Method: method, Code: protocol.CodeProviderError, Message: "provider reported failure without detail"}
	}
	return &RemoteError{Method: method, Code: d.Code, Message: d.Message, Detail: d.Detail}
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Method, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Method, e.Message, e.Code)
}

// Is maps the error code onto the package sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrUnknownMethod:
		return e.Code == protocol.CodeUnknownMethod
	case ErrInvalidRequest:
		return e.Code == protocol.CodeInvalidRequest
	case ErrProviderError:
		return e.Code != protocol.CodeUnknownMethod && e.Code != protocol.CodeInvalidRequest
	}
	return false
}

// TimeoutError reports a call abandoned after its timeout. A response arriving
// later is dropped.
type TimeoutError struct {
	Method    string
	RequestID string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("bridge call %s (%s) timed out after %s", e.Method, e.RequestID, e.After)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
