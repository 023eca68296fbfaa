// Package dispatcher routes bridge requests arriving on the channel to the
// method registry and posts one correlated response per request.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/morezero/capability-bridge/pkg/channel"
	"github.com/morezero/capability-bridge/pkg/commsutil"
	"github.com/morezero/capability-bridge/pkg/events"
	"github.com/morezero/capability-bridge/pkg/protocol"
	"github.com/morezero/capability-bridge/pkg/provider"
	"github.com/morezero/capability-bridge/pkg/registry"
)

const logPrefix = "dispatcher:dispatch"

// Params holds parameters for NewDispatcher.
type Params struct {
	Registry        *registry.Registry
	Channel         channel.Channel
	Codec           commsutil.Codec
	Origin          string
	Namespace       string
	ProtocolVersion string
	Publisher       events.Publisher
}

// Dispatcher is the privileged-side request router.
type Dispatcher struct {
	registry        *registry.Registry
	ch              channel.Channel
	codec           commsutil.Codec
	origin          string
	namespace       string
	protocolVersion string
	publisher       events.Publisher

	mu       sync.Mutex
	sub      channel.Subscription
	ctx      context.Context
	attached bool
	inflight sync.WaitGroup
}

// NewDispatcher creates a new Dispatcher. The registry is frozen: methods
// reachable from the channel are fixed from here on.
func NewDispatcher(p Params) *Dispatcher {
	if p.Registry == nil {
		p.Registry = registry.New()
	}
	p.Registry.Freeze()
	if p.Codec == nil {
		p.Codec = commsutil.JSON
	}
	if p.Namespace == "" {
		p.Namespace = protocol.DefaultNamespace
	}
	if p.ProtocolVersion == "" {
		p.ProtocolVersion = protocol.Version
	}
	if p.Publisher == nil {
		p.Publisher = &events.NoOpPublisher{}
	}
	return &Dispatcher{
		registry:        p.Registry,
		ch:              p.Channel,
		codec:           p.Codec,
		origin:          p.Origin,
		namespace:       p.Namespace,
		protocolVersion: p.ProtocolVersion,
		publisher:       p.Publisher,
	}
}

// Dispatch runs req against the registry and returns its response. It never
// returns nil: unknown methods, provider errors and provider panics all
// produce a failed response carrying the request id.
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.RequestID))

	fn, ok := d.registry.Lookup(req.Method)
	if !ok {
		return protocol.NewFailure(d.namespace, req.RequestID, &protocol.ErrorDetail{
			Code:    protocol.CodeUnknownMethod,
			Message: fmt.Sprintf("Unknown method: %s", req.Method),
		})
	}

	result, err := invoke(ctx, fn, req.Args)
	if err != nil {
		return protocol.NewFailure(d.namespace, req.RequestID, &protocol.ErrorDetail{
			Code:    protocol.CodeProviderError,
			Message: err.Error(),
			Detail:  provider.DetailOf(err),
		})
	}
	return protocol.NewResult(d.namespace, req.RequestID, result)
}

// invoke calls fn, converting a panic into a provider error carrying the stack.
func invoke(ctx context.Context, fn registry.Method, args []interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = provider.NewError(fmt.Sprintf("panic: %v", r), string(debug.Stack()))
		}
	}()
	return fn(ctx, args)
}

// encodeResponse serializes resp. A result the codec cannot encode is
// replaced by a provider error so the caller still gets an answer.
func (d *Dispatcher) encodeResponse(resp *protocol.Response) ([]byte, *protocol.Response, error) {
	data, err := protocol.Encode(d.codec, resp)
	if err == nil {
		return data, resp, nil
	}
	slog.Warn(fmt.Sprintf("%s - result of %s not serializable: %v", logPrefix, resp.RequestID, err))
	resp = protocol.NewFailure(d.namespace, resp.RequestID, &protocol.ErrorDetail{
		Code:    protocol.CodeProviderError,
		Message: "result is not serializable",
		Detail:  err.Error(),
	})
	data, err = protocol.Encode(d.codec, resp)
	return data, resp, err
}

func (d *Dispatcher) publish(ctx context.Context, req *protocol.Request, resp *protocol.Response, started time.Time) {
	event := &events.CallEvent{
		RequestID:  req.RequestID,
		Method:     req.Method,
		Ok:         resp.Ok,
		DurationMs: time.Since(started).Milliseconds(),
		Origin:     d.origin,
		Timestamp:  started.UTC().Format(time.RFC3339),
	}
	if resp.Error != nil {
		event.Code = resp.Error.Code
		event.Message = resp.Error.Message
	}
	if err := d.publisher.PublishCall(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish call event for %s: %v", logPrefix, req.RequestID, err))
	}
}
