package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/capability-bridge/pkg/channel"
	"github.com/morezero/capability-bridge/pkg/protocol"
)

const routerLogPrefix = "dispatcher:router"

// ErrAttached is returned by Attach when the dispatcher is already listening.
var ErrAttached = errors.New("dispatcher already attached")

// Attach starts listening on the channel and announces the provider. ctx
// bounds every method invocation started while attached.
func (d *Dispatcher) Attach(ctx context.Context) error {
	d.mu.Lock()
	if d.attached {
		d.mu.Unlock()
		return ErrAttached
	}
	d.attached = true
	d.ctx = ctx
	d.mu.Unlock()

	sub, err := d.ch.Listen(channel.FromOrigin(d.origin, d.handle))
	if err != nil {
		d.mu.Lock()
		d.attached = false
		d.mu.Unlock()
		return fmt.Errorf("%s - failed to listen: %w", routerLogPrefix, err)
	}

	d.mu.Lock()
	d.sub = sub
	d.mu.Unlock()

	if err := d.Reannounce(ctx); err != nil {
		d.mu.Lock()
		d.attached = false
		d.sub = nil
		d.mu.Unlock()
		if cerr := sub.Close(); cerr != nil {
			slog.Warn(fmt.Sprintf("%s - close after failed announce: %v", routerLogPrefix, cerr))
		}
		return err
	}
	slog.Info(fmt.Sprintf("%s - Attached with %d methods on origin %q", routerLogPrefix, d.registry.Len(), d.origin))
	return nil
}

// Detach stops listening and waits until every in-flight request has posted
// its response.
func (d *Dispatcher) Detach() error {
	d.mu.Lock()
	if !d.attached {
		d.mu.Unlock()
		return nil
	}
	d.attached = false
	sub := d.sub
	d.sub = nil
	d.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Close()
	}
	d.inflight.Wait()
	slog.Info(fmt.Sprintf("%s - Detached", routerLogPrefix))
	return err
}

// Attached reports whether the dispatcher is listening.
func (d *Dispatcher) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

// Reannounce posts a ready message carrying the method surface. Attach and
// probes call it; transports call it again after reconnecting. It is a no-op
// once detached.
func (d *Dispatcher) Reannounce(ctx context.Context) error {
	if !d.Attached() {
		return nil
	}
	data, err := protocol.Encode(d.codec, protocol.NewReady(d.namespace, d.protocolVersion, d.registry.Names()))
	if err != nil {
		return err
	}
	if err := d.ch.Post(ctx, channel.Envelope{Origin: d.origin, Data: data}); err != nil {
		return fmt.Errorf("%s - failed to announce: %w", routerLogPrefix, err)
	}
	return nil
}

func (d *Dispatcher) handle(env channel.Envelope) {
	msg, err := protocol.Decode(d.codec, d.namespace, env.Data)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - ignoring payload: %v", routerLogPrefix, err))
		return
	}

	switch m := msg.(type) {
	case *protocol.Request:
		d.mu.Lock()
		if !d.attached {
			d.mu.Unlock()
			return
		}
		ctx := d.ctx
		d.inflight.Add(1)
		d.mu.Unlock()

		go func() {
			defer d.inflight.Done()
			d.serve(ctx, m)
		}()
	case *protocol.Probe:
		d.mu.Lock()
		ctx, attached := d.ctx, d.attached
		d.mu.Unlock()
		if !attached {
			return
		}
		if err := d.Reannounce(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - probe reply failed: %v", routerLogPrefix, err))
		}
	}
}

// serve dispatches one request and posts its response.
func (d *Dispatcher) serve(ctx context.Context, req *protocol.Request) {
	started := time.Now()
	resp := d.Dispatch(ctx, req)

	data, resp, err := d.encodeResponse(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response for %s: %v", routerLogPrefix, req.RequestID, err))
		return
	}

	// The response is posted even if ctx was cancelled meanwhile.
	if err := d.ch.Post(context.WithoutCancel(ctx), channel.Envelope{Origin: d.origin, Data: data}); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to post response for %s: %v", routerLogPrefix, req.RequestID, err))
	}
	d.publish(context.WithoutCancel(ctx), req, resp, started)
}
