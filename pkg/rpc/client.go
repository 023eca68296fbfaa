// Package rpc turns request/response exchanges over a broadcast channel into
// awaitable calls. It owns request correlation, per-call timeouts and the
// bootstrap handshake with the provider side.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/capability-bridge/pkg/channel"
	"github.com/morezero/capability-bridge/pkg/commsutil"
	"github.com/morezero/capability-bridge/pkg/protocol"
	"github.com/morezero/capability-bridge/pkg/semver"
)

const logPrefix = "rpc:client"

// Defaults applied by New for zero-valued Options fields.
const (
	DefaultCallTimeout        = 30 * time.Second
	DefaultPollInterval       = 50 * time.Millisecond
	DefaultBootstrapCeiling   = 5 * time.Second
	DefaultProtocolConstraint = "^1.0.0"
)

// Options configures a Client.
type Options struct {
	// Origin is the environment identifier trusted on the channel. Envelopes
	// from any other origin are dropped.
	Origin string
	// Namespace tags bridge messages. Defaults to protocol.DefaultNamespace.
	Namespace string
	// Codec serializes messages. Defaults to JSON.
	Codec commsutil.Codec
	// CallTimeout bounds each call from the moment its request is posted.
	CallTimeout time.Duration
	// PollInterval is the spacing of bootstrap probes.
	PollInterval time.Duration
	// BootstrapCeiling is how long bootstrap waits for a provider before
	// failing with ErrBridgeUnavailable.
	BootstrapCeiling time.Duration
	// ProtocolConstraint is the semver constraint a provider's announced
	// protocol version must satisfy.
	ProtocolConstraint string
}

type state int

const (
	stateIdle state = iota
	stateBootstrapping
	stateReady
	stateFailed
	stateClosed
)

// outcome is what settles a pending call: a response or a local error.
type outcome struct {
	resp *protocol.Response
	err  error
}

type pendingCall struct {
	method  string
	outcome chan outcome
}

// Client is the isolated-side correlation layer.
type Client struct {
	ch      channel.Channel
	opts    Options
	session string
	counter atomic.Uint64

	mu              sync.Mutex
	state           state
	sub             channel.Subscription
	pending         map[string]*pendingCall
	settled         chan struct{}
	bootErr         error
	methods         []string
	providerVersion string
	stop            chan struct{}
}

// New creates a client bound to ch. Call Attach before issuing calls.
func New(ch channel.Channel, opts Options) *Client {
	if opts.Namespace == "" {
		opts.Namespace = protocol.DefaultNamespace
	}
	if opts.Codec == nil {
		opts.Codec = commsutil.JSON
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BootstrapCeiling <= 0 {
		opts.BootstrapCeiling = DefaultBootstrapCeiling
	}
	if opts.ProtocolConstraint == "" {
		opts.ProtocolConstraint = DefaultProtocolConstraint
	}
	return &Client{
		ch:      ch,
		opts:    opts,
		session: uuid.NewString(),
		pending: make(map[string]*pendingCall),
		settled: make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// Session returns the identifier prefixed to every request id of this client.
func (c *Client) Session() string {
	return c.session
}

// Attach subscribes to the channel and starts the bootstrap handshake in the
// background. Use WaitReady to observe its outcome; Call waits implicitly.
func (c *Client) Attach(ctx context.Context) error {
	if err := semver.ValidateConstraint(c.opts.ProtocolConstraint); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return ErrAlreadyAttached
	}
	c.state = stateBootstrapping
	c.mu.Unlock()

	sub, err := c.ch.Listen(channel.FromOrigin(c.opts.Origin, c.handle))
	if err != nil {
		c.conclude(stateFailed, fmt.Errorf("%s - failed to listen: %w", logPrefix, err))
		return fmt.Errorf("%s - failed to listen: %w", logPrefix, err)
	}

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		sub.Close()
		return ErrBridgeClosed
	}
	c.sub = sub
	c.mu.Unlock()

	go c.bootstrap(ctx)
	return nil
}

// bootstrap probes on every poll interval until a compatible provider
// announces itself or the ceiling elapses.
func (c *Client) bootstrap(ctx context.Context) {
	ceiling := time.NewTimer(c.opts.BootstrapCeiling)
	defer ceiling.Stop()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	c.probe(ctx)
	for {
		select {
		case <-c.settled:
			return
		case <-c.stop:
			return
		case <-ctx.Done():
			c.conclude(stateFailed, fmt.Errorf("%w: %v", ErrBridgeUnavailable, ctx.Err()))
			return
		case <-ceiling.C:
			if c.conclude(stateFailed, ErrBridgeUnavailable) {
				slog.Error(fmt.Sprintf("%s - no provider after %s, bridge unavailable", logPrefix, c.opts.BootstrapCeiling))
			}
			return
		case <-ticker.C:
			c.probe(ctx)
		}
	}
}

func (c *Client) probe(ctx context.Context) {
	data, err := protocol.Encode(c.opts.Codec, protocol.NewProbe(c.opts.Namespace))
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode probe: %v", logPrefix, err))
		return
	}
	if err := c.ch.Post(ctx, channel.Envelope{Origin: c.opts.Origin, Data: data}); err != nil {
		slog.Debug(fmt.Sprintf("%s - probe not posted: %v", logPrefix, err))
	}
}

// conclude ends bootstrap with the given terminal state. It reports whether
// this call was the one that ended it.
func (c *Client) conclude(to state, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateBootstrapping {
		return false
	}
	c.state = to
	c.bootErr = err
	close(c.settled)
	return true
}

// WaitReady blocks until bootstrap has concluded. It returns nil once a
// provider is ready, ErrBridgeUnavailable if none answered within the
// ceiling, or ctx's error.
func (c *Client) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st == stateIdle {
		return ErrNotAttached
	}

	select {
	case <-c.settled:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return ErrBridgeClosed
	}
	return c.bootErr
}

// Methods returns the method names announced by the provider, or nil before
// the bridge is ready.
func (c *Client) Methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.methods...)
}

// ProviderVersion returns the protocol version announced by the provider.
func (c *Client) ProviderVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.providerVersion
}

// Pending reports the number of calls awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Call invokes method on the provider side and waits for its result. The call
// settles exactly once: with the matching response, a *TimeoutError after
// CallTimeout, ctx's error, or ErrBridgeClosed if the client detaches first.
// Provider failures are returned as *RemoteError.
func (c *Client) Call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	if err := c.WaitReady(ctx); err != nil {
		return nil, err
	}

	id := c.nextID()
	pc := &pendingCall{method: method, outcome: make(chan outcome, 1)}

	data, err := protocol.Encode(c.opts.Codec, protocol.NewRequest(c.opts.Namespace, id, method, args))
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode arguments of %s: %w", logPrefix, method, err)
	}

	// Registered before posting so a fast response always finds its entry.
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil, ErrBridgeClosed
	}
	c.pending[id] = pc
	c.mu.Unlock()

	if err := c.ch.Post(ctx, channel.Envelope{Origin: c.opts.Origin, Data: data}); err != nil {
		if c.take(id) != nil {
			return nil, fmt.Errorf("%s - failed to post %s: %w", logPrefix, method, err)
		}
		return pc.settle(<-pc.outcome)
	}
	slog.Debug(fmt.Sprintf("%s - posted %s id=%s", logPrefix, method, id))

	timer := time.NewTimer(c.opts.CallTimeout)
	defer timer.Stop()

	select {
	case o := <-pc.outcome:
		return pc.settle(o)
	case <-timer.C:
		if c.take(id) != nil {
			slog.Warn(fmt.Sprintf("%s - %s id=%s timed out after %s", logPrefix, method, id, c.opts.CallTimeout))
			return nil, &TimeoutError{Method: method, RequestID: id, After: c.opts.CallTimeout}
		}
	case <-ctx.Done():
		if c.take(id) != nil {
			return nil, ctx.Err()
		}
	}
	// Another path removed the entry first; its outcome is already buffered.
	return pc.settle(<-pc.outcome)
}

// CallInto is Call followed by decoding the result into out.
func (c *Client) CallInto(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	result, err := c.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	data, err := c.opts.Codec.Marshal(result)
	if err != nil {
		return fmt.Errorf("%s - failed to re-encode result of %s: %w", logPrefix, method, err)
	}
	if err := c.opts.Codec.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s - failed to decode result of %s into %T: %w", logPrefix, method, out, err)
	}
	return nil
}

func (pc *pendingCall) settle(o outcome) (interface{}, error) {
	if o.err != nil {
		return nil, o.err
	}
	if !o.resp.Ok {
		return nil, newRemoteError(pc.method, o.resp.Error)
	}
	return o.resp.Result, nil
}

// take removes and returns the pending entry for id. Whoever takes the entry
// owns its settlement.
func (c *Client) take(id string) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return pc
}

func (c *Client) nextID() string {
	return fmt.Sprintf("%s-%d-%d", c.session, c.counter.Add(1), time.Now().UnixMilli())
}

func (c *Client) handle(env channel.Envelope) {
	msg, err := protocol.Decode(c.opts.Codec, c.opts.Namespace, env.Data)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - ignoring payload: %v", logPrefix, err))
		return
	}

	switch m := msg.(type) {
	case *protocol.Response:
		pc := c.take(m.RequestID)
		if pc == nil {
			slog.Debug(fmt.Sprintf("%s - no pending call for response %s", logPrefix, m.RequestID))
			return
		}
		pc.outcome <- outcome{resp: m}
	case *protocol.Ready:
		c.onReady(m)
	}
}

func (c *Client) onReady(m *protocol.Ready) {
	ok, err := semver.Satisfies(m.ProtocolVersion, c.opts.ProtocolConstraint)
	if err != nil || !ok {
		slog.Warn(fmt.Sprintf("%s - ignoring provider with protocol %q (want %s): %v", logPrefix, m.ProtocolVersion, c.opts.ProtocolConstraint, err))
		return
	}

	c.mu.Lock()
	switch c.state {
	case stateBootstrapping:
		c.state = stateReady
		close(c.settled)
		slog.Info(fmt.Sprintf("%s - provider ready, protocol %s, %d methods", logPrefix, m.ProtocolVersion, len(m.Methods)))
	case stateReady:
		// Re-announcement, e.g. after a provider restart.
	default:
		c.mu.Unlock()
		return
	}
	c.methods = append([]string(nil), m.Methods...)
	c.providerVersion = m.ProtocolVersion
	c.mu.Unlock()
}

// Detach unsubscribes from the channel and rejects every pending call with
// ErrBridgeClosed. The client cannot be reattached.
func (c *Client) Detach() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	if c.state == stateIdle || c.state == stateBootstrapping {
		c.bootErr = ErrBridgeClosed
		close(c.settled)
	}
	c.state = stateClosed
	close(c.stop)
	sub := c.sub
	c.sub = nil
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, pc := range pending {
		pc.outcome <- outcome{err: ErrBridgeClosed}
	}
	if len(pending) > 0 {
		slog.Info(fmt.Sprintf("%s - rejected %d pending calls on detach", logPrefix, len(pending)))
	}

	if sub != nil {
		return sub.Close()
	}
	return nil
}
