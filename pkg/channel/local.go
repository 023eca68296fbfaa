package channel

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when posting to or listening on a closed channel.
var ErrClosed = errors.New("channel closed")

// Local is an in-process broadcast channel. Each listener has its own
// unbounded mailbox drained by a dedicated goroutine, so Post never blocks on
// a slow listener and deliveries to one listener keep posting order.
type Local struct {
	mu        sync.RWMutex
	listeners map[uint64]*mailbox
	next      uint64
	closed    bool
}

// NewLocal creates an empty in-process channel.
func NewLocal() *Local {
	return &Local{listeners: make(map[uint64]*mailbox)}
}

// Post delivers env to every current listener.
func (l *Local) Post(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	for _, mb := range l.listeners {
		mb.push(env)
	}
	return nil
}

// Listen attaches h until the returned subscription is closed.
func (l *Local) Listen(h Handler) (Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	id := l.next
	l.next++
	mb := newMailbox(h)
	l.listeners[id] = mb
	go mb.run()
	return &localSubscription{local: l, id: id}, nil
}

// Listeners reports the number of attached listeners.
func (l *Local) Listeners() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.listeners)
}

// Close detaches every listener.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for id, mb := range l.listeners {
		mb.stop()
		delete(l.listeners, id)
	}
	return nil
}

func (l *Local) remove(id uint64) {
	l.mu.Lock()
	mb, ok := l.listeners[id]
	delete(l.listeners, id)
	l.mu.Unlock()
	if ok {
		mb.stop()
	}
}

type localSubscription struct {
	local *Local
	id    uint64
	once  sync.Once
}

func (s *localSubscription) Close() error {
	s.once.Do(func() { s.local.remove(s.id) })
	return nil
}

type mailbox struct {
	handler Handler
	mu      sync.Mutex
	items   []Envelope
	signal  chan struct{}
	done    chan struct{}
	stopped sync.Once
}

func newMailbox(h Handler) *mailbox {
	return &mailbox{
		handler: h,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (m *mailbox) push(env Envelope) {
	m.mu.Lock()
	m.items = append(m.items, env)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) stop() {
	m.stopped.Do(func() { close(m.done) })
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}
		for {
			m.mu.Lock()
			if len(m.items) == 0 {
				m.mu.Unlock()
				break
			}
			env := m.items[0]
			m.items[0] = Envelope{}
			m.items = m.items[1:]
			m.mu.Unlock()

			select {
			case <-m.done:
				return
			default:
			}
			m.handler(env)
		}
	}
}
