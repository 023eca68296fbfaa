package channel

import (
	"context"
	"fmt"

	comms "github.com/nats-io/nats.go"
)

const commsLogPrefix = "channel:comms"

// OriginHeader carries the poster's environment on COMMS messages.
const OriginHeader = "Bridge-Origin"

// Comms is a broadcast channel on a COMMS subject. Core subjects fan every
// publish out to every subscriber, matching the shared-channel semantics.
type Comms struct {
	nc      *comms.Conn
	subject string
}

// NewComms creates a channel bound to subject on nc.
func NewComms(nc *comms.Conn, subject string) *Comms {
	return &Comms{nc: nc, subject: subject}
}

// Subject returns the bound subject.
func (c *Comms) Subject() string {
	return c.subject
}

// Post publishes env on the subject.
func (c *Comms) Post(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := comms.NewMsg(c.subject)
	msg.Header.Set(OriginHeader, env.Origin)
	msg.Data = env.Data
	if err := c.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("%s - failed to publish to %s: %w", commsLogPrefix, c.subject, err)
	}
	return nil
}

// Listen subscribes h to the subject.
func (c *Comms) Listen(h Handler) (Subscription, error) {
	sub, err := c.nc.Subscribe(c.subject, func(msg *comms.Msg) {
		h(Envelope{Origin: msg.Header.Get(OriginHeader), Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", commsLogPrefix, c.subject, err)
	}
	return commsSubscription{sub: sub}, nil
}

type commsSubscription struct {
	sub *comms.Subscription
}

func (s commsSubscription) Close() error {
	if err := s.sub.Unsubscribe(); err != nil && err != comms.ErrConnectionClosed && err != comms.ErrBadSubscription {
		return err
	}
	return nil
}
