// Package commsutil provides COMMS connection helpers, codecs and subject naming.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// Connection defaults shared by the bridge server and its clients.
const (
	ConnectTimeout = 10 * time.Second
	ReconnectWait  = 2 * time.Second
	MaxReconnects  = 60
)

// Connect opens a named COMMS connection to url. opts are applied after the
// bridge defaults, so they may override any of them.
func Connect(url, name string, opts ...comms.Option) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, url, name))

	all := append([]comms.Option{
		comms.Name(name),
		comms.Timeout(ConnectTimeout),
		comms.ReconnectWait(ReconnectWait),
		comms.MaxReconnects(MaxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - %s disconnected: %v", logPrefix, name, err))
		}),
		OnReconnect(nil),
		comms.ClosedHandler(func(*comms.Conn) {
			slog.Info(fmt.Sprintf("%s - %s connection closed", logPrefix, name))
		}),
	}, opts...)

	nc, err := comms.Connect(url, all...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

// OnReconnect logs every reconnect and then runs fn, if set. Subscriptions
// survive a reconnect but anything posted while disconnected is lost, so
// callers use fn to repeat announcements.
func OnReconnect(fn func(*comms.Conn)) comms.Option {
	return comms.ReconnectHandler(func(nc *comms.Conn) {
		slog.Info(fmt.Sprintf("%s - %s reconnected to %s", logPrefix, nc.Opts.Name, nc.ConnectedUrl()))
		if fn != nil {
			fn(nc)
		}
	})
}
