package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const embeddedLogPrefix = "commsutil:embedded"

// EmbeddedServer is an in-process COMMS server bound to the loopback interface.
// It lets both sides of a bridge share a local broadcast bus without an
// external deployment.
type EmbeddedServer struct {
	ns *commsserver.Server
}

// StartEmbedded starts an in-process COMMS server on 127.0.0.1:port. Port -1
// picks a random free port.
func StartEmbedded(port int) (*EmbeddedServer, error) {
	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create server: %w", embeddedLogPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("%s - server not ready for connections", embeddedLogPrefix)
	}

	slog.Info(fmt.Sprintf("%s - Embedded COMMS listening at %s", embeddedLogPrefix, ns.ClientURL()))
	return &EmbeddedServer{ns: ns}, nil
}

// ClientURL returns the URL clients connect to.
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
	slog.Info(fmt.Sprintf("%s - Embedded COMMS stopped", embeddedLogPrefix))
}
