// Package client opens the calling side of the bridge from configuration.
package client

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/capability-bridge/internal/config"
	"github.com/morezero/capability-bridge/pkg/bootstrap"
	"github.com/morezero/capability-bridge/pkg/channel"
	"github.com/morezero/capability-bridge/pkg/commsutil"
	"github.com/morezero/capability-bridge/pkg/rpc"
	"github.com/morezero/capability-bridge/pkg/snapshot"
)

const logPrefix = "client:session"

// Session bundles a connected RPC client with its typed wrappers and an
// availability cache seeded from the manifest.
type Session struct {
	nc       *comms.Conn
	Client   *rpc.Client
	Caps     *rpc.Capabilities
	Snapshot *snapshot.Cache
	Manifest *bootstrap.ResolvedManifest
}

// Open connects to COMMS and attaches an RPC client to the bridge subject.
// It does not wait for the provider; calls do that on their own.
func Open(ctx context.Context, cfg *config.Config) (*Session, error) {
	if err := cfg.ValidateForClient(); err != nil {
		return nil, err
	}
	manifest, err := bootstrap.LoadManifest(cfg.ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load manifest: %w", logPrefix, err)
	}
	codec, err := commsutil.CodecByName(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}

	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-client")
	if err != nil {
		return nil, err
	}
	return attach(ctx, nc, cfg, codec, bootstrap.CreateResolvedManifest(manifest))
}

func attach(ctx context.Context, nc *comms.Conn, cfg *config.Config, codec commsutil.Codec, manifest *bootstrap.ResolvedManifest) (*Session, error) {
	c := rpc.New(channel.NewComms(nc, cfg.BridgeSubject()), rpc.Options{
		Origin:             cfg.Origin,
		Namespace:          cfg.Namespace,
		Codec:              codec,
		CallTimeout:        cfg.CallTimeout,
		PollInterval:       cfg.PollInterval,
		BootstrapCeiling:   cfg.BootstrapCeiling,
		ProtocolConstraint: cfg.ProtocolConstraint,
	})
	if err := c.Attach(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("%s - failed to attach: %w", logPrefix, err)
	}

	caps := rpc.NewCapabilities(c)
	slog.Debug(fmt.Sprintf("%s - Session %s attached to %s", logPrefix, c.Session(), cfg.BridgeSubject()))
	return &Session{
		nc:       nc,
		Client:   c,
		Caps:     caps,
		Snapshot: snapshot.New(caps, manifest.CapabilityNames()),
		Manifest: manifest,
	}, nil
}

// Close detaches the client, rejecting pending calls, and closes the connection.
func (s *Session) Close() {
	if err := s.Client.Detach(); err != nil {
		slog.Warn(fmt.Sprintf("%s - detach: %v", logPrefix, err))
	}
	s.nc.Close()
}
