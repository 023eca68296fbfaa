// Package server orchestrates the privileged side of the bridge: COMMS, the
// call journal, the local model provider, the dispatcher and HTTP health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/capability-bridge/internal/config"
	"github.com/morezero/capability-bridge/pkg/bootstrap"
	"github.com/morezero/capability-bridge/pkg/channel"
	"github.com/morezero/capability-bridge/pkg/commsutil"
	"github.com/morezero/capability-bridge/pkg/db"
	"github.com/morezero/capability-bridge/pkg/dispatcher"
	"github.com/morezero/capability-bridge/pkg/events"
	"github.com/morezero/capability-bridge/pkg/protocol"
	"github.com/morezero/capability-bridge/pkg/provider/localmodel"
	"github.com/morezero/capability-bridge/pkg/registry"
)

const logPrefix = "server:server"

// availabilitySource reports live capability availability.
type availabilitySource interface {
	Availability(ctx context.Context) map[string]protocol.Availability
}

// callJournal is the part of db.Journal the HTTP handlers use.
type callJournal interface {
	Ping(ctx context.Context) error
	RecentCalls(ctx context.Context, limit int, method string) ([]db.CallRecord, error)
}

// Server is the capability-bridge provider orchestrator.
type Server struct {
	cfg        *config.Config
	manifest   *bootstrap.ResolvedManifest
	embedded   *commsutil.EmbeddedServer
	nc         *comms.Conn
	pool       *pgxpool.Pool
	journal    callJournal
	model      availabilitySource
	disp       *dispatcher.Dispatcher
	httpServer *http.Server

	// commsUp reports COMMS connectivity; nil means no connection.
	commsUp func() bool
	// announcer is set once the dispatcher is attached and read from the
	// COMMS reconnect callback.
	announcer atomic.Pointer[dispatcher.Dispatcher]
}

// HealthChecks is the per-dependency part of HealthOutput.
type HealthChecks struct {
	Comms    bool  `json:"comms"`
	Attached bool  `json:"attached"`
	Journal  *bool `json:"journal,omitempty"`
}

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status       string                           `json:"status"`
	Checks       HealthChecks                     `json:"checks"`
	Capabilities map[string]protocol.Availability `json:"capabilities"`
	Timestamp    string                           `json:"timestamp"`
}

// Run loads configuration, starts the server, blocks until SIGINT or SIGTERM,
// then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := Start(ctx, cfg)
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Start wires every component and attaches the dispatcher to the channel. The
// returned server is not yet serving HTTP.
func Start(ctx context.Context, cfg *config.Config) (_ *Server, err error) {
	if err := cfg.ValidateForServe(); err != nil {
		return nil, err
	}
	slog.Info(fmt.Sprintf("%s - Starting capability-bridge provider", logPrefix))

	s := &Server{cfg: cfg}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	// Step 1: Load manifest
	manifest, err := bootstrap.LoadManifest(cfg.ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load manifest: %w", logPrefix, err)
	}
	s.manifest = bootstrap.CreateResolvedManifest(manifest)
	slog.Info(fmt.Sprintf("%s - Manifest %s@%s with %d capabilities", logPrefix, s.manifest.Name(), s.manifest.Version(), len(s.manifest.CapabilityNames())))

	// Step 2: Connect to COMMS, starting an embedded server if asked to
	commsURL := cfg.COMMSURL
	if cfg.EmbeddedComms {
		s.embedded, err = commsutil.StartEmbedded(cfg.CommsPort)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to start embedded COMMS: %w", logPrefix, err)
		}
		commsURL = s.embedded.ClientURL()
	}
	s.nc, err = commsutil.Connect(commsURL, cfg.COMMSName, commsutil.OnReconnect(func(*comms.Conn) {
		s.reannounce(ctx)
	}))
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	s.commsUp = s.nc.IsConnected

	// Step 3: Call journal, only with a database
	var journal *db.Journal
	if cfg.JournalEnabled() {
		s.pool, err = db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		if cfg.RunMigrations {
			migrations, err := db.LoadMigrations(cfg.MigrationPath)
			if err != nil {
				return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if _, err := db.RunMigrations(ctx, s.pool, migrations); err != nil {
				return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		journal = db.NewJournal(s.pool)
		s.journal = journal
	} else {
		slog.Info(fmt.Sprintf("%s - DATABASE_URL not set, call journal disabled", logPrefix))
	}

	// Step 4: Provider and method whitelist
	model := localmodel.New(localmodel.Config{
		BaseURL:        cfg.ModelURL,
		Model:          cfg.ModelName,
		Capabilities:   modelCapabilities(s.manifest),
		MaxConcurrency: cfg.ModelMaxConcurrency,
		RequestTimeout: cfg.ModelRequestTimeout,
	})
	s.model = model
	exposed := append([]string{protocol.MethodPing, protocol.MethodAvailability}, s.manifest.Methods()...)
	reg := registry.FromProvider(model, exposed...)

	// Step 5: Dispatcher on the bridge channel
	codec, err := commsutil.CodecByName(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	publishers := events.MultiPublisher{
		events.NewCommsPublisher(s.nc, &events.CommsPublisherOpts{GlobalSubject: cfg.CallEventSubject}),
	}
	if journal != nil {
		publishers = append(publishers, journal)
	}
	s.disp = dispatcher.NewDispatcher(dispatcher.Params{
		Registry:        reg,
		Channel:         channel.NewComms(s.nc, cfg.BridgeSubject()),
		Codec:           codec,
		Origin:          cfg.Origin,
		Namespace:       cfg.Namespace,
		ProtocolVersion: s.manifest.ProtocolVersion(),
		Publisher:       publishers,
	})
	if err := s.disp.Attach(ctx); err != nil {
		return nil, fmt.Errorf("%s - failed to attach dispatcher: %w", logPrefix, err)
	}
	s.announcer.Store(s.disp)
	slog.Info(fmt.Sprintf("%s - Serving %v on %s (%s)", logPrefix, reg.Names(), cfg.BridgeSubject(), codec.Name()))

	s.httpServer = &http.Server{Addr: cfg.Addr(), Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

// reannounce repeats the ready message after COMMS reconnects, since clients
// that probed during the outage never saw an answer.
func (s *Server) reannounce(ctx context.Context) {
	d := s.announcer.Load()
	if d == nil {
		return
	}
	if err := d.Reannounce(ctx); err != nil {
		slog.Warn(fmt.Sprintf("%s - reannounce after reconnect: %v", logPrefix, err))
	}
}

// Serve runs the HTTP health server until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info(fmt.Sprintf("%s - Shutting down", logPrefix))
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	slog.Info(fmt.Sprintf("%s - Capability bridge provider is ready", logPrefix))
	err := g.Wait()
	s.Close()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}

// Close detaches the dispatcher, waiting for in-flight calls, and releases
// every connection.
func (s *Server) Close() {
	if s.disp != nil {
		if err := s.disp.Detach(); err != nil {
			slog.Warn(fmt.Sprintf("%s - detach: %v", logPrefix, err))
		}
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
		s.nc = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	if s.embedded != nil {
		s.embedded.Shutdown()
		s.embedded = nil
	}
}

// modelCapabilities maps manifest capabilities onto provider capabilities.
func modelCapabilities(m *bootstrap.ResolvedManifest) map[string]localmodel.Capability {
	out := make(map[string]localmodel.Capability)
	for _, name := range m.CapabilityNames() {
		c := m.Get(name)
		out[name] = localmodel.Capability{Methods: c.Methods, Model: c.Model}
	}
	return out
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", s.handleReady())
	mux.HandleFunc("/capabilities", s.handleCapabilities())
	mux.HandleFunc("/calls", s.handleCalls())
	return mux
}

// health collects the status of every dependency. COMMS or journal failures
// make the provider unhealthy; no ready capability only degrades it.
func (s *Server) health(ctx context.Context) *HealthOutput {
	h := &HealthOutput{
		Capabilities: map[string]protocol.Availability{},
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	h.Checks.Comms = s.commsUp != nil && s.commsUp()
	h.Checks.Attached = s.disp != nil && s.disp.Attached()
	if s.journal != nil {
		ok := s.journal.Ping(ctx) == nil
		h.Checks.Journal = &ok
	}
	if s.model != nil {
		h.Capabilities = s.model.Availability(ctx)
	}

	anyReady := false
	for _, a := range h.Capabilities {
		anyReady = anyReady || a.Available
	}
	switch {
	case !h.Checks.Comms || !h.Checks.Attached || (h.Checks.Journal != nil && !*h.Checks.Journal):
		h.Status = "unhealthy"
	case !anyReady:
		h.Status = "degraded"
	default:
		h.Status = "healthy"
	}
	return h
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		h := s.health(ctx)
		status := http.StatusOK
		if h.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	}
}

func (s *Server) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.disp == nil || !s.disp.Attached() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// capabilityView is one entry of the /capabilities response.
type capabilityView struct {
	Name         string                `json:"name"`
	Description  string                `json:"description,omitempty"`
	Methods      []string              `json:"methods"`
	Model        string                `json:"model,omitempty"`
	Availability protocol.Availability `json:"availability"`
}

func (s *Server) handleCapabilities() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		live := map[string]protocol.Availability{}
		if s.model != nil {
			live = s.model.Availability(ctx)
		}

		out := make([]capabilityView, 0, len(s.manifest.CapabilityNames()))
		for _, name := range s.manifest.CapabilityNames() {
			c := s.manifest.Get(name)
			a, ok := live[name]
			if !ok {
				a = protocol.Unknown()
			}
			out = append(out, capabilityView{
				Name:         name,
				Description:  c.Description,
				Methods:      c.Methods,
				Model:        c.Model,
				Availability: a,
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"name":            s.manifest.Name(),
			"version":         s.manifest.Version(),
			"protocolVersion": s.manifest.ProtocolVersion(),
			"capabilities":    out,
		})
	}
}

func (s *Server) handleCalls() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.journal == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "call journal disabled"})
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		calls, err := s.journal.RecentCalls(r.Context(), limit, r.URL.Query().Get("method"))
		if err != nil {
			slog.Error(fmt.Sprintf("%s - recent calls: %v", logPrefix, err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read call journal"})
			return
		}
		writeJSON(w, http.StatusOK, calls)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
	}
}
