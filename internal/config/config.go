// Package config provides bridge configuration loaded from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/capability-bridge/pkg/commsutil"
	"github.com/morezero/capability-bridge/pkg/semver"
)

const logPrefix = "config:LoadConfig"

// Config holds capability-bridge configuration.
type Config struct {
	// COMMS: connect to NATS at COMMSURL, or start an embedded server.
	COMMSURL      string `envconfig:"BRIDGE_COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName     string `envconfig:"BRIDGE_SERVICE_NAME" default:"capability-bridge"`
	EmbeddedComms bool   `envconfig:"BRIDGE_EMBEDDED_COMMS" default:"false"`
	CommsPort     int    `envconfig:"BRIDGE_COMMS_PORT" default:"4222"`

	// Bridge channel and protocol
	Origin             string `envconfig:"BRIDGE_ORIGIN" default:"app://capability-bridge"`
	// Subject is the shared broadcast subject; empty derives one from Origin.
	Subject            string `envconfig:"BRIDGE_SUBJECT"`
	Namespace          string `envconfig:"BRIDGE_NAMESPACE" default:"capability-bridge/v1"`
	Codec              string `envconfig:"BRIDGE_CODEC" default:"json"`
	ProtocolConstraint string `envconfig:"BRIDGE_PROTOCOL_CONSTRAINT" default:"^1.0.0"`

	// Timeouts
	CallTimeout      time.Duration `envconfig:"BRIDGE_CALL_TIMEOUT" default:"30s"`
	PollInterval     time.Duration `envconfig:"BRIDGE_POLL_INTERVAL" default:"50ms"`
	BootstrapCeiling time.Duration `envconfig:"BRIDGE_BOOTSTRAP_CEILING" default:"5s"`

	// Manifest
	ManifestFile string `envconfig:"BRIDGE_MANIFEST_FILE"`

	// Local model host
	ModelURL            string        `envconfig:"MODEL_URL" default:"http://127.0.0.1:11434"`
	ModelName           string        `envconfig:"MODEL_NAME" default:"llama3"`
	ModelMaxConcurrency int           `envconfig:"MODEL_MAX_CONCURRENCY" default:"2"`
	ModelRequestTimeout time.Duration `envconfig:"MODEL_REQUEST_TIMEOUT" default:"120s"`

	// Call journal (disabled when DATABASE_URL is empty)
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// Call events
	CallEventSubject string `envconfig:"CALL_EVENT_SUBJECT" default:"bridge.calls"`

	// HTTP health endpoint
	HTTPAddr           string        `envconfig:"BRIDGE_HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables. Variables from
// envFiles (default ".env") are applied first without overriding the process
// environment; missing files are ignored.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%s - failed to load %s: %w", logPrefix, f, err)
		}
		slog.Debug(fmt.Sprintf("%s - Loaded environment from %s", logPrefix, f))
	}

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SlogLevel maps LOG_LEVEL onto a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidateForBridge checks the settings shared by both sides of the bridge.
func (c *Config) ValidateForBridge() error {
	if c.Origin == "" {
		return fmt.Errorf("%s - BRIDGE_ORIGIN is required", logPrefix)
	}
	if c.Namespace == "" {
		return fmt.Errorf("%s - BRIDGE_NAMESPACE is required", logPrefix)
	}
	if _, err := commsutil.CodecByName(c.Codec); err != nil {
		return fmt.Errorf("%s - BRIDGE_CODEC: %w", logPrefix, err)
	}
	if !c.EmbeddedComms && c.COMMSURL == "" {
		return fmt.Errorf("%s - BRIDGE_COMMS_URL is required unless BRIDGE_EMBEDDED_COMMS is set", logPrefix)
	}
	return nil
}

// ValidateForServe checks required config when running the provider side.
func (c *Config) ValidateForServe() error {
	if err := c.ValidateForBridge(); err != nil {
		return err
	}
	if c.ModelURL == "" {
		return fmt.Errorf("%s - MODEL_URL is required for serve", logPrefix)
	}
	if c.ModelMaxConcurrency <= 0 {
		return fmt.Errorf("%s - MODEL_MAX_CONCURRENCY must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	return nil
}

// ValidateForClient checks required config when calling through the bridge.
func (c *Config) ValidateForClient() error {
	if err := c.ValidateForBridge(); err != nil {
		return err
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%s - BRIDGE_CALL_TIMEOUT must be positive", logPrefix)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s - BRIDGE_POLL_INTERVAL must be positive", logPrefix)
	}
	if c.BootstrapCeiling < c.PollInterval {
		return fmt.Errorf("%s - BRIDGE_BOOTSTRAP_CEILING must be at least BRIDGE_POLL_INTERVAL", logPrefix)
	}
	if err := semver.ValidateConstraint(c.ProtocolConstraint); err != nil {
		return fmt.Errorf("%s - BRIDGE_PROTOCOL_CONSTRAINT: %w", logPrefix, err)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, journal).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// JournalEnabled reports whether calls should be recorded in the database.
func (c *Config) JournalEnabled() bool {
	return c.DatabaseURL != ""
}

// BridgeSubject returns the COMMS subject both sides of the bridge share.
// Without BRIDGE_SUBJECT every origin gets its own subject, so bridges for
// different origins never see each other's traffic.
func (c *Config) BridgeSubject() string {
	if c.Subject != "" {
		return c.Subject
	}
	return commsutil.BuildBridgeSubject(commsutil.SubjectBridge, c.Origin)
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}
