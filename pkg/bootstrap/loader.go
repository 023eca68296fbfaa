package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/morezero/capability-bridge/pkg/protocol"
	"github.com/morezero/capability-bridge/pkg/semver"
)

const logPrefix = "bootstrap:loader"

// LoadManifest loads the manifest from file paths or environment.
// It tries paths in order: first any paths passed in, then BRIDGE_MANIFEST_FILE env, then defaults.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
// Files that cannot be read, parsed or validated are skipped with a warning.
func LoadManifest(paths ...string) (*Manifest, error) {
	all := make([]string, 0, len(paths)+5)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("BRIDGE_MANIFEST_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/manifest.json", "config/manifest.yaml", "manifest.json", "manifest.yaml")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		m, err := parseManifest(p, data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse manifest file %s: %v", logPrefix, p, err))
			continue
		}
		if err := m.Validate(); err != nil {
			slog.Warn(fmt.Sprintf("%s - Invalid manifest file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded manifest from %s", logPrefix, p))
		return m, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default manifest", logPrefix))
	return GetDefaultManifest(), nil
}

func parseManifest(path string, data []byte) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// Validate checks that the manifest is usable. A missing protocol version
// defaults to the current one.
func (m *Manifest) Validate() error {
	if m.ProtocolVersion == "" {
		m.ProtocolVersion = protocol.Version
	}
	if _, err := semver.Satisfies(m.ProtocolVersion, ""); err != nil {
		return fmt.Errorf("%s - %w", logPrefix, err)
	}
	if len(m.Capabilities) == 0 {
		return fmt.Errorf("%s - manifest %q declares no capabilities", logPrefix, m.Name)
	}

	owners := make(map[string]string)
	names := make([]string, 0, len(m.Capabilities))
	for name := range m.Capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := m.Capabilities[name]
		if len(c.Methods) == 0 {
			return fmt.Errorf("%s - capability %q has no methods", logPrefix, name)
		}
		for _, method := range c.Methods {
			if prev, ok := owners[method]; ok {
				return fmt.Errorf("%s - method %q declared by both %q and %q", logPrefix, method, prev, name)
			}
			owners[method] = name
		}
	}
	for alias, target := range m.Aliases {
		if _, ok := m.Capabilities[target]; !ok {
			return fmt.Errorf("%s - alias %q points to unknown capability %q", logPrefix, alias, target)
		}
	}
	return nil
}

// GetDefaultManifest returns the embedded fallback manifest.
func GetDefaultManifest() *Manifest {
	return &Manifest{
		Name:            "capability-bridge",
		Version:         "1.0.0",
		Description:     "Default language capability manifest",
		ProtocolVersion: protocol.Version,
		Capabilities: map[string]ManifestCapability{
			"languageModel": {
				Description: "Free-form prompting of the local language model",
				Methods:     []string{"prompt"},
			},
			"summarizer": {
				Description: "Condenses text into a summary",
				Methods:     []string{"summarize"},
			},
			"writer": {
				Description: "Drafts new text for a writing task",
				Methods:     []string{"write"},
			},
			"rewriter": {
				Description: "Rephrases existing text",
				Methods:     []string{"rewrite"},
			},
		},
		Aliases: map[string]string{
			"llm": "languageModel",
		},
	}
}

// CreateResolvedManifest builds a ResolvedManifest for fast lookups.
func CreateResolvedManifest(m *Manifest) *ResolvedManifest {
	caps := make(map[string]*ManifestCapability, len(m.Capabilities))
	owners := make(map[string]string)
	for name, c := range m.Capabilities {
		c := c
		caps[name] = &c
		for _, method := range c.Methods {
			owners[method] = name
		}
	}

	aliases := make(map[string]string, len(m.Aliases))
	for alias, target := range m.Aliases {
		aliases[alias] = target
	}

	return &ResolvedManifest{
		name:            m.Name,
		version:         m.Version,
		protocolVersion: m.ProtocolVersion,
		capabilities:    caps,
		aliases:         aliases,
		methodOwner:     owners,
	}
}
