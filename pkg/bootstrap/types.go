// Package bootstrap loads the capability manifest shared by both sides of the bridge.
package bootstrap

import (
	"sort"

	"github.com/samber/lo"
)

// ManifestCapability is one capability entry in the manifest.
type ManifestCapability struct {
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Methods     []string `json:"methods" yaml:"methods"`
	// Model optionally overrides the configured model for this capability.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
}

// Manifest is the root manifest document.
type Manifest struct {
	Name            string                        `json:"name" yaml:"name"`
	Version         string                        `json:"version" yaml:"version"`
	Description     string                        `json:"description,omitempty" yaml:"description,omitempty"`
	ProtocolVersion string                        `json:"protocolVersion" yaml:"protocolVersion"`
	Capabilities    map[string]ManifestCapability `json:"capabilities" yaml:"capabilities"`
	Aliases         map[string]string             `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// ResolvedManifest provides fast lookup of manifest capabilities.
type ResolvedManifest struct {
	name            string
	version         string
	protocolVersion string
	capabilities    map[string]*ManifestCapability
	aliases         map[string]string
	methodOwner     map[string]string
}

// Get returns a capability by name or alias.
func (rm *ResolvedManifest) Get(name string) *ManifestCapability {
	if c, ok := rm.capabilities[name]; ok {
		return c
	}
	if resolved, ok := rm.aliases[name]; ok {
		return rm.capabilities[resolved]
	}
	return nil
}

// ResolveAlias resolves an alias to the capability name.
func (rm *ResolvedManifest) ResolveAlias(alias string) string {
	if resolved, ok := rm.aliases[alias]; ok {
		return resolved
	}
	return alias
}

// CapabilityNames returns the capability names in sorted order.
func (rm *ResolvedManifest) CapabilityNames() []string {
	names := lo.Keys(rm.capabilities)
	sort.Strings(names)
	return names
}

// Methods returns every method named by any capability, sorted.
func (rm *ResolvedManifest) Methods() []string {
	methods := lo.Keys(rm.methodOwner)
	sort.Strings(methods)
	return methods
}

// CapabilityFor returns the capability that owns method.
func (rm *ResolvedManifest) CapabilityFor(method string) (string, bool) {
	name, ok := rm.methodOwner[method]
	return name, ok
}

// Name returns the manifest name.
func (rm *ResolvedManifest) Name() string {
	return rm.name
}

// Version returns the manifest version.
func (rm *ResolvedManifest) Version() string {
	return rm.version
}

// ProtocolVersion returns the protocol version providers announce.
func (rm *ResolvedManifest) ProtocolVersion() string {
	return rm.protocolVersion
}
