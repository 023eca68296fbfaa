// Package registry holds the whitelist of methods reachable from the bridge channel.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

const logPrefix = "registry:methods"

// Method runs one capability with positional arguments. Arguments arrive as
// decoded wire values (strings, float64 or uint64 numbers, bools, lists,
// map[string]interface{}); the result must be encodable by the bridge codec.
type Method func(ctx context.Context, args []interface{}) (interface{}, error)

// Surface is anything exposing a named method set, such as a capability provider.
type Surface interface {
	Methods() map[string]Method
}

// Registry maps method names to implementations. It is populated at startup
// and frozen before the router attaches; lookups never mutate it.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
	frozen  bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// FromProvider creates a registry holding every method of s. When only is
// non-empty, just those methods are exposed; names s does not implement are
// logged and skipped.
func FromProvider(s Surface, only ...string) *Registry {
	r := New()
	methods := s.Methods()
	if len(only) == 0 {
		for name, fn := range methods {
			r.Set(name, fn)
		}
		return r
	}
	for _, name := range lo.Uniq(only) {
		fn, ok := methods[name]
		if !ok {
			slog.Warn(fmt.Sprintf("%s - provider does not implement %s, not exposing it", logPrefix, name))
			continue
		}
		r.Set(name, fn)
	}
	return r
}

// Set registers fn under name, replacing any previous entry. It panics on an
// empty name, a nil fn, or a frozen registry: registration is a startup step.
func (r *Registry) Set(name string, fn Method) {
	if name == "" {
		panic(fmt.Sprintf("%s - method name must not be empty", logPrefix))
	}
	if fn == nil {
		panic(fmt.Sprintf("%s - method %q has nil implementation", logPrefix, name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("%s - cannot register %q after Freeze", logPrefix, name))
	}
	if _, exists := r.methods[name]; exists {
		slog.Warn(fmt.Sprintf("%s - replacing method %s", logPrefix, name))
	}
	r.methods[name] = fn
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the method registered under name.
func (r *Registry) Lookup(name string) (Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.methods[name]
	return fn, ok
}

// Names returns the registered method names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := lo.Keys(r.methods)
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of registered methods.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.methods)
}
