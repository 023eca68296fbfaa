// Package localmodel serves the language capabilities from a local model host
// speaking the Ollama-compatible HTTP API.
package localmodel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/morezero/capability-bridge/pkg/protocol"
	"github.com/morezero/capability-bridge/pkg/provider"
	"github.com/morezero/capability-bridge/pkg/registry"
)

const logPrefix = "localmodel:provider"

// Method names served by the provider.
const (
	MethodPrompt    = "prompt"
	MethodSummarize = "summarize"
	MethodWrite     = "write"
	MethodRewrite   = "rewrite"
)

// Capability binds a capability name to the methods it covers and,
// optionally, a model other than the default.
type Capability struct {
	Methods []string
	Model   string
}

// Config configures a Provider.
type Config struct {
	BaseURL        string
	Model          string
	Capabilities   map[string]Capability
	MaxConcurrency int
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Provider is a capability provider backed by a model host.
type Provider struct {
	model        string
	capabilities map[string]Capability
	methodModel  map[string]string
	host         *hostClient
	slots        *semaphore.Weighted
}

// New creates a Provider. Without capabilities, every language method maps to
// a capability of the same name.
func New(cfg Config) *Provider {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = map[string]Capability{}
		for _, m := range []string{MethodPrompt, MethodSummarize, MethodWrite, MethodRewrite} {
			cfg.Capabilities[m] = Capability{Methods: []string{m}}
		}
	}

	methodModel := make(map[string]string)
	for _, c := range cfg.Capabilities {
		if c.Model == "" {
			continue
		}
		for _, m := range c.Methods {
			methodModel[m] = c.Model
		}
	}

	return &Provider{
		model:        cfg.Model,
		capabilities: cfg.Capabilities,
		methodModel:  methodModel,
		host:         &hostClient{baseURL: cfg.BaseURL, http: cfg.HTTPClient},
		slots:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
}

// Methods returns the method surface of the provider.
func (p *Provider) Methods() map[string]registry.Method {
	return map[string]registry.Method{
		protocol.MethodPing:         provider.Ping,
		protocol.MethodAvailability: p.availability,
		MethodPrompt:                p.prompt,
		MethodSummarize:             p.summarize,
		MethodWrite:                 p.write,
		MethodRewrite:               p.rewrite,
	}
}

// Availability reports the status of every configured capability: all
// unavailable when the host cannot be reached, downloadable when the model is
// not installed, ready otherwise.
func (p *Provider) Availability(ctx context.Context) map[string]protocol.Availability {
	out := make(map[string]protocol.Availability, len(p.capabilities))

	installed, err := p.host.models(ctx)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - model host check failed: %v", logPrefix, err))
		for name := range p.capabilities {
			out[name] = protocol.NewAvailability(protocol.StatusUnavailable)
		}
		return out
	}

	for name, c := range p.capabilities {
		model := c.Model
		if model == "" {
			model = p.model
		}
		if hasModel(installed, model) {
			out[name] = protocol.NewAvailability(protocol.StatusReady)
		} else {
			out[name] = protocol.NewAvailability(protocol.StatusDownloadable)
		}
	}
	return out
}

func (p *Provider) availability(ctx context.Context, _ []interface{}) (interface{}, error) {
	return p.Availability(ctx), nil
}

func (p *Provider) prompt(ctx context.Context, args []interface{}) (interface{}, error) {
	text, opts, err := textAndOptions(args)
	if err != nil {
		return nil, err
	}
	req := generateRequest{Prompt: text, System: provider.OptionString(opts, "system")}
	if t, ok := opts["temperature"].(float64); ok {
		req.Options = map[string]interface{}{"temperature": t}
	}
	return p.generate(ctx, MethodPrompt, req)
}

func (p *Provider) summarize(ctx context.Context, args []interface{}) (interface{}, error) {
	text, opts, err := textAndOptions(args)
	if err != nil {
		return nil, err
	}
	return p.generate(ctx, MethodSummarize, generateRequest{
		Prompt: text,
		System: instruction("Summarize the text.", opts, "type", "format", "length", "context"),
	})
}

func (p *Provider) write(ctx context.Context, args []interface{}) (interface{}, error) {
	task, opts, err := textAndOptions(args)
	if err != nil {
		return nil, err
	}
	return p.generate(ctx, MethodWrite, generateRequest{
		Prompt: task,
		System: instruction("Write the requested text.", opts, "tone", "format", "length", "context"),
	})
}

func (p *Provider) rewrite(ctx context.Context, args []interface{}) (interface{}, error) {
	text, opts, err := textAndOptions(args)
	if err != nil {
		return nil, err
	}
	return p.generate(ctx, MethodRewrite, generateRequest{
		Prompt: text,
		System: instruction("Rewrite the text.", opts, "tone", "format", "length", "context"),
	})
}

func (p *Provider) generate(ctx context.Context, method string, req generateRequest) (interface{}, error) {
	req.Model = p.model
	if m, ok := p.methodModel[method]; ok {
		req.Model = m
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.slots.Release(1)

	started := time.Now()
	out, err := p.host.generate(ctx, req)
	if err != nil {
		return nil, provider.Wrap(err, fmt.Sprintf("%s failed", method))
	}
	slog.Debug(fmt.Sprintf("%s - %s with %s took %s", logPrefix, method, req.Model, time.Since(started)))
	return out, nil
}

func textAndOptions(args []interface{}) (string, map[string]interface{}, error) {
	text, err := provider.StringArg(args, 0)
	if err != nil {
		return "", nil, err
	}
	opts, err := provider.OptionsArg(args, 1)
	if err != nil {
		return "", nil, err
	}
	return text, opts, nil
}

// instruction appends the non-empty options named by keys to base, one per line.
func instruction(base string, opts map[string]interface{}, keys ...string) string {
	lines := []string{base}
	for _, k := range keys {
		if v := provider.OptionString(opts, k); v != "" {
			lines = append(lines, k+": "+v)
		}
	}
	return strings.Join(lines, "\n")
}

// hasModel matches want against installed names, treating an untagged name
// as any tag of that model.
func hasModel(installed []string, want string) bool {
	if want == "" {
		return false
	}
	for _, name := range installed {
		if name == want {
			return true
		}
		if !strings.Contains(want, ":") && strings.SplitN(name, ":", 2)[0] == want {
			return true
		}
	}
	return false
}

// CapabilityNames returns the configured capability names, sorted.
func (p *Provider) CapabilityNames() []string {
	names := make([]string, 0, len(p.capabilities))
	for name := range p.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
