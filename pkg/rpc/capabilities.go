package rpc

import (
	"context"
	"fmt"

	"github.com/morezero/capability-bridge/pkg/protocol"
)

// Method names of the language capabilities.
const (
	MethodPrompt    = "prompt"
	MethodSummarize = "summarize"
	MethodWrite     = "write"
	MethodRewrite   = "rewrite"
)

// Caller is the subset of Client used by the typed wrappers.
type Caller interface {
	Call(ctx context.Context, method string, args ...interface{}) (interface{}, error)
	CallInto(ctx context.Context, out interface{}, method string, args ...interface{}) error
}

// PromptOptions tunes a prompt call.
type PromptOptions struct {
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// SummarizeOptions tunes a summarize call.
type SummarizeOptions struct {
	Type    string `json:"type,omitempty"`
	Format  string `json:"format,omitempty"`
	Length  string `json:"length,omitempty"`
	Context string `json:"context,omitempty"`
}

// WriteOptions tunes write and rewrite calls.
type WriteOptions struct {
	Tone    string `json:"tone,omitempty"`
	Format  string `json:"format,omitempty"`
	Length  string `json:"length,omitempty"`
	Context string `json:"context,omitempty"`
}

// Capabilities exposes one method per capability on top of a Caller.
type Capabilities struct {
	caller Caller
}

// NewCapabilities wraps caller.
func NewCapabilities(caller Caller) *Capabilities {
	return &Capabilities{caller: caller}
}

// Ping checks that the provider answers.
func (c *Capabilities) Ping(ctx context.Context) (string, error) {
	return c.text(ctx, protocol.MethodPing)
}

// Availability fetches the provider's current availability map.
func (c *Capabilities) Availability(ctx context.Context) (map[string]protocol.Availability, error) {
	var out map[string]protocol.Availability
	if err := c.caller.CallInto(ctx, &out, protocol.MethodAvailability); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]protocol.Availability{}
	}
	return out, nil
}

// Prompt sends free-form text to the language model.
func (c *Capabilities) Prompt(ctx context.Context, text string, opts PromptOptions) (string, error) {
	return c.text(ctx, MethodPrompt, text, opts)
}

// Summarize condenses text.
func (c *Capabilities) Summarize(ctx context.Context, text string, opts SummarizeOptions) (string, error) {
	return c.text(ctx, MethodSummarize, text, opts)
}

// Write drafts new text for task.
func (c *Capabilities) Write(ctx context.Context, task string, opts WriteOptions) (string, error) {
	return c.text(ctx, MethodWrite, task, opts)
}

// Rewrite rephrases text.
func (c *Capabilities) Rewrite(ctx context.Context, text string, opts WriteOptions) (string, error) {
	return c.text(ctx, MethodRewrite, text, opts)
}

func (c *Capabilities) text(ctx context.Context, method string, args ...interface{}) (string, error) {
	result, err := c.caller.Call(ctx, method, args...)
	if err != nil {
		return "", err
	}
	s, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("%s - %s returned %T, want string", logPrefix, method, result)
	}
	return s, nil
}
