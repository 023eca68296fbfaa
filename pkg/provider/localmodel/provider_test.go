package localmodel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/capability-bridge/pkg/protocol"
	"github.com/morezero/capability-bridge/pkg/provider"
)

// fakeHost is a minimal Ollama-compatible model host.
type fakeHost struct {
	mu       sync.Mutex
	models   []string
	requests []generateRequest
	failWith int
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (h *fakeHost) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		models := make([]map[string]string, 0, len(h.models))
		for _, m := range h.models {
			models = append(models, map[string]string{"name": m, "model": m})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"models": models})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		n := h.inflight.Add(1)
		defer h.inflight.Add(-1)
		for {
			p := h.peak.Load()
			if n <= p || h.peak.CompareAndSwap(p, n) {
				break
			}
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		h.requests = append(h.requests, req)
		failWith := h.failWith
		h.mu.Unlock()

		time.Sleep(h.delay)
		if failWith != 0 {
			w.WriteHeader(failWith)
			json.NewEncoder(w).Encode(map[string]string{"error": "model not found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"model": req.Model, "response": "echo: " + req.Prompt, "done": true})
	})
	return mux
}

func startHost(t *testing.T, h *fakeHost) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h.handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestMethods_Surface(t *testing.T) {
	p := New(Config{BaseURL: "http://127.0.0.1:1", Model: "llama3"})

	methods := p.Methods()
	for _, name := range []string{protocol.MethodPing, protocol.MethodAvailability, MethodPrompt, MethodSummarize, MethodWrite, MethodRewrite} {
		assert.Contains(t, methods, name)
	}
}

func TestAvailability(t *testing.T) {
	host := &fakeHost{models: []string{"llama3:latest", "phi3:mini"}}
	srv := startHost(t, host)

	p := New(Config{
		BaseURL: srv.URL,
		Model:   "llama3",
		Capabilities: map[string]Capability{
			"languageModel": {Methods: []string{MethodPrompt}},
			"summarizer":    {Methods: []string{MethodSummarize}, Model: "phi3:mini"},
			"writer":        {Methods: []string{MethodWrite}, Model: "mistral"},
		},
	})

	got := p.Availability(context.Background())
	assert.Equal(t, map[string]protocol.Availability{
		"languageModel": protocol.NewAvailability(protocol.StatusReady),
		"summarizer":    protocol.NewAvailability(protocol.StatusReady),
		"writer":        protocol.NewAvailability(protocol.StatusDownloadable),
	}, got)
}

func TestAvailability_HostUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := New(Config{BaseURL: url, Model: "llama3", RequestTimeout: time.Second})
	got := p.Availability(context.Background())

	require.Len(t, got, 4)
	for name, a := range got {
		assert.Equal(t, protocol.NewAvailability(protocol.StatusUnavailable), a, name)
	}
	assert.Equal(t, []string{MethodPrompt, MethodRewrite, MethodSummarize, MethodWrite}, p.CapabilityNames())
}

func TestGenerateMethods(t *testing.T) {
	host := &fakeHost{models: []string{"llama3"}}
	srv := startHost(t, host)
	p := New(Config{
		BaseURL:      srv.URL,
		Model:        "llama3",
		Capabilities: map[string]Capability{"summarizer": {Methods: []string{MethodSummarize}, Model: "phi3"}},
	})
	methods := p.Methods()
	ctx := context.Background()

	out, err := methods[MethodPrompt](ctx, []interface{}{"hello", map[string]interface{}{"system": "be terse", "temperature": 0.2}})
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", out)

	out, err = methods[MethodSummarize](ctx, []interface{}{"long text", map[string]interface{}{"length": "short"}})
	require.NoError(t, err)
	assert.Equal(t, "echo: long text", out)

	_, err = methods[MethodWrite](ctx, []interface{}{"an invitation", map[string]interface{}{"tone": "casual"}})
	require.NoError(t, err)
	_, err = methods[MethodRewrite](ctx, []interface{}{"hey"})
	require.NoError(t, err)

	host.mu.Lock()
	defer host.mu.Unlock()
	require.Len(t, host.requests, 4)

	assert.Equal(t, "llama3", host.requests[0].Model)
	assert.Equal(t, "be terse", host.requests[0].System)
	assert.Equal(t, 0.2, host.requests[0].Options["temperature"])
	assert.False(t, host.requests[0].Stream)

	assert.Equal(t, "phi3", host.requests[1].Model)
	assert.Contains(t, host.requests[1].System, "length: short")

	assert.Contains(t, host.requests[2].System, "tone: casual")
	assert.Equal(t, "Rewrite the text.", host.requests[3].System)
}

func TestGenerate_InvalidArguments(t *testing.T) {
	p := New(Config{BaseURL: "http://127.0.0.1:1", Model: "llama3"})
	methods := p.Methods()

	_, err := methods[MethodSummarize](context.Background(), nil)
	assert.Error(t, err)
	_, err = methods[MethodWrite](context.Background(), []interface{}{"task", "not options"})
	assert.Error(t, err)
}

func TestGenerate_HostErrorCarriesDetail(t *testing.T) {
	host := &fakeHost{failWith: http.StatusNotFound}
	srv := startHost(t, host)
	p := New(Config{BaseURL: srv.URL, Model: "missing"})

	_, err := p.Methods()[MethodSummarize](context.Background(), []interface{}{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summarize failed")
	assert.Contains(t, provider.DetailOf(err), "model not found")
}

func TestGenerate_LimitsConcurrency(t *testing.T) {
	host := &fakeHost{models: []string{"llama3"}, delay: 20 * time.Millisecond}
	srv := startHost(t, host)
	p := New(Config{BaseURL: srv.URL, Model: "llama3", MaxConcurrency: 2})
	prompt := p.Methods()[MethodPrompt]

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := prompt(context.Background(), []interface{}{"hi"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, host.peak.Load(), int32(2))
}

func TestHasModel(t *testing.T) {
	installed := []string{"llama3:latest", "phi3:mini"}

	assert.True(t, hasModel(installed, "llama3"))
	assert.True(t, hasModel(installed, "llama3:latest"))
	assert.True(t, hasModel(installed, "phi3"))
	assert.True(t, hasModel(installed, "phi3:mini"))
	assert.False(t, hasModel(installed, "phi3:medium"))
	assert.False(t, hasModel(installed, "mistral"))
	assert.False(t, hasModel(installed, ""))
}
