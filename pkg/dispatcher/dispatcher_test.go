package dispatcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/morezero/capability-bridge/pkg/protocol"
	"github.com/morezero/capability-bridge/pkg/provider"
	"github.com/morezero/capability-bridge/pkg/registry"
)

const dispatcherTestPrefix = "dispatcher:dispatcher_test"

func newTestDispatcher(methods map[string]registry.Method) *Dispatcher {
	reg := registry.New()
	for name, fn := range methods {
		reg.Set(name, fn)
	}
	return NewDispatcher(Params{Registry: reg})
}

func request(id, method string, args ...interface{}) *protocol.Request {
	return protocol.NewRequest(protocol.DefaultNamespace, id, method, args)
}

func TestDispatch_UnknownMethod(t *testing.T) {
	disp := newTestDispatcher(nil)

	resp := disp.Dispatch(context.Background(), request("test-1", "nonexistent"))

	if resp.Ok {
		t.Errorf("%s - expected Ok=false for unknown method", dispatcherTestPrefix)
	}
	if resp.RequestID != "test-1" {
		t.Errorf("%s - expected RequestID=test-1, got %s", dispatcherTestPrefix, resp.RequestID)
	}
	if resp.Error == nil {
		t.Fatalf("%s - expected error, got nil", dispatcherTestPrefix)
	}
	if resp.Error.Code != protocol.CodeUnknownMethod {
		t.Errorf("%s - expected %s, got %s", dispatcherTestPrefix, protocol.CodeUnknownMethod, resp.Error.Code)
	}
	if resp.Error.Message != "Unknown method: nonexistent" {
		t.Errorf("%s - message = %q, want it to name the method", dispatcherTestPrefix, resp.Error.Message)
	}
}

func TestDispatch_UnknownMethodPreservesRequestID(t *testing.T) {
	disp := newTestDispatcher(nil)

	ids := []string{"req-1", "req-2", "unique-abc-123"}
	for _, id := range ids {
		resp := disp.Dispatch(context.Background(), request(id, "unknown"))
		if resp.RequestID != id {
			t.Errorf("%s - expected RequestID=%q, got %q", dispatcherTestPrefix, id, resp.RequestID)
		}
	}
}

func TestDispatch_Success(t *testing.T) {
	var gotArgs []interface{}
	disp := newTestDispatcher(map[string]registry.Method{
		"summarize": func(_ context.Context, args []interface{}) (interface{}, error) {
			gotArgs = args
			return "a short summary", nil
		},
	})

	resp := disp.Dispatch(context.Background(), request("s-1", "summarize", "long text", map[string]interface{}{"length": "short"}))

	if !resp.Ok {
		t.Fatalf("%s - expected Ok=true, got error %+v", dispatcherTestPrefix, resp.Error)
	}
	if resp.Result != "a short summary" {
		t.Errorf("%s - Result = %v", dispatcherTestPrefix, resp.Result)
	}
	if len(gotArgs) != 2 || gotArgs[0] != "long text" {
		t.Errorf("%s - args not forwarded positionally: %v", dispatcherTestPrefix, gotArgs)
	}
	if resp.Kind != protocol.KindResponse || resp.Bridge != protocol.DefaultNamespace {
		t.Errorf("%s - response tags = %q/%q", dispatcherTestPrefix, resp.Bridge, resp.Kind)
	}
}

func TestDispatch_ProviderError(t *testing.T) {
	disp := newTestDispatcher(map[string]registry.Method{
		"prompt":  func(context.Context, []interface{}) (interface{}, error) { return nil, errors.New("model overloaded") },
		"rewrite": func(context.Context, []interface{}) (interface{}, error) { return nil, provider.NewError("quota exceeded", "trace: rewrite:42") },
	})

	tests := []struct {
		method     string
		wantMsg    string
		wantDetail string
	}{
		{"prompt", "model overloaded", "model overloaded"},
		{"rewrite", "quota exceeded", "trace: rewrite:42"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			resp := disp.Dispatch(context.Background(), request("id-"+tt.method, tt.method))
			if resp.Ok {
				t.Fatalf("%s - expected Ok=false", dispatcherTestPrefix)
			}
			if resp.Error.Code != protocol.CodeProviderError {
				t.Errorf("%s - Code = %s, want %s", dispatcherTestPrefix, resp.Error.Code, protocol.CodeProviderError)
			}
			if resp.Error.Message != tt.wantMsg {
				t.Errorf("%s - Message = %q, want %q", dispatcherTestPrefix, resp.Error.Message, tt.wantMsg)
			}
			if resp.Error.Detail != tt.wantDetail {
				t.Errorf("%s - Detail = %q, want %q", dispatcherTestPrefix, resp.Error.Detail, tt.wantDetail)
			}
		})
	}
}

func TestDispatch_PanicBecomesProviderError(t *testing.T) {
	disp := newTestDispatcher(map[string]registry.Method{
		"write": func(context.Context, []interface{}) (interface{}, error) { panic("nil model handle") },
	})

	resp := disp.Dispatch(context.Background(), request("p-1", "write"))

	if resp.Ok {
		t.Fatalf("%s - expected Ok=false after panic", dispatcherTestPrefix)
	}
	if resp.Error.Code != protocol.CodeProviderError {
		t.Errorf("%s - Code = %s", dispatcherTestPrefix, resp.Error.Code)
	}
	if !strings.Contains(resp.Error.Message, "nil model handle") {
		t.Errorf("%s - Message = %q", dispatcherTestPrefix, resp.Error.Message)
	}
	if !strings.Contains(resp.Error.Detail, "goroutine") {
		t.Errorf("%s - Detail should carry a stack trace, got %q", dispatcherTestPrefix, resp.Error.Detail)
	}
}

func TestEncodeResponse_UnserializableResult(t *testing.T) {
	disp := newTestDispatcher(nil)

	data, resp, err := disp.encodeResponse(protocol.NewResult(protocol.DefaultNamespace, "u-1", make(chan int)))
	if err != nil {
		t.Fatalf("%s - encodeResponse failed: %v", dispatcherTestPrefix, err)
	}
	if len(data) == 0 {
		t.Fatalf("%s - expected encoded fallback response", dispatcherTestPrefix)
	}
	if resp.Ok || resp.Error == nil || resp.Error.Code != protocol.CodeProviderError {
		t.Errorf("%s - expected provider error fallback, got %+v", dispatcherTestPrefix, resp)
	}
	if resp.RequestID != "u-1" {
		t.Errorf("%s - RequestID = %q, want u-1", dispatcherTestPrefix, resp.RequestID)
	}
}

func TestNewDispatcher_FreezesRegistry(t *testing.T) {
	reg := registry.New()
	reg.Set("ping", provider.Ping)
	NewDispatcher(Params{Registry: reg})

	defer func() {
		if recover() == nil {
			t.Errorf("%s - expected registry to be frozen", dispatcherTestPrefix)
		}
	}()
	reg.Set("late", provider.Ping)
}
