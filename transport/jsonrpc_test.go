package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/vinayprograms/pluginkit/errors"
)

// serveLines runs Serve over a stdio transport fed with input and returns
// the decoded responses keyed by their string ID.
func serveLines(t *testing.T, input string, h Handler) map[string]Response {
	t.Helper()
	output := &bytes.Buffer{}
	tr := NewStdioTransport(strings.NewReader(input), output, DefaultConfig())

	if err := Serve(context.Background(), tr, h); err != nil {
		t.Fatalf("Serve error: %v", err)
	}

	responses := map[string]Response{}
	scanner := bufio.NewScanner(output)
	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response %q: %v", scanner.Text(), err)
		}
		key, _ := json.Marshal(resp.ID)
		responses[string(key)] = resp
	}
	return responses
}

func nopHandler() Handler {
	return HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
		return nil, nil
	})
}

func TestServe_ParseError(t *testing.T) {
	responses := serveLines(t, "not valid json\n", nopHandler())

	resp, ok := responses["null"]
	if !ok {
		t.Fatalf("expected a response with null id, got %v", responses)
	}
	if resp.Error == nil || resp.Error.Code != ParseError {
		t.Errorf("error = %v, want ParseError", resp.Error)
	}
}

func TestServe_InvalidRequest(t *testing.T) {
	responses := serveLines(t, `{"jsonrpc":"1.0","method":"names","id":1}`+"\n", nopHandler())

	resp, ok := responses["1"]
	if !ok {
		t.Fatalf("expected response for id 1, got %v", responses)
	}
	if resp.Error == nil || resp.Error.Code != InvalidRequest {
		t.Errorf("error = %v, want InvalidRequest", resp.Error)
	}
}

func TestServe_SuccessfulRequest(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"echo","params":{"msg":"hello"},"id":1}` + "\n"

	handler := HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
		if method != "echo" {
			t.Errorf("method = %q, want echo", method)
		}
		var p struct{ Msg string }
		json.Unmarshal(params, &p)
		return map[string]string{"echo": p.Msg}, nil
	})

	resp := serveLines(t, input, handler)["1"]
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T", resp.Result)
	}
	if result["echo"] != "hello" {
		t.Errorf("echo = %v, want hello", result["echo"])
	}
}

func TestServe_Notification(t *testing.T) {
	called := make(chan string, 1)
	handler := HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
		called <- method
		return nil, nil
	})

	responses := serveLines(t, `{"jsonrpc":"2.0","method":"ping","params":{}}`+"\n", handler)

	select {
	case m := <-called:
		if m != "ping" {
			t.Errorf("method = %q, want ping", m)
		}
	default:
		t.Error("handler was not called")
	}
	if len(responses) != 0 {
		t.Errorf("expected no output for notification, got %v", responses)
	}
}

func TestServe_MultipleRequests(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"add","params":{"a":1,"b":2},"id":1}
{"jsonrpc":"2.0","method":"add","params":{"a":3,"b":4},"id":2}
`
	handler := HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
		var p struct{ A, B int }
		json.Unmarshal(params, &p)
		return p.A + p.B, nil
	})

	responses := serveLines(t, input, handler)
	want := map[string]float64{"1": 3, "2": 7}
	for id, sum := range want {
		if responses[id].Result != sum {
			t.Errorf("id %s: result = %v, want %v", id, responses[id].Result, sum)
		}
	}
}

func TestServe_HandlerErrors(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"missing","id":1}
{"jsonrpc":"2.0","method":"lookup","id":2}
{"jsonrpc":"2.0","method":"bad","id":3}
{"jsonrpc":"2.0","method":"boom","id":4}
{"jsonrpc":"2.0","method":"plain","id":5}
`
	handler := HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
		switch method {
		case "lookup":
			return nil, errors.ItemNotFound("greeter", "hello")
		case "bad":
			return nil, errors.InvalidInput("params required")
		case "boom":
			panic("kaboom")
		case "plain":
			return nil, context.DeadlineExceeded
		}
		return nil, ErrMethodNotFound(method)
	})

	responses := serveLines(t, input, handler)

	tests := []struct {
		id       string
		wantCode int
	}{
		{"1", MethodNotFound},
		{"2", RegistryError},
		{"3", InvalidParams},
		{"4", RegistryError},
		{"5", InternalError},
	}
	for _, tt := range tests {
		resp := responses[tt.id]
		if resp.Error == nil {
			t.Errorf("id %s: expected error", tt.id)
			continue
		}
		if resp.Error.Code != tt.wantCode {
			t.Errorf("id %s: code = %d, want %d", tt.id, resp.Error.Code, tt.wantCode)
		}
	}

	err := FromError(responses["2"].Error)
	if !errors.Is(err, errors.ErrCodeItemNotFound) {
		t.Fatalf("FromError = %v, want ITEM_NOT_FOUND", err)
	}
	re := errors.AsRegistryError(err)
	if re.Registry() != "greeter" || re.Item() != "hello" {
		t.Errorf("address = %s/%s, want greeter/hello", re.Registry(), re.Item())
	}
}

func TestToError(t *testing.T) {
	rpcErr := &Error{Code: MethodNotFound, Message: "Method not found"}
	if got := ToError(rpcErr); got != rpcErr {
		t.Errorf("ToError should pass through *Error, got %v", got)
	}

	wrapped := errors.Wrap(errors.RegistryNotFound("widgets"), "dispatch")
	got := ToError(wrapped)
	if got.Code != RegistryError {
		t.Errorf("code = %d, want %d", got.Code, RegistryError)
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil) != nil {
		t.Error("FromError(nil) should be nil")
	}

	tests := []struct {
		name string
		in   *Error
		want errors.ErrorCode
	}{
		{"method not found", ErrMethodNotFound("x"), errors.ErrCodeInvalidInput},
		{"internal", &Error{Code: InternalError, Message: "Internal error", Data: "oops"}, errors.ErrCodeInternal},
		{"registry", ToError(errors.DuplicateItem("greeter", "hello")), errors.ErrCodeDuplicateItem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Round-trip through the wire form.
			raw, _ := json.Marshal(tt.in)
			var decoded Error
			if err := json.Unmarshal(raw, &decoded); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := errors.Code(FromError(&decoded)); got != tt.want {
				t.Errorf("code = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestServe_StopsWhenContextCancelled(t *testing.T) {
	// A reader that never yields input.
	pr, pw := io.Pipe()
	defer pw.Close()

	tr := NewStdioTransport(pr, &bytes.Buffer{}, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, tr, nopHandler()) }()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve error = %v, want nil", err)
	}
}
