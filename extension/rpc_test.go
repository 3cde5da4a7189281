package extension

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/plugin"
	"github.com/vinayprograms/pluginkit/registry"
	"github.com/vinayprograms/pluginkit/transport"
)

func TestRPCHandler(t *testing.T) {
	d := newDirectory(t)
	d.Add("tables", "users", newTable("alice"))
	h := NewRPCHandler(d)
	ctx := context.Background()

	tests := []struct {
		name   string
		method string
		params string
		want   interface{}
	}{
		{"call", MethodCall, `{"registry":"tables","item":"users","request":{"action":"generate"}}`, plugin.Response{{"name": "alice"}}},
		{"broadcast", MethodBroadcast, ``, registry.Broadcast{"tables": {"users": {"columns": "name"}}}},
		{"names", MethodNames, `{"registry":"tables"}`, []string{"users"}},
		{"names unknown", MethodNames, `{"registry":"nope"}`, []string{}},
		{"exists", MethodExists, `{"registry":"tables","item":"users"}`, true},
		{"exists missing", MethodExists, `{"registry":"tables","item":"groups"}`, false},
		{"registries", MethodRegistries, ``, []string{"tables"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Handle(ctx, tt.method, json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("Handle error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRPCHandler_Errors(t *testing.T) {
	d := newDirectory(t)
	h := NewRPCHandler(d)
	ctx := context.Background()

	tests := []struct {
		name     string
		method   string
		params   string
		wantCode errors.ErrorCode
	}{
		{"missing params", MethodCall, ``, errors.ErrCodeInvalidInput},
		{"malformed params", MethodExists, `{"registry":`, errors.ErrCodeInvalidInput},
		{"unknown registry", MethodCall, `{"registry":"nope","item":"x"}`, errors.ErrCodeRegistryNotFound},
		{"unknown item", MethodCall, `{"registry":"tables","item":"x"}`, errors.ErrCodeItemNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(ctx, tt.method, json.RawMessage(tt.params))
			if !errors.Is(err, tt.wantCode) {
				t.Errorf("error = %v, want %s", err, tt.wantCode)
			}
		})
	}

	_, err := h.Handle(ctx, "drop_table", nil)
	rpcErr, ok := err.(*transport.Error)
	if !ok || rpcErr.Code != transport.MethodNotFound {
		t.Errorf("unknown method error = %v, want MethodNotFound", err)
	}
}
