package extension

import (
	"context"
	"encoding/json"

	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/plugin"
	"github.com/vinayprograms/pluginkit/registry"
	"github.com/vinayprograms/pluginkit/transport"
)

// JSON-RPC methods served by NewRPCHandler.
const (
	MethodCall       = "call"
	MethodBroadcast  = "broadcast"
	MethodNames      = "names"
	MethodExists     = "exists"
	MethodRegistries = "registries"
)

// CallParams are the params of MethodCall.
type CallParams struct {
	Registry string         `json:"registry"`
	Item     string         `json:"item"`
	Request  plugin.Request `json:"request"`
}

// ItemParams are the params of MethodNames and MethodExists. Item is
// ignored by MethodNames.
type ItemParams struct {
	Registry string `json:"registry"`
	Item     string `json:"item,omitempty"`
}

// NewRPCHandler exposes d over JSON-RPC:
//
//	call        {registry, item, request} -> response rows
//	broadcast   {}                        -> registry -> item -> route
//	names       {registry}                -> sorted item names
//	exists      {registry, item}          -> bool
//	registries  {}                        -> sorted registry names
func NewRPCHandler(d *registry.Directory) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
		switch method {
		case MethodCall:
			var p CallParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			resp, err := d.Call(ctx, p.Registry, p.Item, p.Request)
			if err != nil {
				return nil, err
			}
			if resp == nil {
				resp = plugin.Response{}
			}
			return resp, nil

		case MethodBroadcast:
			return d.Broadcast(), nil

		case MethodNames:
			var p ItemParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			names := d.Names(p.Registry)
			if names == nil {
				names = []string{}
			}
			return names, nil

		case MethodExists:
			var p ItemParams
			if err := decodeParams(params, &p); err != nil {
				return nil, err
			}
			return d.Exists(p.Registry, p.Item), nil

		case MethodRegistries:
			return d.RegistryNames(), nil
		}
		return nil, transport.ErrMethodNotFound(method)
	})
}

func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return errors.InvalidInput("params are required")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return errors.InvalidInput("malformed params: " + err.Error())
	}
	return nil
}
