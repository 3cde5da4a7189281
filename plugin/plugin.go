// Package plugin defines the contract every registrable implementation of a
// capability satisfies, and the request/response shapes shared by local and
// remote plugin calls.
package plugin

import (
	"context"
	"sync"

	"github.com/vinayprograms/pluginkit/errors"
)

// Request is the input of a plugin call. It is a flat mapping of parameters,
// usually with an "action" key selecting behavior within the plugin.
type Request map[string]string

// Response is the output of a plugin call: an ordered sequence of flat rows.
type Response []map[string]string

// RouteInfo is optional self-description a plugin publishes (schema,
// capabilities). It is carried verbatim in broadcasts.
type RouteInfo map[string]string

// ActionKey is the conventional request key naming the requested action.
const ActionKey = "action"

// Action returns the request's action value, or "" if unset.
func (r Request) Action() string {
	return r[ActionKey]
}

// Plugin is one named implementation of a capability.
//
// Construction must be side-effect free: it can happen before configuration
// and logging exist. Initialization belongs in SetUp, which the owning registry
// calls later. Implementations embed Base, which supplies the defaults and is
// the only way to satisfy the interface.
type Plugin interface {
	// Name returns the item name assigned at registration.
	Name() string

	// SetUp performs one-time initialization. A non-nil error prunes the item.
	SetUp() error

	// TearDown releases resources. Called at most once, on removal.
	TearDown()

	// RouteInfo returns the plugin's self-description.
	RouteInfo() RouteInfo

	// Call performs the capability's behavior.
	Call(ctx context.Context, req Request) (Response, error)

	base() *Base
}

// Factory constructs one fresh plugin instance.
type Factory func() Plugin

// Base provides default behavior for every Plugin method and holds the name
// assigned by the registry.
type Base struct {
	once sync.Once
	name string
}

// Name returns the registered item name, or "" before registration.
func (b *Base) Name() string {
	return b.name
}

// SetUp is a no-op success by default.
func (b *Base) SetUp() error {
	return nil
}

// TearDown is a no-op by default.
func (b *Base) TearDown() {}

// RouteInfo returns an empty route by default.
func (b *Base) RouteInfo() RouteInfo {
	return RouteInfo{}
}

// Call fails by default; concrete plugins override it.
func (b *Base) Call(ctx context.Context, req Request) (Response, error) {
	return nil, errors.PluginCallFailed("Error", errors.WithItem(b.name))
}

func (b *Base) base() *Base {
	return b
}

// Bind assigns name to p. The first call wins; later calls leave the name
// unchanged and report false.
func Bind(p Plugin, name string) bool {
	b := p.base()
	bound := false
	b.once.Do(func() {
		b.name = name
		bound = true
	})
	return bound
}
