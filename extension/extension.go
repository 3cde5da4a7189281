// Package extension connects registries in separate processes.
//
// An extension process announces the items of its local Directory; a host
// attaches them as proxies so local and remote calls look the same. Calls
// travel over a bus.MessageBus, announcements are kept in a Store, and a
// Directory can also be exposed to tools over JSON-RPC.
package extension

import (
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/logging"
	"github.com/vinayprograms/pluginkit/plugin"
	"github.com/vinayprograms/pluginkit/registry"
)

// Bus subjects.
const (
	// BroadcastSubject carries every Announcement.
	BroadcastSubject = "pluginkit.broadcast"

	// QueueGroup is shared by the servers of one node, so each call is
	// answered once.
	QueueGroup = "pluginkit"

	callPrefix = "pluginkit.call."
)

// CallSubject returns the subject a node's Server answers calls on.
func CallSubject(node uuid.UUID) string {
	return callPrefix + node.String()
}

// Announcement advertises the items a node serves.
type Announcement struct {
	NodeID    uuid.UUID          `json:"node_id"`
	Name      string             `json:"name"`
	Broadcast registry.Broadcast `json:"broadcast"`
	Timestamp time.Time          `json:"timestamp"`
}

// Validate checks that the announcement can be stored and attached.
func (a Announcement) Validate() error {
	if a.NodeID == uuid.Nil {
		return errors.InvalidInput("announcement node id is required")
	}
	if a.Name == "" {
		return errors.InvalidInput("announcement name is required")
	}
	return nil
}

// callRequest is the bus payload of a remote call.
type callRequest struct {
	Registry string         `json:"registry"`
	Item     string         `json:"item"`
	Request  plugin.Request `json:"request"`
}

// callReply is the bus payload answering a callRequest. Exactly one of
// Response and Error is meaningful.
type callReply struct {
	Response plugin.Response `json:"response,omitempty"`
	Error    *errors.Error   `json:"error,omitempty"`
}

// Option configures the components of this package.
type Option func(*options)

type options struct {
	log    *logging.Logger
	resync time.Duration
}

// DefaultResyncInterval is how often Mirror re-reads the store.
const DefaultResyncInterval = 30 * time.Second

// WithLogger sets the logger. Default: discard.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithResyncInterval sets how often Mirror re-lists the store to catch
// events a full watch buffer dropped. Default: DefaultResyncInterval.
func WithResyncInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.resync = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{log: logging.Nop(), resync: DefaultResyncInterval}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.WithComponent("extension")
	return o
}

// LocalBroadcast is d's broadcast without the proxies Attach added, so
// nodes never re-announce each other's items.
func LocalBroadcast(d *registry.Directory) registry.Broadcast {
	out := registry.Broadcast{}
	for name, c := range d.All() {
		routes := registry.Routes{}
		for item, p := range c.Items() {
			if _, remote := p.(*RemotePlugin); remote {
				continue
			}
			info := plugin.RouteInfo{}
			for k, v := range p.RouteInfo() {
				info[k] = v
			}
			routes[item] = info
		}
		out[name] = routes
	}
	return out
}
