package extension

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/pluginkit/bus"
	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/plugin"
	"github.com/vinayprograms/pluginkit/registry"
)

// RemotePlugin is a local stand-in for an item served by another node.
// Calls travel over the bus to that node's Server.
type RemotePlugin struct {
	plugin.Base

	bus      bus.MessageBus
	node     uuid.UUID
	registry string

	mu    sync.RWMutex
	route plugin.RouteInfo
}

// NewRemotePlugin creates a proxy for an item of registryName on node.
func NewRemotePlugin(b bus.MessageBus, node uuid.UUID, registryName string, route plugin.RouteInfo) *RemotePlugin {
	p := &RemotePlugin{bus: b, node: node, registry: registryName}
	p.setRoute(route)
	return p
}

// Node returns the node serving this item.
func (p *RemotePlugin) Node() uuid.UUID {
	return p.node
}

// RouteInfo returns the route the node advertised.
func (p *RemotePlugin) RouteInfo() plugin.RouteInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(plugin.RouteInfo, len(p.route))
	for k, v := range p.route {
		out[k] = v
	}
	return out
}

func (p *RemotePlugin) setRoute(route plugin.RouteInfo) {
	cp := make(plugin.RouteInfo, len(route))
	for k, v := range route {
		cp[k] = v
	}
	p.mu.Lock()
	p.route = cp
	p.mu.Unlock()
}

// Call forwards req to the serving node and waits for its reply, bounded
// by ctx and the bus request timeout.
func (p *RemotePlugin) Call(ctx context.Context, req plugin.Request) (plugin.Response, error) {
	data, err := json.Marshal(callRequest{Registry: p.registry, Item: p.Name(), Request: req})
	if err != nil {
		return nil, errors.Wrap(err, "encode call")
	}

	msg, err := p.bus.Request(ctx, CallSubject(p.node), data)
	if err != nil {
		return nil, asError(err, p.registry, p.Name())
	}

	var reply callReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, errors.Wrap(err, "decode call reply", errors.WithRegistry(p.registry), errors.WithItem(p.Name()))
	}
	if reply.Error != nil {
		return nil, reply.Error
	}
	return reply.Response, nil
}

// Attach makes the local containers of d mirror what ann advertises:
// missing proxies are added, routes of existing ones refreshed, and proxies
// the node no longer advertises removed. Registries d does not know, items
// that clash with local ones, and capabilities a proxy cannot satisfy are
// skipped and logged. It returns the "registry/item" addresses now served
// by the node, sorted.
func Attach(d *registry.Directory, b bus.MessageBus, ann Announcement, opts ...Option) ([]string, error) {
	if err := ann.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	for name, c := range d.All() {
		routes := ann.Broadcast[name]
		for item, p := range c.Items() {
			if rp, ok := p.(*RemotePlugin); ok && rp.node == ann.NodeID {
				if _, still := routes[item]; !still {
					c.Remove(item)
				}
			}
		}
	}

	var attached []string
	for _, name := range ann.Broadcast.Names() {
		c, err := d.Container(name)
		if err != nil {
			o.log.Debug("skipping unknown registry", map[string]interface{}{
				"node":     ann.NodeID.String(),
				"registry": name,
			})
			continue
		}

		routes := ann.Broadcast[name]
		items := make([]string, 0, len(routes))
		for item := range routes {
			items = append(items, item)
		}
		sort.Strings(items)

		for _, item := range items {
			if existing, err := c.Get(item); err == nil {
				if rp, ok := existing.(*RemotePlugin); ok && rp.node == ann.NodeID {
					rp.setRoute(routes[item])
					attached = append(attached, name+"/"+item)
					continue
				}
			}

			proxy := NewRemotePlugin(b, ann.NodeID, name, routes[item])
			if err := c.Add(item, func() plugin.Plugin { return proxy }); err != nil {
				o.log.Warn("skipping remote item", map[string]interface{}{
					"node":     ann.NodeID.String(),
					"registry": name,
					"item":     item,
					"error":    err.Error(),
				})
				continue
			}
			attached = append(attached, name+"/"+item)
		}
	}
	sort.Strings(attached)
	return attached, nil
}

// Detach removes every proxy of node from d and returns the removed
// "registry/item" addresses, sorted.
func Detach(d *registry.Directory, node uuid.UUID) []string {
	var removed []string
	for name, c := range d.All() {
		for item, p := range c.Items() {
			if rp, ok := p.(*RemotePlugin); ok && rp.node == node {
				c.Remove(item)
				removed = append(removed, name+"/"+item)
			}
		}
	}
	sort.Strings(removed)
	return removed
}

// Mirror keeps d's proxies in step with the announcements of other nodes
// until ctx is cancelled. With a store it attaches every stored
// announcement, then follows store events and re-lists the store on every
// resync interval, detaching nodes no longer listed. Without a store it
// follows BroadcastSubject on b. Announcements from self are ignored.
func Mirror(ctx context.Context, d *registry.Directory, b bus.MessageBus, store Store, self uuid.UUID, opts ...Option) error {
	o := buildOptions(opts)
	if store == nil {
		return mirrorBus(ctx, d, b, self, o, opts)
	}

	events, err := store.Watch()
	if err != nil {
		return err
	}
	if err := resync(ctx, d, b, store, self, o, opts); err != nil {
		return err
	}

	ticker := time.NewTicker(o.resync)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := resync(ctx, d, b, store, self, o, opts); err != nil {
				o.log.Warn("resync failed", map[string]interface{}{"error": err.Error()})
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Announcement.NodeID == self {
				continue
			}
			switch ev.Type {
			case StorePut:
				attach(d, b, ev.Announcement, o, opts)
			case StoreRemoved:
				detach(d, ev.Announcement.NodeID, o)
			}
		}
	}
}

// resync attaches every listed announcement and detaches the proxies of
// nodes the store no longer lists.
func resync(ctx context.Context, d *registry.Directory, b bus.MessageBus, store Store, self uuid.UUID, o options, opts []Option) error {
	list, err := store.List(ctx)
	if err != nil {
		return err
	}

	listed := make(map[uuid.UUID]bool, len(list))
	for _, ann := range list {
		if ann.NodeID == self {
			continue
		}
		listed[ann.NodeID] = true
		attach(d, b, ann, o, opts)
	}
	for node := range attachedNodes(d) {
		if !listed[node] {
			detach(d, node, o)
		}
	}
	return nil
}

func attachedNodes(d *registry.Directory) map[uuid.UUID]bool {
	nodes := make(map[uuid.UUID]bool)
	for _, c := range d.All() {
		for _, p := range c.Items() {
			if rp, ok := p.(*RemotePlugin); ok {
				nodes[rp.node] = true
			}
		}
	}
	return nodes
}

func detach(d *registry.Directory, node uuid.UUID, o options) {
	if removed := Detach(d, node); len(removed) > 0 {
		o.log.Info("detached node", map[string]interface{}{
			"node":  node.String(),
			"items": removed,
		})
	}
}

func mirrorBus(ctx context.Context, d *registry.Directory, b bus.MessageBus, self uuid.UUID, o options, opts []Option) error {
	sub, err := b.Subscribe(BroadcastSubject)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			var ann Announcement
			if err := json.Unmarshal(msg.Data, &ann); err != nil {
				o.log.Warn("skipping undecodable announcement", map[string]interface{}{"error": err.Error()})
				continue
			}
			if ann.NodeID != self {
				attach(d, b, ann, o, opts)
			}
		}
	}
}

func attach(d *registry.Directory, b bus.MessageBus, ann Announcement, o options, opts []Option) {
	attached, err := Attach(d, b, ann, opts...)
	if err != nil {
		o.log.Warn("rejected announcement", map[string]interface{}{"error": err.Error()})
		return
	}
	o.log.Debug("attached node", map[string]interface{}{
		"node":  ann.NodeID.String(),
		"name":  ann.Name,
		"items": attached,
	})
}
