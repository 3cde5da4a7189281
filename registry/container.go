package registry

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/logging"
	"github.com/vinayprograms/pluginkit/plugin"
)

// Container is a named registry of plugins sharing one capability. All
// methods are safe for concurrent use.
type Container struct {
	name       string
	capability reflect.Type
	log        *logging.Logger
	recorder   Recorder
	notify     func(Event)

	mu        sync.RWMutex
	items     map[string]plugin.Plugin
	removing  map[string]bool
	autoSetup bool
}

// NewContainer creates a standalone registry accepting plugins assignable to
// capability. A nil capability accepts every plugin. Most callers use
// Directory or Create instead.
func NewContainer(name string, capability reflect.Type, opts ...CreateOption) *Container {
	o := createOptions{autoSetup: true}
	for _, opt := range opts {
		opt(&o)
	}
	return newContainer(name, capability, o.autoSetup, logging.Nop(), nopRecorder{}, nil)
}

func newContainer(name string, capability reflect.Type, autoSetup bool, log *logging.Logger, rec Recorder, notify func(Event)) *Container {
	if capability == nil {
		capability = AnyPlugin
	}
	return &Container{
		name:       name,
		capability: capability,
		log:        log,
		recorder:   rec,
		notify:     notify,
		items:      make(map[string]plugin.Plugin),
		removing:   make(map[string]bool),
		autoSetup:  autoSetup,
	}
}

// Name returns the registry name.
func (c *Container) Name() string {
	return c.name
}

// Capability returns the type every item must be assignable to.
func (c *Container) Capability() reflect.Type {
	return c.capability
}

// AutoSetup reports whether Directory.SetUp includes this registry.
func (c *Container) AutoSetup() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.autoSetup
}

// SetAutoSetup changes whether Directory.SetUp includes this registry.
func (c *Container) SetAutoSetup(v bool) {
	c.mu.Lock()
	c.autoSetup = v
	c.mu.Unlock()
}

// Add constructs one instance from factory and stores it under itemName.
// The instance is bound to itemName and is not set up; SetUp does that later.
func (c *Container) Add(itemName string, factory plugin.Factory) error {
	if itemName == "" {
		return errors.InvalidInput("item name must not be empty", errors.WithRegistry(c.name))
	}
	if factory == nil {
		return errors.InvalidInput("factory must not be nil", errors.WithRegistry(c.name), errors.WithItem(itemName))
	}
	if c.Exists(itemName) {
		return errors.DuplicateItem(c.name, itemName)
	}

	item := factory()
	if isNil(item) {
		return errors.InvalidInput("factory returned nil", errors.WithRegistry(c.name), errors.WithItem(itemName))
	}
	if !reflect.TypeOf(item).AssignableTo(c.capability) {
		return errors.CapabilityMismatch(c.name,
			reflect.TypeOf(item).String()+" does not implement "+c.capability.String(),
			errors.WithItem(itemName))
	}

	c.mu.Lock()
	if _, ok := c.items[itemName]; ok {
		c.mu.Unlock()
		return errors.DuplicateItem(c.name, itemName)
	}
	if !plugin.Bind(item, itemName) {
		c.mu.Unlock()
		return errors.InvalidInput("plugin instance already registered as "+item.Name(),
			errors.WithRegistry(c.name), errors.WithItem(itemName))
	}
	c.items[itemName] = item
	c.mu.Unlock()

	c.log.ItemAdded(c.name, itemName)
	c.emit(Event{Type: EventAdded, Registry: c.name, Item: itemName})
	return nil
}

// Get returns the item stored under itemName.
func (c *Container) Get(itemName string) (plugin.Plugin, error) {
	c.mu.RLock()
	item, ok := c.items[itemName]
	c.mu.RUnlock()

	if !ok {
		return nil, errors.ItemNotFound(c.name, itemName)
	}
	return item, nil
}

// Remove tears down and deletes itemName. Removing an absent item, or one
// already being removed, is a no-op.
//
// TearDown runs without the registry lock: other items stay callable and
// TearDown may use the registry. The item stays present until TearDown
// returns.
func (c *Container) Remove(itemName string) {
	c.mu.Lock()
	item, ok := c.items[itemName]
	if !ok || c.removing[itemName] {
		c.mu.Unlock()
		return
	}
	c.removing[itemName] = true
	c.mu.Unlock()

	item.TearDown()

	c.mu.Lock()
	delete(c.removing, itemName)
	delete(c.items, itemName)
	c.mu.Unlock()

	c.log.ItemRemoved(c.name, itemName)
	c.emit(Event{Type: EventRemoved, Registry: c.name, Item: itemName})
}

// Exists reports whether itemName is present.
func (c *Container) Exists(itemName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[itemName]
	return ok
}

// Names returns the item names, sorted.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.items)
}

// Count returns the number of items.
func (c *Container) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Items returns a copy of the item map.
func (c *Container) Items() map[string]plugin.Plugin {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]plugin.Plugin, len(c.items))
	for name, item := range c.items {
		out[name] = item
	}
	return out
}

// Routes collects RouteInfo from every item. The result is a copy.
func (c *Container) Routes() Routes {
	items := c.Items()
	routes := make(Routes, len(items))
	for name, item := range items {
		info := item.RouteInfo()
		cp := make(plugin.RouteInfo, len(info))
		for k, v := range info {
			cp[k] = v
		}
		routes[name] = cp
	}
	return routes
}

// Call dispatches req to itemName. The registry lock is released before the
// plugin runs, so calls proceed concurrently and may re-enter the registry.
func (c *Container) Call(ctx context.Context, itemName string, req plugin.Request) (plugin.Response, error) {
	item, err := c.Get(itemName)
	if err != nil {
		c.recorder.RecordCall(c.name, itemName, err, 0)
		return nil, err
	}

	start := time.Now()
	resp, err := item.Call(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		err = c.callError(itemName, err)
		c.log.CallFailed(c.name, itemName, err)
	}
	c.recorder.RecordCall(c.name, itemName, err, elapsed)
	return resp, err
}

// callError attaches the registry address to plugin errors. Registry errors
// keep their code; anything else becomes PLUGIN_CALL_FAILED.
func (c *Container) callError(itemName string, err error) error {
	if e, ok := errors.AsRegistryError(err).(*errors.Error); ok {
		return e.Locate(c.name, itemName)
	}
	return errors.WrapWithCode(err, errors.ErrCodePluginCallFailed, "plugin call failed",
		errors.WithRegistry(c.name), errors.WithItem(itemName))
}

// SetUp initializes every item when auto-setup is enabled. Items whose SetUp
// fails or panics are removed after the pass; their names are returned sorted.
// Items are visited in name order and no item is removed while the pass runs.
func (c *Container) SetUp() []string {
	if !c.AutoSetup() {
		return nil
	}

	start := time.Now()
	items := c.Items()

	var failed []string
	for _, name := range sortedKeys(items) {
		if err := safeSetUp(items[name]); err != nil {
			failed = append(failed, name)
			c.log.SetUpFailed(c.name, name, errors.SetupFailed(c.name, name, err))
			c.recorder.RecordSetUpFailure(c.name, name)
		}
	}

	for _, name := range failed {
		c.Remove(name)
	}

	c.log.SetUpComplete(c.name, c.Count(), len(failed), time.Since(start))
	return failed
}

func safeSetUp(p plugin.Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return p.SetUp()
}

func (c *Container) emit(e Event) {
	if c.notify != nil {
		c.notify(e)
	}
}

func isNil(p plugin.Plugin) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}
