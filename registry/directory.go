package registry

import (
	"context"
	"reflect"
	"sync"

	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/logging"
	"github.com/vinayprograms/pluginkit/plugin"
)

// Directory maps registry names to containers. All methods are safe for
// concurrent use.
type Directory struct {
	log      *logging.Logger
	recorder Recorder

	mu         sync.RWMutex
	containers map[string]*Container

	watchMu  sync.Mutex
	watchers []chan Event
	closed   bool
}

// NewDirectory creates an empty directory.
func NewDirectory(opts ...Option) *Directory {
	d := &Directory{
		log:        logging.Nop(),
		recorder:   nopRecorder{},
		containers: make(map[string]*Container),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var (
	defaultOnce sync.Once
	defaultDir  *Directory
)

// Default returns the process-wide directory, creating it on first use.
func Default() *Directory {
	defaultOnce.Do(func() {
		defaultDir = NewDirectory()
	})
	return defaultDir
}

// create returns the registry called name, creating it if absent. Creating an
// existing name with the same capability returns the existing container;
// a different capability is an error.
func (d *Directory) create(name string, capability reflect.Type, autoSetup bool) (*Container, error) {
	if name == "" {
		return nil, errors.InvalidInput("registry name must not be empty")
	}
	if capability == nil {
		capability = AnyPlugin
	}

	d.mu.Lock()
	if existing, ok := d.containers[name]; ok {
		d.mu.Unlock()
		if existing.capability != capability {
			return nil, errors.CapabilityMismatch(name,
				"registry already bound to "+existing.capability.String()+", not "+capability.String())
		}
		return existing, nil
	}
	c := newContainer(name, capability, autoSetup, d.log, d.recorder, d.notify)
	d.containers[name] = c
	d.mu.Unlock()

	d.log.RegistryCreated(name, autoSetup)
	d.notify(Event{Type: EventCreated, Registry: name})
	return c, nil
}

// CreateRegistry creates a registry accepting plugins assignable to
// capability. Use Create for a typed handle.
func (d *Directory) CreateRegistry(name string, capability reflect.Type, opts ...CreateOption) (*Container, error) {
	o := createOptions{autoSetup: true}
	for _, opt := range opts {
		opt(&o)
	}
	return d.create(name, capability, o.autoSetup)
}

// Container returns the registry called name.
func (d *Directory) Container(name string) (*Container, error) {
	d.mu.RLock()
	c, ok := d.containers[name]
	d.mu.RUnlock()

	if !ok {
		return nil, errors.RegistryNotFound(name)
	}
	return c, nil
}

// Add constructs an item from factory and stores it in registryName.
func (d *Directory) Add(registryName, itemName string, factory plugin.Factory) error {
	c, err := d.Container(registryName)
	if err != nil {
		return err
	}
	return c.Add(itemName, factory)
}

// Get returns one item.
func (d *Directory) Get(registryName, itemName string) (plugin.Plugin, error) {
	c, err := d.Container(registryName)
	if err != nil {
		return nil, err
	}
	return c.Get(itemName)
}

// Remove tears down and deletes one item. Unknown registries and items are
// ignored.
func (d *Directory) Remove(registryName, itemName string) {
	if c, err := d.Container(registryName); err == nil {
		c.Remove(itemName)
	}
}

// All returns a copy of the registry map.
func (d *Directory) All() map[string]*Container {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]*Container, len(d.containers))
	for name, c := range d.containers {
		out[name] = c
	}
	return out
}

// Items returns a copy of one registry's item map.
func (d *Directory) Items(registryName string) (map[string]plugin.Plugin, error) {
	c, err := d.Container(registryName)
	if err != nil {
		return nil, err
	}
	return c.Items(), nil
}

// Broadcast snapshots the routes of every registry, including empty ones.
func (d *Directory) Broadcast() Broadcast {
	all := d.All()
	b := make(Broadcast, len(all))
	for name, c := range all {
		b[name] = c.Routes()
	}
	return b
}

// Call dispatches req to one item.
func (d *Directory) Call(ctx context.Context, registryName, itemName string, req plugin.Request) (plugin.Response, error) {
	c, err := d.Container(registryName)
	if err != nil {
		d.recorder.RecordCall(registryName, itemName, err, 0)
		return nil, err
	}
	return c.Call(ctx, itemName, req)
}

// SetUp runs SetUp on every auto-setup registry in name order. It returns the
// pruned item names per registry; registries with nothing pruned are omitted.
func (d *Directory) SetUp() map[string][]string {
	all := d.All()
	pruned := make(map[string][]string)
	for _, name := range sortedKeys(all) {
		if failed := all[name].SetUp(); len(failed) > 0 {
			pruned[name] = failed
		}
	}
	return pruned
}

// Exists reports whether the item exists. Unknown registries report false.
func (d *Directory) Exists(registryName, itemName string) bool {
	c, err := d.Container(registryName)
	if err != nil {
		return false
	}
	return c.Exists(itemName)
}

// Names returns the sorted item names of one registry, or nil if it does not
// exist.
func (d *Directory) Names(registryName string) []string {
	c, err := d.Container(registryName)
	if err != nil {
		return nil
	}
	return c.Names()
}

// RegistryNames returns the sorted registry names.
func (d *Directory) RegistryNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.containers)
}

// Count returns the number of registries.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.containers)
}

// CountItems returns the number of items in one registry, or 0 if it does
// not exist.
func (d *Directory) CountItems(registryName string) int {
	c, err := d.Container(registryName)
	if err != nil {
		return 0
	}
	return c.Count()
}

// Watch returns a channel of directory events. Slow watchers miss events
// rather than block registration. The channel is closed by Close.
func (d *Directory) Watch() (<-chan Event, error) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()

	if d.closed {
		return nil, errors.Unavailable("directory closed")
	}

	ch := make(chan Event, 64)
	d.watchers = append(d.watchers, ch)
	return ch, nil
}

// Close closes every watcher channel. Registries stay usable.
func (d *Directory) Close() error {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	for _, ch := range d.watchers {
		close(ch)
	}
	d.watchers = nil
	return nil
}

func (d *Directory) notify(event Event) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()

	for _, ch := range d.watchers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}
