package registry

import (
	"context"
	"reflect"

	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/plugin"
)

// Capability is a typed handle to a registry whose items all implement T.
type Capability[T plugin.Plugin] struct {
	container *Container
}

// Create creates (or returns) the registry called name bound to T.
//
// Creating a name that already exists with the same T returns a handle to the
// existing registry and leaves it untouched. A different T is a
// CAPABILITY_MISMATCH error.
func Create[T plugin.Plugin](d *Directory, name string, opts ...CreateOption) (*Capability[T], error) {
	o := createOptions{autoSetup: true}
	for _, opt := range opts {
		opt(&o)
	}
	c, err := d.create(name, typeOf[T](), o.autoSetup)
	if err != nil {
		return nil, err
	}
	return &Capability[T]{container: c}, nil
}

// Lookup returns a typed handle to an existing registry bound to T.
func Lookup[T plugin.Plugin](d *Directory, name string) (*Capability[T], error) {
	c, err := d.Container(name)
	if err != nil {
		return nil, err
	}
	if want := typeOf[T](); c.capability != want {
		return nil, errors.CapabilityMismatch(name,
			"registry bound to "+c.capability.String()+", not "+want.String())
	}
	return &Capability[T]{container: c}, nil
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Name returns the registry name.
func (c *Capability[T]) Name() string {
	return c.container.Name()
}

// Container returns the underlying untyped registry.
func (c *Capability[T]) Container() *Container {
	return c.container
}

// Add constructs an item from factory and stores it under itemName.
func (c *Capability[T]) Add(itemName string, factory func() T) error {
	if factory == nil {
		return c.container.Add(itemName, nil)
	}
	return c.container.Add(itemName, func() plugin.Plugin {
		return factory()
	})
}

// Get returns the item stored under itemName.
func (c *Capability[T]) Get(itemName string) (T, error) {
	var zero T
	p, err := c.container.Get(itemName)
	if err != nil {
		return zero, err
	}
	item, ok := p.(T)
	if !ok {
		return zero, errors.CapabilityMismatch(c.Name(), "stored item does not implement "+typeOf[T]().String(),
			errors.WithItem(itemName))
	}
	return item, nil
}

// Items returns a copy of the item map.
func (c *Capability[T]) Items() map[string]T {
	items := c.container.Items()
	out := make(map[string]T, len(items))
	for name, p := range items {
		if item, ok := p.(T); ok {
			out[name] = item
		}
	}
	return out
}

// Call dispatches req to itemName.
func (c *Capability[T]) Call(ctx context.Context, itemName string, req plugin.Request) (plugin.Response, error) {
	return c.container.Call(ctx, itemName, req)
}

// Remove tears down and deletes itemName.
func (c *Capability[T]) Remove(itemName string) {
	c.container.Remove(itemName)
}

// Exists reports whether itemName is present.
func (c *Capability[T]) Exists(itemName string) bool {
	return c.container.Exists(itemName)
}

// Names returns the item names, sorted.
func (c *Capability[T]) Names() []string {
	return c.container.Names()
}
