// Package registry provides named plugin registries grouped in a directory.
//
// # Overview
//
// A Directory maps registry names to Containers. Each Container holds the
// plugins implementing one capability, keyed by item name. Callers dispatch
// by (registry, item) name and never need the concrete plugin type.
//
// # Basic Usage
//
// Define a capability and create its registry:
//
//	type Greeter interface {
//	    plugin.Plugin
//	    Greet(name string) string
//	}
//
//	dir := registry.NewDirectory(registry.WithLogger(logging.New()))
//	greeters, _ := registry.Create[Greeter](dir, "greeter")
//
// Register items before any configuration exists. Factories must be side
// effect free:
//
//	greeters.Add("hello", func() Greeter { return &Hello{} })
//
// Once configuration and logging are ready, initialize everything. Items whose
// SetUp fails are pruned:
//
//	pruned := dir.SetUp()
//
// Dispatch by name:
//
//	resp, err := dir.Call(ctx, "greeter", "hello", plugin.Request{"action": "greet"})
//
// # Broadcast
//
// Broadcast returns every registry's routes, including empty registries. The
// extension package publishes it to peers so they can call back into this
// process.
//
// # Watch
//
// Watch reports registry creation and item addition or removal:
//
//	events, _ := dir.Watch()
//	for event := range events {
//	    switch event.Type {
//	    case registry.EventCreated:
//	        fmt.Printf("registry %s\n", event.Registry)
//	    case registry.EventAdded:
//	        fmt.Printf("item %s/%s\n", event.Registry, event.Item)
//	    case registry.EventRemoved:
//	        fmt.Printf("removed %s/%s\n", event.Registry, event.Item)
//	    }
//	}
//
// # Process-wide directory
//
// Default returns a lazily created directory for programs that register from
// many packages. Tests should build their own with NewDirectory.
//
// Packages contributing plugins export a Register function instead of
// registering from init, and the program calls them in one place:
//
//	func Register(d *registry.Directory) error {
//	    tables, err := registry.Create[plugin.Plugin](d, "tables")
//	    if err != nil {
//	        return err
//	    }
//	    return tables.Add("processes", func() plugin.Plugin { return &Processes{} })
//	}
package registry
