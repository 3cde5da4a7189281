package registry

import (
	"reflect"
	"sort"
	"time"

	"github.com/vinayprograms/pluginkit/logging"
	"github.com/vinayprograms/pluginkit/plugin"
)

// Routes maps item name to that item's RouteInfo for one registry.
type Routes map[string]plugin.RouteInfo

// Broadcast maps registry name to that registry's Routes. It is a point in
// time snapshot that shares no mutable state with the directory.
type Broadcast map[string]Routes

// Names returns the registry names in the broadcast, sorted.
func (b Broadcast) Names() []string {
	return sortedKeys(b)
}

// EventType represents the type of directory event.
type EventType string

const (
	EventCreated EventType = "created"
	EventAdded   EventType = "added"
	EventRemoved EventType = "removed"
)

// Event represents a change in the directory.
type Event struct {
	// Type indicates what happened.
	Type EventType

	// Registry is the affected registry.
	Registry string

	// Item is the affected item. Empty for EventCreated.
	Item string
}

// Recorder receives dispatch and setup outcomes. The metrics package provides
// a Prometheus implementation.
type Recorder interface {
	// RecordCall is invoked once per Call, including calls to unknown
	// registries or items. err is nil on success.
	RecordCall(registry, item string, err error, elapsed time.Duration)

	// RecordSetUpFailure is invoked once per item pruned by SetUp.
	RecordSetUpFailure(registry, item string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCall(string, string, error, time.Duration) {}
func (nopRecorder) RecordSetUpFailure(string, string)              {}

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets the logger. The directory logs under the "registry" component.
func WithLogger(l *logging.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.log = l.WithComponent("registry")
		}
	}
}

// WithRecorder sets the recorder for call and setup outcomes.
func WithRecorder(r Recorder) Option {
	return func(d *Directory) {
		if r != nil {
			d.recorder = r
		}
	}
}

// CreateOption configures a registry at creation.
type CreateOption func(*createOptions)

type createOptions struct {
	autoSetup bool
}

// Lazy creates the registry with auto-setup disabled: Directory.SetUp skips
// it until SetAutoSetup(true) is called.
func Lazy() CreateOption {
	return func(o *createOptions) {
		o.autoSetup = false
	}
}

// AnyPlugin is the capability of registries that accept every plugin.
var AnyPlugin = reflect.TypeOf((*plugin.Plugin)(nil)).Elem()

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
