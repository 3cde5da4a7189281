package extension

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/vinayprograms/pluginkit/errors"
)

// ErrStoreClosed is returned by every Store method after Close.
var ErrStoreClosed = errors.Unavailable("announcement store closed")

// StoreEventType represents the type of store event.
type StoreEventType string

const (
	StorePut     StoreEventType = "put"
	StoreRemoved StoreEventType = "removed"
)

// StoreEvent represents a change in a Store.
type StoreEvent struct {
	Type StoreEventType

	// Announcement is the stored value. For removals only NodeID is
	// guaranteed to be set.
	Announcement Announcement
}

// Store keeps the latest announcement of every live node.
type Store interface {
	// Put adds or replaces the announcement of a.NodeID.
	Put(ctx context.Context, a Announcement) error

	// Delete removes a node. Returns NOT_FOUND if it is absent.
	Delete(ctx context.Context, node uuid.UUID) error

	// Get returns a node's announcement. Returns NOT_FOUND if it is
	// absent or expired.
	Get(ctx context.Context, node uuid.UUID) (*Announcement, error)

	// List returns every live announcement sorted by name, then node.
	List(ctx context.Context) ([]Announcement, error)

	// Watch returns a channel of store events, closed by Close.
	Watch() (<-chan StoreEvent, error)

	// Close shuts the store down.
	Close() error
}

func nodeNotFound(node uuid.UUID) error {
	return errors.NotFound("no announcement for node " + node.String())
}

func sortAnnouncements(list []Announcement) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].NodeID.String() < list[j].NodeID.String()
	})
}
