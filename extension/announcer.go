package extension

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/pluginkit/bus"
	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/logging"
	"github.com/vinayprograms/pluginkit/registry"
)

// AnnouncerConfig configures an Announcer.
type AnnouncerConfig struct {
	// NodeID identifies this process. Default: a random UUID.
	NodeID uuid.UUID

	// Name is a human-readable name for the node. Required.
	Name string

	// Interval between periodic announcements. Default: 10s
	Interval time.Duration
}

// Announcer publishes the local broadcast of a Directory.
type Announcer struct {
	dir      *registry.Directory
	bus      bus.MessageBus
	store    Store
	node     uuid.UUID
	name     string
	interval time.Duration
	log      *logging.Logger

	now func() time.Time
}

// NewAnnouncer creates an announcer for dir. Either b or store may be nil,
// but not both.
func NewAnnouncer(dir *registry.Directory, b bus.MessageBus, store Store, cfg AnnouncerConfig, opts ...Option) (*Announcer, error) {
	if dir == nil {
		return nil, errors.InvalidInput("announcer needs a directory")
	}
	if b == nil && store == nil {
		return nil, errors.InvalidInput("announcer needs a bus or a store")
	}
	if cfg.Name == "" {
		return nil, errors.InvalidInput("announcer name is required")
	}
	if cfg.NodeID == uuid.Nil {
		cfg.NodeID = uuid.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}

	o := buildOptions(opts)
	return &Announcer{
		dir:      dir,
		bus:      b,
		store:    store,
		node:     cfg.NodeID,
		name:     cfg.Name,
		interval: cfg.Interval,
		log:      o.log,
		now:      time.Now,
	}, nil
}

// NodeID returns the node this announcer speaks for.
func (a *Announcer) NodeID() uuid.UUID {
	return a.node
}

// Announcement builds the current announcement.
func (a *Announcer) Announcement() Announcement {
	return Announcement{
		NodeID:    a.node,
		Name:      a.name,
		Broadcast: LocalBroadcast(a.dir),
		Timestamp: a.now().UTC(),
	}
}

// Announce writes the current announcement to the store and publishes it
// on BroadcastSubject.
func (a *Announcer) Announce(ctx context.Context) error {
	ann := a.Announcement()

	if a.store != nil {
		if err := a.store.Put(ctx, ann); err != nil {
			return err
		}
	}
	if a.bus != nil {
		data, err := json.Marshal(ann)
		if err != nil {
			return errors.Wrap(err, "encode announcement")
		}
		if err := a.bus.Publish(BroadcastSubject, data); err != nil {
			return err
		}
	}

	a.log.Debug("announced", map[string]interface{}{
		"node":       a.node.String(),
		"registries": len(ann.Broadcast),
	})
	return nil
}

// Run announces immediately, then on every interval and every Directory
// change, until ctx is cancelled. On exit the node is withdrawn from the
// store. Failed announcements are logged and retried on the next tick.
func (a *Announcer) Run(ctx context.Context) error {
	events, err := a.dir.Watch()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.announce(ctx)
	for {
		select {
		case <-ctx.Done():
			a.withdraw()
			return nil
		case <-ticker.C:
			a.announce(ctx)
		case ev, ok := <-events:
			if !ok {
				// Directory closed; keep announcing on the interval.
				events = nil
				continue
			}
			a.log.Debug("directory changed", map[string]interface{}{
				"event":    string(ev.Type),
				"registry": ev.Registry,
				"item":     ev.Item,
			})
			a.announce(ctx)
		}
	}
}

func (a *Announcer) announce(ctx context.Context) {
	if err := a.Announce(ctx); err != nil && ctx.Err() == nil {
		a.log.Warn("announce failed", map[string]interface{}{
			"node":  a.node.String(),
			"error": err.Error(),
		})
	}
}

func (a *Announcer) withdraw() {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.Delete(ctx, a.node); err != nil && !errors.Is(err, errors.ErrCodeNotFound) {
		a.log.Warn("withdraw failed", map[string]interface{}{
			"node":  a.node.String(),
			"error": err.Error(),
		})
	}
}
