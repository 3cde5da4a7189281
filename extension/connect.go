package extension

import (
	"context"

	"github.com/vinayprograms/pluginkit/bus"
	"github.com/vinayprograms/pluginkit/config"
)

// Link is the bus and store a node shares with its peers.
type Link struct {
	Bus   bus.MessageBus
	Store Store
}

// Close closes the store, then the bus.
func (l *Link) Close() error {
	var err error
	if l.Store != nil {
		err = l.Store.Close()
	}
	if berr := l.Bus.Close(); err == nil {
		err = berr
	}
	return err
}

// Connect opens the link described by the [extension] section. The memory
// kind only reaches nodes in the same process; nats uses a JetStream bucket
// for announcements.
func Connect(ctx context.Context, cfg config.ExtensionConfig, opts ...Option) (*Link, error) {
	o := buildOptions(opts)

	switch cfg.Bus {
	case config.BusNATS:
		natsCfg := bus.DefaultNATSConfig()
		natsCfg.URL = cfg.URL
		natsCfg.Name = cfg.Name
		b, err := bus.NewNATSBus(natsCfg)
		if err != nil {
			return nil, err
		}
		store, err := NewNATSStore(ctx, b.Conn(), NATSStoreConfig{
			Bucket: cfg.Bucket,
			TTL:    cfg.TTL.Duration,
		}, opts...)
		if err != nil {
			b.Close()
			return nil, err
		}
		o.log.Info("connected", map[string]interface{}{"url": cfg.URL, "bucket": cfg.Bucket})
		return &Link{Bus: b, Store: store}, nil

	default:
		return &Link{
			Bus:   bus.NewMemoryBus(bus.DefaultConfig()),
			Store: NewMemoryStore(MemoryStoreConfig{TTL: cfg.TTL.Duration}),
		}, nil
	}
}
