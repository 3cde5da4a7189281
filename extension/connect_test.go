package extension

import (
	"context"
	"testing"
	"time"

	"github.com/vinayprograms/pluginkit/bus"
	"github.com/vinayprograms/pluginkit/config"
	"github.com/vinayprograms/pluginkit/errors"
)

func TestConnect_Memory(t *testing.T) {
	cfg := config.New().Extension
	cfg.TTL = config.Duration{Duration: time.Minute}

	link, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if _, ok := link.Bus.(*bus.MemoryBus); !ok {
		t.Errorf("bus = %T, want *bus.MemoryBus", link.Bus)
	}
	store, ok := link.Store.(*MemoryStore)
	if !ok {
		t.Fatalf("store = %T, want *MemoryStore", link.Store)
	}
	if store.ttl != time.Minute {
		t.Errorf("store ttl = %v, want 1m", store.ttl)
	}

	if err := link.Close(); err != nil {
		t.Errorf("Close error: %v", err)
	}
	if _, err := store.List(context.Background()); err != ErrStoreClosed {
		t.Errorf("List after Close = %v, want ErrStoreClosed", err)
	}
}

func TestConnect_NATSUnreachable(t *testing.T) {
	cfg := config.New().Extension
	cfg.Bus = config.BusNATS
	cfg.URL = "nats://127.0.0.1:1"

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, errors.ErrCodeUnavailable) {
		t.Errorf("err = %v, want UNAVAILABLE", err)
	}
}
