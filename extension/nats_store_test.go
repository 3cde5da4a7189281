package extension

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/vinayprograms/pluginkit/bus"
	"github.com/vinayprograms/pluginkit/errors"
)

// newTestNATSStore connects to NATS_URL with JetStream enabled, or skips.
func newTestNATSStore(t *testing.T) (*NATSStore, *bus.NATSBus) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	cfg := bus.DefaultNATSConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.URL = url
	}
	cfg.ConnectTimeout = 2 * time.Second
	cfg.MaxReconnects = 0

	b, err := bus.NewNATSBus(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", cfg.URL, err)
	}
	t.Cleanup(func() { b.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	storeCfg := DefaultNATSStoreConfig()
	storeCfg.Bucket = "pluginkit-test-" + uuid.NewString()[:8]
	storeCfg.TTL = 0
	s, err := NewNATSStore(ctx, b.Conn(), storeCfg)
	if err != nil {
		t.Skipf("skipping: JetStream not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, b
}

func TestNATSStore_PutGetList(t *testing.T) {
	s, _ := newTestNATSStore(t)
	ctx := context.Background()

	a := announcement("ext")
	if err := s.Put(ctx, a); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	got, err := s.Get(ctx, a.NodeID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if diff := cmp.Diff(a, *got); diff != "" {
		t.Errorf("announcement mismatch (-want +got):\n%s", diff)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 1 || list[0].NodeID != a.NodeID {
		t.Errorf("List = %v", list)
	}
}

func TestNATSStore_DeleteAndWatch(t *testing.T) {
	s, _ := newTestNATSStore(t)
	ctx := context.Background()

	events, err := s.Watch()
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}

	a := announcement("ext")
	s.Put(ctx, a)
	if err := s.Delete(ctx, a.NodeID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := s.Get(ctx, a.NodeID); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("Get after Delete = %v, want NOT_FOUND", err)
	}
	if err := s.Delete(ctx, a.NodeID); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("second Delete = %v, want NOT_FOUND", err)
	}

	for _, want := range []StoreEventType{StorePut, StoreRemoved} {
		select {
		case ev := <-events:
			if ev.Type != want || ev.Announcement.NodeID != a.NodeID {
				t.Errorf("event = %+v, want %s of %s", ev, want, a.NodeID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestNATSStore_EmptyList(t *testing.T) {
	s, _ := newTestNATSStore(t)

	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List = %v, want empty", list)
	}
}

func TestNATSStore_RemoteCallOverNATS(t *testing.T) {
	store, b := newTestNATSStore(t)

	ext := newDirectory(t)
	ext.Add("tables", "users", newTable("alice"))
	startNode(t, ext, b, store, "users-ext")

	host := newDirectory(t)
	mirror(t, host, b, store)
	waitFor(t, "remote item", func() bool { return host.Exists("tables", "users") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := host.Call(ctx, "tables", "users", nil)
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if len(resp) != 1 || resp[0]["name"] != "alice" {
		t.Errorf("response = %v", resp)
	}
}

func TestNewNATSStore_NilConn(t *testing.T) {
	if _, err := NewNATSStore(context.Background(), nil, DefaultNATSStoreConfig()); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}
