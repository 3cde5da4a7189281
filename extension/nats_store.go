package extension

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/logging"
)

// NATSStore implements Store on a NATS JetStream key-value bucket, keyed by
// node ID. Expiry is left to the bucket TTL.
type NATSStore struct {
	kv     jetstream.KeyValue
	config NATSStoreConfig
	log    *logging.Logger

	mu       sync.RWMutex
	watchers []chan StoreEvent
	closed   bool
	cancel   context.CancelFunc
}

// NATSStoreConfig configures the NATS store.
type NATSStoreConfig struct {
	// Bucket is the KV bucket name. Default: "pluginkit-broadcast"
	Bucket string

	// TTL for announcements. Zero means no expiry.
	TTL time.Duration

	// Replicas for the KV store (1-5). Default: 1
	Replicas int
}

// DefaultNATSStoreConfig returns configuration with sensible defaults.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:   "pluginkit-broadcast",
		TTL:      30 * time.Second,
		Replicas: 1,
	}
}

// NewNATSStore creates or opens the bucket on conn and starts watching it.
func NewNATSStore(ctx context.Context, conn *nats.Conn, cfg NATSStoreConfig, opts ...Option) (*NATSStore, error) {
	if conn == nil {
		return nil, errors.InvalidInput("nil NATS connection")
	}

	def := DefaultNATSStoreConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = def.Bucket
	}
	if cfg.Replicas < 1 {
		cfg.Replicas = def.Replicas
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "create jetstream context")
	}

	kvCfg := jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Replicas: cfg.Replicas,
		TTL:      cfg.TTL,
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, kvCfg)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "create kv bucket "+cfg.Bucket)
	}

	o := buildOptions(opts)
	watchCtx, cancel := context.WithCancel(context.Background())
	s := &NATSStore{
		kv:     kv,
		config: cfg,
		log:    o.log,
		cancel: cancel,
	}

	watcher, err := kv.WatchAll(watchCtx, jetstream.UpdatesOnly())
	if err != nil {
		cancel()
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "watch kv bucket "+cfg.Bucket)
	}
	go s.watchKV(watchCtx, watcher)

	return s, nil
}

func (s *NATSStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Put adds or replaces an announcement.
func (s *NATSStore) Put(ctx context.Context, a Announcement) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrStoreClosed
	}

	data, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "encode announcement")
	}
	if _, err := s.kv.Put(ctx, a.NodeID.String(), data); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "put announcement")
	}
	return nil
}

// Delete removes a node's announcement.
func (s *NATSStore) Delete(ctx context.Context, node uuid.UUID) error {
	if s.isClosed() {
		return ErrStoreClosed
	}

	key := node.String()
	if _, err := s.kv.Get(ctx, key); err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nodeNotFound(node)
		}
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "get announcement")
	}
	if err := s.kv.Delete(ctx, key); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "delete announcement")
	}
	return nil
}

// Get returns a node's announcement.
func (s *NATSStore) Get(ctx context.Context, node uuid.UUID) (*Announcement, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}

	entry, err := s.kv.Get(ctx, node.String())
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nodeNotFound(node)
		}
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "get announcement")
	}

	var a Announcement
	if err := json.Unmarshal(entry.Value(), &a); err != nil {
		return nil, errors.Wrap(err, "decode announcement")
	}
	return &a, nil
}

// List returns every announcement in the bucket.
func (s *NATSStore) List(ctx context.Context) ([]Announcement, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}

	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return []Announcement{}, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "list announcements")
	}

	result := make([]Announcement, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue // Deleted or expired since Keys
		}
		var a Announcement
		if err := json.Unmarshal(entry.Value(), &a); err != nil {
			s.log.Warn("skipping undecodable announcement", map[string]interface{}{"key": key, "error": err.Error()})
			continue
		}
		result = append(result, a)
	}
	sortAnnouncements(result)
	return result, nil
}

// Watch returns a channel of store events.
func (s *NATSStore) Watch() (<-chan StoreEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ch := make(chan StoreEvent, 64)
	s.watchers = append(s.watchers, ch)
	return ch, nil
}

// Close stops the bucket watcher and closes every watcher channel. The
// connection stays open.
func (s *NATSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	for _, ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil
	return nil
}

// watchKV turns bucket updates into store events.
func (s *NATSStore) watchKV(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			event, ok := s.toEvent(entry)
			if !ok {
				continue
			}

			s.mu.RLock()
			if s.closed {
				s.mu.RUnlock()
				return
			}
			for _, ch := range s.watchers {
				select {
				case ch <- event:
				default:
				}
			}
			s.mu.RUnlock()
		}
	}
}

func (s *NATSStore) toEvent(entry jetstream.KeyValueEntry) (StoreEvent, bool) {
	switch entry.Operation() {
	case jetstream.KeyValuePut:
		var a Announcement
		if err := json.Unmarshal(entry.Value(), &a); err != nil {
			s.log.Warn("skipping undecodable announcement", map[string]interface{}{"key": entry.Key(), "error": err.Error()})
			return StoreEvent{}, false
		}
		return StoreEvent{Type: StorePut, Announcement: a}, true
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		node, err := uuid.Parse(entry.Key())
		if err != nil {
			return StoreEvent{}, false
		}
		return StoreEvent{Type: StoreRemoved, Announcement: Announcement{NodeID: node}}, true
	}
	return StoreEvent{}, false
}
