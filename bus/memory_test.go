package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/pluginkit/errors"
)

// --- Unit Tests ---

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		subject string
		wantErr bool
	}{
		{"pluginkit", false},
		{"pluginkit.broadcast", false},
		{"pluginkit.call.5f0c", false},
		{"", true},
		{"pluginkit..call", true},
		{".pluginkit", true},
		{"pluginkit call", true},
	}

	for _, tt := range tests {
		err := ValidateSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSubject(%q) = %v, wantErr %v", tt.subject, err, tt.wantErr)
		}
	}
}

func TestErrorCodes(t *testing.T) {
	if !errors.Is(ErrTimeout, errors.ErrCodeTimeout) || !errors.IsRetryable(ErrTimeout) {
		t.Error("ErrTimeout should be a retryable TIMEOUT")
	}
	if !errors.Is(ErrClosed, errors.ErrCodeUnavailable) {
		t.Error("ErrClosed should be UNAVAILABLE")
	}
	if !errors.Is(ErrInvalidSubject, errors.ErrCodeInvalidInput) {
		t.Error("ErrInvalidSubject should be INVALID_INPUT")
	}
}

func TestMemoryBus_Publish(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	// Publish without subscribers should not error
	if err := bus.Publish("pluginkit.broadcast", []byte("{}")); err != nil {
		t.Errorf("Publish error: %v", err)
	}
}

func TestMemoryBus_PublishInvalidSubject(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	if err := bus.Publish("", []byte("hello")); err != ErrInvalidSubject {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
}

// --- Integration Tests ---

func TestMemoryBus_Subscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, err := bus.Subscribe("pluginkit.broadcast")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	bus.Publish("pluginkit.broadcast", []byte("routes"))

	select {
	case msg := <-sub.Messages():
		if string(msg.Data) != "routes" {
			t.Errorf("data = %q, want %q", msg.Data, "routes")
		}
		if msg.Subject != "pluginkit.broadcast" {
			t.Errorf("subject = %q", msg.Subject)
		}
		if msg.Reply != "" {
			t.Errorf("reply = %q, want empty", msg.Reply)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for message")
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub1, _ := bus.Subscribe("test")
	sub2, _ := bus.Subscribe("test")
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	bus.Publish("test", []byte("hello"))

	for i, sub := range []Subscription{sub1, sub2} {
		select {
		case msg := <-sub.Messages():
			if string(msg.Data) != "hello" {
				t.Errorf("sub%d: data = %q, want %q", i+1, msg.Data, "hello")
			}
		case <-time.After(time.Second):
			t.Errorf("sub%d: timeout", i+1)
		}
	}
}

func TestMemoryBus_QueueSubscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	var subs []Subscription
	for i := 0; i < 3; i++ {
		sub, err := bus.QueueSubscribe("test", "workers")
		if err != nil {
			t.Fatalf("QueueSubscribe error: %v", err)
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	for i := 0; i < 9; i++ {
		bus.Publish("test", []byte("msg"))
	}

	var received [3]int32
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(idx int, s Subscription) {
			defer wg.Done()
			timeout := time.After(100 * time.Millisecond)
			for {
				select {
				case <-s.Messages():
					atomic.AddInt32(&received[idx], 1)
				case <-timeout:
					return
				}
			}
		}(i, sub)
	}
	wg.Wait()

	// Round-robin spreads 9 messages evenly.
	for i, n := range received {
		if n != 3 {
			t.Errorf("member %d received %d, want 3 (distribution: %v)", i, n, received)
		}
	}
}

func TestMemoryBus_QueueSubscribeEmptyQueue(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	if _, err := bus.QueueSubscribe("test", ""); err != ErrInvalidSubject {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
}

func respond(bus *MemoryBus, sub Subscription, reply string) {
	for msg := range sub.Messages() {
		if msg.Reply != "" {
			bus.Publish(msg.Reply, []byte(reply))
		}
	}
}

func TestMemoryBus_Request(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("service")
	go respond(bus, sub, "pong")
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := bus.Request(ctx, "service", []byte("ping"))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if string(reply.Data) != "pong" {
		t.Errorf("reply = %q, want %q", reply.Data, "pong")
	}
}

func TestMemoryBus_RequestQueueGroup(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	for _, name := range []string{"a", "b"} {
		sub, _ := bus.QueueSubscribe("service", "servers")
		go respond(bus, sub, name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		reply, err := bus.Request(ctx, "service", nil)
		if err != nil {
			t.Fatalf("Request error: %v", err)
		}
		seen[string(reply.Data)] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("replies from %v, want both members", seen)
	}
}

func TestMemoryBus_RequestTimeout(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	// Subscriber that never replies
	sub, _ := bus.Subscribe("service")
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := bus.Request(ctx, "service", []byte("ping")); err != ErrTimeout {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestMemoryBus_RequestCanceled(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("service")
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bus.Request(ctx, "service", []byte("ping"))
	if !errors.Is(err, errors.ErrCodeCanceled) {
		t.Errorf("expected CANCELED, got %v", err)
	}
}

func TestMemoryBus_RequestNoResponders(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	if _, err := bus.Request(context.Background(), "nobody", nil); err != ErrNoResponders {
		t.Errorf("expected ErrNoResponders, got %v", err)
	}
}

// --- Failure Tests ---

func TestMemoryBus_PublishAfterClose(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	bus.Close()

	if err := bus.Publish("test", []byte("hello")); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryBus_SubscribeAfterClose(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	bus.Close()

	if _, err := bus.Subscribe("test"); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := bus.Request(context.Background(), "test", nil); err != ErrClosed {
		t.Errorf("expected ErrClosed from Request, got %v", err)
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("test")

	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe error: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe error: %v", err)
	}

	if _, ok := <-sub.Messages(); ok {
		t.Error("expected channel to be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	if err := bus.Publish("test", []byte("late")); err != nil {
		t.Errorf("Publish error: %v", err)
	}
}

func TestMemoryBus_CloseClosesSubscriptions(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	sub, _ := bus.Subscribe("test")
	qsub, _ := bus.QueueSubscribe("test", "workers")

	bus.Close()

	for _, s := range []Subscription{sub, qsub} {
		if _, ok := <-s.Messages(); ok {
			t.Error("expected channel to be closed")
		}
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
}

func TestMemoryBus_ConcurrentPublishUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(Config{BufferSize: 4})
	defer bus.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub, _ := bus.Subscribe("test")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish("test", []byte("x"))
			}
		}()
		go func(s Subscription) {
			defer wg.Done()
			s.Unsubscribe()
		}(sub)
	}
	wg.Wait()
}

// --- Performance Tests ---

func BenchmarkMemoryBus_Publish(b *testing.B) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("bench")
	go func() {
		for range sub.Messages() {
		}
	}()

	data := []byte("benchmark message")
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		bus.Publish("bench", data)
	}
}

func BenchmarkMemoryBus_Request(b *testing.B) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("service")
	go respond(bus, sub, "pong")

	ctx := context.Background()
	data := []byte("ping")
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		bus.Request(ctx, "service", data)
	}
}

// --- Security Tests ---

func TestMemoryBus_BufferFull(t *testing.T) {
	bus := NewMemoryBus(Config{BufferSize: 1})
	defer bus.Close()

	sub, _ := bus.Subscribe("test")

	bus.Publish("test", []byte("1"))
	bus.Publish("test", []byte("2")) // Should be dropped

	select {
	case msg := <-sub.Messages():
		if string(msg.Data) != "1" {
			t.Errorf("expected first message, got %q", msg.Data)
		}
	default:
		t.Error("expected at least one message")
	}

	select {
	case <-sub.Messages():
		t.Error("unexpected second message")
	default:
		// Expected - second was dropped
	}
}
