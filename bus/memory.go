package bus

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// MemoryBus implements MessageBus using in-memory channels.
// Useful for testing and for extensions hosted in the same process.
type MemoryBus struct {
	config Config

	mu       sync.RWMutex
	subjects map[string]*subjectSubs
	closed   atomic.Bool

	replySeq atomic.Uint64
}

// subjectSubs holds the subscribers of one subject.
type subjectSubs struct {
	plain  []*memorySub
	queues map[string]*queueGroup
}

type queueGroup struct {
	members []*memorySub
	next    atomic.Uint64
}

type memorySub struct {
	subject string
	queue   string
	bus     *MemoryBus
	once    bool

	mu     sync.Mutex
	ch     chan *Message
	closed bool
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &MemoryBus{
		config:   cfg,
		subjects: make(map[string]*subjectSubs),
	}
}

// Publish sends a message to all subscribers.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.deliver(&Message{Subject: subject, Data: data})
	return nil
}

// deliver hands msg to every plain subscriber and one member per queue
// group. It reports how many subscribers accepted the message.
func (b *MemoryBus) deliver(msg *Message) int {
	b.mu.RLock()
	s := b.subjects[msg.Subject]
	var plain []*memorySub
	var groups []*queueGroup
	if s != nil {
		plain = append(plain, s.plain...)
		for _, g := range s.queues {
			groups = append(groups, g)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range plain {
		if sub.offer(msg) {
			delivered++
		}
	}
	for _, g := range groups {
		if g.offer(msg) {
			delivered++
		}
	}
	return delivered
}

// offer tries members in round-robin order, starting after the last pick,
// until one accepts.
func (g *queueGroup) offer(msg *Message) bool {
	n := len(g.members)
	if n == 0 {
		return false
	}
	start := int(g.next.Add(1) - 1)
	for i := 0; i < n; i++ {
		if g.members[(start+i)%n].offer(msg) {
			return true
		}
	}
	return false
}

func (s *memorySub) offer(msg *Message) bool {
	s.mu.Lock()
	accepted := false
	if !s.closed {
		select {
		case s.ch <- msg:
			accepted = true
		default:
			// Buffer full, drop message
		}
	}
	s.mu.Unlock()

	if accepted && s.once {
		s.bus.remove(s)
	}
	return accepted
}

// Subscribe creates a subscription to a subject.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	return b.add(subject, "", b.config.BufferSize, false)
}

// QueueSubscribe creates a queue subscription.
func (b *MemoryBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if queue == "" {
		return nil, ErrInvalidSubject
	}
	return b.add(subject, queue, b.config.BufferSize, false)
}

func (b *MemoryBus) add(subject, queue string, buffer int, once bool) (*memorySub, error) {
	sub := &memorySub{
		subject: subject,
		queue:   queue,
		ch:      make(chan *Message, buffer),
		bus:     b,
		once:    once,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return nil, ErrClosed
	}

	s := b.subjects[subject]
	if s == nil {
		s = &subjectSubs{queues: make(map[string]*queueGroup)}
		b.subjects[subject] = s
	}
	if queue == "" {
		s.plain = append(s.plain, sub)
		return sub, nil
	}

	old := s.queues[queue]
	g := &queueGroup{}
	if old != nil {
		g.members = append(g.members, old.members...)
		g.next.Store(old.next.Load())
	}
	g.members = append(g.members, sub)
	s.queues[queue] = g
	return sub, nil
}

// Request publishes a request and waits for one reply.
func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte) (*Message, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	inbox := "_INBOX." + strconv.FormatUint(b.replySeq.Add(1), 10)
	reply, err := b.add(inbox, "", 1, true)
	if err != nil {
		return nil, err
	}
	defer reply.Unsubscribe()

	if b.deliver(&Message{Subject: subject, Data: data, Reply: inbox}) == 0 {
		return nil, ErrNoResponders
	}

	select {
	case msg, ok := <-reply.ch:
		if !ok {
			return nil, ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, requestError(ctx.Err())
	}
}

// Close shuts down the bus and closes every subscription.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subjects := b.subjects
	b.subjects = make(map[string]*subjectSubs)
	b.mu.Unlock()

	for _, s := range subjects {
		for _, sub := range s.plain {
			sub.close()
		}
		for _, g := range s.queues {
			for _, sub := range g.members {
				sub.close()
			}
		}
	}
	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.remove(s)
	s.close()
	return nil
}

func (s *memorySub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (b *MemoryBus) remove(target *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.subjects[target.subject]
	if s == nil {
		return
	}
	if target.queue == "" {
		s.plain = without(s.plain, target)
	} else if old := s.queues[target.queue]; old != nil {
		g := &queueGroup{members: without(old.members, target)}
		g.next.Store(old.next.Load())
		s.queues[target.queue] = g
		if len(g.members) == 0 {
			delete(s.queues, target.queue)
		}
	}
	if len(s.plain) == 0 && len(s.queues) == 0 {
		delete(b.subjects, target.subject)
	}
}

// without returns subs minus target in a fresh slice so that snapshots held
// by deliver stay valid.
func without(subs []*memorySub, target *memorySub) []*memorySub {
	out := make([]*memorySub, 0, len(subs))
	for _, sub := range subs {
		if sub != target {
			out = append(out, sub)
		}
	}
	return out
}
