package transport

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// maxLine bounds a single newline-delimited message.
const maxLine = 1024 * 1024

// StdioTransport implements Transport over newline-delimited JSON on a
// reader/writer pair, normally stdin and stdout.
type StdioTransport struct {
	reader io.Reader
	writer io.Writer
	config Config

	recv chan *InboundMessage
	send chan *OutboundMessage
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	writeMu sync.Mutex
}

// NewStdioTransport creates a new stdio transport.
func NewStdioTransport(r io.Reader, w io.Writer, cfg Config) *StdioTransport {
	cfg = cfg.withDefaults()
	return &StdioTransport{
		reader: r,
		writer: w,
		config: cfg,
		recv:   make(chan *InboundMessage, cfg.RecvBufferSize),
		send:   make(chan *OutboundMessage, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// Recv returns the channel for incoming messages. It is closed when the
// reader reaches EOF or fails.
func (t *StdioTransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for delivery.
func (t *StdioTransport) Send(msg *OutboundMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	select {
	case t.send <- msg:
		return nil
	case <-t.done:
		return ErrClosed
	}
}

// Run starts the transport and blocks until ctx is cancelled or Close is
// called. Queued messages are written before it returns. A reader blocked
// in Read is left behind, since an io.Reader cannot be interrupted.
func (t *StdioTransport) Run(ctx context.Context) error {
	writerDone := make(chan struct{})
	go t.readLoop()
	go func() {
		defer close(writerDone)
		t.writeLoop()
	}()

	select {
	case <-ctx.Done():
	case <-t.done:
	}
	t.Close()
	<-writerDone

	return ctx.Err()
}

// Close initiates graceful shutdown.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

func (t *StdioTransport) readLoop() {
	defer close(t.recv)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// Scanner reuses its buffer.
		raw := make([]byte, len(line))
		copy(raw, line)

		msg, err := ParseInbound(raw)
		if err != nil {
			t.Send(parseErrorResponse(raw, err))
			continue
		}

		select {
		case t.recv <- msg:
		case <-t.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		t.config.Logger.Warn("stdio read failed", map[string]interface{}{"error": err.Error()})
	}
}

func (t *StdioTransport) writeLoop() {
	for {
		select {
		case <-t.done:
			t.drainSendQueue()
			return
		case msg := <-t.send:
			t.writeMessage(msg)
		}
	}
}

func (t *StdioTransport) drainSendQueue() {
	for {
		select {
		case msg := <-t.send:
			t.writeMessage(msg)
		default:
			return
		}
	}
}

func (t *StdioTransport) writeMessage(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		t.config.Logger.Error("encode outbound message", map[string]interface{}{"error": err.Error()})
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		t.config.Logger.Warn("stdio write failed", map[string]interface{}{"error": err.Error()})
	}
}
