package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport implements Transport over one WebSocket connection,
// one JSON-RPC message per text frame.
type WebSocketTransport struct {
	conn   *websocket.Conn
	config WebSocketConfig

	recv chan *InboundMessage
	send chan *OutboundMessage
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	running   bool
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// WebSocketConfig holds WebSocket transport configuration.
type WebSocketConfig struct {
	Config

	// WriteTimeout for write operations.
	WriteTimeout time.Duration

	// ReadTimeout for read operations (0 = no timeout).
	ReadTimeout time.Duration

	// MaxMessageSize limits incoming message size.
	MaxMessageSize int64

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Config:         DefaultConfig(),
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: maxLine,
		PingInterval:   30 * time.Second,
	}
}

// NewWebSocketTransport creates a transport from an existing connection.
func NewWebSocketTransport(conn *websocket.Conn, cfg WebSocketConfig) *WebSocketTransport {
	cfg.Config = cfg.Config.withDefaults()
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &WebSocketTransport{
		conn:   conn,
		config: cfg,
		recv:   make(chan *InboundMessage, cfg.RecvBufferSize),
		send:   make(chan *OutboundMessage, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// NewWebSocketUpgrader creates an upgrader for accepting connections.
// A nil checkOrigin accepts same-origin requests only.
func NewWebSocketUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
}

// Recv returns the channel for incoming messages. It is closed when the
// peer disconnects or the transport shuts down.
func (t *WebSocketTransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for delivery.
func (t *WebSocketTransport) Send(msg *OutboundMessage) error {
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
// called. Queued messages are flushed before the connection closes.
func (t *WebSocketTransport) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.running = true
	t.mu.Unlock()

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
	t.stop()
	<-writerDone
	t.closeConn()

	return ctx.Err()
}

// Close initiates graceful shutdown. When Run is active it flushes pending
// sends and closes the connection; otherwise the connection closes here.
func (t *WebSocketTransport) Close() error {
	if t.stop() {
		return nil
	}
	return t.closeConn()
}

// stop marks the transport closed and reports whether Run owns teardown.
func (t *WebSocketTransport) stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return t.running
}

func (t *WebSocketTransport) closeConn() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *WebSocketTransport) readLoop() {
	defer close(t.recv)

	for {
		if t.config.ReadTimeout > 0 {
			t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		}

		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-t.done:
				default:
					t.config.Logger.Debug("websocket read ended", map[string]interface{}{"error": err.Error()})
				}
			}
			return
		}

		msg, parseErr := ParseInbound(data)
		if parseErr != nil {
			t.Send(parseErrorResponse(data, parseErr))
			continue
		}

		select {
		case t.recv <- msg:
		case <-t.done:
			return
		}
	}
}

func (t *WebSocketTransport) writeLoop() {
	var ping <-chan time.Time
	if t.config.PingInterval > 0 {
		ticker := time.NewTicker(t.config.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-t.done:
			t.drainSendQueue()
			return
		case <-ping:
			t.writeMu.Lock()
			t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			t.writeMu.Unlock()
		case msg := <-t.send:
			t.writeMessage(msg)
		}
	}
}

func (t *WebSocketTransport) drainSendQueue() {
	for {
		select {
		case msg := <-t.send:
			t.writeMessage(msg)
		default:
			return
		}
	}
}

func (t *WebSocketTransport) writeMessage(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		t.config.Logger.Error("encode outbound message", map[string]interface{}{"error": err.Error()})
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.config.WriteTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.config.Logger.Warn("websocket write failed", map[string]interface{}{"error": err.Error()})
	}
}
