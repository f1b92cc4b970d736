package pairing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// ListenerConfig configures relay connection behavior.
type ListenerConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
}

// DefaultListenerConfig returns the default relay configuration.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// frame is one inbound relay message.
type frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Listener consumes pairing-protocol events from the relay endpoint and
// feeds them into the Store. It reconnects with capped exponential backoff
// until its context is cancelled.
type Listener struct {
	endpoint string
	store    *Store
	config   ListenerConfig
	logger   *log.Logger
}

// ListenerOption configures Listener.
type ListenerOption func(*Listener)

// WithListenerConfig overrides the connection configuration.
func WithListenerConfig(config ListenerConfig) ListenerOption {
	return func(l *Listener) {
		l.config = config
	}
}

// WithListenerLogger sets the logger for connection and decode failures.
func WithListenerLogger(logger *log.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// NewListener creates a Listener over endpoint feeding store.
func NewListener(endpoint string, store *Store, opts ...ListenerOption) *Listener {
	l := &Listener{
		endpoint: endpoint,
		store:    store,
		config:   DefaultListenerConfig(),
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run connects and consumes relay frames until ctx is cancelled. Connection
// loss is not an error: the listener backs off and reconnects.
func (l *Listener) Run(ctx context.Context) error {
	delay := l.config.ReconnectDelay

	for {
		conn, err := l.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Printf("relay dial %s: %v, retrying in %s", l.endpoint, err, delay)
			if err := wait(ctx, delay); err != nil {
				return err
			}
			delay = nextDelay(delay, l.config.MaxReconnectDelay)
			continue
		}

		delay = l.config.ReconnectDelay
		err = l.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Printf("relay connection lost: %v, reconnecting", err)
	}
}

func (l *Listener) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: l.config.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, l.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// readLoop consumes frames until the connection drops or ctx is cancelled.
func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// Unblock ReadMessage when the context goes away.
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.handleFrame(ctx, message)
	}
}

// handleFrame decodes one relay frame and drives the store. Unknown or
// malformed frames are logged and dropped; one bad frame must not tear down
// the connection.
func (l *Listener) handleFrame(ctx context.Context, message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		l.logger.Printf("relay frame decode: %v", err)
		return
	}

	switch f.Type {
	case "session_proposal":
		l.store.SetEvent(NewSessionProposal(f.Payload))
	case "session_request":
		l.store.SetEvent(NewSessionRequest(f.Payload, f.Topic))
	case "session_delete":
		if err := l.store.HandleSessionDelete(ctx, f.Topic); err != nil {
			l.logger.Printf("relay session delete for %s: %v", f.Topic, err)
		}
	default:
		l.logger.Printf("relay frame with unknown type %q dropped", f.Type)
	}
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
