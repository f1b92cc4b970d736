package pairing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relayServer(t *testing.T, frames <-chan string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestListener_DecodesFramesIntoStore(t *testing.T) {
	frames := make(chan string)
	srv := relayServer(t, frames)
	defer srv.Close()

	connector := &fakeConnector{sessions: map[string]Session{
		"topic-a": {Topic: "topic-a", Peer: PeerMeta{Name: "dapp-a"}},
	}}
	store := NewStore(connector)
	listener := NewListener(wsURL(srv), store, WithListenerConfig(ListenerConfig{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
		HandshakeTimeout:  time.Second,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	// A malformed frame and an unknown type are dropped without killing
	// the connection.
	frames <- `not json`
	frames <- `{"type": "session_ping", "topic": "topic-a"}`

	frames <- `{"type": "session_proposal", "payload": {"id": 1}}`
	require.Eventually(t, func() bool {
		return store.Event().Kind == KindSessionProposal
	}, time.Second, 5*time.Millisecond)

	frames <- `{"type": "session_request", "topic": "topic-a", "payload": {"id": 2}}`
	require.Eventually(t, func() bool {
		e := store.Event()
		return e.Kind == KindSessionRequest && e.Topic == "topic-a"
	}, time.Second, 5*time.Millisecond)

	frames <- `{"type": "session_delete", "topic": "topic-a"}`
	require.Eventually(t, func() bool {
		connector.mu.Lock()
		defer connector.mu.Unlock()
		return len(connector.disconnected) == 1
	}, time.Second, 5*time.Millisecond)

	// The delete side effect never touches the slot.
	assert.Equal(t, KindSessionRequest, store.Event().Kind)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop on context cancellation")
	}
}

func TestListener_ReconnectsAfterConnectionLoss(t *testing.T) {
	var conns atomic.Int64
	hold := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// The first connection sends one frame and drops; later
		// connections deliver a frame and stay open.
		if conns.Add(1) == 1 {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "session_proposal", "payload": {"id": 1}}`))
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "session_request", "topic": "topic-a", "payload": {"id": 2}}`))
		<-hold
	}))
	defer srv.Close()
	defer close(hold)

	store := NewStore(&fakeConnector{})
	listener := NewListener(wsURL(srv), store, WithListenerConfig(ListenerConfig{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
		HandshakeTimeout:  time.Second,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.Event().Kind == KindSessionProposal
	}, time.Second, 5*time.Millisecond)

	// The dropped connection is replaced and frames keep flowing.
	require.Eventually(t, func() bool {
		return store.Event().Kind == KindSessionRequest
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, conns.Load(), int64(2))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop on context cancellation")
	}
}
