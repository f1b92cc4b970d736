package pairing

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"stellar-wallet-sync/internal/observability"
)

// Connector is the pairing-protocol peer the store drives side effects
// through.
type Connector interface {
	// Disconnect tears down the session identified by topic.
	Disconnect(ctx context.Context, topic string) error

	// ActiveSessions returns the established sessions keyed by topic.
	ActiveSessions(ctx context.Context) (map[string]Session, error)
}

// Store is the single-slot, last-write-wins pairing event store. A second
// inbound event before the first is consumed silently replaces it; consumers
// clear the slot explicitly once they have handled an event.
type Store struct {
	connector Connector
	logger    *log.Logger

	mu       sync.Mutex
	event    Event
	sessions map[string]Session
}

// StoreOption configures Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger for side-effect failures.
func WithStoreLogger(logger *log.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store over the given protocol connector.
func NewStore(connector Connector, opts ...StoreOption) *Store {
	s := &Store{
		connector: connector,
		logger:    log.New(io.Discard, "", 0),
		event:     None(),
		sessions:  make(map[string]Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEvent writes event into the slot, replacing whatever was there.
func (s *Store) SetEvent(event Event) {
	s.mu.Lock()
	replaced := s.event.Kind != KindNone
	s.event = event
	s.mu.Unlock()

	observability.RecordPairingEventSet(event.Kind.String(), replaced)
	if replaced {
		s.logger.Printf("pairing event replaced before being consumed")
	}
}

// ClearEvent resets the slot to None unconditionally.
func (s *Store) ClearEvent() {
	s.mu.Lock()
	s.event = None()
	s.mu.Unlock()

	observability.RecordPairingEventCleared()
}

// Event reads the current slot.
func (s *Store) Event() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event
}

// HandleSessionDelete reacts to an inbound session deletion: disconnect the
// named session and refresh the active-sessions view. The event slot is not
// touched; the consumer clears it explicitly.
func (s *Store) HandleSessionDelete(ctx context.Context, topic string) error {
	if err := s.connector.Disconnect(ctx, topic); err != nil {
		s.logger.Printf("disconnect session %s: %v", topic, err)
		return fmt.Errorf("disconnect session %s: %w", topic, err)
	}
	return s.RefreshSessions(ctx)
}

// RefreshSessions replaces the cached active-sessions view from the
// connector.
func (s *Store) RefreshSessions(ctx context.Context) error {
	sessions, err := s.connector.ActiveSessions(ctx)
	if err != nil {
		s.logger.Printf("refresh active sessions: %v", err)
		return fmt.Errorf("refresh active sessions: %w", err)
	}
	if sessions == nil {
		sessions = make(map[string]Session)
	}

	s.mu.Lock()
	s.sessions = sessions
	s.mu.Unlock()
	return nil
}

// ActiveSessions returns a copy of the cached active-sessions view.
func (s *Store) ActiveSessions() map[string]Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Session, len(s.sessions))
	for topic, session := range s.sessions {
		out[topic] = session
	}
	return out
}

// PeerFor resolves the peer metadata behind event's topic: a direct map
// lookup first, then a scan over the sessions' own topic fields, then the
// empty placeholder. Never returns a "not found" error; downstream rendering
// treats the zero PeerMeta as unknown peer.
func (s *Store) PeerFor(event Event) PeerMeta {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[event.Topic]; ok {
		return session.Peer
	}
	for _, session := range s.sessions {
		if session.Topic == event.Topic {
			return session.Peer
		}
	}
	return PeerMeta{}
}
