// Package poll implements the idempotent balance and price sync controllers.
//
// Each controller owns its in-memory view (the balance map, the price map)
// exclusively: only that controller's fetch completion path mutates it, and
// read accessors hand out copies. A failed fetch never blanks the view; stale
// data stays visible with an error flag set alongside it.
package poll

import (
	"context"
	"sync"
	"time"

	"stellar-wallet-sync/internal/domain"
	"stellar-wallet-sync/internal/observability"
	"stellar-wallet-sync/internal/scheduler"
)

// sessionKey identifies one polling session.
type sessionKey struct {
	publicKey string
	network   domain.Network
}

// session is the live state of one polling session.
type session struct {
	ctx      context.Context
	cancel   scheduler.Cancel
	inFlight bool
}

// poller owns the session bookkeeping shared by both controllers: idempotent
// start, no-op stop, and the per-cycle in-flight guard that skips (never
// queues) overlapping cycles.
type poller struct {
	name     string
	sched    scheduler.Scheduler
	interval time.Duration
	run      func(ctx context.Context, publicKey string, network domain.Network)

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

func newPoller(name string, sched scheduler.Scheduler, interval time.Duration,
	run func(ctx context.Context, publicKey string, network domain.Network)) *poller {
	return &poller{
		name:     name,
		sched:    sched,
		interval: interval,
		run:      run,
		sessions: make(map[sessionKey]*session),
	}
}

// start creates a polling session for (publicKey, network). If one already
// exists the call is a no-op. The first cycle fires immediately; subsequent
// cycles fire on the fixed interval. ctx is carried into every fetch of this
// session.
func (p *poller) start(ctx context.Context, publicKey string, network domain.Network) {
	key := sessionKey{publicKey: publicKey, network: network}

	p.mu.Lock()
	if _, exists := p.sessions[key]; exists {
		p.mu.Unlock()
		return
	}
	s := &session{ctx: ctx}
	p.sessions[key] = s
	s.cancel = p.sched.Schedule(0, func() { p.tick(key) })
	p.mu.Unlock()
}

// stop tears down the session for (publicKey, network), if any. An in-flight
// fetch is not aborted; its result lands but no further cycle is scheduled.
func (p *poller) stop(publicKey string, network domain.Network) {
	key := sessionKey{publicKey: publicKey, network: network}

	p.mu.Lock()
	s, ok := p.sessions[key]
	if ok {
		delete(p.sessions, key)
	}
	p.mu.Unlock()

	if ok && s.cancel != nil {
		s.cancel()
	}
}

// stopAll tears down every session (component teardown).
func (p *poller) stopAll() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[sessionKey]*session)
	p.mu.Unlock()

	for _, s := range sessions {
		if s.cancel != nil {
			s.cancel()
		}
	}
}

// active reports whether a session exists for (publicKey, network).
func (p *poller) active(publicKey string, network domain.Network) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[sessionKey{publicKey: publicKey, network: network}]
	return ok
}

// tick runs one poll cycle and schedules the next. The next cycle is
// scheduled before the fetch runs so a slow fetch delays nothing; if it is
// still in flight when the next tick fires, that cycle is skipped.
func (p *poller) tick(key sessionKey) {
	p.mu.Lock()
	s, ok := p.sessions[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	s.cancel = p.sched.Schedule(p.interval, func() { p.tick(key) })
	if s.inFlight {
		p.mu.Unlock()
		observability.RecordPollSkipped(p.name)
		return
	}
	s.inFlight = true
	ctx := s.ctx
	p.mu.Unlock()

	p.run(ctx, key.publicKey, key.network)

	p.mu.Lock()
	s.inFlight = false
	p.mu.Unlock()
}
