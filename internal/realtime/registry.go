// Package realtime fans stored notifications out to connected clients over
// websockets. The registry maps user ids to their live sessions; delivery is
// best effort and never blocks the business operation that produced the event.
package realtime

import (
	"context"
	"errors"
	"sync"
)

// ErrRegistryClosed is returned when registering against a draining registry.
var ErrRegistryClosed = errors.New("realtime: registry closed")

// Session is one live client connection able to receive pushed payloads.
type Session interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Registry tracks the sessions of each connected user. A user may hold
// several sessions at once (multiple tabs, devices).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string][]Session
	closed   bool
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string][]Session)}
}

// Register adds a session for the user and returns the matching unregister
// function. Registering on a closed registry fails.
func (r *Registry) Register(userID string, session Session) (func(), error) {
	if session == nil {
		return nil, errors.New("realtime: session is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	r.sessions[userID] = append(r.sessions[userID], session)

	var once sync.Once
	return func() {
		once.Do(func() {
			r.unregister(userID, session)
		})
	}, nil
}

func (r *Registry) unregister(userID string, session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.sessions[userID][:0]
	for _, s := range r.sessions[userID] {
		if s != session {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(r.sessions, userID)
		return
	}
	r.sessions[userID] = kept
}

// Push delivers the payload to every session of the user. Send errors on
// individual sessions are collected but do not stop delivery to the rest.
func (r *Registry) Push(ctx context.Context, userID string, payload []byte) error {
	r.mu.RLock()
	targets := make([]Session, len(r.sessions[userID]))
	copy(targets, r.sessions[userID])
	r.mu.RUnlock()

	var firstErr error
	for _, session := range targets {
		if err := session.Send(ctx, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ActiveSessions reports how many sessions the user currently holds.
func (r *Registry) ActiveSessions(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

// Close drains the registry, closing every session. Registrations after
// Close fail with ErrRegistryClosed.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string][]Session)
	r.closed = true
	r.mu.Unlock()

	var firstErr error
	for _, list := range sessions {
		for _, session := range list {
			if err := session.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
