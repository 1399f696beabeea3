// Package audit records terminal ceremony outcomes.
package audit

import (
	"context"
	"sync"
	"time"
)

// Event kinds emitted by the passkey service.
const (
	KindCredentialRegistered  = "credential.registered"
	KindUserAuthenticated     = "user.authenticated"
	KindManagementTokenIssued = "management_token.issued"
	KindCredentialDeleted     = "credential.deleted"
)

// Event describes a terminal ceremony outcome.
type Event struct {
	Kind         string    `json:"kind"`
	Username     string    `json:"username,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	CredentialID string    `json:"credentialId,omitempty"`
	At           time.Time `json:"at"`
}

// Emitter publishes audit events. Emission failures must never fail
// the ceremony that produced them.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Recorder is an in-memory Emitter for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records the event.
func (r *Recorder) Emit(ctx context.Context, event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
