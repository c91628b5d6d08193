package client

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuthEventType classifies cross-tab broadcast events.
type AuthEventType string

const (
	EventSignedIn  AuthEventType = "signed_in"
	EventSignedOut AuthEventType = "signed_out"
)

// AuthEvent is the auth-related signal broadcast between browser contexts.
type AuthEvent struct {
	Origin    string        `json:"origin"`
	Type      AuthEventType `json:"type"`
	UserID    string        `json:"user_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Broadcaster carries auth events between contexts (storage events in a
// browser, an in-memory channel in tests).
type Broadcaster interface {
	Publish(event AuthEvent)
	Subscribe(handler func(AuthEvent)) func()
}

// MemoryBroadcaster fans events out to every subscriber, simulating the
// shared storage channel between tabs.
type MemoryBroadcaster struct {
	mu       sync.Mutex
	handlers map[int]func(AuthEvent)
	nextID   int
}

// NewMemoryBroadcaster constructs an empty broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{handlers: make(map[int]func(AuthEvent))}
}

func (b *MemoryBroadcaster) Publish(event AuthEvent) {
	b.mu.Lock()
	handlers := make([]func(AuthEvent), 0, len(b.handlers))
	for _, fn := range b.handlers {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(event)
	}
}

func (b *MemoryBroadcaster) Subscribe(handler func(AuthEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// TabSynchronizer reconciles the local session manager with sign-in/sign-out
// events from sibling contexts. Reconciliation is eventually consistent and
// last-writer-wins by event timestamp; a timestamp tie resolves to signed-out.
type TabSynchronizer struct {
	manager *SessionManager
	reload  func()
	logger  *zap.Logger

	mu        sync.Mutex
	lastEvent time.Time
	cancel    func()
}

// NewTabSynchronizer wires the synchronizer to the broadcast channel. The
// reload callback is invoked when local state was serving a different identity
// than the reconciled one and the application must restart its views.
func NewTabSynchronizer(manager *SessionManager, bus Broadcaster, reload func(), log *zap.Logger) *TabSynchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	if reload == nil {
		reload = func() {}
	}

	s := &TabSynchronizer{
		manager: manager,
		reload:  reload,
		logger:  log,
	}
	if bus != nil {
		s.cancel = bus.Subscribe(s.handle)
	}
	return s
}

// Close detaches from the broadcast channel.
func (s *TabSynchronizer) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *TabSynchronizer) handle(event AuthEvent) {
	// Our own broadcasts already mutated local state.
	if event.Origin == s.manager.originID {
		return
	}

	s.mu.Lock()
	if event.Timestamp.Before(s.lastEvent) {
		s.mu.Unlock()
		return
	}
	tie := event.Timestamp.Equal(s.lastEvent) && !s.lastEvent.IsZero()
	s.lastEvent = event.Timestamp
	s.mu.Unlock()

	if tie {
		// Two contexts disagree at the same instant. Signed-out is the only
		// safe reconciliation.
		s.logger.Warn("cross-tab event tie, forcing sign-out")
		s.manager.signOutLocal(SignOutSessionExpired)
		s.reload()
		return
	}

	switch event.Type {
	case EventSignedOut:
		s.applyForeignSignOut(event)
	case EventSignedIn:
		s.applyForeignSignIn(event)
	}
}

func (s *TabSynchronizer) applyForeignSignOut(event AuthEvent) {
	current := s.manager.Current()
	if current == nil {
		return
	}

	reason := event.Reason
	if reason == "" {
		reason = SignOutUserInitiated
	}
	s.manager.signOutLocal(reason)
	s.logger.Info("adopted foreign sign-out", zap.String("reason", reason))
}

func (s *TabSynchronizer) applyForeignSignIn(event AuthEvent) {
	current := s.manager.Current()
	if current != nil && current.UserID == event.UserID {
		return
	}

	// A different user signed in from another context. Adopt the persisted
	// identity the winning tab wrote; if this tab was serving someone else,
	// force a reload so no request runs under the stale identity.
	hadDifferentUser := current != nil

	if s.manager.store != nil {
		if identity, ok := LoadIdentity(s.manager.store); ok && identity.UserID == event.UserID {
			s.manager.mu.Lock()
			s.manager.identity = identity
			s.manager.mu.Unlock()
			s.manager.notify(StateChange{Identity: identity})
		} else {
			s.manager.signOutLocal(SignOutSessionExpired)
		}
	}

	if hadDifferentUser {
		s.logger.Warn("cross-tab identity conflict",
			zap.String("local_user", current.UserID),
			zap.String("event_user", event.UserID),
		)
		s.reload()
	}
}
