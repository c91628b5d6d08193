package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Sign-out reasons reported to subscribers and broadcast to sibling tabs.
const (
	SignOutUserInitiated  = "user_initiated"
	SignOutSessionExpired = "session_expired"
	SignOutSecurity       = "security_revocation"
)

// renewalSafetyMargin is how long before access expiry the proactive refresh
// fires, so requests normally never observe an expired token.
const renewalSafetyMargin = 5 * time.Minute

// refreshCallTimeout bounds the background renewal network call.
const refreshCallTimeout = 15 * time.Second

// AuthAPI is the slice of the HTTP API the session manager drives.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (AccountInfo, Credentials, error)
	Refresh(ctx context.Context) (Credentials, error)
	Logout(ctx context.Context) error
}

// StateChange notifies subscribers of a sign-in or sign-out. Identity is nil
// on sign-out and Reason explains why.
type StateChange struct {
	Identity *Identity
	Reason   string
}

// SessionManager is the single in-process authority for "who is logged in
// now". It owns the proactive renewal timer, deduplicates concurrent refresh
// attempts, and fans state changes out to subscribers. Construct one instance
// and inject it into whatever consumes it.
type SessionManager struct {
	api    AuthAPI
	store  StateStore
	bus    Broadcaster
	logger *zap.Logger
	now    func() time.Time
	margin time.Duration

	// originID distinguishes this manager's broadcast events from those of
	// sibling tabs sharing the same channel.
	originID string

	refreshGroup singleflight.Group

	mu          sync.Mutex
	identity    *Identity
	subscribers map[int]func(StateChange)
	nextSubID   int
	renewTimer  *time.Timer
	closed      bool
}

// ManagerOption customizes the SessionManager.
type ManagerOption func(*SessionManager)

// WithClock overrides the manager clock for deterministic tests.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithSafetyMargin overrides how long before expiry proactive renewal fires.
func WithSafetyMargin(margin time.Duration) ManagerOption {
	return func(m *SessionManager) {
		if margin > 0 {
			m.margin = margin
		}
	}
}

// NewSessionManager constructs the manager, runs the one-time legacy key
// migration, and restores any persisted identity.
func NewSessionManager(api AuthAPI, store StateStore, bus Broadcaster, log *zap.Logger, opts ...ManagerOption) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}

	m := &SessionManager{
		api:         api,
		store:       store,
		bus:         bus,
		logger:      log,
		now:         func() time.Time { return time.Now().UTC() },
		margin:      renewalSafetyMargin,
		originID:    uuid.NewString(),
		subscribers: make(map[int]func(StateChange)),
	}
	for _, opt := range opts {
		opt(m)
	}

	if store != nil {
		if MigrateLegacyIdentity(store, m.now()) {
			m.logger.Info("migrated legacy identity record")
		}
		if identity, ok := LoadIdentity(store); ok {
			m.identity = identity
		}
	}

	return m
}

// Subscribe registers a state-change listener and returns its cancel func.
func (m *SessionManager) Subscribe(fn func(StateChange)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Current returns a copy of the signed-in identity, or nil when signed out.
func (m *SessionManager) Current() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil
	}
	copied := *m.identity
	return &copied
}

// SignIn authenticates and installs the resulting identity.
func (m *SessionManager) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	account, creds, err := m.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	identity := Identity{
		UserID:          account.ID,
		Email:           account.Email,
		DisplayName:     account.DisplayName,
		Plan:            account.Plan,
		SessionID:       creds.SessionID,
		AccessExpiresAt: creds.AccessExpiresAt,
		CSRFToken:       creds.CSRFToken,
	}

	m.install(identity)
	m.publish(AuthEvent{
		Origin:    m.originID,
		Type:      EventSignedIn,
		UserID:    identity.UserID,
		Timestamp: m.now(),
	})

	copied := identity
	return &copied, nil
}

// Refresh renews the credentials. Any number of concurrent callers share one
// network call: the first starts it, the rest await the same result, and every
// caller sees the identical outcome.
func (m *SessionManager) Refresh(ctx context.Context) error {
	_, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		creds, err := m.api.Refresh(ctx)
		if err != nil {
			m.handleRefreshFailure(err)
			return nil, err
		}

		m.mu.Lock()
		if m.identity != nil {
			m.identity.SessionID = creds.SessionID
			m.identity.AccessExpiresAt = creds.AccessExpiresAt
			m.identity.CSRFToken = creds.CSRFToken
			if m.store != nil {
				SaveIdentity(m.store, *m.identity, m.now())
			}
		}
		m.mu.Unlock()

		m.scheduleRenewal(creds.AccessExpiresAt)
		return nil, nil
	})
	return err
}

// Do runs an operation, recovering locally from a lapsed access token: on
// ErrTokenExpired (or a rejected CSRF value) it refreshes once via the shared
// in-flight call and retries the operation exactly once.
func (m *SessionManager) Do(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrTokenExpired) && !errors.Is(err, ErrCSRFMismatch) {
		return err
	}

	if refreshErr := m.Refresh(ctx); refreshErr != nil {
		return refreshErr
	}
	return op(ctx)
}

// Logout ends the session. The server call is best-effort; local state is
// always cleared and subscribers notified with the supplied reason.
func (m *SessionManager) Logout(ctx context.Context, reason string) error {
	switch reason {
	case SignOutUserInitiated, SignOutSessionExpired, SignOutSecurity:
	default:
		reason = SignOutUserInitiated
	}

	var apiErr error
	if reason == SignOutUserInitiated {
		if err := m.api.Logout(ctx); err != nil {
			m.logger.Warn("server logout failed", zap.Error(err))
			apiErr = err
		}
	}

	m.signOutLocal(reason)
	m.publish(AuthEvent{
		Origin:    m.originID,
		Type:      EventSignedOut,
		Reason:    reason,
		Timestamp: m.now(),
	})
	return apiErr
}

// Close cancels the renewal timer. Further refreshes are not scheduled.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.renewTimer != nil {
		m.renewTimer.Stop()
		m.renewTimer = nil
	}
}

func (m *SessionManager) install(identity Identity) {
	m.mu.Lock()
	m.identity = &identity
	if m.store != nil {
		SaveIdentity(m.store, identity, m.now())
	}
	m.mu.Unlock()

	m.scheduleRenewal(identity.AccessExpiresAt)
	m.notify(StateChange{Identity: &identity})
}

// signOutLocal clears identity and cancels timers without touching the server.
func (m *SessionManager) signOutLocal(reason string) {
	m.mu.Lock()
	wasSignedIn := m.identity != nil
	m.identity = nil
	if m.renewTimer != nil {
		m.renewTimer.Stop()
		m.renewTimer = nil
	}
	if m.store != nil {
		ClearIdentity(m.store)
	}
	m.mu.Unlock()

	// Forget the refresh result so a later sign-in starts clean.
	m.refreshGroup.Forget("refresh")

	if wasSignedIn {
		m.notify(StateChange{Reason: reason})
	}
}

func (m *SessionManager) handleRefreshFailure(err error) {
	switch {
	case errors.Is(err, ErrTokenRevoked):
		m.signOutLocal(SignOutSecurity)
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrInvalidCredentials):
		m.signOutLocal(SignOutSessionExpired)
	default:
		// Transient failure, keep the session and let the next attempt retry.
		m.logger.Warn("refresh failed", zap.Error(err))
	}
}

// scheduleRenewal arms the proactive refresh timer at expiry minus the safety
// margin. A past or missing expiry leaves renewal to the reactive path.
func (m *SessionManager) scheduleRenewal(expiresAt time.Time) {
	if expiresAt.IsZero() {
		return
	}

	delay := expiresAt.Sub(m.now()) - m.margin
	if delay <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.renewTimer != nil {
		m.renewTimer.Stop()
	}
	m.renewTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshCallTimeout)
		defer cancel()
		if err := m.Refresh(ctx); err != nil {
			m.logger.Warn("proactive refresh failed", zap.Error(err))
		}
	})
}

func (m *SessionManager) notify(change StateChange) {
	m.mu.Lock()
	listeners := make([]func(StateChange), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
}

func (m *SessionManager) publish(event AuthEvent) {
	if m.bus != nil {
		m.bus.Publish(event)
	}
}
