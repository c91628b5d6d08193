package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeAuthAPI struct {
	mu           sync.Mutex
	refreshCalls int32
	logoutCalls  int32
	refreshErr   error
	refreshDelay time.Duration
	accessTTL    time.Duration
	refreshed    atomic.Bool
}

func (f *fakeAuthAPI) Login(_ context.Context, email, _ string) (AccountInfo, Credentials, error) {
	ttl := f.accessTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return AccountInfo{ID: "user-1", Email: email, Plan: "free"},
		Credentials{
			SessionID:       "session-1",
			AccessExpiresAt: time.Now().Add(ttl),
			CSRFToken:       "csrf-1",
		}, nil
}

func (f *fakeAuthAPI) Refresh(_ context.Context) (Credentials, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}

	f.mu.Lock()
	err := f.refreshErr
	f.mu.Unlock()
	if err != nil {
		return Credentials{}, err
	}

	f.refreshed.Store(true)
	return Credentials{
		SessionID:       "session-1",
		AccessExpiresAt: time.Now().Add(15 * time.Minute),
		CSRFToken:       "csrf-2",
	}, nil
}

func (f *fakeAuthAPI) Logout(context.Context) error {
	atomic.AddInt32(&f.logoutCalls, 1)
	return nil
}

func newTestManager(t *testing.T, api *fakeAuthAPI) (*SessionManager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	manager := NewSessionManager(api, store, nil, zaptest.NewLogger(t))
	t.Cleanup(manager.Close)
	return manager, store
}

func TestSignInInstallsIdentity(t *testing.T) {
	api := &fakeAuthAPI{}
	manager, store := newTestManager(t, api)

	var changes []StateChange
	manager.Subscribe(func(change StateChange) { changes = append(changes, change) })

	identity, err := manager.SignIn(context.Background(), "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if identity.UserID != "user-1" || identity.CSRFToken != "csrf-1" {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	if current := manager.Current(); current == nil || current.UserID != "user-1" {
		t.Fatalf("current identity not installed: %+v", current)
	}
	if persisted, ok := LoadIdentity(store); !ok || persisted.UserID != "user-1" {
		t.Fatal("identity should be persisted on sign-in")
	}
	if len(changes) != 1 || changes[0].Identity == nil {
		t.Fatalf("expected one sign-in notification, got %+v", changes)
	}
}

func TestManagerRestoresPersistedIdentity(t *testing.T) {
	store := NewMemoryStore()
	SaveIdentity(store, Identity{UserID: "user-9", Plan: "premium"}, time.Now())

	manager := NewSessionManager(&fakeAuthAPI{}, store, nil, zaptest.NewLogger(t))
	t.Cleanup(manager.Close)

	if current := manager.Current(); current == nil || current.UserID != "user-9" {
		t.Fatalf("expected restored identity, got %+v", current)
	}
}

func TestConcurrentExpiryTriggersOneRefresh(t *testing.T) {
	api := &fakeAuthAPI{refreshDelay: 30 * time.Millisecond}
	manager, _ := newTestManager(t, api)

	if _, err := manager.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	// Every request observes an expired token until the shared refresh lands.
	op := func(context.Context) error {
		if !api.refreshed.Load() {
			return ErrTokenExpired
		}
		return nil
	}

	const concurrency = 8
	errs := make(chan error, concurrency)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < concurrency; i++ {
		go func() {
			start.Wait()
			errs <- manager.Do(context.Background(), op)
		}()
	}
	start.Done()

	for i := 0; i < concurrency; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}

	if calls := atomic.LoadInt32(&api.refreshCalls); calls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", calls)
	}
}

func TestConcurrentRefreshFailureFailsAllTogether(t *testing.T) {
	transient := errors.New("gateway timeout")
	api := &fakeAuthAPI{refreshDelay: 20 * time.Millisecond, refreshErr: transient}
	manager, _ := newTestManager(t, api)

	if _, err := manager.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	op := func(context.Context) error { return ErrTokenExpired }

	const concurrency = 5
	errs := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		go func() { errs <- manager.Do(context.Background(), op) }()
	}

	for i := 0; i < concurrency; i++ {
		if err := <-errs; !errors.Is(err, transient) {
			t.Fatalf("request %d: expected shared transient failure, got %v", i, err)
		}
	}

	if calls := atomic.LoadInt32(&api.refreshCalls); calls != 1 {
		t.Fatalf("expected one shared refresh attempt, got %d", calls)
	}

	// Transient failures keep the session alive.
	if manager.Current() == nil {
		t.Fatal("transient refresh failure must not sign the user out")
	}
}

func TestRefreshRevocationSignsOut(t *testing.T) {
	api := &fakeAuthAPI{refreshErr: ErrTokenRevoked}
	manager, store := newTestManager(t, api)

	if _, err := manager.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	var reasons []string
	manager.Subscribe(func(change StateChange) {
		if change.Identity == nil {
			reasons = append(reasons, change.Reason)
		}
	})

	if err := manager.Refresh(context.Background()); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revocation error, got %v", err)
	}

	if manager.Current() != nil {
		t.Fatal("revocation must clear local identity")
	}
	if _, ok := LoadIdentity(store); ok {
		t.Fatal("revocation must clear persisted identity")
	}
	if len(reasons) != 1 || reasons[0] != SignOutSecurity {
		t.Fatalf("expected security sign-out notification, got %v", reasons)
	}
}

func TestLogoutClearsStateAndNotifies(t *testing.T) {
	api := &fakeAuthAPI{}
	manager, store := newTestManager(t, api)

	if _, err := manager.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	var reasons []string
	manager.Subscribe(func(change StateChange) {
		if change.Identity == nil {
			reasons = append(reasons, change.Reason)
		}
	})

	if err := manager.Logout(context.Background(), SignOutUserInitiated); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if atomic.LoadInt32(&api.logoutCalls) != 1 {
		t.Fatal("user-initiated logout should call the server")
	}
	if manager.Current() != nil {
		t.Fatal("logout must clear identity")
	}
	if _, ok := LoadIdentity(store); ok {
		t.Fatal("logout must clear persisted identity")
	}
	if len(reasons) != 1 || reasons[0] != SignOutUserInitiated {
		t.Fatalf("unexpected notifications: %v", reasons)
	}
}

func TestLogoutForSecuritySkipsServerCall(t *testing.T) {
	api := &fakeAuthAPI{}
	manager, _ := newTestManager(t, api)

	if _, err := manager.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	if err := manager.Logout(context.Background(), SignOutSecurity); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if atomic.LoadInt32(&api.logoutCalls) != 0 {
		t.Fatal("security sign-out is local only, the credentials are already dead server-side")
	}
}

func TestProactiveRenewalFiresBeforeExpiry(t *testing.T) {
	api := &fakeAuthAPI{accessTTL: 120 * time.Millisecond}
	store := NewMemoryStore()
	manager := NewSessionManager(api, store, nil, zaptest.NewLogger(t),
		WithSafetyMargin(40*time.Millisecond))
	t.Cleanup(manager.Close)

	if _, err := manager.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&api.refreshCalls) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("proactive renewal never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseCancelsRenewalTimer(t *testing.T) {
	api := &fakeAuthAPI{accessTTL: 100 * time.Millisecond}
	store := NewMemoryStore()
	manager := NewSessionManager(api, store, nil, zaptest.NewLogger(t),
		WithSafetyMargin(20*time.Millisecond))

	if _, err := manager.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	manager.Close()

	time.Sleep(200 * time.Millisecond)
	if calls := atomic.LoadInt32(&api.refreshCalls); calls != 0 {
		t.Fatalf("timer should be canceled on close, saw %d refresh calls", calls)
	}
}
