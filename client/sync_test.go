package client

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// twoTabs wires two managers to the same broadcast channel and shared store,
// simulating two browser tabs of one origin.
func twoTabs(t *testing.T) (*SessionManager, *SessionManager, *MemoryStore, *MemoryBroadcaster) {
	t.Helper()

	bus := NewMemoryBroadcaster()
	store := NewMemoryStore()

	tabA := NewSessionManager(&fakeAuthAPI{}, store, bus, zaptest.NewLogger(t))
	tabB := NewSessionManager(&fakeAuthAPI{}, store, bus, zaptest.NewLogger(t))
	t.Cleanup(tabA.Close)
	t.Cleanup(tabB.Close)

	return tabA, tabB, store, bus
}

func TestForeignLogoutSignsOutSiblingTab(t *testing.T) {
	tabA, tabB, _, bus := twoTabs(t)

	syncB := NewTabSynchronizer(tabB, bus, nil, zaptest.NewLogger(t))
	t.Cleanup(syncB.Close)

	if _, err := tabA.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("tab A sign in: %v", err)
	}
	// Tab B picks up the shared session.
	if _, err := tabB.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("tab B sign in: %v", err)
	}

	var reasons []string
	tabB.Subscribe(func(change StateChange) {
		if change.Identity == nil {
			reasons = append(reasons, change.Reason)
		}
	})

	if err := tabA.Logout(context.Background(), SignOutUserInitiated); err != nil {
		t.Fatalf("tab A logout: %v", err)
	}

	if tabB.Current() != nil {
		t.Fatal("tab B must not remain signed in after tab A's logout")
	}
	if len(reasons) != 1 || reasons[0] != SignOutUserInitiated {
		t.Fatalf("tab B should learn the sign-out reason, got %v", reasons)
	}
}

func TestForeignSignInAdoptsPersistedIdentity(t *testing.T) {
	tabA, tabB, _, bus := twoTabs(t)

	syncB := NewTabSynchronizer(tabB, bus, nil, zaptest.NewLogger(t))
	t.Cleanup(syncB.Close)

	if _, err := tabA.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("tab A sign in: %v", err)
	}

	current := tabB.Current()
	if current == nil || current.UserID != "user-1" {
		t.Fatalf("tab B should adopt the identity tab A persisted, got %+v", current)
	}
}

func TestForeignSignInConflictForcesReload(t *testing.T) {
	tabA, tabB, store, bus := twoTabs(t)
	_ = tabA

	reloaded := false
	syncB := NewTabSynchronizer(tabB, bus, func() { reloaded = true }, zaptest.NewLogger(t))
	t.Cleanup(syncB.Close)

	// Tab B is serving one user while another user signs in elsewhere.
	if _, err := tabB.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("tab B sign in: %v", err)
	}

	SaveIdentity(store, Identity{UserID: "user-other", Plan: "premium"}, time.Now())
	bus.Publish(AuthEvent{
		Origin:    "another-tab",
		Type:      EventSignedIn,
		UserID:    "user-other",
		Timestamp: time.Now(),
	})

	if !reloaded {
		t.Fatal("identity conflict must force a reload")
	}
	current := tabB.Current()
	if current == nil || current.UserID != "user-other" {
		t.Fatalf("tab B should match the most recent event, got %+v", current)
	}
}

func TestStaleEventIsIgnored(t *testing.T) {
	_, tabB, store, bus := twoTabs(t)

	syncB := NewTabSynchronizer(tabB, bus, nil, zaptest.NewLogger(t))
	t.Cleanup(syncB.Close)

	if _, err := tabB.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("tab B sign in: %v", err)
	}

	now := time.Now()
	SaveIdentity(store, Identity{UserID: "user-1"}, now)
	bus.Publish(AuthEvent{
		Origin:    "another-tab",
		Type:      EventSignedIn,
		UserID:    "user-1",
		Timestamp: now,
	})

	// An older sign-out arriving late must lose to the newer sign-in.
	bus.Publish(AuthEvent{
		Origin:    "another-tab",
		Type:      EventSignedOut,
		Reason:    SignOutUserInitiated,
		Timestamp: now.Add(-time.Minute),
	})

	if tabB.Current() == nil {
		t.Fatal("stale sign-out event must not win over a newer sign-in")
	}
}

func TestTimestampTieResolvesToSignedOut(t *testing.T) {
	_, tabB, _, bus := twoTabs(t)

	reloaded := false
	syncB := NewTabSynchronizer(tabB, bus, func() { reloaded = true }, zaptest.NewLogger(t))
	t.Cleanup(syncB.Close)

	if _, err := tabB.SignIn(context.Background(), "ada@example.com", "pw"); err != nil {
		t.Fatalf("tab B sign in: %v", err)
	}

	at := time.Now()
	bus.Publish(AuthEvent{Origin: "tab-x", Type: EventSignedIn, UserID: "user-1", Timestamp: at})
	bus.Publish(AuthEvent{Origin: "tab-y", Type: EventSignedIn, UserID: "user-2", Timestamp: at})

	if tabB.Current() != nil {
		t.Fatal("conflicting events at the same instant must resolve to signed out")
	}
	if !reloaded {
		t.Fatal("tie resolution must force a reload")
	}
}
