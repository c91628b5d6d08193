package usecase

import (
	"testing"
	"time"

	"github.com/namecraft/auth-service/internal/infra/config"
)

func TestLockoutBelowThreshold(t *testing.T) {
	policy, err := NewLockoutPolicy(config.LockoutSettings{
		Curve:        LockoutCurveExponential,
		Threshold:    5,
		BaseDuration: time.Minute,
		MaxDuration:  time.Hour,
	})
	if err != nil {
		t.Fatalf("NewLockoutPolicy returned error: %v", err)
	}

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	for failures := 1; failures < 5; failures++ {
		if deadline := policy.NextDeadline(failures, now); deadline != nil {
			t.Fatalf("expected no deadline at %d failures, got %v", failures, deadline)
		}
	}
}

func TestLockoutExponentialCurve(t *testing.T) {
	policy, err := NewLockoutPolicy(config.LockoutSettings{
		Curve:        LockoutCurveExponential,
		Threshold:    3,
		BaseDuration: time.Minute,
		MaxDuration:  time.Hour,
	})
	if err != nil {
		t.Fatalf("NewLockoutPolicy returned error: %v", err)
	}

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	expected := []time.Duration{
		time.Minute,      // 3 failures
		2 * time.Minute,  // 4
		4 * time.Minute,  // 5
		8 * time.Minute,  // 6
		16 * time.Minute, // 7
		32 * time.Minute, // 8
		time.Hour,        // 9, capped
		time.Hour,        // 10, capped
	}

	for i, want := range expected {
		failures := 3 + i
		deadline := policy.NextDeadline(failures, now)
		if deadline == nil {
			t.Fatalf("expected deadline at %d failures", failures)
		}
		if got := deadline.Sub(now); got != want {
			t.Fatalf("failures=%d: expected %v, got %v", failures, want, got)
		}
	}
}

func TestLockoutLinearCurve(t *testing.T) {
	policy, err := NewLockoutPolicy(config.LockoutSettings{
		Curve:        LockoutCurveLinear,
		Threshold:    3,
		BaseDuration: 5 * time.Minute,
		MaxDuration:  20 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewLockoutPolicy returned error: %v", err)
	}

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	expected := []time.Duration{
		5 * time.Minute,
		10 * time.Minute,
		15 * time.Minute,
		20 * time.Minute,
		20 * time.Minute, // capped
	}

	for i, want := range expected {
		failures := 3 + i
		deadline := policy.NextDeadline(failures, now)
		if deadline == nil {
			t.Fatalf("expected deadline at %d failures", failures)
		}
		if got := deadline.Sub(now); got != want {
			t.Fatalf("failures=%d: expected %v, got %v", failures, want, got)
		}
	}
}

func TestLockoutRejectsUnknownCurve(t *testing.T) {
	_, err := NewLockoutPolicy(config.LockoutSettings{Curve: "fibonacci"})
	if err == nil {
		t.Fatal("expected error for unknown curve")
	}
}

func TestLockoutDefaults(t *testing.T) {
	policy, err := NewLockoutPolicy(config.LockoutSettings{})
	if err != nil {
		t.Fatalf("NewLockoutPolicy returned error: %v", err)
	}
	if policy.Curve != LockoutCurveExponential {
		t.Fatalf("expected exponential default, got %q", policy.Curve)
	}
	if policy.Threshold != 5 || policy.BaseDuration != time.Minute || policy.MaxDuration != 24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", policy)
	}
}
