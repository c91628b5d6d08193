package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/namecraft/auth-service/internal/core/domain"
)

func newQuotaService(t *testing.T) (*QuotaService, *memoryQuotaStore) {
	t.Helper()
	store := newMemoryQuotaStore()
	service := NewQuotaService(domain.DefaultQuotaPolicy(), store, zaptest.NewLogger(t))
	return service, store
}

func TestCheckAndConsumeEnforcesDailyLimit(t *testing.T) {
	service, _ := newQuotaService(t)

	// Free plan allows 5 name generations per day.
	for i := 0; i < 5; i++ {
		decision, err := service.CheckAndConsume(context.Background(), "user-1", domain.PlanFree, domain.ActionGenerateNames)
		if err != nil {
			t.Fatalf("consume %d returned error: %v", i+1, err)
		}
		if !decision.Allowed {
			t.Fatalf("consume %d unexpectedly denied", i+1)
		}
		if decision.Remaining != int64(5-(i+1)) {
			t.Fatalf("consume %d: expected remaining %d, got %d", i+1, 5-(i+1), decision.Remaining)
		}
	}

	decision, err := service.CheckAndConsume(context.Background(), "user-1", domain.PlanFree, domain.ActionGenerateNames)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if decision.Remaining != 0 {
		t.Fatalf("expected zero remaining, got %d", decision.Remaining)
	}
	if decision.ResetAt.IsZero() {
		t.Fatal("expected reset boundary in decision")
	}
}

func TestQuotaWindowResetsAtUTCMidnight(t *testing.T) {
	service, store := newQuotaService(t)

	now := time.Date(2026, 8, 28, 23, 59, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		if _, err := service.CheckAndConsume(context.Background(), "user-1", domain.PlanFree, domain.ActionGenerateNames); err != nil {
			t.Fatalf("consume returned error: %v", err)
		}
	}
	if _, err := service.CheckAndConsume(context.Background(), "user-1", domain.PlanFree, domain.ActionGenerateNames); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded before midnight, got %v", err)
	}

	boundary := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	if store.expiry["user-1:generate_names:2026-08-28"] != boundary {
		t.Fatalf("expected counter to expire at %v, got %v", boundary, store.expiry["user-1:generate_names:2026-08-28"])
	}

	// One minute later a new window opens and the full budget is back.
	now = boundary.Add(time.Minute)
	decision, err := service.CheckAndConsume(context.Background(), "user-1", domain.PlanFree, domain.ActionGenerateNames)
	if err != nil {
		t.Fatalf("consume after boundary returned error: %v", err)
	}
	if decision.Used != 1 || decision.Remaining != 4 {
		t.Fatalf("expected fresh window, got used=%d remaining=%d", decision.Used, decision.Remaining)
	}
}

func TestActionUnavailableOnPlan(t *testing.T) {
	service, _ := newQuotaService(t)

	// Bulk generation is a premium feature; absence means unavailable, not unlimited.
	_, err := service.CheckAndConsume(context.Background(), "user-1", domain.PlanFree, domain.ActionBulkGenerate)
	if !errors.Is(err, ErrActionUnavailable) {
		t.Fatalf("expected ErrActionUnavailable, got %v", err)
	}

	_, err = service.Remaining(context.Background(), "user-1", domain.PlanStandard, domain.ActionTrademarkCheck)
	if !errors.Is(err, ErrActionUnavailable) {
		t.Fatalf("expected ErrActionUnavailable, got %v", err)
	}
}

func TestRemainingDoesNotConsume(t *testing.T) {
	service, _ := newQuotaService(t)

	if _, err := service.CheckAndConsume(context.Background(), "user-1", domain.PlanPremium, domain.ActionExportList); err != nil {
		t.Fatalf("consume returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		decision, err := service.Remaining(context.Background(), "user-1", domain.PlanPremium, domain.ActionExportList)
		if err != nil {
			t.Fatalf("Remaining returned error: %v", err)
		}
		if decision.Used != 1 || decision.Remaining != 99 {
			t.Fatalf("expected used=1 remaining=99, got used=%d remaining=%d", decision.Used, decision.Remaining)
		}
	}
}
