package redis

import (
	"context"
	"testing"
	"time"
)

func TestQuotaRepository_IncrementAndCount(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewQuotaRepository(client, "quota")

	ctx := context.Background()
	boundary := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)

	for i := 1; i <= 3; i++ {
		count, err := repo.Increment(ctx, "user-1:generate_names:2026-08-28", boundary)
		if err != nil {
			t.Fatalf("Increment returned error: %v", err)
		}
		if count != int64(i) {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}

	count, err := repo.Count(ctx, "user-1:generate_names:2026-08-28")
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}

func TestQuotaRepository_CounterExpiresAtBoundary(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewQuotaRepository(client, "quota")

	ctx := context.Background()
	boundary := time.Now().UTC().Add(time.Hour)

	if _, err := repo.Increment(ctx, "user-1:export_list:2026-08-28", boundary); err != nil {
		t.Fatalf("Increment returned error: %v", err)
	}
	if _, err := repo.Increment(ctx, "user-1:export_list:2026-08-28", boundary); err != nil {
		t.Fatalf("Increment returned error: %v", err)
	}

	// The second increment must not push the expiry past the window boundary.
	remaining := server.TTL("quota:user-1:export_list:2026-08-28")
	if remaining <= 0 || remaining > time.Hour {
		t.Fatalf("expected ttl within (0, 1h], got %v", remaining)
	}

	server.FastForward(2 * time.Hour)

	count, err := repo.Count(ctx, "user-1:export_list:2026-08-28")
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected counter to reset after boundary, got %d", count)
	}
}

func TestQuotaRepository_CountMissingKey(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewQuotaRepository(client, "quota")

	count, err := repo.Count(context.Background(), "user-2:domain_check:2026-08-28")
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected zero for missing key, got %d", count)
	}
}

func TestQuotaRepository_InvalidInput(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewQuotaRepository(client, "quota")

	if _, err := repo.Increment(context.Background(), "", time.Now().Add(time.Hour)); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := repo.Increment(context.Background(), "key", time.Time{}); err == nil {
		t.Fatal("expected error for zero boundary")
	}
	if _, err := repo.Count(context.Background(), " "); err == nil {
		t.Fatal("expected error for blank key")
	}
}
