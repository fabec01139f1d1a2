package credit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestGate(t *testing.T, budget int) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewGate(client, budget), mr
}

func TestHasEnoughCredits_NoUsageYet(t *testing.T) {
	gate, _ := newTestGate(t, 100)

	ok, err := gate.HasEnoughCredits(context.Background(), "org-1", 10, "free")
	if err != nil {
		t.Fatalf("HasEnoughCredits: %v", err)
	}
	if !ok {
		t.Error("expected a fresh organization to have enough credits")
	}
}

func TestHasEnoughCredits_WithinBudget(t *testing.T) {
	gate, mr := newTestGate(t, 100)
	if err := mr.Set(usageKey("org-1"), "80"); err != nil {
		t.Fatalf("seeding usage key: %v", err)
	}

	ok, err := gate.HasEnoughCredits(context.Background(), "org-1", 20, "free")
	if err != nil {
		t.Fatalf("HasEnoughCredits: %v", err)
	}
	if !ok {
		t.Error("expected 80+20<=100 to be within budget")
	}
}

func TestHasEnoughCredits_ExceedsBudget(t *testing.T) {
	gate, mr := newTestGate(t, 100)
	if err := mr.Set(usageKey("org-1"), "95"); err != nil {
		t.Fatalf("seeding usage key: %v", err)
	}

	ok, err := gate.HasEnoughCredits(context.Background(), "org-1", 10, "free")
	if err != nil {
		t.Fatalf("HasEnoughCredits: %v", err)
	}
	if ok {
		t.Error("expected 95+10>100 to exceed budget")
	}
}

func TestHasEnoughCredits_ProPlanOverageMultiplier(t *testing.T) {
	gate, mr := newTestGate(t, 100)
	if err := mr.Set(usageKey("org-1"), "500"); err != nil {
		t.Fatalf("seeding usage key: %v", err)
	}

	ok, err := gate.HasEnoughCredits(context.Background(), "org-1", 400, "pro")
	if err != nil {
		t.Fatalf("HasEnoughCredits: %v", err)
	}
	if !ok {
		t.Error("expected pro plan's 10x budget (1000) to cover 500+400")
	}

	ok, err = gate.HasEnoughCredits(context.Background(), "org-1", 600, "pro")
	if err != nil {
		t.Fatalf("HasEnoughCredits: %v", err)
	}
	if ok {
		t.Error("expected 500+600>1000 to exceed even the pro overage limit")
	}
}

func TestRecordUsage_AccumulatesAcrossCalls(t *testing.T) {
	gate, mr := newTestGate(t, 100)

	if err := gate.RecordUsage(context.Background(), "org-1", 30); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := gate.RecordUsage(context.Background(), "org-1", 15); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	got, err := mr.Get(usageKey("org-1"))
	if err != nil {
		t.Fatalf("reading usage key: %v", err)
	}
	if got != "45" {
		t.Errorf("expected accumulated usage 45, got %q", got)
	}
}

func TestRecordUsage_NonPositiveIsNoOp(t *testing.T) {
	gate, mr := newTestGate(t, 100)

	if err := gate.RecordUsage(context.Background(), "org-1", 0); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if mr.Exists(usageKey("org-1")) {
		t.Error("expected no usage key to be created for a zero-usage record")
	}
}
