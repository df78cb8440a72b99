package api

import (
	"testing"
	"time"

	"github.com/ModalMetrics/GiftFlow/internal/flow"
	"github.com/ModalMetrics/GiftFlow/internal/models"
)

func TestRegistryPutGetRemove(t *testing.T) {
	reg := newSessionRegistry()
	if reg.count() != 0 {
		t.Fatalf("Expected an empty registry, got %d entries", reg.count())
	}

	sess := flow.NewSession("sess-1", "dev-1", models.ConditionA, nil)
	reg.put("sess-1", sess)
	entry := reg.get("sess-1")
	if entry == nil || entry.session != sess {
		t.Fatal("Expected to get back the stored session")
	}
	if reg.get("sess-2") != nil {
		t.Error("Expected nil for an unknown session ID")
	}

	// Replacing under the same ID swaps the session
	replacement := flow.NewSession("sess-1", "dev-1", models.ConditionB, nil)
	reg.put("sess-1", replacement)
	if reg.count() != 1 {
		t.Errorf("Expected 1 entry after replacement, got %d", reg.count())
	}
	if entry := reg.get("sess-1"); entry == nil || entry.session != replacement {
		t.Error("Expected the replacement session")
	}

	reg.remove("sess-1")
	if reg.count() != 0 || reg.get("sess-1") != nil {
		t.Error("Expected the session to be gone after remove")
	}
	reg.remove("sess-1") // removing twice is a no-op
}

func TestRegistrySweepEvictsIdleSessions(t *testing.T) {
	reg := newSessionRegistry()
	reg.put("fresh", flow.NewSession("fresh", "dev-1", models.ConditionA, nil))
	stale := reg.put("stale", flow.NewSession("stale", "dev-2", models.ConditionA, nil))

	stale.mu.Lock()
	stale.lastSeen = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	evicted := reg.sweep(time.Hour)
	if evicted != 1 {
		t.Errorf("Expected 1 eviction, got %d", evicted)
	}
	if reg.get("stale") != nil {
		t.Error("Expected the stale session to be evicted")
	}
	if reg.get("fresh") == nil {
		t.Error("Expected the fresh session to survive the sweep")
	}
}

func TestRegistryTouchDefersEviction(t *testing.T) {
	reg := newSessionRegistry()
	entry := reg.put("sess-1", flow.NewSession("sess-1", "dev-1", models.ConditionA, nil))

	entry.mu.Lock()
	entry.lastSeen = time.Now().Add(-2 * time.Hour)
	entry.touch()
	entry.mu.Unlock()

	if evicted := reg.sweep(time.Hour); evicted != 0 {
		t.Errorf("Expected a touched session to survive, got %d evictions", evicted)
	}
}
