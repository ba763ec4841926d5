package profile

import (
	"context"
	"testing"

	"github.com/itsneelabh/patternroute/core"
)

func seedStore(t *testing.T) *InMemoryStore {
	t.Helper()
	store := NewInMemoryStore()
	ctx := context.Background()

	agents := []*AgentProfile{
		{ID: "agent-a", Name: "Agent A", Available: true, Skills: []string{"auth", "api"}},
		{ID: "agent-b", Name: "Agent B", Available: true, Skills: []string{"database"}},
		{ID: "agent-c", Name: "Agent C", Available: false, Skills: []string{"auth"}},
	}
	for _, a := range agents {
		if err := store.Save(ctx, a); err != nil {
			t.Fatalf("Save %s failed: %v", a.ID, err)
		}
	}
	return store
}

func TestInMemoryStoreLoad(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	p, err := store.Load(ctx, "agent-a")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.Name != "Agent A" {
		t.Errorf("Unexpected name: %s", p.Name)
	}

	_, err = store.Load(ctx, "missing")
	if !core.IsNotFound(err) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestInMemoryStoreLoadBatch(t *testing.T) {
	store := seedStore(t)

	profiles, err := store.LoadBatch(context.Background(), []string{"agent-a", "missing", "agent-b"})
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("Expected 2 profiles (unknown skipped), got %d", len(profiles))
	}
}

func TestInMemoryStoreFindBySkill(t *testing.T) {
	store := seedStore(t)

	found, err := store.FindBySkill(context.Background(), "auth")
	if err != nil {
		t.Fatalf("FindBySkill failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("Expected 2 agents with 'auth', got %d", len(found))
	}

	found, _ = store.FindBySkill(context.Background(), "unknown-skill")
	if len(found) != 0 {
		t.Errorf("Expected no agents, got %d", len(found))
	}
}

func TestInMemoryStoreSaveRequiresID(t *testing.T) {
	store := NewInMemoryStore()
	err := store.Save(context.Background(), &AgentProfile{Name: "nameless"})
	if err == nil {
		t.Fatal("Expected error for profile without ID")
	}
}

func TestInMemoryStoreSnapshotIsolation(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	p, _ := store.Load(ctx, "agent-a")
	p.Skills[0] = "mutated"
	p.Available = false

	again, _ := store.Load(ctx, "agent-a")
	if again.Skills[0] != "auth" || !again.Available {
		t.Error("Caller mutation leaked into the store")
	}
}

func TestInMemoryStoreRecordExecution(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	update := ExecutionUpdate{
		AgentID:     "agent-a",
		PatternID:   "pat-1",
		PatternType: "api_integration",
		Success:     true,
		LatencyMS:   80,
	}
	if err := store.RecordExecution(ctx, update); err != nil {
		t.Fatalf("RecordExecution failed: %v", err)
	}

	p, _ := store.Load(ctx, "agent-a")
	if len(p.RecentOutcomes) != 1 {
		t.Fatalf("Expected 1 outcome, got %d", len(p.RecentOutcomes))
	}
	if p.Latency.Max != 80 {
		t.Errorf("Expected latency recorded, got %v", p.Latency.Max)
	}
	if _, ok := p.SuccessRates["api_integration"]; !ok {
		t.Error("Expected success rate entry for pattern type")
	}

	err := store.RecordExecution(ctx, ExecutionUpdate{AgentID: "missing"})
	if !core.IsNotFound(err) {
		t.Errorf("Expected not-found for unknown agent, got %v", err)
	}
}

func TestInMemoryStoreAssignAndAvailability(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	if err := store.Assign(ctx, "agent-a"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	p, _ := store.Load(ctx, "agent-a")
	if p.CurrentAssignments != 1 {
		t.Errorf("Expected 1 assignment, got %d", p.CurrentAssignments)
	}

	if err := store.SetAvailability(ctx, "agent-a", false); err != nil {
		t.Fatalf("SetAvailability failed: %v", err)
	}
	p, _ = store.Load(ctx, "agent-a")
	if p.Available {
		t.Error("Expected agent unavailable")
	}
}
