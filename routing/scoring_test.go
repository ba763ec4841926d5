package routing

import (
	"context"
	"testing"

	"github.com/itsneelabh/patternroute/profile"
	"github.com/itsneelabh/patternroute/search"
)

func authPatternRequest() *PatternRequest {
	return &PatternRequest{
		PatternID: "pat-auth",
		Query:     "integrate the OAuth token refresh flow",
		Metadata: map[string]string{
			MetadataType: "api_integration",
			MetadataTags: "auth",
		},
		Constraints: &RoutingConstraints{RequiredSkills: []string{"auth"}},
	}
}

func TestFilterEligible(t *testing.T) {
	profiles := []*profile.AgentProfile{
		{ID: "ok", Available: true, Skills: []string{"auth"}, SecurityLevel: 2,
			Latency: profile.LatencyPercentiles{Max: 100}},
		{ID: "offline", Available: false, Skills: []string{"auth"}},
		{ID: "denied", Available: true, Skills: []string{"auth"}},
		{ID: "slow", Available: true, Skills: []string{"auth"},
			Latency: profile.LatencyPercentiles{Max: 5000}},
		{ID: "insecure", Available: true, Skills: []string{"auth"}, SecurityLevel: 0},
		{ID: "unskilled", Available: true, Skills: []string{"database"}, SecurityLevel: 2},
	}

	req := &PatternRequest{
		PatternID:      "pat-1",
		Query:          "q",
		ExcludedAgents: []string{"denied"},
		Constraints: &RoutingConstraints{
			MaxLatencyMS:     1000,
			MinSecurityLevel: 1,
			RequiredSkills:   []string{"auth"},
		},
	}
	execCtx := NewExecutionContext("u", "s", 50)

	engine := NewScoringEngine(4)
	eligible := engine.FilterEligible(profiles, req, execCtx)

	if len(eligible) != 1 || eligible[0].ID != "ok" {
		ids := make([]string, len(eligible))
		for i, p := range eligible {
			ids[i] = p.ID
		}
		t.Errorf("Expected only 'ok' to survive, got %v", ids)
	}
}

func TestFilterEligibleAllowListRestricts(t *testing.T) {
	profiles := []*profile.AgentProfile{
		{ID: "a", Available: true},
		{ID: "b", Available: true},
	}
	req := &PatternRequest{
		PatternID:       "pat-1",
		Query:           "q",
		PreferredAgents: []string{"b"},
	}
	execCtx := NewExecutionContext("u", "s", 50)

	engine := NewScoringEngine(4)
	eligible := engine.FilterEligible(profiles, req, execCtx)
	if len(eligible) != 1 || eligible[0].ID != "b" {
		t.Errorf("Allow list should restrict to 'b', got %d agents", len(eligible))
	}

	// An allow list matching nobody is a soft preference, not a veto
	req.PreferredAgents = []string{"ghost"}
	eligible = engine.FilterEligible(profiles, req, execCtx)
	if len(eligible) != 2 {
		t.Errorf("Unmatched allow list should keep all eligible agents, got %d", len(eligible))
	}
}

func TestFilterEligibleUsesContextPreferences(t *testing.T) {
	profiles := []*profile.AgentProfile{
		{ID: "a", Available: true},
		{ID: "b", Available: true},
	}
	req := &PatternRequest{PatternID: "pat-1", Query: "q"}
	execCtx := NewExecutionContext("u", "s", 50)
	execCtx.Preferences.ExcludedAgents = []string{"a"}

	engine := NewScoringEngine(4)
	eligible := engine.FilterEligible(profiles, req, execCtx)
	if len(eligible) != 1 || eligible[0].ID != "b" {
		t.Errorf("Context exclusion should drop 'a', got %d agents", len(eligible))
	}
}

// A pattern needing auth skills must prefer the auth specialist over an
// otherwise healthy database specialist.
func TestScoreAllPrefersSkillMatch(t *testing.T) {
	authAgent := &profile.AgentProfile{
		ID: "agent-auth", Name: "Auth Agent", Available: true,
		Skills:          []string{"auth", "api"},
		Specializations: []string{"auth"},
		SuccessRates:    map[string]float64{"api_integration": 0.9},
	}
	dbAgent := &profile.AgentProfile{
		ID: "agent-db", Name: "DB Agent", Available: true,
		Skills:          []string{"auth", "database"},
		Specializations: []string{"database"},
		SuccessRates:    map[string]float64{"api_integration": 0.9},
	}

	neighbors := []search.Neighbor{
		{AgentID: "agent-auth", Similarity: 0.9},
		{AgentID: "agent-db", Similarity: 0.5},
	}
	all := []*profile.AgentProfile{authAgent, dbAgent}

	engine := NewScoringEngine(4)
	scored := engine.ScoreAll(context.Background(), all, authPatternRequest(),
		NewExecutionContext("u", "s", 50), neighbors, all)

	if len(scored) != 2 {
		t.Fatalf("Expected 2 scored agents, got %d", len(scored))
	}
	if scored[0].Profile.ID != "agent-auth" {
		t.Errorf("Expected auth specialist first, got %s", scored[0].Profile.ID)
	}
	if scored[0].Final <= scored[1].Final {
		t.Errorf("Expected strictly better score for auth specialist: %v vs %v",
			scored[0].Final, scored[1].Final)
	}
	for _, s := range scored {
		if s.Final < 0 || s.Final > 1 {
			t.Errorf("Final score out of range for %s: %v", s.Profile.ID, s.Final)
		}
	}
}

func TestScoreAllDeterministic(t *testing.T) {
	profiles := []*profile.AgentProfile{
		{ID: "a", Available: true, Skills: []string{"auth"}},
		{ID: "b", Available: true, Skills: []string{"auth"}},
		{ID: "c", Available: true, Skills: []string{"auth"}},
	}
	neighbors := []search.Neighbor{
		{AgentID: "a", Similarity: 0.7},
		{AgentID: "b", Similarity: 0.7},
		{AgentID: "c", Similarity: 0.7},
	}
	req := authPatternRequest()
	engine := NewScoringEngine(2)

	var firstOrder []string
	for run := 0; run < 5; run++ {
		scored := engine.ScoreAll(context.Background(), profiles, req,
			NewExecutionContext("u", "s", 50), neighbors, profiles)

		order := make([]string, len(scored))
		for i, s := range scored {
			order[i] = s.Profile.ID
		}
		if run == 0 {
			firstOrder = order
			continue
		}
		for i := range order {
			if order[i] != firstOrder[i] {
				t.Fatalf("Run %d produced different order: %v vs %v", run, order, firstOrder)
			}
		}
	}
}

func TestRunExpertPanicIsolation(t *testing.T) {
	engine := NewScoringEngine(1)
	panicky := expert{
		name:   "broken",
		weight: 0.1,
		fn:     func(in expertInput) float64 { panic("boom") },
	}

	in := baseInput(&profile.AgentProfile{ID: "a"}, nil)
	got := engine.runExpert(panicky, in)
	if got != neutralScore {
		t.Errorf("Panicking expert should yield neutral %v, got %v", neutralScore, got)
	}
}

func TestIndexCandidatesDegenerate(t *testing.T) {
	_, _, degenerate := indexCandidates([]search.Neighbor{{AgentID: "a", Similarity: 0.4}})
	if !degenerate {
		t.Error("Single candidate should be degenerate")
	}

	_, _, degenerate = indexCandidates([]search.Neighbor{
		{AgentID: "a", Similarity: 0.4},
		{AgentID: "b", Similarity: 0.4},
	})
	if !degenerate {
		t.Error("Zero-variance set should be degenerate")
	}

	_, maxSim, degenerate := indexCandidates([]search.Neighbor{
		{AgentID: "a", Similarity: 0.9},
		{AgentID: "b", Similarity: 0.4},
	})
	if degenerate {
		t.Error("Varied set should not be degenerate")
	}
	if maxSim != 0.9 {
		t.Errorf("Expected max similarity 0.9, got %v", maxSim)
	}
}
