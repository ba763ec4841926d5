package profile

import (
	"math"
	"testing"
	"time"
)

func TestSuccessRateFor(t *testing.T) {
	p := &AgentProfile{
		SuccessRates: map[string]float64{
			"api_integration": 0.92,
			DefaultRateKey:    0.7,
		},
	}

	if got := p.SuccessRateFor("api_integration"); got != 0.92 {
		t.Errorf("Expected type-specific rate 0.92, got %v", got)
	}
	if got := p.SuccessRateFor("unseen_type"); got != 0.7 {
		t.Errorf("Expected default rate 0.7, got %v", got)
	}

	empty := &AgentProfile{}
	if got := empty.SuccessRateFor("anything"); got != 0.5 {
		t.Errorf("Expected neutral 0.5 with no history, got %v", got)
	}
}

func TestLoadFraction(t *testing.T) {
	tests := []struct {
		name    string
		current int
		max     int
		want    float64
	}{
		{"half loaded", 5, 10, 0.5},
		{"no capacity declared", 3, 0, 0},
		{"over capacity clamps", 15, 10, 1},
		{"idle", 0, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &AgentProfile{CurrentAssignments: tt.current, MaxAssignments: tt.max}
			if got := p.LoadFraction(); got != tt.want {
				t.Errorf("LoadFraction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSkillCoverage(t *testing.T) {
	p := &AgentProfile{Skills: []string{"auth", "api", "database"}}

	if got := p.SkillCoverage(nil); got != 1.0 {
		t.Errorf("Empty requirement should be full coverage, got %v", got)
	}
	if got := p.SkillCoverage([]string{"auth", "api"}); got != 1.0 {
		t.Errorf("Expected full coverage, got %v", got)
	}
	if got := p.SkillCoverage([]string{"auth", "ml"}); got != 0.5 {
		t.Errorf("Expected half coverage, got %v", got)
	}
	if !p.HasAllSkills([]string{"auth", "database"}) {
		t.Error("Expected all skills present")
	}
	if p.HasAllSkills([]string{"auth", "ml"}) {
		t.Error("Did not expect 'ml' skill")
	}
}

func TestSpecializationOverlap(t *testing.T) {
	a := &AgentProfile{Specializations: []string{"auth", "security"}}
	b := &AgentProfile{Specializations: []string{"auth", "security", "api"}}
	c := &AgentProfile{Specializations: []string{"ml"}}
	d := &AgentProfile{}

	if got := a.SpecializationOverlap(b); got != 1.0 {
		t.Errorf("Expected full overlap relative to smaller set, got %v", got)
	}
	if got := a.SpecializationOverlap(c); got != 0 {
		t.Errorf("Expected zero overlap, got %v", got)
	}
	if got := a.SpecializationOverlap(d); got != 0 {
		t.Errorf("Expected zero overlap with empty set, got %v", got)
	}
}

func TestApplyUpdatesEMA(t *testing.T) {
	p := &AgentProfile{
		SuccessRates: map[string]float64{"api_integration": 0.8},
	}
	now := time.Now()

	p.apply(ExecutionUpdate{
		AgentID:     "agent-1",
		PatternType: "api_integration",
		Success:     true,
		LatencyMS:   120,
	}, now)

	// 0.9*0.8 + 0.1*1.0
	want := 0.82
	if got := p.SuccessRates["api_integration"]; math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected EMA %v, got %v", want, got)
	}

	p.apply(ExecutionUpdate{PatternType: "api_integration", Success: false, LatencyMS: 90}, now)
	want = 0.9*0.82 + 0.1*0
	if got := p.SuccessRates["api_integration"]; math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected EMA %v after failure, got %v", want, got)
	}
}

func TestApplySeedsUnseenTypeFromDefault(t *testing.T) {
	p := &AgentProfile{
		SuccessRates: map[string]float64{DefaultRateKey: 0.6},
	}

	p.apply(ExecutionUpdate{PatternType: "new_type", Success: true}, time.Now())

	want := 0.9*0.6 + 0.1*1.0
	if got := p.SuccessRates["new_type"]; math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected unseen type seeded from default, got %v want %v", got, want)
	}
}

func TestApplyCapsRecentOutcomes(t *testing.T) {
	p := &AgentProfile{}
	now := time.Now()

	for i := 0; i < 15; i++ {
		p.apply(ExecutionUpdate{
			PatternID:   "pat",
			PatternType: "t",
			Success:     true,
			LatencyMS:   float64(i),
		}, now.Add(time.Duration(i)*time.Second))
	}

	if len(p.RecentOutcomes) != maxRecentOutcomes {
		t.Fatalf("Expected %d outcomes, got %d", maxRecentOutcomes, len(p.RecentOutcomes))
	}
	// Most recent first
	if p.RecentOutcomes[0].LatencyMS != 14 {
		t.Errorf("Expected most recent outcome first, got latency %v", p.RecentOutcomes[0].LatencyMS)
	}
}

func TestApplyRollsLatencyWindow(t *testing.T) {
	p := &AgentProfile{}
	now := time.Now()

	for i := 0; i < 150; i++ {
		p.apply(ExecutionUpdate{PatternType: "t", Success: true, LatencyMS: float64(i + 1)}, now)
	}

	if len(p.LatencySamples) != maxLatencySamples {
		t.Fatalf("Expected %d samples, got %d", maxLatencySamples, len(p.LatencySamples))
	}
	// Oldest 50 samples dropped
	if p.LatencySamples[0] != 51 {
		t.Errorf("Expected window to start at 51, got %v", p.LatencySamples[0])
	}
	if p.Latency.Max != 150 {
		t.Errorf("Expected max 150, got %v", p.Latency.Max)
	}
}

func TestApplyDecrementsAssignments(t *testing.T) {
	p := &AgentProfile{CurrentAssignments: 2}
	p.apply(ExecutionUpdate{PatternType: "t", Success: true}, time.Now())
	if p.CurrentAssignments != 1 {
		t.Errorf("Expected assignment counter decremented, got %d", p.CurrentAssignments)
	}

	idle := &AgentProfile{}
	idle.apply(ExecutionUpdate{PatternType: "t", Success: true}, time.Now())
	if idle.CurrentAssignments != 0 {
		t.Errorf("Counter must not go negative, got %d", idle.CurrentAssignments)
	}
}

func TestComputePercentiles(t *testing.T) {
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i + 1)
	}

	pct := computePercentiles(samples)
	if pct.P50 != 50 {
		t.Errorf("Expected p50=50, got %v", pct.P50)
	}
	if pct.P95 != 95 {
		t.Errorf("Expected p95=95, got %v", pct.P95)
	}
	if pct.P99 != 99 {
		t.Errorf("Expected p99=99, got %v", pct.P99)
	}
	if pct.Max != 100 {
		t.Errorf("Expected max=100, got %v", pct.Max)
	}

	single := computePercentiles([]float64{42})
	if single.P50 != 42 || single.P99 != 42 || single.Max != 42 {
		t.Errorf("Single sample should fill all percentiles, got %+v", single)
	}

	empty := computePercentiles(nil)
	if empty != (LatencyPercentiles{}) {
		t.Errorf("Expected zero percentiles for empty window, got %+v", empty)
	}
}

func TestCloneIsolation(t *testing.T) {
	p := &AgentProfile{
		ID:           "agent-1",
		Skills:       []string{"auth"},
		SuccessRates: map[string]float64{"t": 0.8},
	}

	c := p.Clone()
	c.Skills[0] = "changed"
	c.SuccessRates["t"] = 0.1

	if p.Skills[0] != "auth" {
		t.Error("Clone mutation leaked into skills")
	}
	if p.SuccessRates["t"] != 0.8 {
		t.Error("Clone mutation leaked into success rates")
	}
}
