// Package profile owns versioned agent capability and performance records.
// Routing reads profile snapshots and never mutates them; all mutation flows
// through the post-execution update operation on a Store, so read-side routing
// and write-side updates never race (eventual consistency is acceptable).
package profile

import (
	"math"
	"sort"
	"time"
)

const (
	// DefaultRateKey is the success-rate entry used for unseen pattern types
	DefaultRateKey = "default"

	// emaWeight keeps 90% of the old rate so recent behavior dominates
	// without discarding history
	emaWeight = 0.9

	// maxRecentOutcomes caps the most-recent-first outcome list
	maxRecentOutcomes = 10

	// maxLatencySamples caps the rolling window used for percentiles
	maxLatencySamples = 100
)

// LatencyPercentiles summarizes an agent's response times in milliseconds
// over the rolling sample window.
type LatencyPercentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

// Outcome records a single completed execution, most recent first.
type Outcome struct {
	PatternID   string    `json:"pattern_id"`
	PatternType string    `json:"pattern_type"`
	Success     bool      `json:"success"`
	LatencyMS   float64   `json:"latency_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// AgentProfile describes one executor: declared capabilities plus tracked
// historical performance. Owned by the Store; the routing path treats loaded
// profiles as read-only snapshots.
type AgentProfile struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Available       bool     `json:"available"`
	Skills          []string `json:"skills"`
	Specializations []string `json:"specializations"`
	SecurityLevel   int      `json:"security_level"`

	// SuccessRates maps pattern-type to an EMA success rate.
	// The DefaultRateKey entry covers unseen types.
	SuccessRates map[string]float64 `json:"success_rates"`

	// RecentOutcomes is most-recent-first, capped at 10
	RecentOutcomes []Outcome `json:"recent_outcomes"`

	// LatencySamples is the rolling window backing the percentiles
	LatencySamples []float64          `json:"latency_samples,omitempty"`
	Latency        LatencyPercentiles `json:"latency"`

	// Assignment counters for load-aware scoring
	CurrentAssignments int `json:"current_assignments"`
	MaxAssignments     int `json:"max_assignments"`

	// DecisionAccuracy7d is the fraction of this agent's routed decisions
	// over the trailing week that executed successfully. Zero means unproven.
	DecisionAccuracy7d float64 `json:"decision_accuracy_7d"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SuccessRateFor returns the EMA success rate for a pattern type,
// falling back to the default entry, then to a neutral 0.5.
func (p *AgentProfile) SuccessRateFor(patternType string) float64 {
	if rate, ok := p.SuccessRates[patternType]; ok {
		return rate
	}
	if rate, ok := p.SuccessRates[DefaultRateKey]; ok {
		return rate
	}
	return 0.5
}

// LoadFraction returns current assignments over capacity in [0,1].
// Agents with no declared capacity report zero load.
func (p *AgentProfile) LoadFraction() float64 {
	if p.MaxAssignments <= 0 {
		return 0
	}
	f := float64(p.CurrentAssignments) / float64(p.MaxAssignments)
	if f > 1 {
		return 1
	}
	return f
}

// HasSkill reports whether the agent declares the given skill
func (p *AgentProfile) HasSkill(skill string) bool {
	for _, s := range p.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// HasAllSkills reports whether every required skill is declared
func (p *AgentProfile) HasAllSkills(required []string) bool {
	for _, skill := range required {
		if !p.HasSkill(skill) {
			return false
		}
	}
	return true
}

// SkillCoverage returns the fraction of required skills the agent declares.
// An empty requirement list counts as full coverage.
func (p *AgentProfile) SkillCoverage(required []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	matched := 0
	for _, skill := range required {
		if p.HasSkill(skill) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// SpecializationOverlap returns the Jaccard-style overlap between this
// agent's specializations and another set, used for diversity penalties.
func (p *AgentProfile) SpecializationOverlap(other *AgentProfile) float64 {
	if len(p.Specializations) == 0 || len(other.Specializations) == 0 {
		return 0
	}
	set := make(map[string]bool, len(p.Specializations))
	for _, s := range p.Specializations {
		set[s] = true
	}
	shared := 0
	for _, s := range other.Specializations {
		if set[s] {
			shared++
		}
	}
	smaller := len(p.Specializations)
	if len(other.Specializations) < smaller {
		smaller = len(other.Specializations)
	}
	return float64(shared) / float64(smaller)
}

// Clone returns a deep copy so routing can hold a snapshot while the
// store accepts concurrent post-execution updates.
func (p *AgentProfile) Clone() *AgentProfile {
	c := *p
	c.Skills = append([]string(nil), p.Skills...)
	c.Specializations = append([]string(nil), p.Specializations...)
	c.RecentOutcomes = append([]Outcome(nil), p.RecentOutcomes...)
	c.LatencySamples = append([]float64(nil), p.LatencySamples...)
	c.SuccessRates = make(map[string]float64, len(p.SuccessRates))
	for k, v := range p.SuccessRates {
		c.SuccessRates[k] = v
	}
	return &c
}

// ExecutionUpdate is the fire-and-forget payload reported after a routed
// pattern finishes executing.
type ExecutionUpdate struct {
	AgentID     string  `json:"agent_id"`
	PatternID   string  `json:"pattern_id"`
	PatternType string  `json:"pattern_type"`
	Success     bool    `json:"success"`
	LatencyMS   float64 `json:"latency_ms"`
}

// apply folds an execution result into the profile: success-rate EMA,
// bounded recent-outcome list, and rolling latency percentiles.
func (p *AgentProfile) apply(update ExecutionUpdate, now time.Time) {
	sample := 0.0
	if update.Success {
		sample = 1.0
	}

	if p.SuccessRates == nil {
		p.SuccessRates = make(map[string]float64)
	}
	old := p.SuccessRateFor(update.PatternType)
	p.SuccessRates[update.PatternType] = emaWeight*old + (1-emaWeight)*sample

	outcome := Outcome{
		PatternID:   update.PatternID,
		PatternType: update.PatternType,
		Success:     update.Success,
		LatencyMS:   update.LatencyMS,
		Timestamp:   now,
	}
	p.RecentOutcomes = append([]Outcome{outcome}, p.RecentOutcomes...)
	if len(p.RecentOutcomes) > maxRecentOutcomes {
		p.RecentOutcomes = p.RecentOutcomes[:maxRecentOutcomes]
	}

	p.LatencySamples = append(p.LatencySamples, update.LatencyMS)
	if len(p.LatencySamples) > maxLatencySamples {
		p.LatencySamples = p.LatencySamples[len(p.LatencySamples)-maxLatencySamples:]
	}
	p.Latency = computePercentiles(p.LatencySamples)

	if p.CurrentAssignments > 0 {
		p.CurrentAssignments--
	}
	p.UpdatedAt = now
}

// computePercentiles derives p50/p95/p99/max from the sample window
// using nearest-rank selection.
func computePercentiles(samples []float64) LatencyPercentiles {
	if len(samples) == 0 {
		return LatencyPercentiles{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	rank := func(q float64) float64 {
		idx := int(math.Ceil(q*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}

	return LatencyPercentiles{
		P50: rank(0.50),
		P95: rank(0.95),
		P99: rank(0.99),
		Max: sorted[len(sorted)-1],
	}
}
