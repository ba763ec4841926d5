package routing

import (
	"fmt"
	"strings"
	"time"

	"github.com/itsneelabh/patternroute/core"
)

// Well-known pattern metadata keys
const (
	// MetadataType carries the pattern-type used for success-rate lookups
	MetadataType = "type"
	// MetadataPriority carries the latency priority tier
	MetadataPriority = "priority"
	// MetadataCategory marks critical categories that force consensus
	MetadataCategory = "category"
	// MetadataTags carries comma-separated pattern tags matched against
	// agent specializations
	MetadataTags = "tags"

	// CategoryCritical forces the consensus validation step
	CategoryCritical = "critical"

	// DefaultPatternType is used when the request declares no type
	DefaultPatternType = "default"
)

// PriorityTier is the latency expectation class of a pattern
type PriorityTier string

const (
	PriorityCritical PriorityTier = "critical"
	PriorityHigh     PriorityTier = "high"
	PriorityNormal   PriorityTier = "normal"
	PriorityLow      PriorityTier = "low"
)

// p99 latency targets per tier, in milliseconds. The acceptable bound
// is twice the target; beyond it the latency-fit expert caps at 0.1.
var tierTargetMS = map[PriorityTier]float64{
	PriorityCritical: 100,
	PriorityHigh:     250,
	PriorityNormal:   500,
	PriorityLow:      1000,
}

// RoutingConstraints are the caller's hard requirements. Agents failing
// any of them never reach scoring.
type RoutingConstraints struct {
	MaxLatencyMS     float64  `json:"max_latency_ms,omitempty"`
	MinSecurityLevel int      `json:"min_security_level,omitempty"`
	RequireConsensus bool     `json:"require_consensus,omitempty"`
	RequiredSkills   []string `json:"required_skills,omitempty"`
}

// PatternRequest describes one unit of work to be routed.
// Immutable once received.
type PatternRequest struct {
	PatternID string            `json:"pattern_id"`
	Query     string            `json:"pattern_query"`
	Metadata  map[string]string `json:"pattern_metadata,omitempty"`

	// Embedding is an optional precomputed 1536-dim pattern vector
	Embedding []float32 `json:"pattern_embedding,omitempty"`

	PreferredAgents []string `json:"preferred_agents,omitempty"`
	ExcludedAgents  []string `json:"excluded_agents,omitempty"`

	Constraints *RoutingConstraints `json:"constraints,omitempty"`

	IncludeAlternatives bool `json:"include_alternatives,omitempty"`
	ExplainReasoning    bool `json:"explain_reasoning,omitempty"`
}

// Validate rejects malformed requests before any pipeline work starts
func (r *PatternRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("nil request: %w", core.ErrInvalidRequest)
	}
	if r.PatternID == "" {
		return fmt.Errorf("missing pattern_id: %w", core.ErrInvalidRequest)
	}
	if r.Query == "" && len(r.Metadata) == 0 && len(r.Embedding) == 0 {
		return fmt.Errorf("request carries no query, metadata or embedding: %w", core.ErrInvalidRequest)
	}
	if r.Constraints != nil {
		if r.Constraints.MaxLatencyMS < 0 {
			return fmt.Errorf("negative max_latency_ms: %w", core.ErrInvalidRequest)
		}
		if r.Constraints.MinSecurityLevel < 0 {
			return fmt.Errorf("negative min_security_level: %w", core.ErrInvalidRequest)
		}
	}
	return nil
}

// PatternType returns the declared pattern type, or the default
func (r *PatternRequest) PatternType() string {
	if t, ok := r.Metadata[MetadataType]; ok && t != "" {
		return t
	}
	return DefaultPatternType
}

// Priority returns the declared priority tier, defaulting to normal
func (r *PatternRequest) Priority() PriorityTier {
	switch PriorityTier(r.Metadata[MetadataPriority]) {
	case PriorityCritical:
		return PriorityCritical
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// IsCritical reports whether the pattern belongs to a critical category
func (r *PatternRequest) IsCritical() bool {
	return r.Metadata[MetadataCategory] == CategoryCritical
}

// ConsensusRequired reports whether the consensus step must run
func (r *PatternRequest) ConsensusRequired() bool {
	if r.Constraints != nil && r.Constraints.RequireConsensus {
		return true
	}
	return r.IsCritical()
}

// RequiredSkills returns the hard skill requirements
func (r *PatternRequest) RequiredSkills() []string {
	if r.Constraints == nil {
		return nil
	}
	return r.Constraints.RequiredSkills
}

// Tags returns the pattern tags plus the pattern type, matched against
// agent specializations by the metadata expert.
func (r *PatternRequest) Tags() []string {
	var tags []string
	if raw, ok := r.Metadata[MetadataTags]; ok && raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	if t := r.PatternType(); t != DefaultPatternType {
		tags = append(tags, t)
	}
	return tags
}

// ExecutionRecord is one prior execution visible to the routing context
type ExecutionRecord struct {
	PatternID   string    `json:"pattern_id"`
	PatternType string    `json:"pattern_type"`
	AgentID     string    `json:"agent_id"`
	Success     bool      `json:"success"`
	LatencyMS   float64   `json:"latency_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// DecisionRecord is one prior routing decision visible to the context
type DecisionRecord struct {
	DecisionID string    `json:"decision_id"`
	AgentID    string    `json:"agent_id"`
	PatternType string   `json:"pattern_type"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// EnvironmentSnapshot captures ambient conditions at request time
type EnvironmentSnapshot struct {
	// TimeBucket is one of morning, afternoon, evening, night
	TimeBucket string `json:"time_bucket"`
	// LoadFraction is overall system load in [0,1]
	LoadFraction float64 `json:"load_fraction"`
}

// UserPreferences are soft and hard preferences of the requester
type UserPreferences struct {
	PreferredAgents  []string `json:"preferred_agents,omitempty"`
	ExcludedAgents   []string `json:"excluded_agents,omitempty"`
	MaxLatencyMS     float64  `json:"max_latency_ms,omitempty"`
	MinSecurityLevel int      `json:"min_security_level,omitempty"`
}

// ExecutionContext carries requester identity, bounded history, and
// environment. Built once per request and read-only during routing.
type ExecutionContext struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	// RecentExecutions is most-recent-first, capped by the history capacity
	RecentExecutions []ExecutionRecord `json:"recent_executions,omitempty"`
	// RecentDecisions is most-recent-first, capped by the history capacity
	RecentDecisions []DecisionRecord `json:"recent_decisions,omitempty"`

	Environment EnvironmentSnapshot `json:"environment"`
	Preferences UserPreferences     `json:"preferences"`

	capacity int
}

// NewExecutionContext builds a context with the given history capacity
func NewExecutionContext(userID, sessionID string, capacity int) *ExecutionContext {
	if capacity <= 0 {
		capacity = 50
	}
	return &ExecutionContext{
		UserID:      userID,
		SessionID:   sessionID,
		Environment: SnapshotEnvironment(time.Now(), 0),
		capacity:    capacity,
	}
}

// SnapshotEnvironment derives the time bucket and load fraction snapshot
func SnapshotEnvironment(now time.Time, loadFraction float64) EnvironmentSnapshot {
	return EnvironmentSnapshot{
		TimeBucket:   TimeBucket(now),
		LoadFraction: loadFraction,
	}
}

// TimeBucket maps a timestamp to a coarse time-of-day bucket
func TimeBucket(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 6 && h < 12:
		return "morning"
	case h >= 12 && h < 18:
		return "afternoon"
	case h >= 18 && h < 23:
		return "evening"
	default:
		return "night"
	}
}

// AddExecution prepends a record, trimming to capacity
func (c *ExecutionContext) AddExecution(rec ExecutionRecord) {
	c.RecentExecutions = append([]ExecutionRecord{rec}, c.RecentExecutions...)
	if limit := c.historyCapacity(); len(c.RecentExecutions) > limit {
		c.RecentExecutions = c.RecentExecutions[:limit]
	}
}

// AddDecision prepends a record, trimming to capacity
func (c *ExecutionContext) AddDecision(rec DecisionRecord) {
	c.RecentDecisions = append([]DecisionRecord{rec}, c.RecentDecisions...)
	if limit := c.historyCapacity(); len(c.RecentDecisions) > limit {
		c.RecentDecisions = c.RecentDecisions[:limit]
	}
}

func (c *ExecutionContext) historyCapacity() int {
	if c.capacity <= 0 {
		return 50
	}
	return c.capacity
}

// SessionAgents returns the agent IDs already assigned within this session
func (c *ExecutionContext) SessionAgents() map[string]bool {
	assigned := make(map[string]bool, len(c.RecentDecisions))
	for _, d := range c.RecentDecisions {
		assigned[d.AgentID] = true
	}
	return assigned
}

// ExpertScoreVector holds the eight per-expert scores for one agent,
// each in [0,1]. It lives only for the lifetime of one routing decision.
type ExpertScoreVector struct {
	Similarity       float64 `json:"similarity"`
	MetadataMatch    float64 `json:"metadata_match"`
	SuccessRate      float64 `json:"success_rate"`
	Recency          float64 `json:"recency"`
	LoadDiversity    float64 `json:"load_diversity"`
	LatencyFit       float64 `json:"latency_fit"`
	ContextRelevance float64 `json:"context_relevance"`
	Calibration      float64 `json:"calibration"`
}

// AgentRef names the chosen agent and its final score
type AgentRef struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Alternative is a ranked runner-up, distinct from the primary
type Alternative struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// ConsensusResult is the outcome of the validator quorum
type ConsensusResult string

const (
	ConsensusApprove  ConsensusResult = "APPROVE"
	ConsensusEscalate ConsensusResult = "ESCALATE"
	ConsensusTimeout  ConsensusResult = "TIMEOUT"
)

// ConsensusRecord summarizes a consensus run attached to a decision
type ConsensusRecord struct {
	Required   bool            `json:"required"`
	Validators int             `json:"validators"`
	Agreed     int             `json:"agreed"`
	Abstained  int             `json:"abstained"`
	Result     ConsensusResult `json:"result"`
}

// FallbackStrategy tags a decision produced by the degraded path
type FallbackStrategy string

const (
	StrategyAlternatives   FallbackStrategy = "alternatives"
	StrategySkillMatch     FallbackStrategy = "skill_match"
	StrategySuccessHistory FallbackStrategy = "success_history"
	StrategyRoundRobin     FallbackStrategy = "round_robin"
	StrategyDefaultAgent   FallbackStrategy = "default_agent"
)

// RoutingDecision is the immutable output of one routing pass.
// Decisions are never revised, only superseded by a new decision.
type RoutingDecision struct {
	ID        string    `json:"decision_id"`
	Timestamp time.Time `json:"timestamp"`

	Agent        AgentRef      `json:"primary_agent"`
	Alternatives []Alternative `json:"alternatives,omitempty"`

	Confidence          float64 `json:"confidence_score"`
	ConfidenceRationale string  `json:"confidence_rationale"`
	Reasoning           string  `json:"reasoning"`

	// Breakdown maps agent ID to per-expert scores when explanations
	// were requested
	Breakdown map[string]ExpertScoreVector `json:"scoring_breakdown,omitempty"`

	Consensus *ConsensusRecord `json:"consensus,omitempty"`

	// Fallback is empty for primary-path decisions
	Fallback FallbackStrategy `json:"fallback_applied,omitempty"`
}
