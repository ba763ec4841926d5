package routing

import (
	"sync"
	"time"

	"github.com/itsneelabh/patternroute/core"
)

// RouterMetrics tracks routing outcomes. Counters are also mirrored to
// the configured Telemetry provider.
type RouterMetrics struct {
	mu sync.RWMutex

	TotalRequests      int64         `json:"total_requests"`
	PrimaryDecisions   int64         `json:"primary_decisions"`
	FallbackDecisions  int64         `json:"fallback_decisions"`
	TerminalFailures   int64         `json:"terminal_failures"`
	CacheHits          int64         `json:"cache_hits"`
	ConsensusApproved  int64         `json:"consensus_approved"`
	ConsensusEscalated int64         `json:"consensus_escalated"`
	ConsensusTimedOut  int64         `json:"consensus_timed_out"`
	BudgetBreaches     int64         `json:"budget_breaches"`
	AverageLatency     time.Duration `json:"average_latency"`

	totalLatency time.Duration
	completed    int64
}

func (m *RouterMetrics) recordRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRequests++
}

func (m *RouterMetrics) recordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheHits++
}

func (m *RouterMetrics) recordDecision(decision *RoutingDecision, elapsed time.Duration, overBudget bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if decision.Fallback != "" {
		m.FallbackDecisions++
	} else {
		m.PrimaryDecisions++
	}
	if overBudget {
		m.BudgetBreaches++
	}
	m.completed++
	m.totalLatency += elapsed
	m.AverageLatency = m.totalLatency / time.Duration(m.completed)
}

func (m *RouterMetrics) recordConsensus(result ConsensusResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch result {
	case ConsensusApprove:
		m.ConsensusApproved++
	case ConsensusEscalate:
		m.ConsensusEscalated++
	case ConsensusTimeout:
		m.ConsensusTimedOut++
	}
}

func (m *RouterMetrics) recordTerminal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TerminalFailures++
}

// Snapshot returns a copy of the current metrics
func (m *RouterMetrics) Snapshot() RouterMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return RouterMetrics{
		TotalRequests:      m.TotalRequests,
		PrimaryDecisions:   m.PrimaryDecisions,
		FallbackDecisions:  m.FallbackDecisions,
		TerminalFailures:   m.TerminalFailures,
		CacheHits:          m.CacheHits,
		ConsensusApproved:  m.ConsensusApproved,
		ConsensusEscalated: m.ConsensusEscalated,
		ConsensusTimedOut:  m.ConsensusTimedOut,
		BudgetBreaches:     m.BudgetBreaches,
		AverageLatency:     m.AverageLatency,
	}
}

// emit mirrors a counter to the telemetry provider
func emit(telemetry core.Telemetry, name string, value float64, labels map[string]string) {
	if telemetry != nil {
		telemetry.RecordMetric(name, value, labels)
	}
}
