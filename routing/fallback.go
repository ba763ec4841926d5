package routing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/patternroute/core"
	"github.com/itsneelabh/patternroute/profile"
)

// rotationKey persists the round-robin pointer across requests
// (and across replicas when Memory is Redis-backed)
const rotationKey = "fallback:rotation"

// strategyConfidence is the fixed confidence ceiling per strategy;
// each strategy yields strictly lower confidence than the one before it
var strategyConfidence = map[FallbackStrategy]float64{
	StrategyAlternatives:   0.7,
	StrategySkillMatch:     0.6,
	StrategySuccessHistory: 0.55,
	StrategyRoundRobin:     0.4,
	StrategyDefaultAgent:   0.3,
}

// FallbackManager is the ordered chain of degraded-selection strategies
// used when the primary path cannot produce a decision. Strategies are
// tried in sequence; an internal error in one simply advances to the next.
type FallbackManager struct {
	store        profile.Store
	memory       core.Memory
	defaultAgent string
	logger       core.Logger
	clock        func() time.Time
}

// NewFallbackManager creates a fallback chain over the given profile store.
// memory holds the persistent round-robin rotation pointer.
func NewFallbackManager(store profile.Store, memory core.Memory, cfg core.FallbackConfig) *FallbackManager {
	if memory == nil {
		memory = core.NewMemoryStore()
	}
	return &FallbackManager{
		store:        store,
		memory:       memory,
		defaultAgent: cfg.DefaultAgent,
		logger:       &core.NoOpLogger{},
		clock:        time.Now,
	}
}

// SetLogger sets the logger provider
func (f *FallbackManager) SetLogger(logger core.Logger) {
	if logger != nil {
		f.logger = logger
	}
}

// SetClock overrides the time source, used by tests
func (f *FallbackManager) SetClock(clock func() time.Time) {
	if clock != nil {
		f.clock = clock
	}
}

// strategyResult is the typed per-strategy return: a decision, or try-next
type strategyResult struct {
	agent *profile.AgentProfile
	ok    bool
}

// Recover walks the strategy chain until one produces an agent.
// alternatives are the already-ranked runner-ups from the primary path
// (empty when the primary path never ranked anything). reason is the
// original failure carried into the decision's rationale.
func (f *FallbackManager) Recover(ctx context.Context, req *PatternRequest, execCtx *ExecutionContext, alternatives []Alternative, reason string) (*RoutingDecision, error) {
	type step struct {
		strategy FallbackStrategy
		run      func(ctx context.Context) strategyResult
	}

	steps := []step{
		{StrategyAlternatives, func(ctx context.Context) strategyResult {
			return f.tryAlternatives(ctx, alternatives)
		}},
		{StrategySkillMatch, func(ctx context.Context) strategyResult {
			return f.trySkillMatch(ctx, req)
		}},
		{StrategySuccessHistory, func(ctx context.Context) strategyResult {
			return f.trySuccessHistory(ctx, req)
		}},
		{StrategyRoundRobin, func(ctx context.Context) strategyResult {
			return f.tryRoundRobin(ctx)
		}},
		{StrategyDefaultAgent, func(ctx context.Context) strategyResult {
			return f.tryDefaultAgent(ctx)
		}},
	}

	for _, s := range steps {
		result := f.runStrategy(ctx, s.strategy, s.run)
		if !result.ok {
			continue
		}

		f.logger.Info("Fallback strategy succeeded", map[string]interface{}{
			"operation":  "fallback_recover",
			"strategy":   string(s.strategy),
			"agent_id":   result.agent.ID,
			"pattern_id": req.PatternID,
			"reason":     reason,
		})
		return f.buildDecision(s.strategy, result.agent, reason), nil
	}

	return nil, &core.RoutingError{
		Op:      "fallback.Recover",
		Kind:    "fallback",
		ID:      req.PatternID,
		Message: fmt.Sprintf("all fallback strategies exhausted (original failure: %s)", reason),
		Err:     core.ErrFallbackExhausted,
	}
}

// runStrategy isolates one strategy so an internal panic advances the
// chain instead of aborting it.
func (f *FallbackManager) runStrategy(ctx context.Context, strategy FallbackStrategy, run func(ctx context.Context) strategyResult) (result strategyResult) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Warn("Fallback strategy panicked, advancing", map[string]interface{}{
				"operation": "fallback_recover",
				"strategy":  string(strategy),
				"panic":     r,
			})
			result = strategyResult{}
		}
	}()
	return run(ctx)
}

// tryAlternatives picks the first available agent among the ranked alternates
func (f *FallbackManager) tryAlternatives(ctx context.Context, alternatives []Alternative) strategyResult {
	for _, alt := range alternatives {
		p, err := f.store.Load(ctx, alt.ID)
		if err != nil {
			continue
		}
		if p.Available {
			return strategyResult{agent: p, ok: true}
		}
	}
	return strategyResult{}
}

// trySkillMatch picks the available agent whose skill set best covers the
// request's required skills, ties broken by success rate, then by ID.
func (f *FallbackManager) trySkillMatch(ctx context.Context, req *PatternRequest) strategyResult {
	available, err := f.availableAgents(ctx)
	if err != nil || len(available) == 0 {
		return strategyResult{}
	}

	required := req.RequiredSkills()
	patternType := req.PatternType()

	var best *profile.AgentProfile
	bestCoverage := -1.0
	for _, p := range available {
		coverage := p.SkillCoverage(required)
		switch {
		case coverage > bestCoverage:
		case coverage == bestCoverage && best != nil &&
			p.SuccessRateFor(patternType) > best.SuccessRateFor(patternType):
		case coverage == bestCoverage && best != nil &&
			p.SuccessRateFor(patternType) == best.SuccessRateFor(patternType) && p.ID < best.ID:
		default:
			continue
		}
		best = p
		bestCoverage = coverage
	}

	if best == nil || bestCoverage <= 0 {
		// No agent covers any required skill; only usable when the
		// request requires nothing specific
		if len(required) > 0 {
			return strategyResult{}
		}
	}
	return strategyResult{agent: best, ok: best != nil}
}

// trySuccessHistory picks the available agent with the best historical
// success rate for this pattern type, ignoring similarity entirely.
func (f *FallbackManager) trySuccessHistory(ctx context.Context, req *PatternRequest) strategyResult {
	available, err := f.availableAgents(ctx)
	if err != nil || len(available) == 0 {
		return strategyResult{}
	}

	patternType := req.PatternType()
	sort.Slice(available, func(i, j int) bool {
		ri, rj := available[i].SuccessRateFor(patternType), available[j].SuccessRateFor(patternType)
		if ri != rj {
			return ri > rj
		}
		return available[i].ID < available[j].ID
	})
	return strategyResult{agent: available[0], ok: true}
}

// tryRoundRobin rotates through all currently-available agents using the
// persistent rotation pointer.
func (f *FallbackManager) tryRoundRobin(ctx context.Context) strategyResult {
	available, err := f.availableAgents(ctx)
	if err != nil || len(available) == 0 {
		return strategyResult{}
	}

	sort.Slice(available, func(i, j int) bool {
		return available[i].ID < available[j].ID
	})

	n, err := f.memory.Increment(ctx, rotationKey)
	if err != nil {
		n = 1
	}
	idx := int((n - 1) % int64(len(available)))
	return strategyResult{agent: available[idx], ok: true}
}

// tryDefaultAgent uses the designated catch-all agent, only if available
func (f *FallbackManager) tryDefaultAgent(ctx context.Context) strategyResult {
	if f.defaultAgent == "" {
		return strategyResult{}
	}
	p, err := f.store.Load(ctx, f.defaultAgent)
	if err != nil || !p.Available {
		return strategyResult{}
	}
	return strategyResult{agent: p, ok: true}
}

func (f *FallbackManager) availableAgents(ctx context.Context) ([]*profile.AgentProfile, error) {
	all, err := f.store.List(ctx)
	if err != nil {
		return nil, err
	}
	available := make([]*profile.AgentProfile, 0, len(all))
	for _, p := range all {
		if p.Available {
			available = append(available, p)
		}
	}
	return available, nil
}

// buildDecision assembles a degraded decision carrying the strategy tag
// and its fixed confidence ceiling.
func (f *FallbackManager) buildDecision(strategy FallbackStrategy, agent *profile.AgentProfile, reason string) *RoutingDecision {
	confidence := strategyConfidence[strategy]
	return &RoutingDecision{
		ID:        uuid.NewString(),
		Timestamp: f.clock(),
		Agent: AgentRef{
			ID:    agent.ID,
			Name:  agent.Name,
			Score: confidence,
		},
		Confidence:          confidence,
		ConfidenceRationale: RationaleBand(confidence),
		Reasoning: fmt.Sprintf("degraded selection via %s strategy after primary path failure: %s",
			strategy, reason),
		Fallback: strategy,
	}
}
