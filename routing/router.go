// Package routing implements the pattern routing decision engine: given a
// pattern described by free text plus structured metadata, it selects the
// best-fit agent from a pool using semantic similarity, historical
// performance, load, and contextual signals, with an optional
// fault-tolerant consensus step for high-stakes decisions.
package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/patternroute/core"
	"github.com/itsneelabh/patternroute/embedding"
	"github.com/itsneelabh/patternroute/profile"
	"github.com/itsneelabh/patternroute/search"
)

// Router drives the routing pipeline end to end: embed, search, load,
// filter, score, validate, calibrate, assemble. Each phase handles its own
// recoverable-error fallback locally and only escalates to the
// FallbackManager when no local remedy exists. The router never retries
// the whole pipeline.
type Router struct {
	config       *core.Config
	store        profile.Store
	embedder     embedding.Embedder
	searchClient search.VectorSearchClient

	scoring    *ScoringEngine
	consensus  *ConsensusValidator
	calibrator *ConfidenceCalibrator
	fallback   *FallbackManager
	cache      *DecisionCache
	metrics    *RouterMetrics

	telemetry core.Telemetry
	logger    core.Logger
	clock     func() time.Time
}

// NewRouter creates a router over the given profile store. embedder and
// searchClient are optional collaborators: a nil embedder or search client
// simply pins the pipeline to its metadata-only path.
func NewRouter(config *core.Config, store profile.Store, embedder embedding.Embedder, searchClient search.VectorSearchClient) *Router {
	if config == nil {
		config = core.DefaultConfig()
	}

	return &Router{
		config:       config,
		store:        store,
		embedder:     embedder,
		searchClient: searchClient,
		scoring:      NewScoringEngine(config.Router.MaxConcurrency),
		consensus:    NewConsensusValidator(config.Consensus),
		calibrator:   NewConfidenceCalibrator(),
		fallback:     NewFallbackManager(store, core.NewMemoryStore(), config.Fallback),
		cache:        NewDecisionCache(config.Router.CacheMaxSize, 5*time.Minute),
		metrics:      &RouterMetrics{},
		telemetry:    &core.NoOpTelemetry{},
		logger:       &core.NoOpLogger{},
		clock:        time.Now,
	}
}

// SetLogger sets the logger provider and propagates it to sub-components
func (r *Router) SetLogger(logger core.Logger) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	r.logger = logger
	r.scoring.SetLogger(logger)
	r.consensus.SetLogger(logger)
	r.calibrator.SetLogger(logger)
	r.fallback.SetLogger(logger)
}

// SetTelemetry sets the telemetry provider
func (r *Router) SetTelemetry(telemetry core.Telemetry) {
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	r.telemetry = telemetry
}

// SetMemory replaces the fallback chain's shared state backend, typically
// with a Redis-backed Memory so the rotation pointer survives restarts
// and spans replicas.
func (r *Router) SetMemory(memory core.Memory) {
	if memory != nil {
		r.fallback = NewFallbackManager(r.store, memory, r.config.Fallback)
		r.fallback.SetLogger(r.logger)
	}
}

// SetClock overrides the time source, used by tests
func (r *Router) SetClock(clock func() time.Time) {
	if clock != nil {
		r.clock = clock
		r.scoring.SetClock(clock)
		r.fallback.SetClock(clock)
	}
}

// Metrics returns a snapshot of routing counters
func (r *Router) Metrics() RouterMetrics {
	return r.metrics.Snapshot()
}

// Stop releases background resources
func (r *Router) Stop() {
	r.cache.Stop()
}

// Route selects the best-fit agent for the pattern and returns the
// decision together with the elapsed pipeline time. Breaching the soft
// latency budget is logged, never fatal. Only request validation and full
// fallback exhaustion are terminal; every other failure degrades to an
// alternate path carried in the decision's reasoning.
func (r *Router) Route(ctx context.Context, req *PatternRequest, execCtx *ExecutionContext) (*RoutingDecision, time.Duration, error) {
	start := r.clock()

	ctx, span := r.telemetry.StartSpan(ctx, "router.route")
	defer span.End()

	if err := req.Validate(); err != nil {
		r.metrics.recordTerminal()
		span.RecordError(err)
		return nil, r.clock().Sub(start), err
	}
	span.SetAttribute("pattern_id", req.PatternID)

	if execCtx == nil {
		execCtx = NewExecutionContext("", "", r.config.Router.HistoryCapacity)
	}

	r.metrics.recordRequest()
	emit(r.telemetry, "routing.requests", 1, map[string]string{"pattern_type": req.PatternType()})

	key := CacheKey(req, execCtx)
	if cached, ok := r.cache.Get(key); ok {
		r.metrics.recordCacheHit()
		emit(r.telemetry, "routing.cache_hits", 1, nil)
		return cached, r.clock().Sub(start), nil
	}

	// Phase 1+2: embed and search, with local degradation to the
	// metadata-only candidate path
	candCtx, candSpan := r.telemetry.StartSpan(ctx, "router.candidates")
	neighbors := r.candidatePhase(candCtx, req)
	candSpan.SetAttribute("candidate_count", len(neighbors))
	candSpan.End()

	// Phase 3: batch profile load, one snapshot per request
	profiles, err := r.loadProfiles(ctx, neighbors)
	if err != nil || len(profiles) == 0 {
		return r.recover(ctx, req, execCtx, nil, nil, "no agent profiles could be loaded", start)
	}

	// Phase 4: hard constraint filter
	eligible := r.scoring.FilterEligible(profiles, req, execCtx)
	if len(eligible) == 0 {
		return r.recover(ctx, req, execCtx, nil, nil, "no eligible agents after constraint filtering", start)
	}

	// Phase 5: concurrent scoring and deterministic ranking
	scoreCtx, scoreSpan := r.telemetry.StartSpan(ctx, "router.score")
	scored := r.scoring.ScoreAll(scoreCtx, eligible, req, execCtx, neighbors, profiles)
	scoreSpan.SetAttribute("scored_count", len(scored))
	scoreSpan.End()
	primary := scored[0]
	var runnerUp *ScoredAgent
	if len(scored) > 1 {
		runnerUp = &scored[1]
	}
	alternatives := collectAlternatives(scored)

	// Phase 6: conditional consensus validation of the primary
	var consensusOutcome *ConsensusOutcome
	var consensusRecord *ConsensusRecord
	if req.ConsensusRequired() {
		consCtx, consSpan := r.telemetry.StartSpan(ctx, "router.consensus")
		outcome := r.consensus.Validate(consCtx, primary, runnerUp, req, execCtx)
		consSpan.SetAttribute("result", string(outcome.Result))
		consSpan.End()
		r.metrics.recordConsensus(outcome.Result)
		emit(r.telemetry, "routing.consensus", 1, map[string]string{"result": string(outcome.Result)})

		consensusOutcome = &outcome
		consensusRecord = &ConsensusRecord{
			Required:   true,
			Validators: len(checks),
			Agreed:     outcome.Agreed,
			Abstained:  outcome.Abstained,
			Result:     outcome.Result,
		}

		if outcome.Result != ConsensusApprove {
			reason := fmt.Sprintf("consensus %s for agent %s (%d/%d agreed)",
				strings.ToLower(string(outcome.Result)), primary.Profile.ID, outcome.Agreed, len(checks))
			return r.recover(ctx, req, execCtx, alternatives, consensusRecord, reason, start)
		}
	}

	// Phase 7: confidence calibration
	allScores := make([]float64, len(scored))
	for i, s := range scored {
		allScores[i] = s.Final
	}
	secondary := 0.0
	if runnerUp != nil {
		secondary = runnerUp.Final
	}
	confidence, band := r.calibrator.Calibrate(primary.Final, secondary, allScores,
		consensusOutcome, req, execCtx, primary.Profile.DecisionAccuracy7d)

	// Phase 8: decision assembly
	decision := &RoutingDecision{
		ID:        uuid.NewString(),
		Timestamp: r.clock(),
		Agent: AgentRef{
			ID:    primary.Profile.ID,
			Name:  primary.Profile.Name,
			Score: primary.Final,
		},
		Alternatives:        alternatives,
		Confidence:          confidence,
		ConfidenceRationale: band,
		Reasoning:           buildReasoning(primary, len(scored), req),
		Consensus:           consensusRecord,
	}
	if req.ExplainReasoning || r.config.Router.IncludeExplain {
		decision.Breakdown = make(map[string]ExpertScoreVector, len(scored))
		for _, s := range scored {
			decision.Breakdown[s.Profile.ID] = s.Scores
		}
	}

	r.cache.Set(key, decision, r.config.Router.CacheTTL)
	r.finish(decision, req, start)
	return decision, r.clock().Sub(start), nil
}

// ReportExecution feeds a completed execution back into the profile store.
// It is fire-and-forget relative to the routing path: failures are logged,
// never surfaced to the routing caller.
func (r *Router) ReportExecution(update profile.ExecutionUpdate) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.store.RecordExecution(ctx, update); err != nil {
			r.logger.Error("Failed to record execution outcome", map[string]interface{}{
				"operation": "report_execution",
				"agent_id":  update.AgentID,
				"error":     err.Error(),
			})
		}
	}()
}

// candidatePhase produces the similarity-ranked candidate set. Embedding
// or search failures degrade locally: embedding loss switches to
// metadata-only generation, search loss switches to the skill-based
// candidate list. Neither failure escalates on its own.
func (r *Router) candidatePhase(ctx context.Context, req *PatternRequest) []search.Neighbor {
	vector := req.Embedding
	if len(vector) == 0 && r.embedder != nil {
		embedded, err := r.embedder.Embed(ctx, req.Query, req.Metadata)
		if err != nil {
			r.logger.Warn("Embedding unavailable, using metadata-only candidates", map[string]interface{}{
				"operation":  "candidate_phase",
				"pattern_id": req.PatternID,
				"error":      err.Error(),
			})
		} else {
			vector = embedded
		}
	}

	if len(vector) > 0 && r.searchClient != nil {
		neighbors, err := r.searchClient.NearestNeighbors(ctx, vector, r.config.Router.CandidateLimit)
		if err == nil && len(neighbors) > 0 {
			return neighbors
		}
		if err != nil {
			r.logger.Warn("Vector search unavailable, using skill-based candidates", map[string]interface{}{
				"operation":  "candidate_phase",
				"pattern_id": req.PatternID,
				"error":      err.Error(),
			})
		}
	}

	return r.skillCandidates(ctx, req)
}

// skillCandidates builds the degraded candidate list from the profile
// store's skill index: similarity becomes required-skill coverage.
func (r *Router) skillCandidates(ctx context.Context, req *PatternRequest) []search.Neighbor {
	seen := make(map[string]*profile.AgentProfile)

	skills := append([]string(nil), req.RequiredSkills()...)
	skills = append(skills, req.Tags()...)
	for _, skill := range skills {
		found, err := r.store.FindBySkill(ctx, skill)
		if err != nil {
			continue
		}
		for _, p := range found {
			seen[p.ID] = p
		}
	}

	// Without skill hints every registered agent is a candidate with
	// uniform similarity; the other experts separate them
	if len(seen) == 0 {
		all, err := r.store.List(ctx)
		if err != nil {
			return nil
		}
		for _, p := range all {
			seen[p.ID] = p
		}
	}

	required := req.RequiredSkills()
	neighbors := make([]search.Neighbor, 0, len(seen))
	for _, p := range seen {
		neighbors = append(neighbors, search.Neighbor{
			AgentID:    p.ID,
			Similarity: p.SkillCoverage(required),
		})
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Similarity != neighbors[j].Similarity {
			return neighbors[i].Similarity > neighbors[j].Similarity
		}
		return neighbors[i].AgentID < neighbors[j].AgentID
	})

	if limit := r.config.Router.CandidateLimit; len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors
}

// loadProfiles fetches one profile snapshot per candidate in a single batch
func (r *Router) loadProfiles(ctx context.Context, neighbors []search.Neighbor) ([]*profile.AgentProfile, error) {
	if len(neighbors) == 0 {
		return nil, fmt.Errorf("empty candidate set: %w", core.ErrNoEligibleAgents)
	}
	ids := make([]string, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.AgentID
	}
	return r.store.LoadBatch(ctx, ids)
}

// recover delegates to the fallback chain and finishes the pipeline with
// a degraded decision, or a terminal error when the chain is exhausted.
func (r *Router) recover(ctx context.Context, req *PatternRequest, execCtx *ExecutionContext, alternatives []Alternative, consensusRecord *ConsensusRecord, reason string, start time.Time) (*RoutingDecision, time.Duration, error) {
	r.logger.Warn("Primary path failed, delegating to fallback chain", map[string]interface{}{
		"operation":  "route",
		"pattern_id": req.PatternID,
		"reason":     reason,
	})

	decision, err := r.fallback.Recover(ctx, req, execCtx, alternatives, reason)
	if err != nil {
		r.metrics.recordTerminal()
		emit(r.telemetry, "routing.terminal_failures", 1, nil)
		return nil, r.clock().Sub(start), err
	}
	decision.Consensus = consensusRecord

	emit(r.telemetry, "routing.fallbacks", 1, map[string]string{"strategy": string(decision.Fallback)})
	r.finish(decision, req, start)
	return decision, r.clock().Sub(start), nil
}

// finish applies end-of-pipeline bookkeeping: budget check, metrics,
// decision log.
func (r *Router) finish(decision *RoutingDecision, req *PatternRequest, start time.Time) {
	elapsed := r.clock().Sub(start)
	overBudget := elapsed > r.config.Router.TargetBudget
	if overBudget {
		r.logger.Warn("Routing exceeded target latency budget", map[string]interface{}{
			"operation":  "route",
			"pattern_id": req.PatternID,
			"elapsed_ms": elapsed.Milliseconds(),
			"budget_ms":  r.config.Router.TargetBudget.Milliseconds(),
		})
	}

	r.metrics.recordDecision(decision, elapsed, overBudget)
	emit(r.telemetry, "routing.latency_ms", float64(elapsed.Milliseconds()), nil)

	r.logger.Info("Routing decision made", map[string]interface{}{
		"operation":   "route",
		"decision_id": decision.ID,
		"pattern_id":  req.PatternID,
		"agent_id":    decision.Agent.ID,
		"score":       decision.Agent.Score,
		"confidence":  decision.Confidence,
		"fallback":    string(decision.Fallback),
		"elapsed_ms":  elapsed.Milliseconds(),
	})
}

// collectAlternatives returns ranks 2-4 as alternatives, all distinct
// from the primary and from each other.
func collectAlternatives(scored []ScoredAgent) []Alternative {
	limit := 4
	if len(scored) < limit {
		limit = len(scored)
	}
	alternatives := make([]Alternative, 0, 3)
	for i := 1; i < limit; i++ {
		alternatives = append(alternatives, Alternative{
			ID:    scored[i].Profile.ID,
			Score: scored[i].Final,
			Rank:  i + 1,
		})
	}
	return alternatives
}

// buildReasoning produces the human-readable explanation for a
// primary-path decision.
func buildReasoning(primary ScoredAgent, candidateCount int, req *PatternRequest) string {
	drivers := topDrivers(primary.Scores)
	return fmt.Sprintf("selected %s for pattern type %q with score %.3f across %d scored candidates; strongest signals: %s",
		primary.Profile.ID, req.PatternType(), primary.Final, candidateCount, strings.Join(drivers, ", "))
}

// topDrivers names the two highest weighted expert contributions
func topDrivers(scores ExpertScoreVector) []string {
	type contribution struct {
		name  string
		value float64
	}
	contributions := []contribution{
		{"similarity", scores.Similarity * weightSimilarity},
		{"metadata match", scores.MetadataMatch * weightMetadataMatch},
		{"success rate", scores.SuccessRate * weightSuccessRate},
		{"recency", scores.Recency * weightRecency},
		{"load balance", scores.LoadDiversity * weightLoadDiversity},
		{"latency fit", scores.LatencyFit * weightLatencyFit},
		{"context relevance", scores.ContextRelevance * weightContextRelevance},
		{"calibration", scores.Calibration * weightCalibration},
	}
	sort.Slice(contributions, func(i, j int) bool {
		if contributions[i].value != contributions[j].value {
			return contributions[i].value > contributions[j].value
		}
		return contributions[i].name < contributions[j].name
	})
	return []string{contributions[0].name, contributions[1].name}
}
