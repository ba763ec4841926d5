package routing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/itsneelabh/patternroute/core"
	"github.com/itsneelabh/patternroute/profile"
	"github.com/itsneelabh/patternroute/search"
)

// ScoredAgent is one eligible agent with its expert scores and final
// weighted score.
type ScoredAgent struct {
	Profile    *profile.AgentProfile
	Scores     ExpertScoreVector
	Final      float64
	Similarity float64
}

// ScoringEngine filters agents by hard constraints and scores the
// survivors with the eight-expert registry. Per-agent invocations are
// independent and run concurrently under a bounded semaphore.
type ScoringEngine struct {
	maxConcurrency int
	semaphore      chan struct{}
	logger         core.Logger
	clock          func() time.Time
}

// NewScoringEngine creates a scoring engine with the given fan-out bound
func NewScoringEngine(maxConcurrency int) *ScoringEngine {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &ScoringEngine{
		maxConcurrency: maxConcurrency,
		semaphore:      make(chan struct{}, maxConcurrency),
		logger:         &core.NoOpLogger{},
		clock:          time.Now,
	}
}

// SetLogger sets the logger provider
func (e *ScoringEngine) SetLogger(logger core.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetClock overrides the time source, used by tests
func (e *ScoringEngine) SetClock(clock func() time.Time) {
	if clock != nil {
		e.clock = clock
	}
}

// FilterEligible drops agents failing any hard constraint: availability,
// allow/deny lists, latency ceiling, minimum security level, mandatory
// skills. Filtered agents never reach scoring.
func (e *ScoringEngine) FilterEligible(profiles []*profile.AgentProfile, req *PatternRequest, execCtx *ExecutionContext) []*profile.AgentProfile {
	allowed := toSet(req.PreferredAgents)
	denied := toSet(req.ExcludedAgents)
	for _, id := range execCtx.Preferences.ExcludedAgents {
		denied[id] = true
	}

	ceiling := 0.0
	if req.Constraints != nil && req.Constraints.MaxLatencyMS > 0 {
		ceiling = req.Constraints.MaxLatencyMS
	} else if execCtx.Preferences.MaxLatencyMS > 0 {
		ceiling = execCtx.Preferences.MaxLatencyMS
	}

	minSecurity := 0
	if req.Constraints != nil {
		minSecurity = req.Constraints.MinSecurityLevel
	}
	if execCtx.Preferences.MinSecurityLevel > minSecurity {
		minSecurity = execCtx.Preferences.MinSecurityLevel
	}

	eligible := make([]*profile.AgentProfile, 0, len(profiles))
	for _, p := range profiles {
		switch {
		case !p.Available:
		case denied[p.ID]:
		case ceiling > 0 && p.Latency.Max > ceiling:
		case p.SecurityLevel < minSecurity:
		case !p.HasAllSkills(req.RequiredSkills()):
		default:
			eligible = append(eligible, p)
		}
	}

	// The allow list restricts but never widens eligibility. An allow
	// list that filters everything out is treated as a soft preference
	// instead of eliminating all candidates.
	if len(allowed) > 0 {
		restricted := make([]*profile.AgentProfile, 0, len(eligible))
		for _, p := range eligible {
			if allowed[p.ID] {
				restricted = append(restricted, p)
			}
		}
		if len(restricted) > 0 {
			eligible = restricted
		}
	}

	return eligible
}

// ScoreAll scores every eligible agent concurrently and returns the
// results ranked descending by final score, ties broken by agent ID.
func (e *ScoringEngine) ScoreAll(ctx context.Context, eligible []*profile.AgentProfile, req *PatternRequest, execCtx *ExecutionContext, neighbors []search.Neighbor, allProfiles []*profile.AgentProfile) []ScoredAgent {
	candidates, maxSim, degenerate := indexCandidates(neighbors)

	profilesByID := make(map[string]*profile.AgentProfile, len(allProfiles))
	for _, p := range allProfiles {
		profilesByID[p.ID] = p
	}

	now := e.clock()
	scored := make([]ScoredAgent, len(eligible))

	var wg sync.WaitGroup
	for i, p := range eligible {
		wg.Add(1)
		go func(i int, p *profile.AgentProfile) {
			e.semaphore <- struct{}{}
			defer func() {
				<-e.semaphore
				wg.Done()
			}()

			in := expertInput{
				profile:       p,
				request:       req,
				context:       execCtx,
				candidates:    candidates,
				maxSimilarity: maxSim,
				degenerate:    degenerate,
				profilesByID:  profilesByID,
				now:           now,
			}
			scored[i] = e.scoreOne(in)
		}(i, p)
	}
	wg.Wait()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Final != scored[j].Final {
			return scored[i].Final > scored[j].Final
		}
		return scored[i].Profile.ID < scored[j].Profile.ID
	})
	return scored
}

// scoreOne runs the full expert registry for one agent. An expert that
// panics contributes the neutral 0.5 instead of aborting the batch.
func (e *ScoringEngine) scoreOne(in expertInput) ScoredAgent {
	values := make([]float64, len(expertRegistry))
	final := 0.0

	for i, ex := range expertRegistry {
		values[i] = e.runExpert(ex, in)
		final += values[i] * ex.weight
	}

	sim := 0.0
	if info, ok := in.candidates[in.profile.ID]; ok {
		sim = info.similarity
	}

	return ScoredAgent{
		Profile: in.profile,
		Scores: ExpertScoreVector{
			Similarity:       values[0],
			MetadataMatch:    values[1],
			SuccessRate:      values[2],
			Recency:          values[3],
			LoadDiversity:    values[4],
			LatencyFit:       values[5],
			ContextRelevance: values[6],
			Calibration:      values[7],
		},
		Final:      clamp01(final),
		Similarity: sim,
	}
}

func (e *ScoringEngine) runExpert(ex expert, in expertInput) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Expert panicked, using neutral score", map[string]interface{}{
				"operation": "score_agent",
				"expert":    ex.name,
				"agent_id":  in.profile.ID,
				"panic":     r,
			})
			score = neutralScore
		}
	}()
	return clamp01(ex.fn(in))
}

// indexCandidates maps the neighbor list into rank-aware candidate info
// and detects degenerate sets (single candidate or zero variance).
func indexCandidates(neighbors []search.Neighbor) (map[string]candidateInfo, float64, bool) {
	candidates := make(map[string]candidateInfo, len(neighbors))

	maxSim := 0.0
	minSim := 0.0
	for i, n := range neighbors {
		candidates[n.AgentID] = candidateInfo{similarity: n.Similarity, rank: i}
		if i == 0 {
			maxSim, minSim = n.Similarity, n.Similarity
			continue
		}
		if n.Similarity > maxSim {
			maxSim = n.Similarity
		}
		if n.Similarity < minSim {
			minSim = n.Similarity
		}
	}

	degenerate := len(neighbors) == 1 || (len(neighbors) > 1 && maxSim == minSim)
	return candidates, maxSim, degenerate
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
