package routing

import (
	"fmt"
	"time"

	"github.com/itsneelabh/patternroute/profile"
)

// Experts are independent pure scoring functions sharing one signature,
// combined by a fixed-weight reducer. Adding an expert means adding a
// registry entry and a weight; no dispatch hierarchy involved.

const (
	weightSimilarity       = 0.25
	weightMetadataMatch    = 0.15
	weightSuccessRate      = 0.20
	weightRecency          = 0.10
	weightLoadDiversity    = 0.10
	weightLatencyFit       = 0.10
	weightContextRelevance = 0.07
	weightCalibration      = 0.03

	// neutralScore is returned when an expert fails internally;
	// one broken expert never aborts the scoring pass
	neutralScore = 0.5

	// rankDiscount is the deterministic per-position tie-breaker
	// applied to the normalized similarity score
	rankDiscount = 0.02

	// recentWindow bounds the recency and activity lookbacks
	recentWindow = 60 * time.Minute
)

// candidateInfo is an agent's standing within the candidate set
type candidateInfo struct {
	similarity float64
	rank       int // 0-based position in the similarity-ordered set
}

// expertInput is the shared read-only input of every expert
type expertInput struct {
	profile    *profile.AgentProfile
	request    *PatternRequest
	context    *ExecutionContext
	candidates map[string]candidateInfo
	// maxSimilarity normalizes candidate similarities; degenerate sets
	// (single candidate or zero variance) score 1.0 before rank discount
	maxSimilarity float64
	degenerate    bool
	// profilesByID covers every profile loaded for this request,
	// used by the diversity penalty
	profilesByID map[string]*profile.AgentProfile
	now          time.Time
}

type expertFunc func(in expertInput) float64

type expert struct {
	name   string
	weight float64
	fn     expertFunc
}

// expertRegistry is the fixed expert set. Order matches the
// ExpertScoreVector fields.
var expertRegistry = []expert{
	{"similarity", weightSimilarity, scoreSimilarity},
	{"metadata_match", weightMetadataMatch, scoreMetadataMatch},
	{"success_rate", weightSuccessRate, scoreSuccessRate},
	{"recency", weightRecency, scoreRecency},
	{"load_diversity", weightLoadDiversity, scoreLoadDiversity},
	{"latency_fit", weightLatencyFit, scoreLatencyFit},
	{"context_relevance", weightContextRelevance, scoreContextRelevance},
	{"calibration", weightCalibration, scoreCalibration},
}

func init() {
	var sum float64
	for _, e := range expertRegistry {
		sum += e.weight
	}
	if sum < 1.0-1e-4 || sum > 1.0+1e-4 {
		panic(fmt.Sprintf("expert weights sum to %v, want 1.0", sum))
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// scoreSimilarity normalizes the agent's nearest-neighbor similarity within
// the candidate set. Agents absent from the set score 0. A small per-rank
// discount breaks ties deterministically.
func scoreSimilarity(in expertInput) float64 {
	info, ok := in.candidates[in.profile.ID]
	if !ok {
		return 0
	}

	normalized := 1.0
	if !in.degenerate && in.maxSimilarity > 0 {
		normalized = info.similarity / in.maxSimilarity
	}

	discount := 1.0 - rankDiscount*float64(info.rank)
	if discount < 0 {
		discount = 0
	}
	return clamp01(normalized * discount)
}

// scoreMetadataMatch blends skill overlap, specialization overlap, and
// mandatory-skill satisfaction. Full mandatory credit only when every
// required skill is present; partial credit is the matched fraction.
func scoreMetadataMatch(in expertInput) float64 {
	required := in.request.RequiredSkills()
	skillOverlap := in.profile.SkillCoverage(required)

	tags := in.request.Tags()
	specOverlap := 0.0
	if len(tags) > 0 && len(in.profile.Specializations) > 0 {
		matched := 0
		for _, tag := range tags {
			for _, spec := range in.profile.Specializations {
				if tag == spec {
					matched++
					break
				}
			}
		}
		specOverlap = float64(matched) / float64(len(tags))
	}

	mandatory := 1.0
	if len(required) > 0 && !in.profile.HasAllSkills(required) {
		mandatory = in.profile.SkillCoverage(required)
	}

	return clamp01(0.4*skillOverlap + 0.3*specOverlap + 0.3*mandatory)
}

// scoreSuccessRate returns the agent's EMA success rate for the pattern
// type, or its default rate for unseen types.
func scoreSuccessRate(in expertInput) float64 {
	return clamp01(in.profile.SuccessRateFor(in.request.PatternType()))
}

// scoreRecency starts from the success-rate baseline and adds up to +0.2
// proportional to the fraction of the agent's recent outcomes, inside the
// 60-minute window, that were successes on this pattern type.
func scoreRecency(in expertInput) float64 {
	base := in.profile.SuccessRateFor(in.request.PatternType())

	patternType := in.request.PatternType()
	cutoff := in.now.Add(-recentWindow)

	inWindow, hits := 0, 0
	for _, o := range in.profile.RecentOutcomes {
		if o.Timestamp.Before(cutoff) {
			continue
		}
		inWindow++
		if o.Success && o.PatternType == patternType {
			hits++
		}
	}

	boost := 0.0
	if inWindow > 0 {
		boost = 0.2 * float64(hits) / float64(inWindow)
	}
	return clamp01(base + boost)
}

// scoreLoadDiversity starts at 1.0 and penalizes session reuse, load above
// 80% capacity, and similarity to already-assigned agents; lightly loaded
// agents earn a small bonus.
func scoreLoadDiversity(in expertInput) float64 {
	score := 1.0
	assigned := in.context.SessionAgents()

	if assigned[in.profile.ID] {
		score -= 0.2
	}

	load := in.profile.LoadFraction()
	if load > 0.8 {
		score -= (load - 0.8) * 2.0
	} else if load < 0.3 {
		score += 0.05
	}

	// Diversity: more than two already-assigned agents highly similar
	// to this one crowds the same specialization
	similar := 0
	for agentID := range assigned {
		if agentID == in.profile.ID {
			continue
		}
		other, ok := in.profilesByID[agentID]
		if !ok {
			continue
		}
		if in.profile.SpecializationOverlap(other) >= 0.5 {
			similar++
		}
	}
	if similar > 2 {
		score -= 0.15
	}

	return clamp01(score)
}

// scoreLatencyFit hard-fails to 0 when the agent's worst case exceeds the
// caller's ceiling. Otherwise 1.0 within the tier's p99 target, degrading
// linearly to 0.6 at the acceptable bound, and capped at 0.1 beyond it.
func scoreLatencyFit(in expertInput) float64 {
	ceiling := 0.0
	if in.request.Constraints != nil && in.request.Constraints.MaxLatencyMS > 0 {
		ceiling = in.request.Constraints.MaxLatencyMS
	} else if in.context.Preferences.MaxLatencyMS > 0 {
		ceiling = in.context.Preferences.MaxLatencyMS
	}
	if ceiling > 0 && in.profile.Latency.Max > ceiling {
		return 0
	}

	target := tierTargetMS[in.request.Priority()]
	bound := target * 2
	p99 := in.profile.Latency.P99

	switch {
	case p99 <= target:
		return 1.0
	case p99 <= bound:
		return 1.0 - 0.4*(p99-target)/(bound-target)
	default:
		return 0.1
	}
}

// scoreContextRelevance adjusts a neutral baseline with caller preferences,
// history with this requester, recent activity, and time-of-day alignment.
// Excluded agents short-circuit to 0.
func scoreContextRelevance(in expertInput) float64 {
	for _, id := range in.context.Preferences.ExcludedAgents {
		if id == in.profile.ID {
			return 0
		}
	}

	score := neutralScore
	for _, id := range in.context.Preferences.PreferredAgents {
		if id == in.profile.ID {
			score += 0.3
			break
		}
	}

	// History with this requester
	successes, total := 0, 0
	for _, rec := range in.context.RecentExecutions {
		if rec.AgentID != in.profile.ID {
			continue
		}
		total++
		if rec.Success {
			successes++
		}
	}
	if total > 0 {
		rate := float64(successes) / float64(total)
		score += (rate - 0.5) * 0.2
	}

	cutoff := in.now.Add(-recentWindow)
	for _, o := range in.profile.RecentOutcomes {
		if !o.Timestamp.Before(cutoff) {
			score += 0.05
			break
		}
	}

	for _, o := range in.profile.RecentOutcomes {
		if TimeBucket(o.Timestamp) == in.context.Environment.TimeBucket {
			score += 0.05
			break
		}
	}

	return clamp01(score)
}

// scoreCalibration maps the agent's 7-day decision accuracy to a factor
// centered at 0.5: >=95% trends toward 1.0, <90% trends toward 0.45,
// unproven agents stay neutral.
func scoreCalibration(in expertInput) float64 {
	acc := in.profile.DecisionAccuracy7d
	switch {
	case acc == 0:
		return neutralScore
	case acc >= 0.95:
		return clamp01(0.5 + (acc-0.95)*10)
	case acc < 0.90:
		v := 0.5 - (0.90 - acc)
		if v < 0.45 {
			v = 0.45
		}
		return v
	default:
		return neutralScore
	}
}
