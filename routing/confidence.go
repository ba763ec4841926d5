package routing

import (
	"math"

	"github.com/itsneelabh/patternroute/core"
)

// ConfidenceCalibrator derives a scalar confidence for the final decision,
// distinct from the chosen agent's raw score. It blends score separation,
// candidate-set entropy, consensus agreement, pattern history, and the
// agent's own calibration record.
type ConfidenceCalibrator struct {
	logger core.Logger
}

// NewConfidenceCalibrator creates a calibrator
func NewConfidenceCalibrator() *ConfidenceCalibrator {
	return &ConfidenceCalibrator{logger: &core.NoOpLogger{}}
}

// SetLogger sets the logger provider
func (c *ConfidenceCalibrator) SetLogger(logger core.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Calibrate computes the final confidence in [0,1] and its qualitative
// rationale band.
//
// Combination: 0.6*base + 0.2*(1-uncertainty) + consensusBonus - patternPenalty,
// scaled by the agent's 7-day accuracy factor and clamped to [0,1].
func (c *ConfidenceCalibrator) Calibrate(primary, secondary float64, allScores []float64, consensus *ConsensusOutcome, req *PatternRequest, execCtx *ExecutionContext, agentAccuracy float64) (float64, string) {
	base := clamp01(primary - secondary)

	uncertainty := normalizedEntropy(allScores) / 2

	consensusBonus := 0.0
	if consensus != nil {
		consensusBonus = 0.2 * float64(consensus.Agreed) / float64(len(checks))
	}

	patternPenalty := c.patternHistoryPenalty(req, execCtx)

	confidence := 0.6*base + 0.2*(1-uncertainty) + consensusBonus - patternPenalty
	confidence *= calibrationFactor(agentAccuracy)
	confidence = clamp01(confidence)

	return confidence, RationaleBand(confidence)
}

// patternHistoryPenalty penalizes up to 0.15 proportional to how far the
// pattern's own recent success rate falls below 80%. Patterns without
// history carry no penalty.
func (c *ConfidenceCalibrator) patternHistoryPenalty(req *PatternRequest, execCtx *ExecutionContext) float64 {
	successes, total := 0, 0
	for _, rec := range execCtx.RecentExecutions {
		if rec.PatternID != req.PatternID && rec.PatternType != req.PatternType() {
			continue
		}
		total++
		if rec.Success {
			successes++
		}
	}
	if total == 0 {
		return 0
	}

	rate := float64(successes) / float64(total)
	if rate >= 0.8 {
		return 0
	}
	return 0.15 * (0.8 - rate) / 0.8
}

// calibrationFactor maps the agent's 7-day decision accuracy to a
// multiplier centered at 1.0 and bounded to [0.9, 1.1]. Unproven agents
// get the neutral factor.
func calibrationFactor(accuracy float64) float64 {
	if accuracy <= 0 {
		return 1.0
	}
	factor := 1.0 + (accuracy-0.95)*2
	if factor < 0.9 {
		return 0.9
	}
	if factor > 1.1 {
		return 1.1
	}
	return factor
}

// normalizedEntropy computes Shannon entropy over the candidate score
// distribution, divided by log(n). Degenerate distributions (one
// candidate, zero mass) carry zero entropy.
func normalizedEntropy(scores []float64) float64 {
	if len(scores) < 2 {
		return 0
	}

	var sum float64
	for _, s := range scores {
		if s > 0 {
			sum += s
		}
	}
	if sum == 0 {
		return 0
	}

	var entropy float64
	for _, s := range scores {
		if s <= 0 {
			continue
		}
		p := s / sum
		entropy -= p * math.Log(p)
	}
	return entropy / math.Log(float64(len(scores)))
}

// RationaleBand maps a confidence value to one of five qualitative bands
// used in the human-readable explanation.
func RationaleBand(confidence float64) string {
	switch {
	case confidence > 0.90:
		return "very high confidence: strong score separation and favorable history"
	case confidence >= 0.75:
		return "high confidence: clear preference among candidates"
	case confidence >= 0.50:
		return "moderate confidence: candidates are competitive"
	case confidence >= 0.30:
		return "low confidence: weak separation between candidates"
	default:
		return "very low confidence: consider manual review"
	}
}
