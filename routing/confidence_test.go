package routing

import (
	"math"
	"testing"
	"time"
)

func TestCalibrateSeparationDrivesConfidence(t *testing.T) {
	c := NewConfidenceCalibrator()
	req := &PatternRequest{PatternID: "pat-1", Query: "q"}
	execCtx := NewExecutionContext("u", "s", 50)

	clear, _ := c.Calibrate(0.9, 0.3, []float64{0.9, 0.3}, nil, req, execCtx, 0)
	tight, _ := c.Calibrate(0.9, 0.88, []float64{0.9, 0.88}, nil, req, execCtx, 0)

	if clear <= tight {
		t.Errorf("Clear separation (%v) should beat tight race (%v)", clear, tight)
	}
	if clear < 0 || clear > 1 || tight < 0 || tight > 1 {
		t.Errorf("Confidence out of range: %v, %v", clear, tight)
	}
}

func TestCalibrateConsensusBonus(t *testing.T) {
	c := NewConfidenceCalibrator()
	req := &PatternRequest{PatternID: "pat-1", Query: "q"}
	execCtx := NewExecutionContext("u", "s", 50)
	scores := []float64{0.8, 0.5}

	without, _ := c.Calibrate(0.8, 0.5, scores, nil, req, execCtx, 0)
	unanimous := &ConsensusOutcome{Result: ConsensusApprove, Agreed: 5}
	with, _ := c.Calibrate(0.8, 0.5, scores, unanimous, req, execCtx, 0)

	bonus := with - without
	if math.Abs(bonus-0.2) > 1e-9 {
		t.Errorf("Unanimous consensus should add exactly 0.2, added %v", bonus)
	}

	partial := &ConsensusOutcome{Result: ConsensusApprove, Agreed: 3}
	withPartial, _ := c.Calibrate(0.8, 0.5, scores, partial, req, execCtx, 0)
	if math.Abs((withPartial-without)-0.12) > 1e-9 {
		t.Errorf("3/5 agreement should add 0.12, added %v", withPartial-without)
	}
}

func TestCalibratePatternHistoryPenalty(t *testing.T) {
	c := NewConfidenceCalibrator()
	req := &PatternRequest{
		PatternID: "pat-flaky",
		Query:     "q",
		Metadata:  map[string]string{MetadataType: "data_transformation"},
	}
	scores := []float64{0.8, 0.5}

	clean := NewExecutionContext("u", "s", 50)
	baseline, _ := c.Calibrate(0.8, 0.5, scores, nil, req, clean, 0)

	// Half the prior attempts at this pattern failed
	troubled := NewExecutionContext("u", "s", 50)
	for i := 0; i < 4; i++ {
		troubled.AddExecution(ExecutionRecord{
			PatternID:   "pat-flaky",
			PatternType: "data_transformation",
			Success:     i%2 == 0,
			Timestamp:   time.Now(),
		})
	}
	penalized, _ := c.Calibrate(0.8, 0.5, scores, nil, req, troubled, 0)

	if penalized >= baseline {
		t.Errorf("Troubled pattern history should lower confidence: %v vs %v", penalized, baseline)
	}
	// Penalty is capped at 0.15
	if baseline-penalized > 0.15+1e-9 {
		t.Errorf("Penalty exceeds cap: %v", baseline-penalized)
	}
}

func TestCalibrateHealthyHistoryNoPenalty(t *testing.T) {
	c := NewConfidenceCalibrator()
	req := &PatternRequest{PatternID: "pat-ok", Query: "q"}
	scores := []float64{0.8, 0.5}

	clean := NewExecutionContext("u", "s", 50)
	baseline, _ := c.Calibrate(0.8, 0.5, scores, nil, req, clean, 0)

	healthy := NewExecutionContext("u", "s", 50)
	for i := 0; i < 5; i++ {
		healthy.AddExecution(ExecutionRecord{
			PatternID: "pat-ok", PatternType: DefaultPatternType, Success: true,
		})
	}
	got, _ := c.Calibrate(0.8, 0.5, scores, nil, req, healthy, 0)

	if math.Abs(got-baseline) > 1e-9 {
		t.Errorf("History above 80%% success must not penalize: %v vs %v", got, baseline)
	}
}

func TestCalibrationFactor(t *testing.T) {
	tests := []struct {
		accuracy float64
		want     float64
	}{
		{0, 1.0},     // unproven stays neutral
		{0.95, 1.0},  // centered
		{1.0, 1.1},   // capped above
		{0.5, 0.9},   // capped below
		{0.97, 1.04}, // linear in between
	}

	for _, tt := range tests {
		if got := calibrationFactor(tt.accuracy); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("calibrationFactor(%v) = %v, want %v", tt.accuracy, got, tt.want)
		}
	}
}

func TestNormalizedEntropy(t *testing.T) {
	if got := normalizedEntropy([]float64{0.9}); got != 0 {
		t.Errorf("Single score carries zero entropy, got %v", got)
	}
	if got := normalizedEntropy(nil); got != 0 {
		t.Errorf("Empty scores carry zero entropy, got %v", got)
	}

	// Uniform distribution is maximum entropy
	uniform := normalizedEntropy([]float64{0.5, 0.5, 0.5, 0.5})
	if math.Abs(uniform-1.0) > 1e-9 {
		t.Errorf("Uniform scores should have entropy 1.0, got %v", uniform)
	}

	// Concentrated mass has lower entropy
	skewed := normalizedEntropy([]float64{0.95, 0.01, 0.01, 0.01})
	if skewed >= uniform {
		t.Errorf("Skewed distribution should carry less entropy: %v vs %v", skewed, uniform)
	}
}

func TestRationaleBands(t *testing.T) {
	tests := []struct {
		confidence float64
		wantPrefix string
	}{
		{0.95, "very high confidence"},
		{0.80, "high confidence"},
		{0.60, "moderate confidence"},
		{0.35, "low confidence"},
		{0.10, "very low confidence"},
	}

	for _, tt := range tests {
		got := RationaleBand(tt.confidence)
		if len(got) < len(tt.wantPrefix) || got[:len(tt.wantPrefix)] != tt.wantPrefix {
			t.Errorf("RationaleBand(%v) = %q, want prefix %q", tt.confidence, got, tt.wantPrefix)
		}
	}
}
