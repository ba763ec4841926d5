package routing

import (
	"context"
	"time"

	"github.com/itsneelabh/patternroute/core"
)

// ConsensusValidator cross-checks the chosen primary agent with five
// independent boolean validators running concurrently under one shared
// deadline. A validator that errors or misses the deadline counts as an
// abstention, never as a "no", so partial completion still yields a
// valid quorum computation.
type ConsensusValidator struct {
	deadline time.Duration
	quorum   int
	logger   core.Logger
}

// consensusInput is the read-only view each validator receives
type consensusInput struct {
	primary  ScoredAgent
	runnerUp *ScoredAgent
	request  *PatternRequest
	context  *ExecutionContext
}

// consensusCheck is one independent boolean validator
type consensusCheck struct {
	name string
	fn   func(ctx context.Context, in consensusInput) bool
}

// ConsensusOutcome is the quorum result for one validation run
type ConsensusOutcome struct {
	Result    ConsensusResult
	Agreed    int
	Abstained int
	Votes     map[string]string // validator name -> "yes"/"no"/"abstain"
}

// NewConsensusValidator creates a validator group with the shared deadline
func NewConsensusValidator(cfg core.ConsensusConfig) *ConsensusValidator {
	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = 50 * time.Millisecond
	}
	quorum := cfg.Quorum
	if quorum <= 0 {
		quorum = 3
	}
	return &ConsensusValidator{
		deadline: deadline,
		quorum:   quorum,
		logger:   &core.NoOpLogger{},
	}
}

// SetLogger sets the logger provider
func (v *ConsensusValidator) SetLogger(logger core.Logger) {
	if logger != nil {
		v.logger = logger
	}
}

// checks is the fixed validator set run against the primary candidate
var checks = []consensusCheck{
	{"similarity_margin", checkSimilarityMargin},
	{"success_rate", checkSuccessRate},
	{"mandatory_skills", checkMandatorySkills},
	{"availability", checkAvailability},
	{"load_headroom", checkLoadHeadroom},
}

// Validate runs the five validators concurrently against the primary.
// Outstanding validators are abandoned once the group deadline fires and
// their eventual results are discarded.
func (v *ConsensusValidator) Validate(ctx context.Context, primary ScoredAgent, runnerUp *ScoredAgent, req *PatternRequest, execCtx *ExecutionContext) ConsensusOutcome {
	groupCtx, cancel := context.WithTimeout(ctx, v.deadline)
	defer cancel()

	in := consensusInput{
		primary:  primary,
		runnerUp: runnerUp,
		request:  req,
		context:  execCtx,
	}

	type vote struct {
		name    string
		ok      bool
		abstain bool
	}
	results := make(chan vote, len(checks))

	for _, check := range checks {
		go func(check consensusCheck) {
			ok, abstain := v.runCheck(groupCtx, check, in)
			select {
			case results <- vote{name: check.name, ok: ok, abstain: abstain}:
			case <-groupCtx.Done():
			}
		}(check)
	}

	outcome := ConsensusOutcome{Votes: make(map[string]string, len(checks))}
	reported := 0

	for reported < len(checks) {
		select {
		case r := <-results:
			reported++
			switch {
			case r.abstain:
				outcome.Abstained++
				outcome.Votes[r.name] = "abstain"
			case r.ok:
				outcome.Agreed++
				outcome.Votes[r.name] = "yes"
			default:
				outcome.Votes[r.name] = "no"
			}
		case <-groupCtx.Done():
			// Validators that did not report count as abstentions in the
			// record, but the run itself is a timeout
			for _, check := range checks {
				if _, seen := outcome.Votes[check.name]; !seen {
					outcome.Abstained++
					outcome.Votes[check.name] = "abstain"
				}
			}
			outcome.Result = ConsensusTimeout
			v.logValidation(outcome, primary.Profile.ID)
			return outcome
		}
	}

	if outcome.Agreed >= v.quorum {
		outcome.Result = ConsensusApprove
	} else {
		outcome.Result = ConsensusEscalate
	}
	v.logValidation(outcome, primary.Profile.ID)
	return outcome
}

// runCheck executes one validator with panic isolation.
// Panics and cancellations are abstentions, not rejections.
func (v *ConsensusValidator) runCheck(ctx context.Context, check consensusCheck, in consensusInput) (ok bool, abstain bool) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Warn("Consensus validator panicked", map[string]interface{}{
				"operation": "consensus_validate",
				"validator": check.name,
				"panic":     r,
			})
			ok, abstain = false, true
		}
	}()

	select {
	case <-ctx.Done():
		return false, true
	default:
	}
	return check.fn(ctx, in), false
}

func (v *ConsensusValidator) logValidation(outcome ConsensusOutcome, agentID string) {
	v.logger.Debug("Consensus validation complete", map[string]interface{}{
		"operation": "consensus_validate",
		"agent_id":  agentID,
		"result":    string(outcome.Result),
		"agreed":    outcome.Agreed,
		"abstained": outcome.Abstained,
	})
}

// checkSimilarityMargin approves when the primary's similarity gap over
// the runner-up is meaningful, or its absolute similarity is high.
func checkSimilarityMargin(ctx context.Context, in consensusInput) bool {
	if in.primary.Similarity >= 0.85 {
		return true
	}
	if in.runnerUp == nil {
		return in.primary.Similarity > 0
	}
	return in.primary.Similarity-in.runnerUp.Similarity >= 0.1
}

// checkSuccessRate approves when the pattern-type success rate clears 70%
func checkSuccessRate(ctx context.Context, in consensusInput) bool {
	return in.primary.Profile.SuccessRateFor(in.request.PatternType()) > 0.7
}

// checkMandatorySkills approves when every required skill is present
func checkMandatorySkills(ctx context.Context, in consensusInput) bool {
	return in.primary.Profile.HasAllSkills(in.request.RequiredSkills())
}

// checkAvailability approves when the agent is not excluded and available
func checkAvailability(ctx context.Context, in consensusInput) bool {
	for _, id := range in.request.ExcludedAgents {
		if id == in.primary.Profile.ID {
			return false
		}
	}
	for _, id := range in.context.Preferences.ExcludedAgents {
		if id == in.primary.Profile.ID {
			return false
		}
	}
	return in.primary.Profile.Available
}

// checkLoadHeadroom approves when current load sits below 80% capacity
func checkLoadHeadroom(ctx context.Context, in consensusInput) bool {
	return in.primary.Profile.LoadFraction() < 0.8
}
