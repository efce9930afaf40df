package risk

import "slices"

// PolicySource supplies the policy in force for a single decision.
type PolicySource interface {
	Current() *Policy
}

// Engine fuses signal scores under the current policy. It holds no mutable
// state of its own and is safe for concurrent use.
type Engine struct {
	policies PolicySource
}

// NewEngine creates a fusion engine reading policy from src. A nil src
// uses DefaultPolicy.
func NewEngine(src PolicySource) *Engine {
	if src == nil {
		src = NewPolicyStore(nil)
	}
	return &Engine{policies: src}
}

// Fuse combines the four scores into one risk value and a reason code.
func (e *Engine) Fuse(identity string, features []float64, sequence [][]float64, scores ScoreVector) (float64, ReasonCode) {
	return e.policies.Current().Fuse(identity, features, sequence, scores)
}

// Decide fuses and classifies against one policy snapshot, so a concurrent
// reload cannot mix thresholds from two policies in a single decision.
func (e *Engine) Decide(identity string, features []float64, sequence [][]float64, scores ScoreVector) Decision {
	p := e.policies.Current()
	r, reason := p.Fuse(identity, features, sequence, scores)
	return Decision{
		Identity: identity,
		Risk:     r,
		Reason:   reason,
		Verdict:  p.Classify(r),
	}
}

// Fuse evaluates the override chain top to bottom and stops at the first
// match. The order is part of the contract: when several conditions hold,
// the earliest rule names the reason.
func (p *Policy) Fuse(identity string, features []float64, sequence [][]float64, scores ScoreVector) (float64, ReasonCode) {
	fastPath, hasFastPath := 0.0, len(features) > 0
	if hasFastPath {
		fastPath = features[0]
	}
	sentinel := func(v float64) bool {
		return p.SentinelsEnabled && hasFastPath && fastPath == v
	}

	if sentinel(p.VerifiedSafeSentinel) {
		return p.VerifiedSafeRisk, ReasonVerifiedSafe
	}

	if scores.Network > p.NetworkThreshold || p.InFraudRing(identity) {
		return p.FraudRingRisk, ReasonFraudRing
	}

	if repeatsFirstAction(sequence) || scores.Sequence > p.SequenceThreshold {
		return p.BotBehaviorRisk, ReasonBotBehavior
	}

	if sentinel(p.ImpossibleTravelSentinel) || scores.Outlier > p.OutlierThreshold {
		return p.ImpossibleTravelRisk, ReasonImpossibleTravel
	}

	r := scores.Outlier*p.Weights.Outlier +
		scores.Reconstruction*p.Weights.Reconstruction +
		scores.Sequence*p.Weights.Sequence +
		scores.Network*p.Weights.Network
	r = min(max(r, 0), 1)

	if r > p.CumulativeThreshold {
		return r, ReasonHighCumulativeRisk
	}
	return r, ReasonNormalActivity
}

// repeatsFirstAction reports an immediate repetition of the opening action
// in a sequence of more than two actions.
func repeatsFirstAction(sequence [][]float64) bool {
	return len(sequence) > 2 && slices.Equal(sequence[0], sequence[1])
}
