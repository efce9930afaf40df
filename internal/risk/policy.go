package risk

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default override constants.
const (
	DefaultVerifiedSafeSentinel     = 0.1
	DefaultImpossibleTravelSentinel = 100.0

	DefaultVerifiedSafeRisk     = 0.01
	DefaultFraudRingRisk        = 0.99
	DefaultBotBehaviorRisk      = 0.95
	DefaultImpossibleTravelRisk = 0.90

	DefaultNetworkThreshold    = 0.8
	DefaultSequenceThreshold   = 0.8
	DefaultOutlierThreshold    = 0.7
	DefaultCumulativeThreshold = 0.7

	DefaultSignalWeight = 0.25
)

// Default verdict bands.
const (
	DefaultBlockThreshold     = 0.80
	DefaultChallengeThreshold = 0.50
)

// DefaultFraudRing lists identities treated as known fraud-ring members.
var DefaultFraudRing = []string{"user_101"}

// Weights are the blend weights applied when no override fires.
type Weights struct {
	Outlier        float64 `yaml:"iso" json:"iso"`
	Reconstruction float64 `yaml:"ae" json:"ae"`
	Sequence       float64 `yaml:"lstm" json:"lstm"`
	Network        float64 `yaml:"network" json:"network"`
}

func (w Weights) sum() float64 {
	return w.Outlier + w.Reconstruction + w.Sequence + w.Network
}

// Policy carries every tunable constant of fusion and classification.
// A Policy is read-only once handed to a PolicyStore.
type Policy struct {
	// SentinelsEnabled turns the fast-path feature markers on or off.
	// With sentinels disabled, features[0] is never inspected.
	SentinelsEnabled         bool    `yaml:"sentinels_enabled" json:"sentinels_enabled"`
	VerifiedSafeSentinel     float64 `yaml:"verified_safe_sentinel" json:"verified_safe_sentinel"`
	ImpossibleTravelSentinel float64 `yaml:"impossible_travel_sentinel" json:"impossible_travel_sentinel"`

	VerifiedSafeRisk     float64 `yaml:"verified_safe_risk" json:"verified_safe_risk"`
	FraudRingRisk        float64 `yaml:"fraud_ring_risk" json:"fraud_ring_risk"`
	BotBehaviorRisk      float64 `yaml:"bot_behavior_risk" json:"bot_behavior_risk"`
	ImpossibleTravelRisk float64 `yaml:"impossible_travel_risk" json:"impossible_travel_risk"`

	NetworkThreshold    float64 `yaml:"network_threshold" json:"network_threshold"`
	SequenceThreshold   float64 `yaml:"sequence_threshold" json:"sequence_threshold"`
	OutlierThreshold    float64 `yaml:"outlier_threshold" json:"outlier_threshold"`
	CumulativeThreshold float64 `yaml:"cumulative_threshold" json:"cumulative_threshold"`

	Weights Weights `yaml:"weights" json:"weights"`

	BlockThreshold     float64 `yaml:"block_threshold" json:"block_threshold"`
	ChallengeThreshold float64 `yaml:"challenge_threshold" json:"challenge_threshold"`

	FraudRing []string `yaml:"fraud_ring" json:"fraud_ring"`

	ring map[string]struct{}
}

// DefaultPolicy returns the canonical policy.
func DefaultPolicy() *Policy {
	p := &Policy{
		SentinelsEnabled:         true,
		VerifiedSafeSentinel:     DefaultVerifiedSafeSentinel,
		ImpossibleTravelSentinel: DefaultImpossibleTravelSentinel,
		VerifiedSafeRisk:         DefaultVerifiedSafeRisk,
		FraudRingRisk:            DefaultFraudRingRisk,
		BotBehaviorRisk:          DefaultBotBehaviorRisk,
		ImpossibleTravelRisk:     DefaultImpossibleTravelRisk,
		NetworkThreshold:         DefaultNetworkThreshold,
		SequenceThreshold:        DefaultSequenceThreshold,
		OutlierThreshold:         DefaultOutlierThreshold,
		CumulativeThreshold:      DefaultCumulativeThreshold,
		Weights: Weights{
			Outlier:        DefaultSignalWeight,
			Reconstruction: DefaultSignalWeight,
			Sequence:       DefaultSignalWeight,
			Network:        DefaultSignalWeight,
		},
		BlockThreshold:     DefaultBlockThreshold,
		ChallengeThreshold: DefaultChallengeThreshold,
		FraudRing:          append([]string(nil), DefaultFraudRing...),
	}
	p.compile()
	return p
}

// ParsePolicy decodes YAML on top of the defaults, so a file only needs the
// keys it overrides. The result is validated.
func ParsePolicy(data []byte) (*Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.compile()
	return p, nil
}

// LoadPolicyFile reads and parses a YAML policy file.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// Validate rejects policies that cannot produce scores in [0,1] or whose
// verdict bands overlap.
func (p *Policy) Validate() error {
	unit := map[string]float64{
		"verified_safe_risk":     p.VerifiedSafeRisk,
		"fraud_ring_risk":        p.FraudRingRisk,
		"bot_behavior_risk":      p.BotBehaviorRisk,
		"impossible_travel_risk": p.ImpossibleTravelRisk,
		"network_threshold":      p.NetworkThreshold,
		"sequence_threshold":     p.SequenceThreshold,
		"outlier_threshold":      p.OutlierThreshold,
		"cumulative_threshold":   p.CumulativeThreshold,
		"block_threshold":        p.BlockThreshold,
		"challenge_threshold":    p.ChallengeThreshold,
		"weights.iso":            p.Weights.Outlier,
		"weights.ae":             p.Weights.Reconstruction,
		"weights.lstm":           p.Weights.Sequence,
		"weights.network":        p.Weights.Network,
	}
	for name, v := range unit {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("policy: %s must be within [0,1], got %v", name, v)
		}
	}
	if math.Abs(p.Weights.sum()-1) > 1e-9 {
		return fmt.Errorf("policy: weights must sum to 1, got %v", p.Weights.sum())
	}
	if p.ChallengeThreshold >= p.BlockThreshold {
		return fmt.Errorf("policy: challenge_threshold (%v) must be below block_threshold (%v)",
			p.ChallengeThreshold, p.BlockThreshold)
	}
	for _, id := range p.FraudRing {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("policy: fraud_ring contains an empty identity")
		}
	}
	return nil
}

func (p *Policy) compile() {
	p.ring = make(map[string]struct{}, len(p.FraudRing))
	for _, id := range p.FraudRing {
		p.ring[id] = struct{}{}
	}
}

// InFraudRing reports whether identity is a configured fraud-ring member.
func (p *Policy) InFraudRing(identity string) bool {
	if p.ring == nil {
		for _, id := range p.FraudRing {
			if id == identity {
				return true
			}
		}
		return false
	}
	_, ok := p.ring[identity]
	return ok
}

// Classify maps a risk value to a verdict using the policy's bands.
// Band upper bounds are inclusive on the lower verdict.
func (p *Policy) Classify(r float64) Verdict {
	switch {
	case r > p.BlockThreshold:
		return VerdictBlock
	case r > p.ChallengeThreshold:
		return VerdictMFAChallenge
	default:
		return VerdictAllow
	}
}
