// Package risk fuses independent anomaly signals into a single login risk
// score and maps that score to an access verdict.
//
// Fusion is a first-match override chain followed by a weighted blend:
// structural patterns (sentinel markers, exact action repetition, fraud-ring
// membership) win over model confidence, and only when none of them fire is
// the weighted average of the four model scores used. Scores range from 0.0
// (safe) to 1.0 (high risk).
package risk

import (
	"errors"
	"fmt"
	"math"
)

// Verdict is the access decision for a login attempt.
type Verdict string

const (
	VerdictAllow        Verdict = "ALLOW"
	VerdictMFAChallenge Verdict = "MFA_CHALLENGE"
	VerdictBlock        Verdict = "BLOCK"
)

// ReasonCode names the rule that produced a fused risk value.
type ReasonCode string

const (
	ReasonVerifiedSafe       ReasonCode = "VERIFIED_SAFE"
	ReasonFraudRing          ReasonCode = "FRAUD_RING"
	ReasonBotBehavior        ReasonCode = "BOT_BEHAVIOR"
	ReasonImpossibleTravel   ReasonCode = "IMPOSSIBLE_TRAVEL"
	ReasonHighCumulativeRisk ReasonCode = "HIGH_CUMULATIVE_RISK"
	ReasonNormalActivity     ReasonCode = "NORMAL_ACTIVITY"
)

// ErrScoreOutOfRange is returned when a signal score is not a finite value in [0,1].
var ErrScoreOutOfRange = errors.New("risk: score out of range")

// ScoreVector holds the four raw anomaly scores produced for one request.
// JSON keys match the model names used by the scoring service.
type ScoreVector struct {
	Outlier        float64 `json:"iso"`
	Reconstruction float64 `json:"ae"`
	Sequence       float64 `json:"lstm"`
	Network        float64 `json:"network"`
}

// Validate checks that every score is finite and within [0,1].
func (s ScoreVector) Validate() error {
	for name, v := range s.Breakdown() {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s=%v", ErrScoreOutOfRange, name, v)
		}
	}
	return nil
}

// Breakdown returns the per-signal scores keyed by model name.
func (s ScoreVector) Breakdown() map[string]float64 {
	return map[string]float64{
		"iso":     s.Outlier,
		"ae":      s.Reconstruction,
		"lstm":    s.Sequence,
		"network": s.Network,
	}
}

// Decision is the immutable outcome of fusing and classifying one request.
type Decision struct {
	Identity string     `json:"user_id"`
	Risk     float64    `json:"risk_score"`
	Reason   ReasonCode `json:"reason"`
	Verdict  Verdict    `json:"verdict"`
}

// Round4 rounds a risk value to 4 decimal places for presentation.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
