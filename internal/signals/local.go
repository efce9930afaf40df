package signals

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/securewatch/securewatch/internal/risk"
)

// SequenceWindow is the number of trailing actions the sequence heuristic sees.
const SequenceWindow = 10

// LocalProvider computes deterministic stand-in scores without a model
// server. Network scores come from a NetworkScoreStore.
type LocalProvider struct {
	network NetworkScoreStore
}

// NewLocalProvider creates a provider backed by store. A nil store scores
// every identity 0 on the network signal.
func NewLocalProvider(store NetworkScoreStore) *LocalProvider {
	if store == nil {
		store = NewMemoryStore(nil)
	}
	return &LocalProvider{network: store}
}

// Name implements Named.
func (p *LocalProvider) Name() string { return "local" }

// Predict implements Provider.
func (p *LocalProvider) Predict(ctx context.Context, identity string, features []float64, sequence [][]float64) (risk.ScoreVector, error) {
	network, err := p.network.Score(ctx, identity)
	if err != nil {
		return risk.ScoreVector{}, fmt.Errorf("network score for %s: %w", identity, err)
	}
	return risk.ScoreVector{
		Outlier:        OutlierScore(features),
		Reconstruction: ReconstructionScore(features),
		Sequence:       SequenceScore(sequence),
		Network:        network,
	}, nil
}

// OutlierScore grades the largest standardized feature: 0 at |z| ≤ 2,
// rising linearly to 1 at |z| ≥ 4.
func OutlierScore(features []float64) float64 {
	peak := 0.0
	for _, f := range features {
		peak = max(peak, math.Abs(f))
	}
	return clamp01((peak - 2) / 2)
}

// ReconstructionScore is ten times the mean squared distance of the
// features from their mean, capped at 1.
func ReconstructionScore(features []float64) float64 {
	if len(features) == 0 {
		return 0
	}
	mean := 0.0
	for _, f := range features {
		mean += f
	}
	mean /= float64(len(features))

	mse := 0.0
	for _, f := range features {
		mse += (f - mean) * (f - mean)
	}
	mse /= float64(len(features))
	return clamp01(mse * 10)
}

// SequenceScore is the share of adjacent repeated actions in the last
// SequenceWindow actions. Shorter histories are left-padded with empty
// actions, which never count as repeats.
func SequenceScore(sequence [][]float64) float64 {
	window := make([][]float64, SequenceWindow)
	if len(sequence) > SequenceWindow {
		sequence = sequence[len(sequence)-SequenceWindow:]
	}
	copy(window[SequenceWindow-len(sequence):], sequence)

	repeats := 0
	for i := 1; i < SequenceWindow; i++ {
		if len(window[i]) > 0 && slices.Equal(window[i], window[i-1]) {
			repeats++
		}
	}
	return float64(repeats) / float64(SequenceWindow-1)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}
