package risk

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	plainFeatures = []float64{0.5, 0.2, 0.3}
	plainSequence = [][]float64{{1, 0}, {0, 1}, {1, 1}}
)

func TestFuse_OverrideChain(t *testing.T) {
	e := NewEngine(nil)

	tests := []struct {
		name     string
		identity string
		features []float64
		sequence [][]float64
		scores   ScoreVector
		wantRisk float64
		wantWhy  ReasonCode
	}{
		{
			name:     "verified safe sentinel",
			identity: "user_1",
			features: []float64{0.1, 0.9},
			sequence: plainSequence,
			scores:   ScoreVector{Outlier: 0.9, Reconstruction: 0.9, Sequence: 0.9, Network: 0.9},
			wantRisk: 0.01,
			wantWhy:  ReasonVerifiedSafe,
		},
		{
			name:     "verified safe beats fraud ring identity",
			identity: "user_101",
			features: []float64{0.1},
			wantRisk: 0.01,
			wantWhy:  ReasonVerifiedSafe,
		},
		{
			name:     "fraud ring identity",
			identity: "user_101",
			features: plainFeatures,
			sequence: plainSequence,
			wantRisk: 0.99,
			wantWhy:  ReasonFraudRing,
		},
		{
			name:     "network score above threshold",
			identity: "user_7",
			features: plainFeatures,
			scores:   ScoreVector{Network: 0.81},
			wantRisk: 0.99,
			wantWhy:  ReasonFraudRing,
		},
		{
			name:     "fraud ring beats bot behavior",
			identity: "user_7",
			features: plainFeatures,
			sequence: [][]float64{{1, 0}, {1, 0}, {1, 0}},
			scores:   ScoreVector{Sequence: 0.99, Network: 0.85},
			wantRisk: 0.99,
			wantWhy:  ReasonFraudRing,
		},
		{
			name:     "repeated opening action",
			identity: "user_7",
			features: plainFeatures,
			sequence: [][]float64{{1, 0}, {1, 0}, {0, 1}},
			wantRisk: 0.95,
			wantWhy:  ReasonBotBehavior,
		},
		{
			name:     "sequence score above threshold",
			identity: "user_7",
			features: plainFeatures,
			scores:   ScoreVector{Sequence: 0.81},
			wantRisk: 0.95,
			wantWhy:  ReasonBotBehavior,
		},
		{
			name:     "bot behavior beats impossible travel",
			identity: "user_7",
			features: []float64{100.0},
			sequence: [][]float64{{2}, {2}, {3}},
			wantRisk: 0.95,
			wantWhy:  ReasonBotBehavior,
		},
		{
			name:     "impossible travel sentinel",
			identity: "user_7",
			features: []float64{100.0, 1},
			sequence: plainSequence,
			wantRisk: 0.90,
			wantWhy:  ReasonImpossibleTravel,
		},
		{
			name:     "outlier score above threshold",
			identity: "user_7",
			features: plainFeatures,
			scores:   ScoreVector{Outlier: 0.71},
			wantRisk: 0.90,
			wantWhy:  ReasonImpossibleTravel,
		},
		{
			name:     "blend above cumulative threshold",
			identity: "user_7",
			features: plainFeatures,
			sequence: plainSequence,
			scores:   ScoreVector{Outlier: 0.7, Reconstruction: 1.0, Sequence: 0.8, Network: 0.8},
			wantRisk: 0.825,
			wantWhy:  ReasonHighCumulativeRisk,
		},
		{
			name:     "blend below cumulative threshold",
			identity: "user_7",
			features: plainFeatures,
			scores:   ScoreVector{Outlier: 0.5, Reconstruction: 1.0, Sequence: 0.5, Network: 0.75},
			wantRisk: 0.6875,
			wantWhy:  ReasonNormalActivity,
		},
		{
			name:     "all zero",
			identity: "user_7",
			features: plainFeatures,
			sequence: plainSequence,
			wantRisk: 0,
			wantWhy:  ReasonNormalActivity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, why := e.Fuse(tt.identity, tt.features, tt.sequence, tt.scores)
			assert.InDelta(t, tt.wantRisk, r, 1e-9)
			assert.Equal(t, tt.wantWhy, why)
		})
	}
}

func TestFuse_TwoRowSequenceIsNotBot(t *testing.T) {
	r, why := NewEngine(nil).Fuse("user_7", plainFeatures, [][]float64{{1}, {1}}, ScoreVector{})
	assert.Equal(t, ReasonNormalActivity, why)
	assert.Zero(t, r)
}

func TestFuse_EmptyFeaturesSkipSentinels(t *testing.T) {
	r, why := NewEngine(nil).Fuse("user_7", nil, nil, ScoreVector{Reconstruction: 0.4})
	assert.Equal(t, ReasonNormalActivity, why)
	assert.InDelta(t, 0.1, r, 1e-9)
}

func TestFuse_SentinelsDisabled(t *testing.T) {
	p := DefaultPolicy()
	p.SentinelsEnabled = false
	e := NewEngine(NewPolicyStore(p))

	r, why := e.Fuse("user_7", []float64{0.1}, nil, ScoreVector{})
	assert.Equal(t, ReasonNormalActivity, why)
	assert.Zero(t, r)

	_, why = e.Fuse("user_7", []float64{100.0}, nil, ScoreVector{})
	assert.Equal(t, ReasonNormalActivity, why)
}

func TestFuse_Deterministic(t *testing.T) {
	e := NewEngine(nil)
	scores := ScoreVector{Outlier: 0.3, Reconstruction: 0.6, Sequence: 0.2, Network: 0.4}
	r1, why1 := e.Fuse("user_9", plainFeatures, plainSequence, scores)
	r2, why2 := e.Fuse("user_9", plainFeatures, plainSequence, scores)
	assert.Equal(t, r1, r2)
	assert.Equal(t, why1, why2)
}

func TestFuse_BlendStaysInRange(t *testing.T) {
	e := NewEngine(nil)
	for _, v := range []float64{0, 0.1, 0.33, 0.5, 0.69, 0.7} {
		r, _ := e.Fuse("user_9", plainFeatures, plainSequence, ScoreVector{Outlier: v, Reconstruction: 1, Sequence: v, Network: v})
		assert.GreaterOrEqual(t, r, 0.0)
		assert.LessOrEqual(t, r, 1.0)
	}
}

func TestDecide_Scenarios(t *testing.T) {
	e := NewEngine(nil)

	d := e.Decide("user_101", plainFeatures, plainSequence, ScoreVector{})
	assert.Equal(t, Decision{Identity: "user_101", Risk: 0.99, Reason: ReasonFraudRing, Verdict: VerdictBlock}, d)

	d = e.Decide("user_2", []float64{0.1}, nil, ScoreVector{Network: 1})
	assert.Equal(t, VerdictAllow, d.Verdict)
	assert.Equal(t, ReasonVerifiedSafe, d.Reason)

	d = e.Decide("user_2", []float64{100.0}, plainSequence, ScoreVector{})
	assert.Equal(t, VerdictBlock, d.Verdict)
	assert.Equal(t, ReasonImpossibleTravel, d.Reason)

	d = e.Decide("user_2", plainFeatures, plainSequence, ScoreVector{Outlier: 0.6, Reconstruction: 0.6, Sequence: 0.6, Network: 0.6})
	assert.Equal(t, VerdictMFAChallenge, d.Verdict)
	assert.Equal(t, ReasonNormalActivity, d.Reason)
}

func TestEngine_ConcurrentUse(t *testing.T) {
	store := NewPolicyStore(nil)
	e := NewEngine(store)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				d := e.Decide("user_101", plainFeatures, plainSequence, ScoreVector{})
				assert.Equal(t, ReasonFraudRing, d.Reason)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, store.Swap(DefaultPolicy()))
	}
	wg.Wait()
}

func TestScoreVector_Validate(t *testing.T) {
	require.NoError(t, ScoreVector{Outlier: 0, Reconstruction: 1, Sequence: 0.5, Network: 0.25}.Validate())

	err := ScoreVector{Network: 1.2}.Validate()
	require.ErrorIs(t, err, ErrScoreOutOfRange)
	assert.Contains(t, err.Error(), "network")

	assert.ErrorIs(t, ScoreVector{Outlier: -0.01}.Validate(), ErrScoreOutOfRange)
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.8250, Round4(0.825))
	assert.Equal(t, 0.3333, Round4(1.0/3))
	assert.Equal(t, 0.99, Round4(0.99))
}
