// Package signals obtains the four anomaly scores for a login attempt.
//
// A Provider either calls a remote model server (HTTPProvider) or computes
// deterministic stand-in scores locally (LocalProvider). Whatever the source,
// scores outside [0,1] are rejected, never clamped or zero-filled.
package signals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/securewatch/securewatch/internal/metrics"
	"github.com/securewatch/securewatch/internal/risk"
	"github.com/securewatch/securewatch/internal/traces"
)

var (
	// ErrUnavailable means no usable scores could be obtained.
	ErrUnavailable = errors.New("signal provider unavailable")
	// ErrInvalidScores means the provider answered with out-of-range scores.
	ErrInvalidScores = errors.New("signal provider returned invalid scores")
)

// Provider computes the score vector for one login attempt.
type Provider interface {
	Predict(ctx context.Context, identity string, features []float64, sequence [][]float64) (risk.ScoreVector, error)
}

// Named is implemented by providers that label their metrics.
type Named interface {
	Name() string
}

// Guarded wraps a Provider with a call timeout, score validation, metrics
// and a trace span. Every failure it returns wraps ErrUnavailable.
type Guarded struct {
	inner   Provider
	name    string
	timeout time.Duration
}

// Guard wraps p. A non-positive timeout disables the deadline.
func Guard(p Provider, timeout time.Duration) *Guarded {
	name := "custom"
	if n, ok := p.(Named); ok {
		name = n.Name()
	}
	return &Guarded{inner: p, name: name, timeout: timeout}
}

// Name returns the wrapped provider's name.
func (g *Guarded) Name() string { return g.name }

// Predict calls the wrapped provider and validates its answer.
func (g *Guarded) Predict(ctx context.Context, identity string, features []float64, sequence [][]float64) (risk.ScoreVector, error) {
	ctx, span := traces.StartSpan(ctx, "signals.Predict", traces.Provider(g.name), traces.Identity(identity))
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	scores, err := g.inner.Predict(ctx, identity, features, sequence)
	metrics.SignalDuration.WithLabelValues(g.name).Observe(time.Since(start).Seconds())

	if err == nil {
		if verr := scores.Validate(); verr != nil {
			err = fmt.Errorf("%w: %w", ErrInvalidScores, verr)
		}
	}
	if err != nil {
		metrics.SignalErrorsTotal.WithLabelValues(g.name).Inc()
		traces.Fail(span, err, "signal provider failed")
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return risk.ScoreVector{}, err
	}
	return scores, nil
}
