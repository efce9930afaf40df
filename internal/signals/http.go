package signals

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/securewatch/securewatch/internal/risk"
)

type predictRequest struct {
	UserID       string      `json:"user_id"`
	Features     []float64   `json:"features"`
	SequenceData [][]float64 `json:"sequence_data"`
}

// HTTPProvider calls a remote model server at POST {baseURL}/predict.
// A circuit breaker stops calling the server after repeated failures so a
// dead backend fails requests fast instead of holding them for the timeout.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker[risk.ScoreVector]
	logger   *slog.Logger
}

// NewHTTPProvider creates a provider for baseURL.
func NewHTTPProvider(baseURL string, logger *slog.Logger) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &HTTPProvider{
		endpoint: strings.TrimRight(baseURL, "/") + "/predict",
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
	p.cb = gobreaker.NewCircuitBreaker[risk.ScoreVector](gobreaker.Settings{
		Name:        "signal-provider",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("signal provider circuit changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		// A cancelled caller says nothing about the server's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return p
}

// Name implements Named.
func (p *HTTPProvider) Name() string { return "http" }

// BreakerState reports the circuit state for health checks.
func (p *HTTPProvider) BreakerState() string { return p.cb.State().String() }

// Predict implements Provider.
func (p *HTTPProvider) Predict(ctx context.Context, identity string, features []float64, sequence [][]float64) (risk.ScoreVector, error) {
	scores, err := p.cb.Execute(func() (risk.ScoreVector, error) {
		return p.call(ctx, identity, features, sequence)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return risk.ScoreVector{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return scores, err
}

func (p *HTTPProvider) call(ctx context.Context, identity string, features []float64, sequence [][]float64) (risk.ScoreVector, error) {
	body, err := json.Marshal(predictRequest{UserID: identity, Features: features, SequenceData: sequence})
	if err != nil {
		return risk.ScoreVector{}, fmt.Errorf("encode predict request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return risk.ScoreVector{}, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return risk.ScoreVector{}, fmt.Errorf("predict request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return risk.ScoreVector{}, fmt.Errorf("read predict response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return risk.ScoreVector{}, fmt.Errorf("predict status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	// Pointers distinguish a missing score from a zero score.
	var out struct {
		ISO     *float64 `json:"iso"`
		AE      *float64 `json:"ae"`
		LSTM    *float64 `json:"lstm"`
		Network *float64 `json:"network"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return risk.ScoreVector{}, fmt.Errorf("decode predict response: %w", err)
	}
	if out.ISO == nil || out.AE == nil || out.LSTM == nil || out.Network == nil {
		return risk.ScoreVector{}, fmt.Errorf("%w: response is missing a score", ErrInvalidScores)
	}
	return risk.ScoreVector{
		Outlier:        *out.ISO,
		Reconstruction: *out.AE,
		Sequence:       *out.LSTM,
		Network:        *out.Network,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
