package signals

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPProvider_Predict(t *testing.T) {
	var got predictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"iso":0.1,"ae":0.2,"lstm":0.3,"network":0}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL+"/", quietLogger())
	scores, err := p.Predict(context.Background(), "user_9", []float64{1, 2}, [][]float64{{1, 0}})
	require.NoError(t, err)

	assert.Equal(t, 0.1, scores.Outlier)
	assert.Equal(t, 0.2, scores.Reconstruction)
	assert.Equal(t, 0.3, scores.Sequence)
	assert.Zero(t, scores.Network)

	assert.Equal(t, "user_9", got.UserID)
	assert.Equal(t, []float64{1, 2}, got.Features)
	assert.Equal(t, [][]float64{{1, 0}}, got.SequenceData)
	assert.Equal(t, "closed", p.BreakerState())
}

func TestHTTPProvider_MissingScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"iso":0.1,"ae":0.2,"lstm":0.3}`))
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, quietLogger()).Predict(context.Background(), "u", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidScores)
}

func TestHTTPProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, quietLogger()).Predict(context.Background(), "u", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestHTTPProvider_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, quietLogger())
	for range 5 {
		_, err := p.Predict(context.Background(), "u", nil, nil)
		require.Error(t, err)
	}
	assert.Equal(t, "open", p.BreakerState())

	_, err := p.Predict(context.Background(), "u", nil, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(5), hits.Load(), "open breaker must not reach the server")
}

func TestHTTPProvider_CancelledCallerDoesNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"iso":0,"ae":0,"lstm":0,"network":0}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 10 {
		_, _ = p.Predict(ctx, "u", nil, nil)
	}
	assert.Equal(t, "closed", p.BreakerState())
}
