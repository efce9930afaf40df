package main

import (
	"bytes"
	"context"
	"math/rand/v2"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securewatch/securewatch/internal/alerts"
	"github.com/securewatch/securewatch/internal/decision"
	"github.com/securewatch/securewatch/internal/incidents"
	"github.com/securewatch/securewatch/internal/report"
	"github.com/securewatch/securewatch/internal/risk"
)

var quiet = risk.ScoreVector{Outlier: 0.1, Reconstruction: 0.1, Sequence: 0.1, Network: 0.1}

func build(t *testing.T, mode string, opts Options) []decision.Request {
	t.Helper()
	reqs, err := Build(mode, opts, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	for _, r := range reqs {
		assert.Empty(t, r.Validate(), "mode %s produced an invalid request", mode)
	}
	return reqs
}

func reasons(reqs []decision.Request) []risk.ReasonCode {
	p := risk.DefaultPolicy()
	out := make([]risk.ReasonCode, len(reqs))
	for i, r := range reqs {
		_, out[i] = p.Fuse(r.UserID, r.Features, r.SequenceData, quiet)
	}
	return out
}

func TestBuild_Normal(t *testing.T) {
	reqs := build(t, ModeNormal, Options{Count: 20})
	require.Len(t, reqs, 20)
	for _, why := range reasons(reqs) {
		assert.Equal(t, risk.ReasonNormalActivity, why)
	}
}

func TestBuild_VerifiedSafe(t *testing.T) {
	reqs := build(t, ModeVerifiedSafe, Options{Count: 3, User: "alice"})
	require.Len(t, reqs, 3)
	assert.Equal(t, "alice", reqs[0].UserID)
	for _, why := range reasons(reqs) {
		assert.Equal(t, risk.ReasonVerifiedSafe, why)
	}
}

func TestBuild_FraudRing(t *testing.T) {
	reqs := build(t, ModeFraudRing, Options{GroupSize: 4})
	require.Len(t, reqs, 4)
	for _, r := range reqs {
		assert.Equal(t, reqs[0].IP, r.IP, "ring shares one address")
	}
	assert.Equal(t, risk.ReasonFraudRing, reasons(reqs)[0])
}

func TestBuild_Bot(t *testing.T) {
	reqs := build(t, ModeBot, Options{Count: 2, User: "bob"})
	for _, why := range reasons(reqs) {
		assert.Equal(t, risk.ReasonBotBehavior, why)
	}
}

func TestBuild_ImpossibleTravel(t *testing.T) {
	reqs := build(t, ModeImpossibleTravel, Options{User: "carol"})
	require.Len(t, reqs, 2)
	assert.Equal(t, "New York", reqs[0].Location)
	assert.Equal(t, "Tokyo", reqs[1].Location)
	assert.Equal(t, []risk.ReasonCode{risk.ReasonNormalActivity, risk.ReasonImpossibleTravel}, reasons(reqs))
}

func TestBuild_UnknownMode(t *testing.T) {
	_, err := Build("teleport", Options{}, rand.New(rand.NewPCG(1, 1)))
	assert.ErrorContains(t, err, "unknown mode")
}

type fixed struct{}

func (fixed) Predict(context.Context, string, []float64, [][]float64) (risk.ScoreVector, error) {
	return quiet, nil
}

type silent struct{}

func (silent) Notify(*incidents.Record, string) alerts.Outcome { return alerts.Outcome{} }

func TestRootCmd_AgainstServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ledger := incidents.NewLedger(100)
	svc := decision.NewService(fixed{}, risk.NewEngine(nil), ledger, silent{}, nil)
	router := gin.New()
	decision.NewHandler(svc, report.NewPDFRenderer(), "").RegisterRoutes(router.Group("/security"))
	ts := httptest.NewServer(router)
	defer ts.Close()

	for _, tc := range []struct {
		args []string
		want string
	}{
		{[]string{"--mode", "fraud-ring", "--group-size", "3"}, "BLOCK=1"},
		{[]string{"--mode", "burst", "--count", "12", "--concurrency", "4"}, "ALLOW=12"},
	} {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"--url", ts.URL, "--interval", "0", "--seed", "7"}, tc.args...))
		require.NoError(t, cmd.ExecuteContext(context.Background()))
		assert.Contains(t, out.String(), tc.want, out.String())
		assert.Contains(t, out.String(), "failed=0")
	}
	assert.Equal(t, 15, ledger.Len())
}

func TestRootCmd_BadMode(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--mode", "nope"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown mode"))
}
