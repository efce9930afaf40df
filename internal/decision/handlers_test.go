package decision

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securewatch/securewatch/internal/incidents"
	"github.com/securewatch/securewatch/internal/report"
	"github.com/securewatch/securewatch/internal/security"
	"github.com/securewatch/securewatch/internal/signals"
)

func init() { gin.SetMode(gin.TestMode) }

type stubRenderer struct{ err error }

func (r stubRenderer) Render(rec *incidents.Record) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.3 " + rec.ID), nil
}
func (stubRenderer) ContentType() string { return "application/pdf" }
func (stubRenderer) Extension() string   { return "pdf" }

type testAPI struct {
	router *gin.Engine
	ledger *incidents.Ledger
}

func newTestAPI(t *testing.T, p signals.Provider, r report.Renderer) *testAPI {
	t.Helper()
	svc, ledger, _ := newTestService(p, 50)
	router := gin.New()
	NewHandler(svc, r, "s3cret").RegisterRoutes(router.Group("/security"))
	return &testAPI{router: router, ledger: ledger}
}

func (a *testAPI) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (a *testAPI) analyze(t *testing.T, body string) Result {
	t.Helper()
	w := a.do(http.MethodPost, "/security/analyze-login", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[Result](t, w)
}

func TestAnalyzeLogin_OK(t *testing.T) {
	api := newTestAPI(t, fixedProvider{scores: lowScores}, stubRenderer{})

	res := api.analyze(t, `{"user_id":"user_7","features":[0.4,1.1],"sequence_data":[[1,0],[0,1]],"device":"Firefox"}`)
	assert.Equal(t, "ALLOW", string(res.Verdict))
	assert.Equal(t, "NORMAL_ACTIVITY", string(res.Reason))
	assert.InDelta(t, 0.1, res.RiskScore, 1e-9)
	assert.Len(t, res.Breakdown, 4)
	assert.NotEmpty(t, res.IncidentID)

	rec, err := api.ledger.Get(res.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", rec.IP, "client IP fills an absent ip")
	assert.Equal(t, "Firefox", rec.Device)
	assert.Equal(t, Unknown, rec.Location)
}

func TestAnalyzeLogin_FraudRing(t *testing.T) {
	api := newTestAPI(t, fixedProvider{scores: lowScores}, stubRenderer{})

	res := api.analyze(t, `{"user_id":"user_101","features":[1],"sequence_data":[],"target_email":"owner@bank.test"}`)
	assert.Equal(t, "BLOCK", string(res.Verdict))
	assert.Equal(t, "FRAUD_RING", string(res.Reason))
	assert.Equal(t, 0.99, res.RiskScore)
	assert.True(t, res.Alerted)
}

func TestAnalyzeLogin_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"malformed json", `{"user_id":`, "body"},
		{"missing user", `{"features":[1]}`, "user_id"},
		{"empty features", `{"user_id":"u","features":[]}`, "features"},
		{"bad email", `{"user_id":"u","features":[1],"target_email":"nope"}`, "target_email"},
		{"bad ip", `{"user_id":"u","features":[1],"ip":"999.1.1.1"}`, "ip"},
		{"empty sequence row", `{"user_id":"u","features":[1],"sequence_data":[[]]}`, "sequence_data"},
		{"wrong type", `{"user_id":"u","features":["a"]}`, "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, fixedProvider{scores: lowScores}, stubRenderer{})
			w := api.do(http.MethodPost, "/security/analyze-login", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			body := decode[struct {
				Error  string `json:"error"`
				Fields []struct {
					Field string `json:"field"`
				} `json:"fields"`
			}](t, w)
			assert.Equal(t, "invalid_request", body.Error)
			require.NotEmpty(t, body.Fields)
			assert.Equal(t, tt.field, body.Fields[0].Field)
			assert.Zero(t, api.ledger.Len())
		})
	}
}

func TestAnalyzeLogin_SignalUnavailable(t *testing.T) {
	api := newTestAPI(t, fixedProvider{err: errors.New("timeout")}, stubRenderer{})

	w := api.do(http.MethodPost, "/security/analyze-login", `{"user_id":"u","features":[1]}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "signal_unavailable")
	assert.Zero(t, api.ledger.Len())
}

func TestHistory_NewestFirstArray(t *testing.T) {
	api := newTestAPI(t, fixedProvider{scores: lowScores}, stubRenderer{})

	w := api.do(http.MethodGet, "/security/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	first := api.analyze(t, `{"user_id":"a","features":[1]}`)
	second := api.analyze(t, `{"user_id":"b","features":[1]}`)

	history := decode[[]incidents.Record](t, api.do(http.MethodGet, "/security/history", ""))
	require.Len(t, history, 2)
	assert.Equal(t, second.IncidentID, history[0].ID)
	assert.Equal(t, first.IncidentID, history[1].ID)
	assert.NotEmpty(t, history[0].Summary)
}

func TestFeedback(t *testing.T) {
	api := newTestAPI(t, fixedProvider{scores: lowScores}, stubRenderer{})
	res := api.analyze(t, `{"user_id":"user_101","features":[1]}`)

	w := api.do(http.MethodPost, "/security/feedback", `{"log_id":"`+res.IncidentID+`","action":"verify_safe"}`)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[incidents.Record](t, w)
	assert.Equal(t, incidents.StatusVerifiedSafe, rec.Status)
	assert.Equal(t, incidents.FeedbackFalsePositive, rec.Feedback)
	assert.Equal(t, 0.99, rec.Risk, "feedback never rewrites the decision")

	w = api.do(http.MethodPost, "/security/feedback", `{"log_id":"nope","action":"verify_safe"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")

	w = api.do(http.MethodPost, "/security/feedback", `{"log_id":"`+res.IncidentID+`","action":"delete"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetIncident(t *testing.T) {
	api := newTestAPI(t, fixedProvider{scores: lowScores}, stubRenderer{})
	res := api.analyze(t, `{"user_id":"u","features":[1]}`)

	w := api.do(http.MethodGet, "/security/incidents/"+res.IncidentID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, res.IncidentID, decode[incidents.Record](t, w).ID)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/security/incidents/missing", "").Code)
}

func TestReport(t *testing.T) {
	api := newTestAPI(t, fixedProvider{scores: lowScores}, stubRenderer{})
	res := api.analyze(t, `{"user_id":"u","features":[1]}`)

	w := api.do(http.MethodGet, "/security/report/"+res.IncidentID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="report_`+res.IncidentID[:8]+`.pdf"`, w.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/security/report/missing", "").Code)
}

func TestReport_RendererFailure(t *testing.T) {
	api := newTestAPI(t, fixedProvider{scores: lowScores}, stubRenderer{err: report.ErrRender})
	res := api.analyze(t, `{"user_id":"u","features":[1]}`)

	w := api.do(http.MethodGet, "/security/report/"+res.IncidentID, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "report_failed")

	rec, err := api.ledger.Get(res.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusSuccess, rec.Status, "rendering never touches the ledger")
}

func TestReport_RealPDF(t *testing.T) {
	api := newTestAPI(t, fixedProvider{scores: lowScores}, report.NewPDFRenderer())
	res := api.analyze(t, `{"user_id":"u","features":[1],"location":"Zürich"}`)

	w := api.do(http.MethodGet, "/security/report/"+res.IncidentID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))
}

func TestReset(t *testing.T) {
	api := newTestAPI(t, fixedProvider{scores: lowScores}, stubRenderer{})
	api.analyze(t, `{"user_id":"u","features":[1]}`)

	w := api.do(http.MethodPost, "/security/reset", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 1, api.ledger.Len())

	w = api.do(http.MethodPost, "/security/reset", "", security.AdminSecretHeader, "s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":0}`, w.Body.String())
	assert.Zero(t, api.ledger.Len())
}
