// Package decision orchestrates one login analysis: fetch signal scores,
// fuse and classify them, record the incident and fan out alerts.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/securewatch/securewatch/internal/alerts"
	"github.com/securewatch/securewatch/internal/incidents"
	"github.com/securewatch/securewatch/internal/logging"
	"github.com/securewatch/securewatch/internal/metrics"
	"github.com/securewatch/securewatch/internal/risk"
	"github.com/securewatch/securewatch/internal/signals"
	"github.com/securewatch/securewatch/internal/traces"
	"github.com/securewatch/securewatch/internal/validation"
)

// ErrInvalidRequest wraps validation.ValidationErrors for malformed requests.
var ErrInvalidRequest = errors.New("decision: invalid request")

// Unknown fills absent location and device context.
const Unknown = "Unknown"

// Request is one login attempt to analyze.
type Request struct {
	UserID       string      `json:"user_id" binding:"required,max=128,identity"`
	Features     []float64   `json:"features" binding:"required,min=1,finite"`
	SequenceData [][]float64 `json:"sequence_data" binding:"finite_rows"`
	TargetEmail  string      `json:"target_email,omitempty" binding:"omitempty,email"`
	IP           string      `json:"ip,omitempty" binding:"omitempty,ip"`
	Location     string      `json:"location,omitempty" binding:"max=256"`
	Device       string      `json:"device,omitempty" binding:"max=256"`
}

// Validate applies the same rules as the binding tags for callers that do
// not go through gin.
func (r *Request) Validate() validation.ValidationErrors {
	return validation.Validate(
		validation.Required("user_id", r.UserID),
		validation.MaxLength("user_id", r.UserID, 128),
		validation.Identity("user_id", r.UserID),
		validation.FiniteValues("features", r.Features),
		validation.FiniteRows("sequence_data", r.SequenceData),
		validation.Email("target_email", r.TargetEmail),
		validation.IP("ip", r.IP),
		validation.MaxLength("location", r.Location, 256),
		validation.MaxLength("device", r.Device, 256),
	)
}

func (r *Request) context() incidents.Context {
	rc := incidents.Context{
		IP:       strings.TrimSpace(r.IP),
		Location: validation.SanitizeString(r.Location, 256),
		Device:   validation.SanitizeString(r.Device, 256),
	}
	if rc.IP == "" {
		rc.IP = Unknown
	}
	if rc.Location == "" {
		rc.Location = Unknown
	}
	if rc.Device == "" {
		rc.Device = Unknown
	}
	return rc
}

// Result is the outcome of Analyze.
type Result struct {
	UserID     string             `json:"user_id"`
	Verdict    risk.Verdict       `json:"verdict"`
	RiskScore  float64            `json:"risk_score"`
	Reason     risk.ReasonCode    `json:"reason"`
	IncidentID string             `json:"incident_id"`
	Breakdown  map[string]float64 `json:"breakdown"`
	Alerted    bool               `json:"alerted"`
}

// Notifier is the alert fan-out; *alerts.Dispatcher implements it.
type Notifier interface {
	Notify(rec *incidents.Record, destination string) alerts.Outcome
}

// Service runs decisions against one ledger.
type Service struct {
	provider signals.Provider
	engine   *risk.Engine
	ledger   *incidents.Ledger
	notifier Notifier
	logger   *slog.Logger

	// Serializes append+notify so alerts leave in ledger order.
	mu sync.Mutex
}

// NewService wires the pipeline. provider should already be guarded
// (signals.Guard) so every failure wraps signals.ErrUnavailable.
func NewService(provider signals.Provider, engine *risk.Engine, ledger *incidents.Ledger, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		provider: provider,
		engine:   engine,
		ledger:   ledger,
		notifier: notifier,
		logger:   logging.OrDiscard(logger),
	}
}

// Analyze scores one login attempt and records it. Nothing is recorded
// when validation or the signal provider fails.
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "decision.Analyze", traces.Identity(req.UserID))
	defer span.End()

	if errs := req.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, errs)
	}

	scores, err := s.provider.Predict(ctx, req.UserID, req.Features, req.SequenceData)
	if err != nil {
		traces.Fail(span, err, "signal provider failed")
		if !errors.Is(err, signals.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", signals.ErrUnavailable, err)
		}
		return nil, err
	}

	d := s.engine.Decide(req.UserID, req.Features, req.SequenceData, scores)

	s.mu.Lock()
	rec := s.ledger.Append(d, req.context())
	var out alerts.Outcome
	if s.notifier != nil {
		out = s.notifier.Notify(rec, req.TargetEmail)
	}
	s.mu.Unlock()

	metrics.DecisionsTotal.WithLabelValues(string(d.Verdict), string(d.Reason)).Inc()
	metrics.RiskScore.Observe(d.Risk)
	span.SetAttributes(
		traces.IncidentID(rec.ID),
		traces.Verdict(string(d.Verdict)),
		traces.Reason(string(d.Reason)),
		traces.RiskScore(rec.Risk),
	)

	s.log(ctx).Info("login analyzed",
		"user_id", req.UserID,
		"incident_id", rec.ID,
		"verdict", d.Verdict,
		"reason", d.Reason,
		"risk", rec.Risk,
		"alerted", out.Broadcast,
	)

	return &Result{
		UserID:     req.UserID,
		Verdict:    d.Verdict,
		RiskScore:  rec.Risk,
		Reason:     d.Reason,
		IncidentID: rec.ID,
		Breakdown:  scores.Breakdown(),
		Alerted:    out.Broadcast,
	}, nil
}

// History returns the ledger newest first.
func (s *Service) History() []*incidents.Record {
	return s.ledger.List()
}

// Incident returns one record.
func (s *Service) Incident(id string) (*incidents.Record, error) {
	return s.ledger.Get(id)
}

// Feedback applies an analyst verdict to a record.
func (s *Service) Feedback(ctx context.Context, id string, action incidents.Action) (*incidents.Record, error) {
	rec, err := s.ledger.Feedback(id, action)
	if err != nil {
		return nil, err
	}
	s.log(ctx).Info("analyst feedback recorded", "incident_id", id, "action", action, "status", rec.Status)
	return rec, nil
}

// Reset clears the ledger and returns the resulting count.
func (s *Service) Reset(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.ledger.Reset()
	s.log(ctx).Warn("incident ledger reset")
	return n
}

// log prefers the request logger and falls back to the one injected at
// construction.
func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.LOr(ctx, s.logger)
}

// LedgerStats summarizes the ledger for health output.
func (s *Service) LedgerStats() map[string]int {
	return map[string]int{"records": s.ledger.Len(), "capacity": s.ledger.Capacity()}
}
