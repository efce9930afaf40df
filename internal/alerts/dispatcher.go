// Package alerts fans high-risk incidents out to live dashboards and queues
// out-of-band notifications for them.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/securewatch/securewatch/internal/incidents"
	"github.com/securewatch/securewatch/internal/metrics"
	"github.com/securewatch/securewatch/internal/notify"
	"github.com/securewatch/securewatch/internal/realtime"
	"github.com/securewatch/securewatch/internal/risk"
)

// DefaultThreshold is the risk above which an incident is high-risk.
const DefaultThreshold = 0.80

// Broadcaster pushes events to live subscribers.
type Broadcaster interface {
	Broadcast(event *realtime.Event)
}

// IncidentSender delivers an incident to an operator endpoint.
type IncidentSender interface {
	SendIncident(ctx context.Context, rec *incidents.Record) error
}

// Outcome reports which side effects Notify started.
type Outcome struct {
	Broadcast     bool
	EmailQueued   bool
	WebhookQueued bool
}

// Dispatcher decides which alerts an incident warrants and starts them.
// Nothing it does can fail the decision that produced the incident.
type Dispatcher struct {
	hub        Broadcaster
	queue      *Queue
	mailer     notify.Mailer
	webhook    IncidentSender
	threshold  float64
	notifySafe bool
	logger     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(t float64) Option {
	return func(d *Dispatcher) { d.threshold = t }
}

// WithWebhook forwards high-risk incidents to an operator endpoint.
func WithWebhook(s IncidentSender) Option {
	return func(d *Dispatcher) { d.webhook = s }
}

// WithSafeLoginEmail also emails the owner when a login is allowed.
func WithSafeLoginEmail(enabled bool) Option {
	return func(d *Dispatcher) { d.notifySafe = enabled }
}

// NewDispatcher creates a dispatcher. hub and queue are required; mailer
// may be nil to disable email.
func NewDispatcher(hub Broadcaster, queue *Queue, mailer notify.Mailer, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		hub:       hub,
		queue:     queue,
		mailer:    mailer,
		threshold: DefaultThreshold,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Threshold returns the high-risk cutoff.
func (d *Dispatcher) Threshold() float64 {
	return d.threshold
}

// IsHighRisk reports whether rec crosses the alert threshold.
func (d *Dispatcher) IsHighRisk(rec *incidents.Record) bool {
	return rec.Risk > d.threshold
}

// Notify broadcasts and queues notifications for rec. destination is the
// owner's email address and may be empty.
func (d *Dispatcher) Notify(rec *incidents.Record, destination string) Outcome {
	var out Outcome

	if d.IsHighRisk(rec) {
		d.hub.Broadcast(&realtime.Event{
			Type:      realtime.EventCriticalAlert,
			Message:   AlertMessage(rec),
			Timestamp: time.Now().UTC(),
			Data:      rec,
		})
		metrics.AlertsBroadcastTotal.Inc()
		out.Broadcast = true

		if destination != "" {
			out.EmailQueued = d.submitEmail(rec, destination, notify.KindThreat)
		}
		if d.webhook != nil {
			out.WebhookQueued = d.queue.Submit(Job{
				Channel:    "webhook",
				IncidentID: rec.ID,
				Run: func(ctx context.Context) error {
					return d.webhook.SendIncident(ctx, rec)
				},
			})
		}
		return out
	}

	if d.notifySafe && destination != "" && rec.Verdict == risk.VerdictAllow {
		out.EmailQueued = d.submitEmail(rec, destination, notify.KindSafeLogin)
	}
	return out
}

func (d *Dispatcher) submitEmail(rec *incidents.Record, to string, kind notify.Kind) bool {
	if d.mailer == nil {
		return false
	}
	return d.queue.Submit(Job{
		Channel:    "email",
		IncidentID: rec.ID,
		Run: func(ctx context.Context) error {
			return d.mailer.SendIncident(ctx, to, rec, kind)
		},
	})
}

// AlertMessage is the one-line text shown for a critical alert.
func AlertMessage(rec *incidents.Record) string {
	return fmt.Sprintf("%s: %s login for %s from %s (risk %.2f)",
		rec.Reason, rec.Verdict.Severity(), rec.Identity, orUnknown(rec.Location), rec.Risk)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
