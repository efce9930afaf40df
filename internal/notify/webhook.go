package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/securewatch/securewatch/internal/circuitbreaker"
	"github.com/securewatch/securewatch/internal/idgen"
	"github.com/securewatch/securewatch/internal/incidents"
	"github.com/securewatch/securewatch/internal/retry"
)

// Webhook headers.
const (
	HeaderEvent     = "X-SecureWatch-Event"
	HeaderTimestamp = "X-SecureWatch-Timestamp"
	HeaderSignature = "X-SecureWatch-Signature"
)

// EventIncidentCritical is the webhook event type for high-risk incidents.
const EventIncidentCritical = "incident.critical"

// WebhookEvent is the JSON body posted to the operator endpoint.
type WebhookEvent struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      *incidents.Record `json:"data"`
}

// WebhookSender posts signed incident events to one URL.
type WebhookSender struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
}

// NewWebhookSender creates a sender. An empty secret sends unsigned requests.
func NewWebhookSender(url, secret string, breaker *circuitbreaker.Breaker) *WebhookSender {
	if breaker == nil {
		breaker = circuitbreaker.New(5, time.Minute)
	}
	return &WebhookSender{
		url:     url,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: breaker,
		policy:  retry.Default,
	}
}

// SendIncident delivers rec as an incident.critical event. 4xx responses
// other than 429 are treated as permanent.
func (s *WebhookSender) SendIncident(ctx context.Context, rec *incidents.Record) error {
	event := WebhookEvent{
		ID:        idgen.Event(),
		Type:      EventIncidentCritical,
		Timestamp: time.Now().UTC(),
		Data:      rec,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook event: %w", err)
	}

	return s.breaker.Execute(s.url, func() error {
		return retry.Do(ctx, s.policy, func(ctx context.Context) error {
			return s.post(ctx, event, payload)
		})
	})
}

func (s *WebhookSender) post(ctx context.Context, event WebhookEvent, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event.Type)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(event.Timestamp.Unix(), 10))
	if s.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("webhook status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(payload []byte, secret, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), want)
}
