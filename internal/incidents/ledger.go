// Package incidents keeps the bounded, newest-first ledger of login decisions
// and applies analyst feedback to it.
package incidents

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/securewatch/securewatch/internal/metrics"
	"github.com/securewatch/securewatch/internal/risk"
)

// DefaultCapacity is the number of records retained when none is configured.
const DefaultCapacity = 50

// TimeLayout is the display format of Record.Time.
const TimeLayout = "Jan 02, 03:04 PM"

var (
	ErrNotFound      = errors.New("incident not found")
	ErrInvalidAction = errors.New("invalid feedback action")
)

// Status is the analyst-facing state of an incident.
type Status string

const (
	StatusSuccess        Status = "Success"
	StatusBlocked        Status = "Blocked"
	StatusSuspicious     Status = "Suspicious"
	StatusVerifiedSafe   Status = "Verified Safe"
	StatusConfirmedFraud Status = "Confirmed Fraud"
)

// Feedback is the analyst's judgement of the original verdict.
type Feedback string

const (
	FeedbackNone          Feedback = ""
	FeedbackFalsePositive Feedback = "False Positive"
	FeedbackTruePositive  Feedback = "True Positive"
)

// Action is an analyst feedback action.
type Action string

const (
	ActionVerifySafe   Action = "verify_safe"
	ActionConfirmFraud Action = "confirm_fraud"
)

// StatusFor derives the initial status of a record from its verdict.
func StatusFor(v risk.Verdict) Status {
	switch v {
	case risk.VerdictBlock:
		return StatusBlocked
	case risk.VerdictMFAChallenge:
		return StatusSuspicious
	default:
		return StatusSuccess
	}
}

// Context is the request metadata recorded alongside a decision.
type Context struct {
	IP       string
	Location string
	Device   string
}

// Record is one ledger entry. Only Status and Feedback change after append.
type Record struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Time      string          `json:"time"`
	IP        string          `json:"ip"`
	Location  string          `json:"location"`
	Device    string          `json:"device"`
	Identity  string          `json:"user_id"`
	Risk      float64         `json:"risk_score"`
	Reason    risk.ReasonCode `json:"reason"`
	Verdict   risk.Verdict    `json:"verdict"`
	Summary   string          `json:"ai_summary"`
	Status    Status          `json:"status"`
	Feedback  Feedback        `json:"user_feedback,omitempty"`
}

func (r *Record) clone() *Record {
	c := *r
	return &c
}

// Ledger is a fixed-capacity, newest-first incident store. All operations
// serialize on one RWMutex, so every reader sees a consistent snapshot.
type Ledger struct {
	mu       sync.RWMutex
	records  []*Record
	capacity int
	now      func() time.Time
}

// NewLedger creates a ledger retaining at most capacity records. A
// non-positive capacity uses DefaultCapacity.
func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		records:  make([]*Record, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Append records a decision at the head of the ledger and evicts the oldest
// entries beyond capacity. The returned record is a copy.
func (l *Ledger) Append(d risk.Decision, rc Context) *Record {
	rec := &Record{
		ID:       uuid.NewString(),
		IP:       rc.IP,
		Location: rc.Location,
		Device:   rc.Device,
		Identity: d.Identity,
		Risk:     risk.Round4(d.Risk),
		Reason:   d.Reason,
		Verdict:  d.Verdict,
		Status:   StatusFor(d.Verdict),
	}
	rec.Summary = Summarize(rec)

	l.mu.Lock()
	// Stamped under the lock so list order and timestamps agree.
	now := l.now()
	rec.CreatedAt = now.UTC()
	rec.Time = now.Format(TimeLayout)

	evicted := 0
	if len(l.records) >= l.capacity {
		evicted = len(l.records) - l.capacity + 1
		l.records = l.records[:l.capacity-1]
	}
	l.records = append(l.records, nil)
	copy(l.records[1:], l.records)
	l.records[0] = rec
	n := len(l.records)
	l.mu.Unlock()

	metrics.LedgerSize.Set(float64(n))
	if evicted > 0 {
		metrics.LedgerEvictionsTotal.Add(float64(evicted))
	}
	return rec.clone()
}

// List returns copies of all retained records, newest first.
func (l *Ledger) List() []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Record, len(l.records))
	for i, r := range l.records {
		out[i] = r.clone()
	}
	return out
}

// Get returns a copy of the record with the given id.
func (l *Ledger) Get(id string) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if r := l.find(id); r != nil {
		return r.clone(), nil
	}
	return nil, ErrNotFound
}

// Feedback applies an analyst action to a record. The latest action wins.
// Risk, reason and verdict are never touched.
func (l *Ledger) Feedback(id string, action Action) (*Record, error) {
	var (
		status   Status
		feedback Feedback
	)
	switch action {
	case ActionVerifySafe:
		status, feedback = StatusVerifiedSafe, FeedbackFalsePositive
	case ActionConfirmFraud:
		status, feedback = StatusConfirmedFraud, FeedbackTruePositive
	default:
		return nil, ErrInvalidAction
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.find(id)
	if r == nil {
		return nil, ErrNotFound
	}
	r.Status = status
	r.Feedback = feedback
	metrics.FeedbackTotal.WithLabelValues(string(action)).Inc()
	return r.clone(), nil
}

// Reset drops every record and returns the resulting count.
func (l *Ledger) Reset() int {
	l.mu.Lock()
	l.records = make([]*Record, 0, l.capacity)
	n := len(l.records)
	l.mu.Unlock()

	metrics.LedgerSize.Set(0)
	return n
}

// Len returns the number of retained records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Capacity returns the retention bound.
func (l *Ledger) Capacity() int {
	return l.capacity
}

// find must be called with l.mu held.
func (l *Ledger) find(id string) *Record {
	for _, r := range l.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}
