package incidents

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securewatch/securewatch/internal/risk"
)

func decision(id string, r float64, why risk.ReasonCode) risk.Decision {
	return risk.Decision{Identity: id, Risk: r, Reason: why, Verdict: risk.Classify(r)}
}

var lab = Context{IP: "10.0.0.1", Location: "Lagos", Device: "Pixel 8"}

func TestAppend_PrependsNewestFirst(t *testing.T) {
	l := NewLedger(10)

	first := l.Append(decision("user_1", 0.2, risk.ReasonNormalActivity), lab)
	second := l.Append(decision("user_2", 0.99, risk.ReasonFraudRing), lab)

	list := l.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAppend_PopulatesRecord(t *testing.T) {
	l := NewLedger(10)
	fixed := time.Date(2025, time.March, 4, 15, 7, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	rec := l.Append(decision("user_9", 0.123456, risk.ReasonNormalActivity), lab)

	assert.Len(t, rec.ID, 36)
	assert.Equal(t, "Mar 04, 03:07 PM", rec.Time)
	assert.Equal(t, fixed, rec.CreatedAt)
	assert.Equal(t, 0.1235, rec.Risk)
	assert.Equal(t, risk.VerdictAllow, rec.Verdict)
	assert.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, FeedbackNone, rec.Feedback)
	assert.Equal(t, "10.0.0.1", rec.IP)
	assert.Equal(t, "Lagos", rec.Location)
	assert.Equal(t, "Pixel 8", rec.Device)
	assert.NotEmpty(t, rec.Summary)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusBlocked, StatusFor(risk.VerdictBlock))
	assert.Equal(t, StatusSuspicious, StatusFor(risk.VerdictMFAChallenge))
	assert.Equal(t, StatusSuccess, StatusFor(risk.VerdictAllow))
}

func TestAppend_EvictsBeyondCapacity(t *testing.T) {
	const capacity, extra = 5, 3
	l := NewLedger(capacity)

	var ids []string
	for i := 0; i < capacity+extra; i++ {
		ids = append(ids, l.Append(decision(fmt.Sprintf("user_%d", i), 0.1, risk.ReasonNormalActivity), lab).ID)
	}

	list := l.List()
	require.Len(t, list, capacity)
	for i, rec := range list {
		assert.Equal(t, ids[len(ids)-1-i], rec.ID)
	}
	_, err := l.Get(ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppend_CapacityOne(t *testing.T) {
	l := NewLedger(1)
	l.Append(decision("a", 0.1, risk.ReasonNormalActivity), lab)
	last := l.Append(decision("b", 0.1, risk.ReasonNormalActivity), lab)

	list := l.List()
	require.Len(t, list, 1)
	assert.Equal(t, last.ID, list[0].ID)
}

func TestNewLedger_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewLedger(0).Capacity())
	assert.Equal(t, 7, NewLedger(7).Capacity())
}

func TestList_ReturnsCopies(t *testing.T) {
	l := NewLedger(5)
	rec := l.Append(decision("user_1", 0.9, risk.ReasonImpossibleTravel), lab)

	list := l.List()
	list[0].Status = StatusConfirmedFraud
	list[0].Risk = 0

	got, err := l.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, got.Status)
	assert.Equal(t, 0.9, got.Risk)
}

func TestFeedback(t *testing.T) {
	l := NewLedger(5)
	rec := l.Append(decision("user_101", 0.99, risk.ReasonFraudRing), lab)

	updated, err := l.Feedback(rec.ID, ActionVerifySafe)
	require.NoError(t, err)
	assert.Equal(t, StatusVerifiedSafe, updated.Status)
	assert.Equal(t, FeedbackFalsePositive, updated.Feedback)
	assert.Equal(t, 0.99, updated.Risk)
	assert.Equal(t, risk.ReasonFraudRing, updated.Reason)
	assert.Equal(t, risk.VerdictBlock, updated.Verdict)

	updated, err = l.Feedback(rec.ID, ActionConfirmFraud)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmedFraud, updated.Status)
	assert.Equal(t, FeedbackTruePositive, updated.Feedback)

	got, err := l.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmedFraud, got.Status)
}

func TestFeedback_UnknownIDLeavesLedgerUntouched(t *testing.T) {
	l := NewLedger(5)
	l.Append(decision("user_1", 0.6, risk.ReasonNormalActivity), lab)
	before := l.List()

	_, err := l.Feedback("missing", ActionConfirmFraud)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, before, l.List())
}

func TestFeedback_InvalidAction(t *testing.T) {
	l := NewLedger(5)
	rec := l.Append(decision("user_1", 0.6, risk.ReasonNormalActivity), lab)

	_, err := l.Feedback(rec.ID, Action("escalate"))
	assert.ErrorIs(t, err, ErrInvalidAction)

	got, _ := l.Get(rec.ID)
	assert.Equal(t, StatusSuspicious, got.Status)
}

func TestReset(t *testing.T) {
	l := NewLedger(5)
	rec := l.Append(decision("user_1", 0.3, risk.ReasonNormalActivity), lab)
	l.Append(decision("user_2", 0.3, risk.ReasonNormalActivity), lab)

	assert.Equal(t, 0, l.Reset())
	assert.Empty(t, l.List())
	assert.Equal(t, 0, l.Len())

	_, err := l.Get(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	l.Append(decision("user_3", 0.3, risk.ReasonNormalActivity), lab)
	assert.Equal(t, 1, l.Len())
}

func TestLedger_ConcurrentAppendAndFeedback(t *testing.T) {
	const capacity, writers, perWriter = 20, 8, 50
	l := NewLedger(capacity)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				rec := l.Append(decision(fmt.Sprintf("user_%d_%d", w, i), 0.9, risk.ReasonImpossibleTravel), lab)
				if i%3 == 0 {
					_, _ = l.Feedback(rec.ID, ActionVerifySafe)
				}
				_ = l.List()
			}
		}(w)
	}
	wg.Wait()

	list := l.List()
	require.Len(t, list, capacity)

	seen := make(map[string]bool, len(list))
	for i, rec := range list {
		assert.False(t, seen[rec.ID], "duplicate id %s", rec.ID)
		seen[rec.ID] = true
		if i > 0 {
			assert.False(t, rec.CreatedAt.After(list[i-1].CreatedAt), "records out of order at %d", i)
		}
	}
}
