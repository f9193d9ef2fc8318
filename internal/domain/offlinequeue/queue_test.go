package offlinequeue

import (
	"testing"
	"time"

	"payment-service/internal/domain/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = Policy{
	MaxAttempts:       3,
	BaseDelaySeconds:  60,
	BackoffMultiplier: 2,
	MaxDelaySeconds:   300,
}

func TestPolicyDelayGrowsAndCaps(t *testing.T) {
	assert.Equal(t, 60*time.Second, testPolicy.Delay(1))
	assert.Equal(t, 120*time.Second, testPolicy.Delay(2))
	assert.Equal(t, 240*time.Second, testPolicy.Delay(3))
	assert.Equal(t, 300*time.Second, testPolicy.Delay(4))
	assert.Equal(t, 300*time.Second, testPolicy.Delay(10))
	assert.Equal(t, 60*time.Second, testPolicy.Delay(0))
}

func TestQueuePaymentSchedulesFirstAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := New("site-1", testPolicy)

	entry, err := q.QueuePayment("pay-1", "order-1", "CARD", 2500, nil, now)
	require.NoError(t, err)

	assert.Equal(t, StatusQueued, entry.Status)
	assert.Equal(t, 0, entry.AttemptCount)
	require.NotNil(t, entry.NextRetryAt)
	assert.Equal(t, now.Add(60*time.Second), *entry.NextRetryAt)
	assert.Equal(t, int64(1), q.TotalQueued)
}

func TestQueuePaymentValidation(t *testing.T) {
	q := New("site-1", testPolicy)

	_, err := q.QueuePayment("", "order-1", "CARD", 2500, nil, time.Now())
	assert.True(t, errs.IsValidation(err))

	_, err = q.QueuePayment("pay-1", "order-1", "CARD", 0, nil, time.Now())
	assert.True(t, errs.IsValidation(err))
}

func TestProcessQueueSelectsDueInOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := New("site-1", testPolicy)

	e1, err := q.QueuePayment("pay-1", "order-1", "CARD", 1000, nil, now)
	require.NoError(t, err)
	e2, err := q.QueuePayment("pay-2", "order-2", "CARD", 2000, nil, now.Add(time.Second))
	require.NoError(t, err)
	_, err = q.QueuePayment("pay-3", "order-3", "CARD", 3000, nil, now.Add(10*time.Minute))
	require.NoError(t, err)

	due, err := q.ProcessQueue(now.Add(2 * time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, e1.ID, due[0].ID)
	assert.Equal(t, e2.ID, due[1].ID)
	assert.Equal(t, StatusRetrying, due[0].Status)
	assert.Equal(t, StatusRetrying, due[1].Status)
}

func TestRecordSuccessMarksProcessed(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := New("site-1", testPolicy)
	entry, err := q.QueuePayment("pay-1", "order-1", "CARD", 1000, nil, now)
	require.NoError(t, err)

	_, err = q.ProcessQueue(now.Add(2 * time.Minute))
	require.NoError(t, err)

	require.NoError(t, q.RecordSuccess(entry.ID, "txn_abc", now.Add(2*time.Minute)))
	assert.Equal(t, StatusProcessed, entry.Status)
	assert.Equal(t, "txn_abc", entry.GatewayRef)
	assert.Nil(t, entry.NextRetryAt)
	assert.Equal(t, int64(1), q.TotalProcessed)
	assert.Equal(t, 0, q.PendingDepth())
}

func TestThreeFailuresExhaustEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := New("site-1", testPolicy)
	entry, err := q.QueuePayment("pay-1", "order-1", "CARD", 1000, nil, now)
	require.NoError(t, err)

	clock := now
	for attempt := 1; attempt <= 3; attempt++ {
		clock = clock.Add(10 * time.Minute)
		due, err := q.ProcessQueue(clock)
		require.NoError(t, err)
		require.Len(t, due, 1, "attempt %d should be due", attempt)

		exhausted, err := q.RecordFailure(entry.ID, "network_error", "gateway unreachable", clock)
		require.NoError(t, err)
		assert.Equal(t, attempt == 3, exhausted, "only the final attempt exhausts")
	}

	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, 3, entry.AttemptCount)
	assert.Nil(t, entry.NextRetryAt)
	assert.Equal(t, int64(1), q.TotalFailed)
}

func TestFailureBeforeMaxRequeuesWithBackoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := New("site-1", testPolicy)
	entry, err := q.QueuePayment("pay-1", "order-1", "CARD", 1000, nil, now)
	require.NoError(t, err)

	clock := now.Add(2 * time.Minute)
	_, err = q.ProcessQueue(clock)
	require.NoError(t, err)

	exhausted, err := q.RecordFailure(entry.ID, "timeout", "no response", clock)
	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, StatusQueued, entry.Status)
	assert.Equal(t, 1, entry.AttemptCount)
	require.NotNil(t, entry.NextRetryAt)
	assert.Equal(t, clock.Add(60*time.Second), *entry.NextRetryAt)
	assert.Equal(t, "timeout", entry.LastErrorCode)
}

func TestRecordOutcomeRequiresInFlightEntry(t *testing.T) {
	q := New("site-1", testPolicy)
	entry, err := q.QueuePayment("pay-1", "order-1", "CARD", 1000, nil, time.Now())
	require.NoError(t, err)

	err = q.RecordSuccess(entry.ID, "txn", time.Now())
	assert.True(t, errs.IsConflict(err))

	_, err = q.RecordFailure(entry.ID, "x", "y", time.Now())
	assert.True(t, errs.IsConflict(err))
}

func TestCancelPayment(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := New("site-1", testPolicy)
	entry, err := q.QueuePayment("pay-1", "order-1", "CARD", 1000, nil, now)
	require.NoError(t, err)

	require.NoError(t, q.CancelPayment(entry.ID, "order voided", now))
	assert.Equal(t, StatusCancelled, entry.Status)
	assert.Nil(t, entry.NextRetryAt)

	// cancelling again is a no-op
	before := len(q.PendingEvents())
	require.NoError(t, q.CancelPayment(entry.ID, "again", now))
	assert.Equal(t, before, len(q.PendingEvents()))
}

func TestCancelRejectedOnceProcessed(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := New("site-1", testPolicy)
	entry, err := q.QueuePayment("pay-1", "order-1", "CARD", 1000, nil, now)
	require.NoError(t, err)

	_, err = q.ProcessQueue(now.Add(2 * time.Minute))
	require.NoError(t, err)
	require.NoError(t, q.RecordSuccess(entry.ID, "txn", now.Add(2*time.Minute)))

	err = q.CancelPayment(entry.ID, "too late", now.Add(3*time.Minute))
	assert.True(t, errs.IsConflict(err))
}

func TestHistoryResolvesPendingRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := New("site-1", testPolicy)
	entry, err := q.QueuePayment("pay-1", "order-1", "CARD", 1000, nil, now)
	require.NoError(t, err)

	clock := now.Add(2 * time.Minute)
	_, err = q.ProcessQueue(clock)
	require.NoError(t, err)
	_, err = q.RecordFailure(entry.ID, "timeout", "no response", clock)
	require.NoError(t, err)

	clock = clock.Add(10 * time.Minute)
	_, err = q.ProcessQueue(clock)
	require.NoError(t, err)
	require.NoError(t, q.RecordSuccess(entry.ID, "txn", clock))

	require.Len(t, q.History, 2)
	assert.False(t, q.History[0].Pending)
	assert.False(t, q.History[0].Success)
	assert.Equal(t, "timeout", q.History[0].ErrorCode)
	assert.False(t, q.History[1].Pending)
	assert.True(t, q.History[1].Success)
}

func TestReplayRebuildsQueue(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := New("site-1", testPolicy)
	entry, err := q.QueuePayment("pay-1", "order-1", "CARD", 1000, nil, now)
	require.NoError(t, err)

	clock := now.Add(2 * time.Minute)
	_, err = q.ProcessQueue(clock)
	require.NoError(t, err)
	_, err = q.RecordFailure(entry.ID, "timeout", "no response", clock)
	require.NoError(t, err)

	replayed, err := Replay("site-1", testPolicy, q.PendingEvents())
	require.NoError(t, err)

	require.Len(t, replayed.Entries, 1)
	assert.Equal(t, entry.Status, replayed.Entries[0].Status)
	assert.Equal(t, entry.AttemptCount, replayed.Entries[0].AttemptCount)
	assert.Equal(t, q.TotalQueued, replayed.TotalQueued)
	assert.Equal(t, q.History, replayed.History)
}
