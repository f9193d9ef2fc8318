package payment

import (
	"testing"
	"time"

	"payment-service/internal/domain/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInitiated(t *testing.T, method Method, amount int64) *Payment {
	t.Helper()
	p := New("pay-1")
	err := p.Initiate(InitiateParams{
		TenantID:   "tenant-1",
		SiteID:     "site-1",
		OrderID:    "order-1",
		Method:     method,
		Amount:     amount,
		CashierID:  "cashier-1",
		DrawerID:   "drawer-1",
		MaxRetries: 3,
	}, time.Now())
	require.NoError(t, err)
	return p
}

func TestCompleteCashExactChange(t *testing.T) {
	p := newInitiated(t, MethodCash, 2500)

	err := p.CompleteCash(3000, 500, time.Now())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, int64(3000), p.TotalAmount)
	assert.Equal(t, int64(500), p.TipAmount)
	require.NotNil(t, p.Cash)
	assert.Equal(t, int64(3000), p.Cash.AmountTendered)
	assert.Equal(t, int64(0), p.Cash.ChangeGiven)
	assert.NotNil(t, p.CompletedAt)
}

func TestCompleteCashGivesChange(t *testing.T) {
	p := newInitiated(t, MethodCash, 2500)

	err := p.CompleteCash(4000, 0, time.Now())
	require.NoError(t, err)

	assert.Equal(t, int64(2500), p.TotalAmount)
	assert.Equal(t, int64(1500), p.Cash.ChangeGiven)
}

func TestCompleteCashRejectsShortPayment(t *testing.T) {
	p := newInitiated(t, MethodCash, 2500)

	err := p.CompleteCash(2000, 0, time.Now())
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, StatusInitiated, p.Status)
}

func TestInitiateValidation(t *testing.T) {
	p := New("pay-1")
	err := p.Initiate(InitiateParams{OrderID: "order-1", Amount: 0}, time.Now())
	assert.True(t, errs.IsValidation(err))

	err = p.Initiate(InitiateParams{Amount: 100}, time.Now())
	assert.True(t, errs.IsValidation(err))
}

func TestCompleteCashTwiceRejected(t *testing.T) {
	p := newInitiated(t, MethodCash, 1000)
	require.NoError(t, p.CompleteCash(1000, 0, time.Now()))

	err := p.CompleteCash(1000, 0, time.Now())
	assert.True(t, errs.IsConflict(err))
}

func TestCardTwoPhaseFlow(t *testing.T) {
	p := newInitiated(t, MethodCard, 5000)

	require.NoError(t, p.RequestAuthorization(time.Now()))
	assert.Equal(t, StatusAuthorizing, p.Status)

	require.NoError(t, p.RecordAuthorization("txn_1", "auth_1", "mock", time.Now()))
	assert.Equal(t, StatusAuthorized, p.Status)
	assert.Equal(t, "txn_1", p.GatewayRef)

	require.NoError(t, p.Capture(time.Now()))
	assert.Equal(t, StatusCaptured, p.Status)

	card := CardInfo{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030}
	require.NoError(t, p.CompleteCard("txn_1", "auth_1", card, "mock", 800, time.Now()))
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, int64(5800), p.TotalAmount)
	assert.Equal(t, "visa ****4242", p.MaskedInstrument())
}

func TestRecordDeclineTerminates(t *testing.T) {
	p := newInitiated(t, MethodCard, 5000)
	require.NoError(t, p.RequestAuthorization(time.Now()))

	require.NoError(t, p.RecordDecline("card_declined", "Your card was declined.", time.Now()))
	assert.Equal(t, StatusDeclined, p.Status)
	assert.Equal(t, "card_declined", p.LastErrorCode)

	err := p.CompleteCard("ref", "auth", CardInfo{}, "mock", 0, time.Now())
	assert.True(t, errs.IsConflict(err))
}

func TestRefundPartialThenFull(t *testing.T) {
	p := newInitiated(t, MethodCard, 5000)
	require.NoError(t, p.CompleteCard("txn_1", "auth_1", CardInfo{Brand: "visa", Last4: "4242"}, "mock", 0, time.Now()))

	r, err := p.Refund(2000, "damaged item", "manager-1", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, StatusPartiallyRefunded, p.Status)
	assert.Equal(t, int64(2000), p.RefundedAmount)

	_, err = p.Refund(3000, "order cancelled", "manager-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, p.Status)
	assert.Equal(t, int64(5000), p.RefundedAmount)
}

func TestRefundCannotExceedRemaining(t *testing.T) {
	p := newInitiated(t, MethodCash, 5000)
	require.NoError(t, p.CompleteCash(5000, 0, time.Now()))

	_, err := p.Refund(6000, "", "", time.Now())
	assert.True(t, errs.IsValidation(err))

	_, err = p.Refund(3000, "", "", time.Now())
	require.NoError(t, err)

	_, err = p.Refund(2500, "", "", time.Now())
	assert.True(t, errs.IsValidation(err))
}

func TestVoidBlockedFromTerminalStates(t *testing.T) {
	p := newInitiated(t, MethodCash, 1000)
	require.NoError(t, p.CompleteCash(1000, 0, time.Now()))
	_, err := p.Refund(1000, "", "", time.Now())
	require.NoError(t, err)

	err = p.Void("manager-1", "mistake", time.Now())
	assert.True(t, errs.IsConflict(err))
}

func TestVoidFromCompleted(t *testing.T) {
	p := newInitiated(t, MethodCash, 1000)
	require.NoError(t, p.CompleteCash(1000, 0, time.Now()))

	require.NoError(t, p.Void("manager-1", "entered twice", time.Now()))
	assert.Equal(t, StatusVoided, p.Status)
	assert.NotNil(t, p.VoidedAt)
}

func TestAdjustTipRecomputesTotal(t *testing.T) {
	p := newInitiated(t, MethodCard, 4000)
	require.NoError(t, p.CompleteCard("txn_1", "", CardInfo{}, "mock", 500, time.Now()))
	assert.Equal(t, int64(4500), p.TotalAmount)

	require.NoError(t, p.AdjustTip(1000, time.Now()))
	assert.Equal(t, int64(1000), p.TipAmount)
	assert.Equal(t, int64(5000), p.TotalAmount)

	err := p.AdjustTip(-1, time.Now())
	assert.True(t, errs.IsValidation(err))
}

func TestAssignToBatchIdempotent(t *testing.T) {
	p := newInitiated(t, MethodCard, 4000)
	require.NoError(t, p.CompleteCard("txn_1", "", CardInfo{}, "mock", 0, time.Now()))

	require.NoError(t, p.AssignToBatch("batch-1", time.Now()))
	assert.Equal(t, "batch-1", p.BatchID)

	before := len(p.PendingEvents())
	require.NoError(t, p.AssignToBatch("batch-1", time.Now()))
	assert.Equal(t, before, len(p.PendingEvents()))
}

func TestScheduleRetryDoublesDelay(t *testing.T) {
	base := 30 * time.Second
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newInitiated(t, MethodCard, 1000)

	exhausted, err := p.ScheduleRetry(base, "processing_error", "timeout", now)
	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, 1, p.RetryCount)
	assert.Equal(t, now.Add(30*time.Second), *p.NextRetryAt)

	exhausted, err = p.ScheduleRetry(base, "processing_error", "timeout", now)
	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, now.Add(60*time.Second), *p.NextRetryAt)

	exhausted, err = p.ScheduleRetry(base, "processing_error", "timeout", now)
	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, now.Add(120*time.Second), *p.NextRetryAt)

	exhausted, err = p.ScheduleRetry(base, "processing_error", "timeout", now)
	require.NoError(t, err)
	assert.True(t, exhausted)
	assert.True(t, p.RetryExhausted)
	assert.Nil(t, p.NextRetryAt)

	exhausted, err = p.ScheduleRetry(base, "processing_error", "timeout", now)
	assert.True(t, exhausted)
	assert.True(t, errs.IsConflict(err))
}

func TestShouldRetry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newInitiated(t, MethodCard, 1000)

	assert.False(t, p.ShouldRetry(now))

	_, err := p.ScheduleRetry(30*time.Second, "processing_error", "timeout", now)
	require.NoError(t, err)

	assert.False(t, p.ShouldRetry(now.Add(10*time.Second)))
	assert.True(t, p.ShouldRetry(now.Add(30*time.Second)))
	assert.True(t, p.ShouldRetry(now.Add(5*time.Minute)))
}

func TestRecordRetryAttemptHistory(t *testing.T) {
	now := time.Now()
	p := newInitiated(t, MethodCard, 1000)

	_, err := p.ScheduleRetry(30*time.Second, "processing_error", "timeout", now)
	require.NoError(t, err)

	require.NoError(t, p.RecordRetryAttempt(false, "processing_error", "still down", now))
	require.NoError(t, p.RecordRetryAttempt(true, "", "", now))

	info := p.GetRetryInfo()
	require.Len(t, info.History, 2)
	assert.False(t, info.History[0].Success)
	assert.True(t, info.History[1].Success)
	assert.Empty(t, p.LastErrorCode)
	assert.Nil(t, p.NextRetryAt)
}

func TestReplayRebuildsIdenticalState(t *testing.T) {
	p := newInitiated(t, MethodCard, 5000)
	require.NoError(t, p.CompleteCard("txn_1", "auth_1", CardInfo{Brand: "visa", Last4: "4242"}, "mock", 500, time.Now()))
	_, err := p.Refund(1500, "partial return", "manager-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, p.AssignToBatch("batch-9", time.Now()))

	replayed, err := Replay(p.ID, p.PendingEvents())
	require.NoError(t, err)

	assert.Equal(t, p.Status, replayed.Status)
	assert.Equal(t, p.TotalAmount, replayed.TotalAmount)
	assert.Equal(t, p.RefundedAmount, replayed.RefundedAmount)
	assert.Equal(t, p.BatchID, replayed.BatchID)
	assert.Equal(t, p.Card, replayed.Card)
	assert.Equal(t, p.Refunds, replayed.Refunds)
}

func TestGiftCardCompletionMasksNumber(t *testing.T) {
	p := newInitiated(t, MethodGiftCard, 1500)

	require.NoError(t, p.CompleteGiftCard("gc-1", "6006491234567890", time.Now()))
	assert.Equal(t, StatusCompleted, p.Status)
	require.NotNil(t, p.GiftCard)
	assert.Equal(t, "****7890", p.GiftCard.CardNumber)
	assert.Equal(t, "****7890", p.MaskedInstrument())
}
