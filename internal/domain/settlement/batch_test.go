package settlement

import (
	"strings"
	"testing"
	"time"

	"payment-service/internal/domain/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenBatch(t *testing.T) *Batch {
	t.Helper()
	b := New("batch-1")
	require.NoError(t, b.Open("site-1", "2026-03-01", "manager-1", time.Now()))
	return b
}

func TestOpenBatch(t *testing.T) {
	b := newOpenBatch(t)

	assert.Equal(t, StatusOpen, b.Status)
	assert.Equal(t, "site-1", b.SiteID)
	assert.Equal(t, "2026-03-01", b.BusinessDate)
	assert.True(t, strings.HasPrefix(b.BatchNumber, "BATCH-2026-03-01-"))

	err := b.Open("site-1", "2026-03-01", "manager-1", time.Now())
	assert.True(t, errs.IsConflict(err))
}

func TestAddPaymentAccumulatesTotals(t *testing.T) {
	b := newOpenBatch(t)

	require.NoError(t, b.AddPayment("pay-1", 10000, "CARD", "txn_1", time.Now()))
	require.NoError(t, b.AddPayment("pay-2", 5000, "CASH", "", time.Now()))

	assert.Equal(t, int64(15000), b.TotalAmount)
	assert.Equal(t, 2, b.PaymentCount)
}

func TestAddDuplicatePaymentRejected(t *testing.T) {
	b := newOpenBatch(t)
	require.NoError(t, b.AddPayment("pay-1", 10000, "CARD", "txn_1", time.Now()))

	err := b.AddPayment("pay-1", 10000, "CARD", "txn_1", time.Now())
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, 1, b.PaymentCount)
}

func TestRemovePaymentReversesTotals(t *testing.T) {
	b := newOpenBatch(t)
	require.NoError(t, b.AddPayment("pay-1", 10000, "CARD", "txn_1", time.Now()))
	require.NoError(t, b.AddPayment("pay-2", 5000, "CASH", "", time.Now()))

	require.NoError(t, b.RemovePayment("pay-1", "chargeback", time.Now()))
	assert.Equal(t, int64(5000), b.TotalAmount)
	assert.Equal(t, 1, b.PaymentCount)

	err := b.RemovePayment("pay-1", "again", time.Now())
	assert.True(t, errs.IsValidation(err))
}

func TestCloseFreezesBatch(t *testing.T) {
	b := newOpenBatch(t)
	require.NoError(t, b.AddPayment("pay-1", 10000, "CARD", "txn_1", time.Now()))
	require.NoError(t, b.AddPayment("pay-2", 5000, "CASH", "", time.Now()))

	summary, err := b.Close("manager-1", time.Now())
	require.NoError(t, err)

	assert.Equal(t, StatusClosed, b.Status)
	assert.Equal(t, int64(15000), summary.TotalAmount)
	assert.Equal(t, 2, summary.PaymentCount)
	assert.Equal(t, int64(10000), summary.ByMethod["CARD"].Amount)
	assert.Equal(t, int64(5000), summary.ByMethod["CASH"].Amount)

	err = b.AddPayment("pay-3", 1000, "CARD", "", time.Now())
	assert.True(t, errs.IsConflict(err))
}

func TestRecordSettlementComputesNet(t *testing.T) {
	b := newOpenBatch(t)
	require.NoError(t, b.AddPayment("pay-1", 10000, "CARD", "txn_1", time.Now()))
	require.NoError(t, b.AddPayment("pay-2", 5000, "CASH", "", time.Now()))
	_, err := b.Close("manager-1", time.Now())
	require.NoError(t, err)

	require.NoError(t, b.RecordSettlement("stl_001", 250, time.Now()))

	assert.Equal(t, StatusSettled, b.Status)
	assert.Equal(t, int64(15000), b.SettledAmount)
	assert.Equal(t, int64(250), b.ProcessingFees)
	assert.Equal(t, int64(14750), b.NetAmount)
	assert.NotNil(t, b.SettledAt)
}

func TestRecordSettlementRequiresClosedBatch(t *testing.T) {
	b := newOpenBatch(t)

	err := b.RecordSettlement("stl_001", 0, time.Now())
	assert.True(t, errs.IsConflict(err))
}

func TestSettlementFailureThenRetry(t *testing.T) {
	b := newOpenBatch(t)
	require.NoError(t, b.AddPayment("pay-1", 10000, "CARD", "txn_1", time.Now()))
	_, err := b.Close("manager-1", time.Now())
	require.NoError(t, err)

	require.NoError(t, b.RecordSettlementFailure("bank_timeout", "no response from acquirer", time.Now()))
	assert.Equal(t, StatusFailed, b.Status)
	assert.Equal(t, 1, b.SettlementAttempts)
	assert.Equal(t, "bank_timeout", b.LastErrorCode)

	require.NoError(t, b.RecordSettlement("stl_002", 100, time.Now()))
	assert.Equal(t, StatusSettled, b.Status)
	assert.Empty(t, b.LastErrorCode)
}

func TestReopenReturnsToOpen(t *testing.T) {
	b := newOpenBatch(t)
	require.NoError(t, b.AddPayment("pay-1", 10000, "CARD", "txn_1", time.Now()))
	_, err := b.Close("manager-1", time.Now())
	require.NoError(t, err)

	require.NoError(t, b.Reopen("manager-2", "missed payment", time.Now()))
	assert.Equal(t, StatusOpen, b.Status)
	assert.Nil(t, b.ClosedAt)

	require.NoError(t, b.AddPayment("pay-2", 2000, "CASH", "", time.Now()))
	assert.Equal(t, int64(12000), b.TotalAmount)
}

func TestGetTotalsByMethod(t *testing.T) {
	b := newOpenBatch(t)
	require.NoError(t, b.AddPayment("pay-1", 10000, "CARD", "txn_1", time.Now()))
	require.NoError(t, b.AddPayment("pay-2", 5000, "CASH", "", time.Now()))
	require.NoError(t, b.AddPayment("pay-3", 3000, "CARD", "txn_2", time.Now()))

	totals := b.GetTotalsByMethod()
	require.Len(t, totals, 2)
	assert.Equal(t, MethodTotal{Amount: 13000, Count: 2}, totals["CARD"])
	assert.Equal(t, MethodTotal{Amount: 5000, Count: 1}, totals["CASH"])
}

func TestReplayRebuildsBatch(t *testing.T) {
	b := newOpenBatch(t)
	require.NoError(t, b.AddPayment("pay-1", 10000, "CARD", "txn_1", time.Now()))
	_, err := b.Close("manager-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, b.RecordSettlement("stl_001", 250, time.Now()))

	replayed, err := Replay(b.ID, b.PendingEvents())
	require.NoError(t, err)

	assert.Equal(t, b.Status, replayed.Status)
	assert.Equal(t, b.TotalAmount, replayed.TotalAmount)
	assert.Equal(t, b.NetAmount, replayed.NetAmount)
	assert.Equal(t, b.BatchNumber, replayed.BatchNumber)
	assert.Equal(t, b.Entries, replayed.Entries)
}
