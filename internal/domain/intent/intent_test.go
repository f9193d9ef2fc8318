package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"payment-service/internal/domain/errs"
	"payment-service/internal/processor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfirmable(t *testing.T, mode CaptureMode, method string) *Intent {
	t.Helper()
	in := New(NewID())
	err := in.Create(CreateParams{
		AccountID:     "acct-1",
		Amount:        2000,
		Currency:      "usd",
		CaptureMode:   mode,
		PaymentMethod: method,
		ProcessorName: "mock",
	}, time.Now())
	require.NoError(t, err)
	return in
}

func TestCreateStatusDependsOnMethod(t *testing.T) {
	in := New(NewID())
	err := in.Create(CreateParams{AccountID: "acct-1", Amount: 2000, Currency: "usd"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusRequiresPaymentMethod, in.Status)
	assert.NotEmpty(t, in.ClientSecret)
	assert.Equal(t, CaptureAutomatic, in.CaptureMode)

	withMethod := newConfirmable(t, CaptureAutomatic, processor.TokenVisa)
	assert.Equal(t, StatusRequiresConfirmation, withMethod.Status)
}

func TestCreateValidation(t *testing.T) {
	in := New(NewID())
	err := in.Create(CreateParams{Amount: 0, Currency: "usd"}, time.Now())
	assert.True(t, errs.IsValidation(err))

	err = in.Create(CreateParams{Amount: 100}, time.Now())
	assert.True(t, errs.IsValidation(err))

	err = in.Create(CreateParams{Amount: 100, Currency: "usd", CaptureMode: "later"}, time.Now())
	assert.True(t, errs.IsValidation(err))
}

func TestConfirmAutoCaptureSucceeds(t *testing.T) {
	in := newConfirmable(t, CaptureAutomatic, processor.TokenVisa)

	require.NoError(t, in.Confirm(context.Background(), processor.NewMock(), time.Now()))
	assert.Equal(t, StatusSucceeded, in.Status)
	assert.Equal(t, int64(2000), in.AmountReceived)
	assert.Equal(t, int64(0), in.AmountCapturable)
	assert.NotEmpty(t, in.TransactionID)
	assert.NotEmpty(t, in.AuthorizationCode)
	assert.NotNil(t, in.SucceededAt)
}

func TestConfirmDeclineIsDataNotError(t *testing.T) {
	in := newConfirmable(t, CaptureAutomatic, processor.TokenInsufficientFunds)

	require.NoError(t, in.Confirm(context.Background(), processor.NewMock(), time.Now()))
	assert.Equal(t, StatusRequiresPaymentMethod, in.Status)
	assert.Equal(t, processor.DeclineInsufficientFunds, in.LastDeclineCode)
	assert.NotEmpty(t, in.LastDeclineMessage)
}

func TestDeclinedIntentCanRetryWithNewMethod(t *testing.T) {
	mock := processor.NewMock()
	in := newConfirmable(t, CaptureAutomatic, processor.TokenDeclined)

	require.NoError(t, in.Confirm(context.Background(), mock, time.Now()))
	assert.Equal(t, StatusRequiresPaymentMethod, in.Status)

	require.NoError(t, in.AttachPaymentMethod(processor.TokenVisa, time.Now()))
	assert.Equal(t, StatusRequiresConfirmation, in.Status)

	require.NoError(t, in.Confirm(context.Background(), mock, time.Now()))
	assert.Equal(t, StatusSucceeded, in.Status)
	assert.Empty(t, in.LastDeclineCode)
}

func TestManualCaptureFlow(t *testing.T) {
	mock := processor.NewMock()
	in := newConfirmable(t, CaptureManual, processor.TokenVisa)

	require.NoError(t, in.Confirm(context.Background(), mock, time.Now()))
	assert.Equal(t, StatusRequiresCapture, in.Status)
	assert.Equal(t, int64(2000), in.AmountCapturable)
	assert.Equal(t, int64(0), in.AmountReceived)

	require.NoError(t, in.Capture(context.Background(), mock, 1500, time.Now()))
	assert.Equal(t, StatusSucceeded, in.Status)
	assert.Equal(t, int64(1500), in.AmountReceived)
	assert.Equal(t, int64(0), in.AmountCapturable)
}

func TestCaptureZeroMeansFull(t *testing.T) {
	mock := processor.NewMock()
	in := newConfirmable(t, CaptureManual, processor.TokenVisa)
	require.NoError(t, in.Confirm(context.Background(), mock, time.Now()))

	require.NoError(t, in.Capture(context.Background(), mock, 0, time.Now()))
	assert.Equal(t, int64(2000), in.AmountReceived)
}

func TestOverCaptureRejected(t *testing.T) {
	mock := processor.NewMock()
	in := newConfirmable(t, CaptureManual, processor.TokenVisa)
	require.NoError(t, in.Confirm(context.Background(), mock, time.Now()))

	err := in.Capture(context.Background(), mock, 2500, time.Now())
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, StatusRequiresCapture, in.Status)
}

func TestThreeDSStepUpFlow(t *testing.T) {
	mock := processor.NewMock()
	in := newConfirmable(t, CaptureAutomatic, processor.TokenThreeDSRequired)

	require.NoError(t, in.Confirm(context.Background(), mock, time.Now()))
	assert.Equal(t, StatusRequiresAction, in.Status)
	require.NotNil(t, in.NextAction)
	assert.Equal(t, "three_d_secure", in.NextAction.Type)
	assert.NotEmpty(t, in.TransactionID)

	mock.OnAuthorized(func(ctx context.Context, intentID, transactionID, authCode string) error {
		return in.RecordAuthorization(transactionID, authCode, time.Now())
	})
	require.NoError(t, mock.SimulateWebhook(context.Background(), in.TransactionID))

	assert.Equal(t, StatusSucceeded, in.Status)
	assert.Equal(t, int64(2000), in.AmountReceived)
	assert.Nil(t, in.NextAction)
}

func TestCancelVoidsOpenAuthorization(t *testing.T) {
	mock := processor.NewMock()
	in := newConfirmable(t, CaptureManual, processor.TokenVisa)
	require.NoError(t, in.Confirm(context.Background(), mock, time.Now()))
	txID := in.TransactionID

	require.NoError(t, in.Cancel(context.Background(), mock, "requested_by_customer", time.Now()))
	assert.Equal(t, StatusCanceled, in.Status)
	assert.Equal(t, "requested_by_customer", in.CancellationReason)
	assert.Equal(t, int64(0), in.AmountCapturable)

	st, ok := mock.Transaction(txID)
	require.True(t, ok)
	assert.Equal(t, "voided", st.Status)
}

func TestCancelAfterSuccessRejected(t *testing.T) {
	mock := processor.NewMock()
	in := newConfirmable(t, CaptureAutomatic, processor.TokenVisa)
	require.NoError(t, in.Confirm(context.Background(), mock, time.Now()))

	err := in.Cancel(context.Background(), mock, "too late", time.Now())
	assert.True(t, errs.IsConflict(err))
}

func TestUpdateAmountOnlyBeforeConfirmation(t *testing.T) {
	mock := processor.NewMock()
	in := newConfirmable(t, CaptureAutomatic, processor.TokenVisa)

	amount := int64(3500)
	require.NoError(t, in.Update(UpdateParams{Amount: &amount}, time.Now()))
	assert.Equal(t, int64(3500), in.Amount)

	require.NoError(t, in.Confirm(context.Background(), mock, time.Now()))
	err := in.Update(UpdateParams{Amount: &amount}, time.Now())
	assert.True(t, errs.IsConflict(err))
}

type panickyAdapter struct {
	processor.Adapter
}

func (panickyAdapter) Authorize(ctx context.Context, req processor.AuthorizeRequest) (*processor.AuthorizeResult, error) {
	panic("boom")
}

type erroringAdapter struct {
	processor.Adapter
}

func (erroringAdapter) Authorize(ctx context.Context, req processor.AuthorizeRequest) (*processor.AuthorizeResult, error) {
	return nil, errors.New("connection reset")
}

func TestConfirmAdapterPanicBecomesDecline(t *testing.T) {
	in := newConfirmable(t, CaptureAutomatic, processor.TokenVisa)

	require.NoError(t, in.Confirm(context.Background(), panickyAdapter{}, time.Now()))
	assert.Equal(t, StatusRequiresPaymentMethod, in.Status)
	assert.Equal(t, processor.DeclineProcessingError, in.LastDeclineCode)
}

func TestConfirmAdapterErrorBecomesDecline(t *testing.T) {
	in := newConfirmable(t, CaptureAutomatic, processor.TokenVisa)

	require.NoError(t, in.Confirm(context.Background(), erroringAdapter{}, time.Now()))
	assert.Equal(t, StatusRequiresPaymentMethod, in.Status)
	assert.Equal(t, processor.DeclineProcessingError, in.LastDeclineCode)
	assert.Contains(t, in.LastDeclineMessage, "connection reset")
}

func TestReplayRebuildsIntent(t *testing.T) {
	mock := processor.NewMock()
	in := newConfirmable(t, CaptureManual, processor.TokenVisa)
	require.NoError(t, in.Confirm(context.Background(), mock, time.Now()))
	require.NoError(t, in.Capture(context.Background(), mock, 0, time.Now()))

	replayed, err := Replay(in.ID, in.PendingEvents())
	require.NoError(t, err)

	assert.Equal(t, in.Status, replayed.Status)
	assert.Equal(t, in.AmountReceived, replayed.AmountReceived)
	assert.Equal(t, in.TransactionID, replayed.TransactionID)
	assert.Equal(t, in.ClientSecret, replayed.ClientSecret)
}
