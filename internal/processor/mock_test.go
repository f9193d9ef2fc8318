package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authorize(t *testing.T, m *Mock, token string, autoCapture bool) *AuthorizeResult {
	t.Helper()
	res, err := m.Authorize(context.Background(), AuthorizeRequest{
		IntentID:    "pi_test",
		Amount:      2000,
		Currency:    "usd",
		MethodToken: token,
		AutoCapture: autoCapture,
	})
	require.NoError(t, err)
	return res
}

func TestTokenOutcomesAreDeterministic(t *testing.T) {
	cases := []struct {
		token       string
		declineCode string
	}{
		{TokenDeclined, DeclineCardDeclined},
		{TokenInsufficientFunds, DeclineInsufficientFunds},
		{TokenExpiredCard, DeclineExpiredCard},
		{TokenIncorrectCVC, DeclineIncorrectCVC},
		{TokenProcessingError, DeclineProcessingError},
	}

	for _, tc := range cases {
		m := NewMock()
		res := authorize(t, m, tc.token, true)
		assert.False(t, res.Success, tc.token)
		assert.Equal(t, tc.declineCode, res.DeclineCode, tc.token)
		assert.NotEmpty(t, res.DeclineMessage, tc.token)
	}
}

func TestSuccessTokensAuthorize(t *testing.T) {
	m := NewMock()

	for _, token := range []string{TokenVisa, TokenMastercard} {
		res := authorize(t, m, token, false)
		assert.True(t, res.Success, token)
		assert.NotEmpty(t, res.TransactionID, token)
		assert.NotEmpty(t, res.AuthCode, token)

		st, ok := m.Transaction(res.TransactionID)
		require.True(t, ok)
		assert.Equal(t, "authorized", st.Status)
		assert.Equal(t, int64(2000), st.AuthorizedAmount)
	}
}

func TestAutoCaptureMarksCaptured(t *testing.T) {
	m := NewMock()
	res := authorize(t, m, TokenVisa, true)

	st, ok := m.Transaction(res.TransactionID)
	require.True(t, ok)
	assert.Equal(t, "captured", st.Status)
	assert.Equal(t, int64(2000), st.CapturedAmount)
}

func TestForceNextResponseOverridesToken(t *testing.T) {
	m := NewMock()
	m.ForceNextResponse(AuthorizeResult{DeclineCode: DeclineCardDeclined, DeclineMessage: "forced"})

	res := authorize(t, m, TokenVisa, true)
	assert.False(t, res.Success)
	assert.Equal(t, DeclineCardDeclined, res.DeclineCode)

	res = authorize(t, m, TokenVisa, true)
	assert.True(t, res.Success)
}

func TestCaptureValidation(t *testing.T) {
	m := NewMock()
	res := authorize(t, m, TokenVisa, false)

	over, err := m.Capture(context.Background(), res.TransactionID, 5000)
	require.NoError(t, err)
	assert.False(t, over.Success)
	assert.Equal(t, "amount_invalid", over.ErrorCode)

	unknown, err := m.Capture(context.Background(), "txn_missing", 100)
	require.NoError(t, err)
	assert.Equal(t, "transaction_not_found", unknown.ErrorCode)

	ok, err := m.Capture(context.Background(), res.TransactionID, 1500)
	require.NoError(t, err)
	assert.True(t, ok.Success)
	assert.Equal(t, int64(1500), ok.CapturedAmount)

	again, err := m.Capture(context.Background(), res.TransactionID, 100)
	require.NoError(t, err)
	assert.Equal(t, "invalid_state", again.ErrorCode)
}

func TestRefundBoundedByCaptured(t *testing.T) {
	m := NewMock()
	res := authorize(t, m, TokenVisa, true)

	r1, err := m.Refund(context.Background(), res.TransactionID, 1200, "return")
	require.NoError(t, err)
	assert.True(t, r1.Success)

	r2, err := m.Refund(context.Background(), res.TransactionID, 1000, "return")
	require.NoError(t, err)
	assert.False(t, r2.Success)
	assert.Equal(t, "amount_invalid", r2.ErrorCode)

	st, _ := m.Transaction(res.TransactionID)
	assert.Equal(t, int64(1200), st.RefundedAmount)
}

func TestVoidRejectedAfterCapture(t *testing.T) {
	m := NewMock()
	res := authorize(t, m, TokenVisa, true)

	v, err := m.Void(context.Background(), res.TransactionID, "cancel")
	require.NoError(t, err)
	assert.False(t, v.Success)
	assert.Equal(t, "invalid_state", v.ErrorCode)
}

func TestThreeDSHeldUntilWebhook(t *testing.T) {
	m := NewMock()
	res := authorize(t, m, TokenThreeDSRequired, true)
	require.NotNil(t, res.RequiredAction)
	assert.Equal(t, "three_d_secure", res.RequiredAction.Type)
	require.NotEmpty(t, res.TransactionID)

	st, ok := m.Transaction(res.TransactionID)
	require.True(t, ok)
	assert.Equal(t, "requires_action", st.Status)

	var gotIntent, gotTx, gotAuth string
	m.OnAuthorized(func(ctx context.Context, intentID, transactionID, authCode string) error {
		gotIntent, gotTx, gotAuth = intentID, transactionID, authCode
		return nil
	})

	require.NoError(t, m.SimulateWebhook(context.Background(), res.TransactionID))
	assert.Equal(t, "pi_test", gotIntent)
	assert.Equal(t, res.TransactionID, gotTx)
	assert.NotEmpty(t, gotAuth)

	st, _ = m.Transaction(res.TransactionID)
	assert.Equal(t, "captured", st.Status)

	err := m.SimulateWebhook(context.Background(), res.TransactionID)
	assert.Error(t, err)
}

func TestAuditLogRecordsLifecycle(t *testing.T) {
	m := NewMock()
	res := authorize(t, m, TokenVisa, false)

	_, err := m.Capture(context.Background(), res.TransactionID, 2000)
	require.NoError(t, err)
	_, err = m.Refund(context.Background(), res.TransactionID, 500, "partial return")
	require.NoError(t, err)

	st, ok := m.Transaction(res.TransactionID)
	require.True(t, ok)
	require.Len(t, st.Events, 3)
	assert.Equal(t, "authorization.approved", st.Events[0].Type)
	assert.Equal(t, "capture.completed", st.Events[1].Type)
	assert.Equal(t, "refund.completed", st.Events[2].Type)
}
