package service

import (
	"context"

	"payment-service/internal/util"

	"go.uber.org/zap"
)

// OrderLedger is the outbound contract to the order/ledger collaborator.
// Recording a payment against an order is the only inbound call this
// service makes on it; everything else flows through published events.
type OrderLedger interface {
	RecordPayment(ctx context.Context, orderID, paymentID string, amount int64, method string) error
	RecordRefund(ctx context.Context, orderID, paymentID string, amount int64) error
}

// CashDrawer is the outbound contract to the cash-drawer ledger, keyed by
// reason code.
type CashDrawer interface {
	Credit(ctx context.Context, drawerID, reason string, amount int64) error
	Debit(ctx context.Context, drawerID, reason string, amount int64) error
}

// LoggingOrderLedger is the default collaborator used until a real order
// service is wired in: it records the call in the log and succeeds.
type LoggingOrderLedger struct{}

func (LoggingOrderLedger) RecordPayment(ctx context.Context, orderID, paymentID string, amount int64, method string) error {
	util.GetLogger().Info("Recording payment against order",
		zap.String("order_id", orderID),
		zap.String("payment_id", paymentID),
		zap.Int64("amount", amount),
		zap.String("method", method))
	return nil
}

func (LoggingOrderLedger) RecordRefund(ctx context.Context, orderID, paymentID string, amount int64) error {
	util.GetLogger().Info("Recording refund against order",
		zap.String("order_id", orderID),
		zap.String("payment_id", paymentID),
		zap.Int64("amount", amount))
	return nil
}

// LoggingCashDrawer is the default drawer collaborator.
type LoggingCashDrawer struct{}

func (LoggingCashDrawer) Credit(ctx context.Context, drawerID, reason string, amount int64) error {
	util.GetLogger().Info("Crediting cash drawer",
		zap.String("drawer_id", drawerID),
		zap.String("reason", reason),
		zap.Int64("amount", amount))
	return nil
}

func (LoggingCashDrawer) Debit(ctx context.Context, drawerID, reason string, amount int64) error {
	util.GetLogger().Info("Debiting cash drawer",
		zap.String("drawer_id", drawerID),
		zap.String("reason", reason),
		zap.Int64("amount", amount))
	return nil
}
