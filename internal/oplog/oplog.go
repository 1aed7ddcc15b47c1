// Package oplog bridges the domain operation-log callbacks onto zap.
package oplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/joshuahuffman02/Keepr-sub004/pkg/booking"
	"github.com/joshuahuffman02/Keepr-sub004/pkg/ledger"
)

// BookingLogger implements booking.OperationLogger.
type BookingLogger struct {
	logger *zap.Logger
}

// NewBookingLogger wraps a zap logger for reservation-core operations.
func NewBookingLogger(logger *zap.Logger) *BookingLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingLogger{logger: logger}
}

func (bridge *BookingLogger) LogOperation(ctx context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("tenant_id", entry.TenantID),
		zap.String("status", entry.Status),
	}
	if entry.UnitID != "" {
		fields = append(fields, zap.String("unit_id", entry.UnitID))
	}
	if entry.ReservationID != "" {
		fields = append(fields, zap.String("reservation_id", entry.ReservationID))
	}
	if entry.AttemptID != "" {
		fields = append(fields, zap.String("attempt_id", entry.AttemptID))
	}
	if entry.IdempotencyKey != "" {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey))
	}
	if entry.AmountCents != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.AmountCents))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		bridge.logger.Warn("booking operation failed", fields...)
		return
	}
	bridge.logger.Info("booking operation", fields...)
}

// LedgerLogger implements ledger.OperationLogger.
type LedgerLogger struct {
	logger *zap.Logger
}

// NewLedgerLogger wraps a zap logger for posting-engine operations.
func NewLedgerLogger(logger *zap.Logger) *LedgerLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerLogger{logger: logger}
}

func (bridge *LedgerLogger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("tenant_id", entry.TenantID.String()),
		zap.String("status", entry.Status),
	}
	if entry.BatchID.String() != "" {
		fields = append(fields, zap.String("batch_id", entry.BatchID.String()))
	}
	if entry.LineCount > 0 {
		fields = append(fields, zap.Int("line_count", entry.LineCount))
	}
	if entry.DebitCents > 0 {
		fields = append(fields, zap.Int64("debit_cents", entry.DebitCents))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		bridge.logger.Warn("ledger operation failed", fields...)
		return
	}
	bridge.logger.Info("ledger operation", fields...)
}
