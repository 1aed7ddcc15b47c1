package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the posting engine.
var (
	ErrUnbalancedBatch      = errors.New("unbalanced posting batch")
	ErrUnknownBatch         = errors.New("unknown posting batch")
	ErrDuplicateDedupeKey   = errors.New("duplicate dedupe key")
	ErrPeriodClosed         = errors.New("accounting period closed")
	ErrInvalidPeriod        = errors.New("invalid accounting period")
	ErrInvalidTenantID      = errors.New("invalid tenant id")
	ErrInvalidBatchID       = errors.New("invalid batch id")
	ErrInvalidDedupeKey     = errors.New("invalid dedupe key")
	ErrInvalidAccountCode   = errors.New("invalid account code")
	ErrInvalidSide          = errors.New("invalid entry side")
	ErrInvalidAmountCents   = errors.New("invalid amount cents")
	ErrInvalidMetadataJSON  = errors.New("invalid metadata json")
	ErrInvalidBatch         = errors.New("invalid posting batch")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
