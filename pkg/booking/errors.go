package booking

import "errors"

// Domain-level error values returned by the reservation core.
//
// Validation errors reject the request with nothing persisted. Conflict
// errors are retryable against fresh state. Gateway errors surface a failed
// payment with the inventory hold released. Invariant violations abort the
// whole operation and are never coerced into partial success.
var (
	// Validation.
	ErrInvalidTenantID          = errors.New("invalid tenant id")
	ErrInvalidUnitID            = errors.New("invalid unit id")
	ErrInvalidReservationID     = errors.New("invalid reservation id")
	ErrInvalidAttemptID         = errors.New("invalid attempt id")
	ErrInvalidIdempotencyKey    = errors.New("invalid idempotency key")
	ErrInvalidMetadataJSON      = errors.New("invalid metadata json")
	ErrInvalidAmountCents       = errors.New("invalid amount cents")
	ErrInvalidDateRange         = errors.New("invalid date range")
	ErrInvalidReservationStatus = errors.New("invalid reservation status")
	ErrInvalidDraft             = errors.New("invalid reservation draft")
	ErrInvalidServiceConfig     = errors.New("invalid service config")

	// Lookup.
	ErrUnknownUnit              = errors.New("unknown unit")
	ErrUnknownReservation       = errors.New("unknown reservation")
	ErrUnknownAttempt           = errors.New("unknown payment attempt")
	ErrUnknownIdempotencyRecord = errors.New("unknown idempotency record")

	// Conflict.
	ErrUnitExists              = errors.New("unit already exists")
	ErrUnitUnavailable         = errors.New("unit unavailable for requested dates")
	ErrVersionConflict         = errors.New("concurrent modification detected")
	ErrIdempotencyKeyExists    = errors.New("idempotency key already claimed")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrReservationClosed       = errors.New("reservation closed")

	// Gateway.
	ErrGatewayDeclined    = errors.New("payment declined by gateway")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrPaymentPending     = errors.New("payment outcome pending")

	// Invariant.
	ErrNothingDue            = errors.New("nothing due on reservation")
	ErrRefundExceedsCaptured = errors.New("refund exceeds captured total")
	ErrCaptureExceedsDue     = errors.New("capture exceeds amount due")
)
