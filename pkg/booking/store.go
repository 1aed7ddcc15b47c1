package booking

import (
	"context"
	"time"
)

// Store is the persistence contract used by Service. Implementations must
// make LockUnit a true serialization point: two transactions locking the same
// unit are mutually exclusive until commit, which is what makes the overlap
// check-and-insert atomic against concurrent callers.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	InsertUnit(ctx context.Context, unit Unit) error
	GetUnit(ctx context.Context, tenantID string, unitID string) (Unit, error)
	// LockUnit acquires the per-unit serialization point for the duration of
	// the surrounding transaction. Returns ErrUnknownUnit (wrapped) when the
	// unit does not exist for the tenant.
	LockUnit(ctx context.Context, tenantID string, unitID string) error

	InsertReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, tenantID string, reservationID string) (Reservation, error)
	GetReservationForUpdate(ctx context.Context, tenantID string, reservationID string) (Reservation, error)
	// ListOverlapping returns non-cancelled reservations on the unit whose
	// half-open range intersects [arrival, departure).
	ListOverlapping(ctx context.Context, tenantID string, unitID string, arrival time.Time, departure time.Time) ([]Reservation, error)
	// UpdateReservation persists the record if its stored version still
	// equals expectedVersion, bumping the version by one; a losing writer
	// gets ErrVersionConflict and must retry against fresh state.
	UpdateReservation(ctx context.Context, reservation Reservation, expectedVersion int64) error

	InsertPaymentAttempt(ctx context.Context, attempt PaymentAttempt) error
	GetPaymentAttempt(ctx context.Context, tenantID string, attemptID string) (PaymentAttempt, error)
	GetPaymentAttemptByIntentRef(ctx context.Context, tenantID string, intentRef string) (PaymentAttempt, error)
	// UpdatePaymentAttempt persists the record only while its stored outcome
	// still equals fromOutcome (first writer wins on terminal transitions).
	UpdatePaymentAttempt(ctx context.Context, attempt PaymentAttempt, fromOutcome PaymentOutcome) error
	SumSucceededAmount(ctx context.Context, tenantID string, reservationID string, direction PaymentDirection) (int64, error)
	LatestSucceededAttempt(ctx context.Context, tenantID string, reservationID string, direction PaymentDirection) (PaymentAttempt, error)

	// CreateIdempotencyRecord fails with ErrIdempotencyKeyExists (wrapped)
	// when the tenant-scoped key is already claimed.
	CreateIdempotencyRecord(ctx context.Context, record IdempotencyRecord) error
	GetIdempotencyRecord(ctx context.Context, tenantID string, key string) (IdempotencyRecord, error)
	UpdateIdempotencyRecord(ctx context.Context, record IdempotencyRecord, fromState IdempotencyState) error
	PurgeExpiredIdempotencyRecords(ctx context.Context, nowUnixUTC int64) (int64, error)
}
