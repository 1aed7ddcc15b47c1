package booking

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AmountCents is a strictly positive integer currency amount in cents.
type AmountCents int64

// TenantID scopes every record and operation to one tenant.
type TenantID struct {
	value string
}

// UnitID identifies a bookable unit.
type UnitID struct {
	value string
}

// ReservationID identifies a reservation.
type ReservationID struct {
	value string
}

// AttemptID identifies one payment attempt.
type AttemptID struct {
	value string
}

// IdempotencyKey scopes duplicate detection for money movements.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewTenantID validates and normalizes a tenant id.
func NewTenantID(raw string) (TenantID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TenantID{}, fmt.Errorf("%w: empty value", ErrInvalidTenantID)
	}
	return TenantID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TenantID) String() string {
	return id.value
}

// NewUnitID validates and normalizes a unit id.
func NewUnitID(raw string) (UnitID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UnitID{}, fmt.Errorf("%w: empty value", ErrInvalidUnitID)
	}
	return UnitID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UnitID) String() string {
	return id.value
}

// NewReservationID validates and normalizes a reservation id.
func NewReservationID(raw string) (ReservationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReservationID{}, fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	return ReservationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ReservationID) String() string {
	return id.value
}

// NewAttemptID validates and normalizes a payment attempt id.
func NewAttemptID(raw string) (AttemptID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AttemptID{}, fmt.Errorf("%w: empty value", ErrInvalidAttemptID)
	}
	return AttemptID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AttemptID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewAmountCents validates an amount and ensures it is strictly positive.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw cent value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// DateRange is a half-open civil-date interval [arrival, departure).
// Departure day is not occupied, so back-to-back stays share a turnover day.
type DateRange struct {
	arrival   time.Time
	departure time.Time
}

// NewDateRange validates a stay. Zero-length and inverted ranges are invalid
// input, not conflicts.
func NewDateRange(arrival time.Time, departure time.Time) (DateRange, error) {
	normalizedArrival := midnightUTC(arrival)
	normalizedDeparture := midnightUTC(departure)
	if !normalizedDeparture.After(normalizedArrival) {
		return DateRange{}, fmt.Errorf("%w: departure must be after arrival", ErrInvalidDateRange)
	}
	return DateRange{arrival: normalizedArrival, departure: normalizedDeparture}, nil
}

// Arrival returns the first occupied day at UTC midnight.
func (stay DateRange) Arrival() time.Time {
	return stay.arrival
}

// Departure returns the first unoccupied day at UTC midnight.
func (stay DateRange) Departure() time.Time {
	return stay.departure
}

// Overlaps reports whether two half-open ranges intersect. Adjacent ranges
// (one's departure equals the other's arrival) do not overlap.
func (stay DateRange) Overlaps(other DateRange) bool {
	return stay.arrival.Before(other.departure) && other.arrival.Before(stay.departure)
}

// Nights returns the number of occupied nights.
func (stay DateRange) Nights() int {
	return int(stay.departure.Sub(stay.arrival).Hours() / 24)
}

// String renders the range as [arrival, departure).
func (stay DateRange) String() string {
	return fmt.Sprintf("[%s, %s)", stay.arrival.Format(dateLayout), stay.departure.Format(dateLayout))
}

func midnightUTC(value time.Time) time.Time {
	utc := value.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

// ReservationStatus defines the reservation lifecycle.
type ReservationStatus string

const (
	ReservationStatusPendingPayment ReservationStatus = "pending_payment"
	ReservationStatusConfirmed      ReservationStatus = "confirmed"
	ReservationStatusCheckedIn      ReservationStatus = "checked_in"
	ReservationStatusCheckedOut     ReservationStatus = "checked_out"
	ReservationStatusCancelled      ReservationStatus = "cancelled"
)

// String returns the status name.
func (status ReservationStatus) String() string {
	return string(status)
}

// Terminal reports whether the status admits no further transitions.
func (status ReservationStatus) Terminal() bool {
	return status == ReservationStatusCheckedOut || status == ReservationStatusCancelled
}

// ParseReservationStatus validates a raw status name.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	switch ReservationStatus(raw) {
	case ReservationStatusPendingPayment, ReservationStatusConfirmed, ReservationStatusCheckedIn, ReservationStatusCheckedOut, ReservationStatusCancelled:
		return ReservationStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReservationStatus, raw)
	}
}

// PaymentDirection distinguishes money in from money out.
type PaymentDirection string

const (
	DirectionCapture PaymentDirection = "capture"
	DirectionRefund  PaymentDirection = "refund"
)

// String returns the direction name.
func (direction PaymentDirection) String() string {
	return string(direction)
}

// PaymentOutcome is the terminal-or-not state of one attempt.
type PaymentOutcome string

const (
	OutcomePending   PaymentOutcome = "pending"
	OutcomeSucceeded PaymentOutcome = "succeeded"
	OutcomeFailed    PaymentOutcome = "failed"
)

// String returns the outcome name.
func (outcome PaymentOutcome) String() string {
	return string(outcome)
}

// Terminal reports whether the outcome is final.
func (outcome PaymentOutcome) Terminal() bool {
	return outcome == OutcomeSucceeded || outcome == OutcomeFailed
}

// IdempotencyScope controls the retention window of a registry record.
type IdempotencyScope string

const (
	ScopeMoney IdempotencyScope = "money"
	ScopeRead  IdempotencyScope = "read"
)

// IdempotencyState tracks a registry record from first observation to its
// stored terminal result.
type IdempotencyState string

const (
	IdempotencyStatePending   IdempotencyState = "pending"
	IdempotencyStateSucceeded IdempotencyState = "succeeded"
	IdempotencyStateFailed    IdempotencyState = "failed"
)

// Unit is a bookable resource. It carries no booking state of its own;
// occupancy is always derived from active reservations.
type Unit struct {
	TenantID       string
	UnitID         string
	Name           string
	CreatedUnixUTC int64
}

// Reservation is a claim on one unit for a half-open date range.
type Reservation struct {
	TenantID        string
	ReservationID   string
	UnitID          string
	Arrival         time.Time
	Departure       time.Time
	Status          ReservationStatus
	AmountDueCents  int64
	AmountPaidCents int64
	MetadataJSON    string
	Version         int64
	CreatedUnixUTC  int64
	UpdatedUnixUTC  int64
}

// Stay returns the reservation's date range.
func (reservation Reservation) Stay() DateRange {
	return DateRange{arrival: midnightUTC(reservation.Arrival), departure: midnightUTC(reservation.Departure)}
}

// PaymentAttempt records one attempt to move money. For refund attempts
// IntentRef holds the gateway reference of the capture being refunded and
// ChargeRef the gateway's refund reference.
type PaymentAttempt struct {
	TenantID       string
	AttemptID      string
	ReservationID  string
	Direction      PaymentDirection
	AmountCents    int64
	IdempotencyKey string
	IntentRef      string
	ChargeRef      string
	Outcome        PaymentOutcome
	DeclineReason  string
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// IdempotencyRecord maps a key to the outcome of its first execution so
// retries replay the original result instead of re-executing.
type IdempotencyRecord struct {
	TenantID         string
	Key              string
	Scope            IdempotencyScope
	State            IdempotencyState
	AttemptID        string
	ResultJSON       string
	ExpiresAtUnixUTC int64
	CreatedUnixUTC   int64
}

// PaymentState tags the outcome of a capture or refund request.
type PaymentState string

const (
	PaymentStateSucceeded PaymentState = "succeeded"
	PaymentStateDeclined  PaymentState = "declined"
	PaymentStatePending   PaymentState = "pending"
)

// PaymentResult is the tagged result of Capture and Refund. Pending means the
// gateway's answer is not yet known; a later webhook or reconcile resolves it.
type PaymentResult struct {
	State         PaymentState `json:"state"`
	AttemptID     string       `json:"attempt_id"`
	BatchID       string       `json:"batch_id,omitempty"`
	DeclineReason string       `json:"decline_reason,omitempty"`
}

func encodePaymentResult(result PaymentResult) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode payment result: %w", err)
	}
	return string(raw), nil
}

func decodePaymentResult(raw string) (PaymentResult, error) {
	var result PaymentResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return PaymentResult{}, fmt.Errorf("decode payment result: %w", err)
	}
	return result, nil
}
