package booking

// Event names emitted for the notification subsystem.
const (
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationCancelled = "reservation.cancelled"
	EventPaymentCaptured      = "payment.captured"
	EventPaymentRefunded      = "payment.refunded"
)

// Event is one domain event. Delivery is fire-and-forget; it never blocks or
// rolls back the operation that produced it.
type Event struct {
	Name            string
	TenantID        string
	ReservationID   string
	AttemptID       string
	BatchID         string
	AmountCents     int64
	OccurredUnixUTC int64
}

// EventPublisher hands events to the notification subsystem. Publish must not
// block; implementations drop rather than stall the core.
type EventPublisher interface {
	Publish(event Event)
}
