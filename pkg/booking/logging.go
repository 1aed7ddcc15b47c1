package booking

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing reservation-core operation.
type OperationLog struct {
	Operation      string
	TenantID       string
	UnitID         string
	ReservationID  string
	AttemptID      string
	IdempotencyKey string
	AmountCents    int64
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithEventPublisher wires the fire-and-forget notification dispatcher.
func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(service *Service) {
		service.events = publisher
	}
}

// WithIDGenerator overrides the reservation/attempt id generator.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}

// WithIdempotencyRetention overrides the registry retention windows.
func WithIdempotencyRetention(moneyKeys time.Duration, readKeys time.Duration) ServiceOption {
	return func(service *Service) {
		if moneyKeys > 0 {
			service.moneyKeyRetentionSeconds = int64(moneyKeys.Seconds())
		}
		if readKeys > 0 {
			service.readKeyRetentionSeconds = int64(readKeys.Seconds())
		}
	}
}
