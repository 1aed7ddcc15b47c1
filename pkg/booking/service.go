package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/joshuahuffman02/Keepr-sub004/pkg/ledger"
)

// Service is the reservation lifecycle manager. It composes the availability
// engine, the payment capture coordinator, and the posting engine into the
// guest-facing verbs.
type Service struct {
	store      Store
	postings   *ledger.Service
	gateway    PaymentGateway
	calculator ChargeCalculator
	events     EventPublisher
	nowFn      func() int64
	newID      func() string
	logger     OperationLogger

	moneyKeyRetentionSeconds int64
	readKeyRetentionSeconds  int64
}

// NewService wires a Service.
func NewService(store Store, postings *ledger.Service, gateway PaymentGateway, calculator ChargeCalculator, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if postings == nil {
		return nil, fmt.Errorf("%w: posting engine dependency is nil", ErrInvalidServiceConfig)
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway dependency is nil", ErrInvalidServiceConfig)
	}
	if calculator == nil {
		return nil, fmt.Errorf("%w: charge calculator dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:                    store,
		postings:                 postings,
		gateway:                  gateway,
		calculator:               calculator,
		nowFn:                    now,
		newID:                    uuid.NewString,
		moneyKeyRetentionSeconds: defaultMoneyKeyRetentionSeconds,
		readKeyRetentionSeconds:  defaultReadKeyRetentionSeconds,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// RegisterUnit adds a bookable unit for a tenant.
func (service *Service) RegisterUnit(ctx context.Context, tenantID TenantID, unitID UnitID, name string) (Unit, error) {
	unit := Unit{
		TenantID:       tenantID.String(),
		UnitID:         unitID.String(),
		Name:           name,
		CreatedUnixUTC: service.nowFn(),
	}
	operationError := service.store.InsertUnit(ctx, unit)
	service.logOperation(ctx, OperationLog{
		Operation: operationRegisterUnit,
		TenantID:  tenantID.String(),
		UnitID:    unitID.String(),
		Error:     operationError,
	})
	if operationError != nil {
		return Unit{}, operationError
	}
	return unit, nil
}

// GetReservation returns one reservation scoped by tenant.
func (service *Service) GetReservation(ctx context.Context, tenantID TenantID, reservationID ReservationID) (Reservation, error) {
	return service.store.GetReservation(ctx, tenantID.String(), reservationID.String())
}

// Pay captures the outstanding balance of a pending reservation. A captured
// payment confirms the reservation; a decline releases the hold; a pending
// gateway answer leaves the reservation awaiting its webhook or a reconcile.
func (service *Service) Pay(ctx context.Context, tenantID TenantID, reservationID ReservationID, idempotencyKey IdempotencyKey) (PaymentResult, error) {
	reservation, err := service.store.GetReservation(ctx, tenantID.String(), reservationID.String())
	if err != nil {
		return PaymentResult{}, err
	}
	dueCents := reservation.AmountDueCents - reservation.AmountPaidCents
	if reservation.Status != ReservationStatusPendingPayment || dueCents <= 0 {
		// A retried pay whose first execution already confirmed the
		// reservation must replay the stored result, not fail on status.
		if record, recordErr := service.store.GetIdempotencyRecord(ctx, tenantID.String(), idempotencyKey.String()); recordErr == nil {
			return service.replayFromRecord(record)
		}
		if reservation.Status != ReservationStatusPendingPayment {
			return PaymentResult{}, fmt.Errorf("%w: pay requires %s, reservation is %s", ErrInvalidStatusTransition, ReservationStatusPendingPayment, reservation.Status)
		}
		return PaymentResult{}, fmt.Errorf("%w: reservation %s", ErrNothingDue, reservationID.String())
	}
	amount, err := NewAmountCents(dueCents)
	if err != nil {
		return PaymentResult{}, err
	}
	result, operationError := service.Capture(ctx, tenantID, reservationID, amount, idempotencyKey)
	service.logOperation(ctx, OperationLog{
		Operation:      operationPay,
		TenantID:       tenantID.String(),
		ReservationID:  reservationID.String(),
		AttemptID:      result.AttemptID,
		IdempotencyKey: idempotencyKey.String(),
		AmountCents:    dueCents,
		Error:          operationError,
	})
	return result, operationError
}

// Cancel moves a reservation to cancelled, releasing its date range. A
// confirmed (or checked-in) reservation with money on it first gets a
// compensating refund; if that refund does not succeed the reservation keeps
// its current status and the cancellation is reported as failed rather than
// silently losing money.
func (service *Service) Cancel(ctx context.Context, tenantID TenantID, reservationID ReservationID, idempotencyKey IdempotencyKey) error {
	operationError := service.cancel(ctx, tenantID, reservationID, idempotencyKey)
	service.logOperation(ctx, OperationLog{
		Operation:      operationCancel,
		TenantID:       tenantID.String(),
		ReservationID:  reservationID.String(),
		IdempotencyKey: idempotencyKey.String(),
		Error:          operationError,
	})
	return operationError
}

func (service *Service) cancel(ctx context.Context, tenantID TenantID, reservationID ReservationID, idempotencyKey IdempotencyKey) error {
	reservation, err := service.store.GetReservation(ctx, tenantID.String(), reservationID.String())
	if err != nil {
		return err
	}
	if reservation.Status == ReservationStatusCancelled {
		return nil
	}
	if reservation.Status.Terminal() {
		return fmt.Errorf("%w: reservation %s is %s", ErrReservationClosed, reservationID.String(), reservation.Status)
	}
	if reservation.AmountPaidCents > 0 {
		refundAmount, err := NewAmountCents(reservation.AmountPaidCents)
		if err != nil {
			return err
		}
		refundKey, err := deriveIdempotencyKey(idempotencyKey, idempotencySuffixRefund)
		if err != nil {
			return err
		}
		result, err := service.Refund(ctx, tenantID, reservationID, refundAmount, refundKey)
		if err != nil {
			return err
		}
		switch result.State {
		case PaymentStateDeclined:
			return fmt.Errorf("%w: compensating refund declined: %s", ErrGatewayDeclined, result.DeclineReason)
		case PaymentStatePending:
			return fmt.Errorf("%w: compensating refund not yet confirmed", ErrPaymentPending)
		}
	}
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		fresh, err := transactionStore.GetReservationForUpdate(ctx, tenantID.String(), reservationID.String())
		if err != nil {
			return err
		}
		if fresh.Status == ReservationStatusCancelled {
			return nil
		}
		if fresh.Status.Terminal() {
			return fmt.Errorf("%w: reservation %s is %s", ErrReservationClosed, reservationID.String(), fresh.Status)
		}
		fresh.Status = ReservationStatusCancelled
		fresh.UpdatedUnixUTC = service.nowFn()
		return transactionStore.UpdateReservation(ctx, fresh, fresh.Version)
	})
	if err != nil {
		return err
	}
	service.publish(Event{
		Name:            EventReservationCancelled,
		TenantID:        tenantID.String(),
		ReservationID:   reservationID.String(),
		OccurredUnixUTC: service.nowFn(),
	})
	return nil
}

// CheckIn moves a confirmed reservation to checked_in.
func (service *Service) CheckIn(ctx context.Context, tenantID TenantID, reservationID ReservationID) (Reservation, error) {
	return service.transition(ctx, operationCheckIn, tenantID, reservationID, ReservationStatusConfirmed, ReservationStatusCheckedIn)
}

// CheckOut moves a checked-in reservation to checked_out.
func (service *Service) CheckOut(ctx context.Context, tenantID TenantID, reservationID ReservationID) (Reservation, error) {
	return service.transition(ctx, operationCheckOut, tenantID, reservationID, ReservationStatusCheckedIn, ReservationStatusCheckedOut)
}

func (service *Service) transition(ctx context.Context, operation string, tenantID TenantID, reservationID ReservationID, from ReservationStatus, to ReservationStatus) (Reservation, error) {
	var updated Reservation
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		reservation, err := transactionStore.GetReservationForUpdate(ctx, tenantID.String(), reservationID.String())
		if err != nil {
			return err
		}
		if reservation.Status != from {
			return fmt.Errorf("%w: %s requires %s, reservation is %s", ErrInvalidStatusTransition, operation, from, reservation.Status)
		}
		reservation.Status = to
		reservation.UpdatedUnixUTC = service.nowFn()
		if err := transactionStore.UpdateReservation(ctx, reservation, reservation.Version); err != nil {
			return err
		}
		reservation.Version++
		updated = reservation
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operation,
		TenantID:      tenantID.String(),
		ReservationID: reservationID.String(),
		Error:         operationError,
	})
	if operationError != nil {
		return Reservation{}, operationError
	}
	return updated, nil
}

func deriveIdempotencyKey(baseKey IdempotencyKey, suffix string) (IdempotencyKey, error) {
	combined := baseKey.String() + idempotencyKeyDelimiter + suffix
	return NewIdempotencyKey(combined)
}

func (service *Service) publish(event Event) {
	if service.events == nil {
		return
	}
	service.events.Publish(event)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) retentionFor(scope IdempotencyScope) int64 {
	if scope == ScopeRead {
		return service.readKeyRetentionSeconds
	}
	return service.moneyKeyRetentionSeconds
}
