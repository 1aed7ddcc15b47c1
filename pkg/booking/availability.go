package booking

import (
	"context"
	"fmt"
)

// CreateReservation prices a draft, atomically reserves the unit for the
// requested range, and persists the reservation in pending_payment.
//
// Availability is never a cached flag on the unit: under the per-unit lock
// the existing non-cancelled reservations are queried for intersection with
// the requested half-open range, and the new row is inserted inside the same
// locked section. Two concurrent overlapping requests on one unit therefore
// yield at most one grant. Adjacent ranges (departure of one equals arrival
// of the other) do not intersect and are both grantable.
func (service *Service) CreateReservation(ctx context.Context, draft ReservationDraft) (Reservation, error) {
	reservation, operationError := service.createReservation(ctx, draft)
	service.logOperation(ctx, OperationLog{
		Operation:     operationCreateReservation,
		TenantID:      draft.TenantID.String(),
		UnitID:        draft.UnitID.String(),
		ReservationID: reservation.ReservationID,
		AmountCents:   reservation.AmountDueCents,
		Error:         operationError,
	})
	return reservation, operationError
}

func (service *Service) createReservation(ctx context.Context, draft ReservationDraft) (Reservation, error) {
	if err := draft.validate(); err != nil {
		return Reservation{}, err
	}
	charges, err := service.calculator.ComputeCharges(ctx, draft)
	if err != nil {
		return Reservation{}, err
	}
	if charges.TotalCents <= 0 {
		return Reservation{}, fmt.Errorf("%w: computed charge must be greater than zero", ErrInvalidAmountCents)
	}
	now := service.nowFn()
	reservation := Reservation{
		TenantID:       draft.TenantID.String(),
		ReservationID:  service.newID(),
		UnitID:         draft.UnitID.String(),
		Arrival:        draft.Stay.Arrival(),
		Departure:      draft.Stay.Departure(),
		Status:         ReservationStatusPendingPayment,
		AmountDueCents: charges.TotalCents,
		MetadataJSON:   draft.Metadata.String(),
		Version:        1,
		CreatedUnixUTC: now,
		UpdatedUnixUTC: now,
	}
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.LockUnit(ctx, reservation.TenantID, reservation.UnitID); err != nil {
			return err
		}
		overlapping, err := transactionStore.ListOverlapping(ctx, reservation.TenantID, reservation.UnitID, reservation.Arrival, reservation.Departure)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return fmt.Errorf("%w: unit %s for %s", ErrUnitUnavailable, reservation.UnitID, draft.Stay)
		}
		return transactionStore.InsertReservation(ctx, reservation)
	})
	if err != nil {
		return Reservation{}, err
	}
	return reservation, nil
}
