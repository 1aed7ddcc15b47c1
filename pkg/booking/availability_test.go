package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestCreateReservationPersistsPendingPayment(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)

	reservation := fixture.mustCreateReservation(test, "2026-06-01", "2026-06-05")

	if reservation.Status != ReservationStatusPendingPayment {
		test.Fatalf("expected pending_payment, got %s", reservation.Status)
	}
	if reservation.AmountDueCents != 4*testNightlyRateCents {
		test.Fatalf("expected 4 nights due, got %d", reservation.AmountDueCents)
	}
	if reservation.AmountPaidCents != 0 {
		test.Fatalf("expected nothing paid, got %d", reservation.AmountPaidCents)
	}
	if reservation.Version != 1 {
		test.Fatalf("expected version 1, got %d", reservation.Version)
	}
	stored := fixture.mustGetReservation(test, reservation.ReservationID)
	if stored.ReservationID != reservation.ReservationID {
		test.Fatalf("expected reservation persisted, got %+v", stored)
	}
}

func TestCreateReservationRejectsOverlap(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	fixture.mustCreateReservation(test, "2026-06-01", "2026-06-05")

	testCases := []struct {
		name      string
		arrival   string
		departure string
	}{
		{name: "identical range", arrival: "2026-06-01", departure: "2026-06-05"},
		{name: "starts inside", arrival: "2026-06-03", departure: "2026-06-08"},
		{name: "ends inside", arrival: "2026-05-30", departure: "2026-06-02"},
		{name: "fully contains", arrival: "2026-05-30", departure: "2026-06-08"},
		{name: "fully contained", arrival: "2026-06-02", departure: "2026-06-04"},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			_, err := fixture.service.CreateReservation(context.Background(), fixture.draft(test, testCase.arrival, testCase.departure))
			if !errors.Is(err, ErrUnitUnavailable) {
				test.Fatalf("expected ErrUnitUnavailable, got %v", err)
			}
		})
	}
}

func TestCreateReservationAllowsAdjacentRanges(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	fixture.mustCreateReservation(test, "2026-06-01", "2026-06-05")

	// Back-to-back stays share the turnover day.
	fixture.mustCreateReservation(test, "2026-06-05", "2026-06-09")
	fixture.mustCreateReservation(test, "2026-05-28", "2026-06-01")
}

func TestCreateReservationIgnoresCancelledHolds(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	reservation := fixture.mustCreateReservation(test, "2026-06-01", "2026-06-05")
	if err := fixture.service.Cancel(context.Background(), fixture.tenantID, mustReservationID(test, reservation.ReservationID), mustKey(test, "cancel-1")); err != nil {
		test.Fatalf("cancel: %v", err)
	}

	fixture.mustCreateReservation(test, "2026-06-01", "2026-06-05")
}

func TestCreateReservationUnknownUnit(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	draft := fixture.draft(test, "2026-06-01", "2026-06-05")
	draft.UnitID = mustUnitID(test, "ghost-unit")

	_, err := fixture.service.CreateReservation(context.Background(), draft)
	if !errors.Is(err, ErrUnknownUnit) {
		test.Fatalf("expected ErrUnknownUnit, got %v", err)
	}
}

func TestCreateReservationValidatesDraft(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	draft := ReservationDraft{TenantID: fixture.tenantID, UnitID: fixture.unitID}

	_, err := fixture.service.CreateReservation(context.Background(), draft)
	if !errors.Is(err, ErrInvalidDraft) {
		test.Fatalf("expected ErrInvalidDraft, got %v", err)
	}
}

func TestCreateReservationDistinctUnitsIndependent(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)
	otherUnit := mustUnitID(test, "unit-2")
	if _, err := fixture.service.RegisterUnit(context.Background(), fixture.tenantID, otherUnit, "Cabin 8"); err != nil {
		test.Fatalf("register unit: %v", err)
	}
	fixture.mustCreateReservation(test, "2026-06-01", "2026-06-05")

	draft := fixture.draft(test, "2026-06-01", "2026-06-05")
	draft.UnitID = otherUnit
	if _, err := fixture.service.CreateReservation(context.Background(), draft); err != nil {
		test.Fatalf("expected independent unit to book, got %v", err)
	}
}

func TestConcurrentOverlappingRequestsGrantExactlyOne(test *testing.T) {
	test.Parallel()
	fixture := newFixture(test)

	const callers = 8
	draft := fixture.draft(test, "2026-06-01", "2026-06-05")
	var waitGroup sync.WaitGroup
	outcomes := make([]error, callers)
	for index := 0; index < callers; index++ {
		waitGroup.Add(1)
		go func(slot int) {
			defer waitGroup.Done()
			_, err := fixture.service.CreateReservation(context.Background(), draft)
			outcomes[slot] = err
		}(index)
	}
	waitGroup.Wait()

	granted := 0
	for _, err := range outcomes {
		if err == nil {
			granted++
			continue
		}
		if !errors.Is(err, ErrUnitUnavailable) {
			test.Fatalf("unexpected error: %v", err)
		}
	}
	if granted != 1 {
		test.Fatalf("expected exactly one grant, got %d", granted)
	}
}
