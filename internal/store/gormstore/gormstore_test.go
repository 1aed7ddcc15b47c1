package gormstore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/joshuahuffman02/Keepr-sub004/internal/store/gormstore"
	"github.com/joshuahuffman02/Keepr-sub004/pkg/booking"
	"github.com/joshuahuffman02/Keepr-sub004/pkg/ledger"
)

func openTestDB(test *testing.T) *gorm.DB {
	test.Helper()
	path := filepath.Join(test.TempDir(), "store.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(test, err)
	require.NoError(test, db.AutoMigrate(gormstore.Models()...))
	return db
}

func TestBookingStoreUnits(test *testing.T) {
	test.Parallel()
	store := gormstore.NewBookingStore(openTestDB(test))
	ctx := context.Background()

	unit := booking.Unit{TenantID: "tenant-1", UnitID: "unit-1", Name: "Cabin 7", CreatedUnixUTC: 100}
	require.NoError(test, store.InsertUnit(ctx, unit))

	err := store.InsertUnit(ctx, unit)
	require.ErrorIs(test, err, booking.ErrUnitExists)

	fetched, err := store.GetUnit(ctx, "tenant-1", "unit-1")
	require.NoError(test, err)
	require.Equal(test, "Cabin 7", fetched.Name)

	_, err = store.GetUnit(ctx, "tenant-1", "ghost")
	require.ErrorIs(test, err, booking.ErrUnknownUnit)
	require.ErrorIs(test, store.LockUnit(ctx, "tenant-1", "ghost"), booking.ErrUnknownUnit)
	require.NoError(test, store.LockUnit(ctx, "tenant-1", "unit-1"))
}

func TestBookingStoreReservationVersioning(test *testing.T) {
	test.Parallel()
	store := gormstore.NewBookingStore(openTestDB(test))
	ctx := context.Background()

	reservation := testReservation("res-1", "2026-06-01", "2026-06-05")
	require.NoError(test, store.InsertReservation(ctx, reservation))

	fetched, err := store.GetReservation(ctx, "tenant-1", "res-1")
	require.NoError(test, err)
	require.Equal(test, int64(1), fetched.Version)
	require.Equal(test, booking.ReservationStatusPendingPayment, fetched.Status)

	fetched.Status = booking.ReservationStatusConfirmed
	require.NoError(test, store.UpdateReservation(ctx, fetched, 1))

	// A writer holding the stale version loses.
	fetched.Status = booking.ReservationStatusCancelled
	err = store.UpdateReservation(ctx, fetched, 1)
	require.ErrorIs(test, err, booking.ErrVersionConflict)

	current, err := store.GetReservation(ctx, "tenant-1", "res-1")
	require.NoError(test, err)
	require.Equal(test, booking.ReservationStatusConfirmed, current.Status)
	require.Equal(test, int64(2), current.Version)
}

func TestBookingStoreOverlapQuery(test *testing.T) {
	test.Parallel()
	store := gormstore.NewBookingStore(openTestDB(test))
	ctx := context.Background()

	require.NoError(test, store.InsertReservation(ctx, testReservation("res-1", "2026-06-01", "2026-06-05")))
	cancelled := testReservation("res-2", "2026-06-10", "2026-06-12")
	cancelled.Status = booking.ReservationStatusCancelled
	require.NoError(test, store.InsertReservation(ctx, cancelled))

	overlapping, err := store.ListOverlapping(ctx, "tenant-1", "unit-1", day(test, "2026-06-03"), day(test, "2026-06-08"))
	require.NoError(test, err)
	require.Len(test, overlapping, 1)
	require.Equal(test, "res-1", overlapping[0].ReservationID)

	// Adjacent range does not intersect.
	adjacent, err := store.ListOverlapping(ctx, "tenant-1", "unit-1", day(test, "2026-06-05"), day(test, "2026-06-09"))
	require.NoError(test, err)
	require.Empty(test, adjacent)

	// Cancelled holds release their range.
	released, err := store.ListOverlapping(ctx, "tenant-1", "unit-1", day(test, "2026-06-10"), day(test, "2026-06-12"))
	require.NoError(test, err)
	require.Empty(test, released)
}

func TestBookingStoreAttempts(test *testing.T) {
	test.Parallel()
	store := gormstore.NewBookingStore(openTestDB(test))
	ctx := context.Background()

	first := booking.PaymentAttempt{
		TenantID:       "tenant-1",
		AttemptID:      "attempt-1",
		ReservationID:  "res-1",
		Direction:      booking.DirectionCapture,
		AmountCents:    4000,
		IdempotencyKey: "pay-1",
		IntentRef:      "pi_1",
		Outcome:        booking.OutcomePending,
		CreatedUnixUTC: 100,
		UpdatedUnixUTC: 100,
	}
	require.NoError(test, store.InsertPaymentAttempt(ctx, first))

	byIntent, err := store.GetPaymentAttemptByIntentRef(ctx, "tenant-1", "pi_1")
	require.NoError(test, err)
	require.Equal(test, "attempt-1", byIntent.AttemptID)

	first.Outcome = booking.OutcomeSucceeded
	first.ChargeRef = "ch_1"
	first.UpdatedUnixUTC = 200
	require.NoError(test, store.UpdatePaymentAttempt(ctx, first, booking.OutcomePending))

	// The outcome guard makes terminal transitions first-writer-wins.
	err = store.UpdatePaymentAttempt(ctx, first, booking.OutcomePending)
	require.ErrorIs(test, err, booking.ErrVersionConflict)

	sum, err := store.SumSucceededAmount(ctx, "tenant-1", "res-1", booking.DirectionCapture)
	require.NoError(test, err)
	require.Equal(test, int64(4000), sum)

	refunds, err := store.SumSucceededAmount(ctx, "tenant-1", "res-1", booking.DirectionRefund)
	require.NoError(test, err)
	require.Zero(test, refunds)

	latest, err := store.LatestSucceededAttempt(ctx, "tenant-1", "res-1", booking.DirectionCapture)
	require.NoError(test, err)
	require.Equal(test, "ch_1", latest.ChargeRef)

	_, err = store.LatestSucceededAttempt(ctx, "tenant-1", "res-1", booking.DirectionRefund)
	require.ErrorIs(test, err, booking.ErrUnknownAttempt)
}

func TestBookingStoreIdempotencyRegistry(test *testing.T) {
	test.Parallel()
	store := gormstore.NewBookingStore(openTestDB(test))
	ctx := context.Background()

	record := booking.IdempotencyRecord{
		TenantID:         "tenant-1",
		Key:              "pay-1",
		Scope:            booking.ScopeMoney,
		State:            booking.IdempotencyStatePending,
		AttemptID:        "attempt-1",
		ExpiresAtUnixUTC: 1000,
		CreatedUnixUTC:   100,
	}
	require.NoError(test, store.CreateIdempotencyRecord(ctx, record))
	require.ErrorIs(test, store.CreateIdempotencyRecord(ctx, record), booking.ErrIdempotencyKeyExists)

	// Same key under another tenant is independent.
	other := record
	other.TenantID = "tenant-2"
	require.NoError(test, store.CreateIdempotencyRecord(ctx, other))

	record.State = booking.IdempotencyStateSucceeded
	record.ResultJSON = `{"state":"succeeded"}`
	require.NoError(test, store.UpdateIdempotencyRecord(ctx, record, booking.IdempotencyStatePending))
	require.ErrorIs(test, store.UpdateIdempotencyRecord(ctx, record, booking.IdempotencyStatePending), booking.ErrVersionConflict)

	fetched, err := store.GetIdempotencyRecord(ctx, "tenant-1", "pay-1")
	require.NoError(test, err)
	require.Equal(test, booking.IdempotencyStateSucceeded, fetched.State)
	require.Equal(test, `{"state":"succeeded"}`, fetched.ResultJSON)

	purged, err := store.PurgeExpiredIdempotencyRecords(ctx, 2000)
	require.NoError(test, err)
	require.Equal(test, int64(2), purged)

	_, err = store.GetIdempotencyRecord(ctx, "tenant-1", "pay-1")
	require.ErrorIs(test, err, booking.ErrUnknownIdempotencyRecord)
}

func TestLedgerStoreDedupeAndBalances(test *testing.T) {
	test.Parallel()
	store := gormstore.NewLedgerStore(openTestDB(test))
	ctx := context.Background()
	tenantID := mustLedgerTenant(test, "tenant-1")
	batchID := mustLedgerBatch(test, "batch-1")

	cash := mustLedgerLine(test, ledger.AccountCash, ledger.SideDebit, 4000, "batch-1:cash")
	revenue := mustLedgerLine(test, ledger.AccountRevenue, ledger.SideCredit, 4000, "batch-1:revenue")
	require.NoError(test, store.InsertLine(ctx, tenantID, batchID, 100, cash))
	require.NoError(test, store.InsertLine(ctx, tenantID, batchID, 100, revenue))

	err := store.InsertLine(ctx, tenantID, batchID, 100, cash)
	require.ErrorIs(test, err, ledger.ErrDuplicateDedupeKey)

	exists, err := store.AnyDedupeKeyExists(ctx, tenantID, []ledger.DedupeKey{cash.DedupeKey()})
	require.NoError(test, err)
	require.True(test, exists)

	exists, err = store.AnyDedupeKeyExists(ctx, tenantID, []ledger.DedupeKey{mustLedgerKey(test, "ghost")})
	require.NoError(test, err)
	require.False(test, exists)

	lines, err := store.ListBatchLines(ctx, tenantID, batchID)
	require.NoError(test, err)
	require.Len(test, lines, 2)

	balances, err := store.SumByAccount(ctx, tenantID)
	require.NoError(test, err)
	require.Equal(test, []ledger.AccountBalance{
		{AccountCode: "cash", NetCents: 4000},
		{AccountCode: "revenue", NetCents: -4000},
	}, balances)
}

func TestLedgerStoreClosedThrough(test *testing.T) {
	test.Parallel()
	store := gormstore.NewLedgerStore(openTestDB(test))
	ctx := context.Background()
	tenantID := mustLedgerTenant(test, "tenant-1")

	closed, err := store.ClosedThroughUnixUTC(ctx, tenantID)
	require.NoError(test, err)
	require.Zero(test, closed)

	require.NoError(test, store.AdvanceClosedThrough(ctx, tenantID, 1000))
	closed, err = store.ClosedThroughUnixUTC(ctx, tenantID)
	require.NoError(test, err)
	require.Equal(test, int64(1000), closed)

	// Upsert replaces the single per-tenant row.
	require.NoError(test, store.AdvanceClosedThrough(ctx, tenantID, 2000))
	closed, err = store.ClosedThroughUnixUTC(ctx, tenantID)
	require.NoError(test, err)
	require.Equal(test, int64(2000), closed)
}

func TestServicesEndToEndOnSQLite(test *testing.T) {
	test.Parallel()
	db := openTestDB(test)
	bookingStore := gormstore.NewBookingStore(db)
	ledgerStore := gormstore.NewLedgerStore(db)
	ctx := context.Background()

	postings, err := ledger.NewService(ledgerStore, func() int64 { return time.Now().Unix() })
	require.NoError(test, err)

	var sequence int
	service, err := booking.NewService(
		bookingStore,
		postings,
		instantGateway{},
		nightlyCalculator{rateCents: 10000},
		func() int64 { return time.Now().Unix() },
		booking.WithIDGenerator(func() string {
			sequence++
			return fmt.Sprintf("id-%d", sequence)
		}),
	)
	require.NoError(test, err)

	tenantID := mustBookingTenant(test, "tenant-1")
	unitID, err := booking.NewUnitID("unit-1")
	require.NoError(test, err)
	_, err = service.RegisterUnit(ctx, tenantID, unitID, "Cabin 7")
	require.NoError(test, err)

	stay, err := booking.NewDateRange(day(test, "2026-06-01"), day(test, "2026-06-05"))
	require.NoError(test, err)
	reservation, err := service.CreateReservation(ctx, booking.ReservationDraft{
		TenantID: tenantID,
		UnitID:   unitID,
		Stay:     stay,
	})
	require.NoError(test, err)
	require.Equal(test, int64(40000), reservation.AmountDueCents)

	reservationID, err := booking.NewReservationID(reservation.ReservationID)
	require.NoError(test, err)
	payKey, err := booking.NewIdempotencyKey("pay-1")
	require.NoError(test, err)

	result, err := service.Pay(ctx, tenantID, reservationID, payKey)
	require.NoError(test, err)
	require.Equal(test, booking.PaymentStateSucceeded, result.State)

	replay, err := service.Pay(ctx, tenantID, reservationID, payKey)
	require.NoError(test, err)
	require.Equal(test, result, replay)

	confirmed, err := service.GetReservation(ctx, tenantID, reservationID)
	require.NoError(test, err)
	require.Equal(test, booking.ReservationStatusConfirmed, confirmed.Status)
	require.Equal(test, confirmed.AmountDueCents, confirmed.AmountPaidCents)

	balances, err := postings.TrialBalance(ctx, mustLedgerTenant(test, "tenant-1"))
	require.NoError(test, err)
	require.Equal(test, []ledger.AccountBalance{
		{AccountCode: "cash", NetCents: 40000},
		{AccountCode: "revenue", NetCents: -40000},
	}, balances)
}

func TestConcurrentCreateReservationGrantsAtMostOnce(test *testing.T) {
	test.Parallel()
	// Writers colliding on sqlite surface as busy errors rather than blocking
	// forever; the timeout lets the winning transaction commit.
	dsn := filepath.Join(test.TempDir(), "store.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(test, err)
	require.NoError(test, db.AutoMigrate(gormstore.Models()...))
	bookingStore := gormstore.NewBookingStore(db)
	ctx := context.Background()

	postings, err := ledger.NewService(gormstore.NewLedgerStore(db), func() int64 { return time.Now().Unix() })
	require.NoError(test, err)
	service, err := booking.NewService(
		bookingStore,
		postings,
		instantGateway{},
		nightlyCalculator{rateCents: 10000},
		func() int64 { return time.Now().Unix() },
	)
	require.NoError(test, err)

	tenantID := mustBookingTenant(test, "tenant-1")
	unitID, err := booking.NewUnitID("unit-1")
	require.NoError(test, err)
	_, err = service.RegisterUnit(ctx, tenantID, unitID, "Cabin 7")
	require.NoError(test, err)

	stay, err := booking.NewDateRange(day(test, "2026-06-01"), day(test, "2026-06-05"))
	require.NoError(test, err)
	draft := booking.ReservationDraft{TenantID: tenantID, UnitID: unitID, Stay: stay}

	const guests = 8
	results := make(chan error, guests)
	start := make(chan struct{})
	var wait sync.WaitGroup
	for i := 0; i < guests; i++ {
		wait.Add(1)
		go func() {
			defer wait.Done()
			<-start
			_, err := service.CreateReservation(ctx, draft)
			results <- err
		}()
	}
	close(start)
	wait.Wait()
	close(results)

	grants := 0
	for err := range results {
		if err == nil {
			grants++
		}
	}
	require.Equal(test, 1, grants, "overlapping holds granted")

	held, err := bookingStore.ListOverlapping(ctx, "tenant-1", "unit-1", stay.Arrival(), stay.Departure())
	require.NoError(test, err)
	require.Len(test, held, 1)

	// A straggler retrying after the dust settles sees the unit taken.
	_, err = service.CreateReservation(ctx, draft)
	require.ErrorIs(test, err, booking.ErrUnitUnavailable)
}

type instantGateway struct{}

func (instantGateway) CreateIntent(ctx context.Context, request booking.IntentRequest) (booking.GatewayOutcome, error) {
	return booking.GatewayOutcome{
		Status:    booking.GatewayStatusSucceeded,
		IntentRef: "pi_" + request.AttemptID,
		ChargeRef: "ch_" + request.AttemptID,
	}, nil
}

func (instantGateway) Confirm(ctx context.Context, intentRef string) (booking.GatewayOutcome, error) {
	return booking.GatewayOutcome{Status: booking.GatewayStatusSucceeded, IntentRef: intentRef}, nil
}

func (instantGateway) Refund(ctx context.Context, chargeRef string, amountCents int64, idempotencyKey string) (booking.GatewayOutcome, error) {
	return booking.GatewayOutcome{Status: booking.GatewayStatusSucceeded, ChargeRef: "re_" + chargeRef}, nil
}

type nightlyCalculator struct {
	rateCents int64
}

func (calculator nightlyCalculator) ComputeCharges(ctx context.Context, draft booking.ReservationDraft) (booking.Charges, error) {
	total := calculator.rateCents * int64(draft.Stay.Nights())
	return booking.Charges{TotalCents: total}, nil
}

func testReservation(reservationID string, arrival string, departure string) booking.Reservation {
	return booking.Reservation{
		TenantID:       "tenant-1",
		ReservationID:  reservationID,
		UnitID:         "unit-1",
		Arrival:        mustDay(arrival),
		Departure:      mustDay(departure),
		Status:         booking.ReservationStatusPendingPayment,
		AmountDueCents: 40000,
		MetadataJSON:   "{}",
		Version:        1,
		CreatedUnixUTC: 100,
		UpdatedUnixUTC: 100,
	}
}

func day(test *testing.T, value string) time.Time {
	test.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	require.NoError(test, err)
	return parsed
}

func mustDay(value string) time.Time {
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return parsed
}

func mustBookingTenant(test *testing.T, raw string) booking.TenantID {
	test.Helper()
	value, err := booking.NewTenantID(raw)
	require.NoError(test, err)
	return value
}

func mustLedgerTenant(test *testing.T, raw string) ledger.TenantID {
	test.Helper()
	value, err := ledger.NewTenantID(raw)
	require.NoError(test, err)
	return value
}

func mustLedgerBatch(test *testing.T, raw string) ledger.BatchID {
	test.Helper()
	value, err := ledger.NewBatchID(raw)
	require.NoError(test, err)
	return value
}

func mustLedgerKey(test *testing.T, raw string) ledger.DedupeKey {
	test.Helper()
	value, err := ledger.NewDedupeKey(raw)
	require.NoError(test, err)
	return value
}

func mustLedgerLine(test *testing.T, account ledger.AccountCode, side ledger.Side, amountCents int64, dedupeKey string) ledger.Line {
	test.Helper()
	amount, err := ledger.NewAmountCents(amountCents)
	require.NoError(test, err)
	metadata, err := ledger.NewMetadataJSON("{}")
	require.NoError(test, err)
	line, err := ledger.NewLine(account, side, amount, mustLedgerKey(test, dedupeKey), "", metadata)
	require.NoError(test, err)
	return line
}
