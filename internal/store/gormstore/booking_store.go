package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/joshuahuffman02/Keepr-sub004/pkg/booking"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	driverPostgres        = "postgres"
	defaultMetadataJSON   = "{}"
)

// BookingStore implements booking.Store using GORM.
type BookingStore struct {
	db *gorm.DB
}

// NewBookingStore returns a BookingStore backed by gorm.DB.
func NewBookingStore(db *gorm.DB) *BookingStore {
	return &BookingStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *BookingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &BookingStore{db: transaction})
	})
}

func (store *BookingStore) InsertUnit(ctx context.Context, unit booking.Unit) error {
	model := Unit{
		TenantID:  unit.TenantID,
		UnitID:    unit.UnitID,
		Name:      unit.Name,
		CreatedAt: unixOrNow(unit.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return fmt.Errorf("insert unit: %w", booking.ErrUnitExists)
	}
	if err != nil {
		return fmt.Errorf("insert unit: %w", err)
	}
	return nil
}

func (store *BookingStore) GetUnit(ctx context.Context, tenantID string, unitID string) (booking.Unit, error) {
	var model Unit
	err := store.db.WithContext(ctx).
		Where("tenant_id = ? AND unit_id = ?", tenantID, unitID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Unit{}, fmt.Errorf("get unit: %w", booking.ErrUnknownUnit)
	}
	if err != nil {
		return booking.Unit{}, fmt.Errorf("get unit: %w", err)
	}
	return booking.Unit{
		TenantID:       model.TenantID,
		UnitID:         model.UnitID,
		Name:           model.Name,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

// LockUnit takes a row lock on the unit for the rest of the transaction.
// SQLite has no FOR UPDATE; its single-writer transactions already serialize
// the overlap check-and-insert.
func (store *BookingStore) LockUnit(ctx context.Context, tenantID string, unitID string) error {
	var model Unit
	query := store.db.WithContext(ctx)
	if store.db.Dialector.Name() == driverPostgres {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.
		Where("tenant_id = ? AND unit_id = ?", tenantID, unitID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lock unit: %w", booking.ErrUnknownUnit)
	}
	if err != nil {
		return fmt.Errorf("lock unit: %w", err)
	}
	return nil
}

func (store *BookingStore) InsertReservation(ctx context.Context, reservation booking.Reservation) error {
	model := reservationModel(reservation)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (store *BookingStore) GetReservation(ctx context.Context, tenantID string, reservationID string) (booking.Reservation, error) {
	return store.getReservation(ctx, tenantID, reservationID, false)
}

func (store *BookingStore) GetReservationForUpdate(ctx context.Context, tenantID string, reservationID string) (booking.Reservation, error) {
	return store.getReservation(ctx, tenantID, reservationID, true)
}

func (store *BookingStore) getReservation(ctx context.Context, tenantID string, reservationID string, forUpdate bool) (booking.Reservation, error) {
	var model Reservation
	query := store.db.WithContext(ctx)
	if forUpdate && store.db.Dialector.Name() == driverPostgres {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.
		Where("tenant_id = ? AND reservation_id = ?", tenantID, reservationID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Reservation{}, fmt.Errorf("get reservation: %w", booking.ErrUnknownReservation)
	}
	if err != nil {
		return booking.Reservation{}, fmt.Errorf("get reservation: %w", err)
	}
	return mapReservation(model)
}

func (store *BookingStore) ListOverlapping(ctx context.Context, tenantID string, unitID string, arrival time.Time, departure time.Time) ([]booking.Reservation, error) {
	var rows []Reservation
	err := store.db.WithContext(ctx).
		Where("tenant_id = ? AND unit_id = ?", tenantID, unitID).
		Where("status <> ?", booking.ReservationStatusCancelled.String()).
		Where("arrival < ? AND ? < departure", departure, arrival).
		Order("arrival ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list overlapping: %w", err)
	}
	reservations := make([]booking.Reservation, 0, len(rows))
	for _, row := range rows {
		reservation, err := mapReservation(row)
		if err != nil {
			return nil, fmt.Errorf("list overlapping: %w", err)
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

func (store *BookingStore) UpdateReservation(ctx context.Context, reservation booking.Reservation, expectedVersion int64) error {
	model := reservationModel(reservation)
	model.Version = expectedVersion + 1
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("tenant_id = ? AND reservation_id = ? AND version = ?", reservation.TenantID, reservation.ReservationID, expectedVersion).
		Updates(map[string]interface{}{
			"status":            model.Status,
			"amount_due_cents":  model.AmountDueCents,
			"amount_paid_cents": model.AmountPaidCents,
			"metadata":          model.Metadata,
			"version":           model.Version,
			"updated_at":        model.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update reservation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update reservation: %w", booking.ErrVersionConflict)
	}
	return nil
}

func (store *BookingStore) InsertPaymentAttempt(ctx context.Context, attempt booking.PaymentAttempt) error {
	model := attemptModel(attempt)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (store *BookingStore) GetPaymentAttempt(ctx context.Context, tenantID string, attemptID string) (booking.PaymentAttempt, error) {
	var model PaymentAttempt
	err := store.db.WithContext(ctx).
		Where("tenant_id = ? AND attempt_id = ?", tenantID, attemptID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.PaymentAttempt{}, fmt.Errorf("get attempt: %w", booking.ErrUnknownAttempt)
	}
	if err != nil {
		return booking.PaymentAttempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return mapAttempt(model)
}

func (store *BookingStore) GetPaymentAttemptByIntentRef(ctx context.Context, tenantID string, intentRef string) (booking.PaymentAttempt, error) {
	if intentRef == "" {
		return booking.PaymentAttempt{}, fmt.Errorf("get attempt by intent: %w", booking.ErrUnknownAttempt)
	}
	var model PaymentAttempt
	err := store.db.WithContext(ctx).
		Where("tenant_id = ? AND intent_ref = ?", tenantID, intentRef).
		Order("created_at DESC").
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.PaymentAttempt{}, fmt.Errorf("get attempt by intent: %w", booking.ErrUnknownAttempt)
	}
	if err != nil {
		return booking.PaymentAttempt{}, fmt.Errorf("get attempt by intent: %w", err)
	}
	return mapAttempt(model)
}

func (store *BookingStore) UpdatePaymentAttempt(ctx context.Context, attempt booking.PaymentAttempt, fromOutcome booking.PaymentOutcome) error {
	model := attemptModel(attempt)
	result := store.db.WithContext(ctx).
		Model(&PaymentAttempt{}).
		Where("tenant_id = ? AND attempt_id = ? AND outcome = ?", attempt.TenantID, attempt.AttemptID, fromOutcome.String()).
		Updates(map[string]interface{}{
			"intent_ref":     model.IntentRef,
			"charge_ref":     model.ChargeRef,
			"outcome":        model.Outcome,
			"decline_reason": model.DeclineReason,
			"updated_at":     model.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update attempt: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update attempt: %w", booking.ErrVersionConflict)
	}
	return nil
}

func (store *BookingStore) SumSucceededAmount(ctx context.Context, tenantID string, reservationID string, direction booking.PaymentDirection) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&PaymentAttempt{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("tenant_id = ? AND reservation_id = ? AND direction = ? AND outcome = ?", tenantID, reservationID, direction.String(), booking.OutcomeSucceeded.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("sum succeeded: %w", err)
	}
	return sum.Total, nil
}

func (store *BookingStore) LatestSucceededAttempt(ctx context.Context, tenantID string, reservationID string, direction booking.PaymentDirection) (booking.PaymentAttempt, error) {
	var model PaymentAttempt
	err := store.db.WithContext(ctx).
		Where("tenant_id = ? AND reservation_id = ? AND direction = ? AND outcome = ?", tenantID, reservationID, direction.String(), booking.OutcomeSucceeded.String()).
		Order("updated_at DESC").
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.PaymentAttempt{}, fmt.Errorf("latest attempt: %w", booking.ErrUnknownAttempt)
	}
	if err != nil {
		return booking.PaymentAttempt{}, fmt.Errorf("latest attempt: %w", err)
	}
	return mapAttempt(model)
}

func (store *BookingStore) CreateIdempotencyRecord(ctx context.Context, record booking.IdempotencyRecord) error {
	model := IdempotencyRecord{
		TenantID:   record.TenantID,
		Key:        record.Key,
		Scope:      string(record.Scope),
		State:      string(record.State),
		AttemptID:  record.AttemptID,
		ResultJSON: record.ResultJSON,
		ExpiresAt:  time.Unix(record.ExpiresAtUnixUTC, 0).UTC(),
		CreatedAt:  unixOrNow(record.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return fmt.Errorf("create idempotency record: %w", booking.ErrIdempotencyKeyExists)
	}
	if err != nil {
		return fmt.Errorf("create idempotency record: %w", err)
	}
	return nil
}

func (store *BookingStore) GetIdempotencyRecord(ctx context.Context, tenantID string, key string) (booking.IdempotencyRecord, error) {
	var model IdempotencyRecord
	err := store.db.WithContext(ctx).
		Where("tenant_id = ? AND key = ?", tenantID, key).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", booking.ErrUnknownIdempotencyRecord)
	}
	if err != nil {
		return booking.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	return booking.IdempotencyRecord{
		TenantID:         model.TenantID,
		Key:              model.Key,
		Scope:            booking.IdempotencyScope(model.Scope),
		State:            booking.IdempotencyState(model.State),
		AttemptID:        model.AttemptID,
		ResultJSON:       model.ResultJSON,
		ExpiresAtUnixUTC: model.ExpiresAt.Unix(),
		CreatedUnixUTC:   model.CreatedAt.Unix(),
	}, nil
}

func (store *BookingStore) UpdateIdempotencyRecord(ctx context.Context, record booking.IdempotencyRecord, fromState booking.IdempotencyState) error {
	result := store.db.WithContext(ctx).
		Model(&IdempotencyRecord{}).
		Where("tenant_id = ? AND key = ? AND state = ?", record.TenantID, record.Key, string(fromState)).
		Updates(map[string]interface{}{
			"state":       string(record.State),
			"result_json": record.ResultJSON,
		})
	if result.Error != nil {
		return fmt.Errorf("update idempotency record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update idempotency record: %w", booking.ErrVersionConflict)
	}
	return nil
}

func (store *BookingStore) PurgeExpiredIdempotencyRecords(ctx context.Context, nowUnixUTC int64) (int64, error) {
	result := store.db.WithContext(ctx).
		Where("expires_at <= ?", time.Unix(nowUnixUTC, 0).UTC()).
		Delete(&IdempotencyRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func reservationModel(reservation booking.Reservation) Reservation {
	return Reservation{
		TenantID:        reservation.TenantID,
		ReservationID:   reservation.ReservationID,
		UnitID:          reservation.UnitID,
		Arrival:         reservation.Arrival.UTC(),
		Departure:       reservation.Departure.UTC(),
		Status:          reservation.Status.String(),
		AmountDueCents:  reservation.AmountDueCents,
		AmountPaidCents: reservation.AmountPaidCents,
		Metadata:        datatypesJSON(reservation.MetadataJSON),
		Version:         reservation.Version,
		CreatedAt:       unixOrNow(reservation.CreatedUnixUTC),
		UpdatedAt:       unixOrNow(reservation.UpdatedUnixUTC),
	}
}

func mapReservation(model Reservation) (booking.Reservation, error) {
	status, err := booking.ParseReservationStatus(model.Status)
	if err != nil {
		return booking.Reservation{}, fmt.Errorf("map reservation: %w", err)
	}
	return booking.Reservation{
		TenantID:        model.TenantID,
		ReservationID:   model.ReservationID,
		UnitID:          model.UnitID,
		Arrival:         model.Arrival.UTC(),
		Departure:       model.Departure.UTC(),
		Status:          status,
		AmountDueCents:  model.AmountDueCents,
		AmountPaidCents: model.AmountPaidCents,
		MetadataJSON:    string(model.Metadata),
		Version:         model.Version,
		CreatedUnixUTC:  model.CreatedAt.Unix(),
		UpdatedUnixUTC:  model.UpdatedAt.Unix(),
	}, nil
}

func attemptModel(attempt booking.PaymentAttempt) PaymentAttempt {
	return PaymentAttempt{
		TenantID:       attempt.TenantID,
		AttemptID:      attempt.AttemptID,
		ReservationID:  attempt.ReservationID,
		Direction:      attempt.Direction.String(),
		AmountCents:    attempt.AmountCents,
		IdempotencyKey: attempt.IdempotencyKey,
		IntentRef:      attempt.IntentRef,
		ChargeRef:      attempt.ChargeRef,
		Outcome:        attempt.Outcome.String(),
		DeclineReason:  attempt.DeclineReason,
		CreatedAt:      unixOrNow(attempt.CreatedUnixUTC),
		UpdatedAt:      unixOrNow(attempt.UpdatedUnixUTC),
	}
}

func mapAttempt(model PaymentAttempt) (booking.PaymentAttempt, error) {
	return booking.PaymentAttempt{
		TenantID:       model.TenantID,
		AttemptID:      model.AttemptID,
		ReservationID:  model.ReservationID,
		Direction:      booking.PaymentDirection(model.Direction),
		AmountCents:    model.AmountCents,
		IdempotencyKey: model.IdempotencyKey,
		IntentRef:      model.IntentRef,
		ChargeRef:      model.ChargeRef,
		Outcome:        booking.PaymentOutcome(model.Outcome),
		DeclineReason:  model.DeclineReason,
		CreatedUnixUTC: model.CreatedAt.Unix(),
		UpdatedUnixUTC: model.UpdatedAt.Unix(),
	}, nil
}

type sqlSum struct {
	Total int64
}

func unixOrNow(value int64) time.Time {
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
