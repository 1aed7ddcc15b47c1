package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joshuahuffman02/Keepr-sub004/pkg/ledger"
)

// errSettleCeilingExceeded aborts the settlement transaction when the attempt
// amount no longer fits the reservation's headroom. The already-posted batch
// is reversed and the attempt is failed instead of applied.
var errSettleCeilingExceeded = errors.New("settlement ceiling exceeded")

// Capture moves money in for a reservation, exactly once per idempotency
// key. The registry is consulted before any gateway call, so client retries
// and duplicate webhook deliveries replay the first outcome instead of
// re-executing. The per-key claim is never held across the gateway call.
func (service *Service) Capture(ctx context.Context, tenantID TenantID, reservationID ReservationID, amount AmountCents, idempotencyKey IdempotencyKey) (PaymentResult, error) {
	result, replayed, operationError := service.capture(ctx, tenantID, reservationID, amount, idempotencyKey)
	service.logOperation(ctx, OperationLog{
		Operation:      operationCapture,
		TenantID:       tenantID.String(),
		ReservationID:  reservationID.String(),
		AttemptID:      result.AttemptID,
		IdempotencyKey: idempotencyKey.String(),
		AmountCents:    amount.Int64(),
		Status:         replayStatus(replayed),
		Error:          operationError,
	})
	return result, operationError
}

func (service *Service) capture(ctx context.Context, tenantID TenantID, reservationID ReservationID, amount AmountCents, idempotencyKey IdempotencyKey) (PaymentResult, bool, error) {
	service.purgeExpiredKeys(ctx)
	reservation, err := service.store.GetReservation(ctx, tenantID.String(), reservationID.String())
	if err != nil {
		return PaymentResult{}, false, err
	}
	if reservation.Status.Terminal() {
		return PaymentResult{}, false, fmt.Errorf("%w: reservation %s is %s", ErrReservationClosed, reservationID.String(), reservation.Status)
	}
	attempt, replay, err := service.claimAttempt(ctx, tenantID.String(), reservation.ReservationID, DirectionCapture, amount.Int64(), idempotencyKey.String(), "")
	if err != nil {
		return PaymentResult{}, false, err
	}
	if replay != nil {
		return *replay, true, nil
	}
	intentOutcome, err := service.gateway.CreateIntent(ctx, IntentRequest{
		TenantID:       attempt.TenantID,
		ReservationID:  attempt.ReservationID,
		AttemptID:      attempt.AttemptID,
		AmountCents:    attempt.AmountCents,
		IdempotencyKey: attempt.IdempotencyKey,
		MetadataJSON:   reservation.MetadataJSON,
	})
	if err != nil {
		// The gateway's answer is unknown; the attempt stays pending until a
		// callback or a reconcile resolves it. No ledger posting happens.
		return pendingResult(attempt.AttemptID), false, nil
	}
	attempt.IntentRef = intentOutcome.IntentRef
	attempt.UpdatedUnixUTC = service.nowFn()
	if err := service.store.UpdatePaymentAttempt(ctx, attempt, OutcomePending); err != nil {
		return PaymentResult{}, false, err
	}
	outcome := intentOutcome
	if outcome.Status == GatewayStatusPending {
		confirmed, err := service.gateway.Confirm(ctx, attempt.IntentRef)
		if err != nil {
			return pendingResult(attempt.AttemptID), false, nil
		}
		outcome = confirmed
	}
	return service.settleAttempt(ctx, attempt.TenantID, attempt.AttemptID, outcome)
}

// Refund moves money back out, symmetric to Capture. The refund amount may
// never exceed the sum of prior succeeded captures minus prior succeeded
// refunds for the reservation; exceeding it is rejected in full.
func (service *Service) Refund(ctx context.Context, tenantID TenantID, reservationID ReservationID, amount AmountCents, idempotencyKey IdempotencyKey) (PaymentResult, error) {
	result, replayed, operationError := service.refund(ctx, tenantID, reservationID, amount, idempotencyKey)
	service.logOperation(ctx, OperationLog{
		Operation:      operationRefund,
		TenantID:       tenantID.String(),
		ReservationID:  reservationID.String(),
		AttemptID:      result.AttemptID,
		IdempotencyKey: idempotencyKey.String(),
		AmountCents:    amount.Int64(),
		Status:         replayStatus(replayed),
		Error:          operationError,
	})
	return result, operationError
}

func (service *Service) refund(ctx context.Context, tenantID TenantID, reservationID ReservationID, amount AmountCents, idempotencyKey IdempotencyKey) (PaymentResult, bool, error) {
	service.purgeExpiredKeys(ctx)
	reservation, err := service.store.GetReservation(ctx, tenantID.String(), reservationID.String())
	if err != nil {
		return PaymentResult{}, false, err
	}
	capture, err := service.store.LatestSucceededAttempt(ctx, tenantID.String(), reservation.ReservationID, DirectionCapture)
	if err != nil {
		if errors.Is(err, ErrUnknownAttempt) {
			return PaymentResult{}, false, fmt.Errorf("%w: no succeeded capture on reservation %s", ErrRefundExceedsCaptured, reservationID.String())
		}
		return PaymentResult{}, false, err
	}
	attempt, replay, err := service.claimAttempt(ctx, tenantID.String(), reservation.ReservationID, DirectionRefund, amount.Int64(), idempotencyKey.String(), capture.ChargeRef)
	if err != nil {
		return PaymentResult{}, false, err
	}
	if replay != nil {
		return *replay, true, nil
	}
	outcome, err := service.gateway.Refund(ctx, capture.ChargeRef, attempt.AmountCents, attempt.IdempotencyKey)
	if err != nil {
		return pendingResult(attempt.AttemptID), false, nil
	}
	return service.settleAttempt(ctx, attempt.TenantID, attempt.AttemptID, outcome)
}

// HandleGatewayEvent resolves a pending attempt from an asynchronous gateway
// callback. Callbacks may arrive more than once and out of order relative to
// the synchronous call; the registry key derived from the gateway event id
// makes redelivery a replay, and settle itself tolerates races with the
// synchronous path.
func (service *Service) HandleGatewayEvent(ctx context.Context, event GatewayEvent) error {
	operationError := service.handleGatewayEvent(ctx, event)
	service.logOperation(ctx, OperationLog{
		Operation:      operationGatewayEvent,
		TenantID:       event.TenantID,
		IdempotencyKey: idempotencyEventKeyPrefix + event.EventID,
		Error:          operationError,
	})
	return operationError
}

func (service *Service) handleGatewayEvent(ctx context.Context, event GatewayEvent) error {
	if strings.TrimSpace(event.EventID) == "" {
		return fmt.Errorf("%w: missing gateway event id", ErrInvalidIdempotencyKey)
	}
	tenantID, err := NewTenantID(event.TenantID)
	if err != nil {
		return err
	}
	if event.Status == GatewayStatusPending {
		return nil
	}
	attempt, err := service.store.GetPaymentAttemptByIntentRef(ctx, tenantID.String(), event.IntentRef)
	if err != nil {
		return err
	}
	eventKey := idempotencyEventKeyPrefix + event.EventID
	proceed, err := service.claimEventKey(ctx, tenantID.String(), eventKey, attempt.AttemptID)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	result, _, err := service.settleAttempt(ctx, tenantID.String(), attempt.AttemptID, GatewayOutcome{
		Status:        event.Status,
		IntentRef:     event.IntentRef,
		ChargeRef:     event.ChargeRef,
		DeclineReason: event.DeclineReason,
	})
	if err != nil {
		return err
	}
	return service.finishEventKey(ctx, tenantID.String(), eventKey, result)
}

// Reconcile re-runs confirmation for an unresolved attempt using its original
// idempotency key. This is the operator-facing "reconcile now" action after a
// missed gateway callback.
func (service *Service) Reconcile(ctx context.Context, tenantID TenantID, attemptID AttemptID) (PaymentResult, error) {
	result, operationError := service.reconcile(ctx, tenantID, attemptID)
	service.logOperation(ctx, OperationLog{
		Operation: operationReconcile,
		TenantID:  tenantID.String(),
		AttemptID: attemptID.String(),
		Error:     operationError,
	})
	return result, operationError
}

func (service *Service) reconcile(ctx context.Context, tenantID TenantID, attemptID AttemptID) (PaymentResult, error) {
	attempt, err := service.store.GetPaymentAttempt(ctx, tenantID.String(), attemptID.String())
	if err != nil {
		return PaymentResult{}, err
	}
	if attempt.Outcome.Terminal() {
		return service.storedResult(ctx, attempt)
	}
	outcome, err := service.resolveThroughGateway(ctx, attempt)
	if err != nil {
		return pendingResult(attempt.AttemptID), fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	result, _, err := service.settleAttempt(ctx, attempt.TenantID, attempt.AttemptID, outcome)
	return result, err
}

func (service *Service) resolveThroughGateway(ctx context.Context, attempt PaymentAttempt) (GatewayOutcome, error) {
	if attempt.Direction == DirectionRefund {
		return service.gateway.Refund(ctx, attempt.IntentRef, attempt.AmountCents, attempt.IdempotencyKey)
	}
	if attempt.IntentRef == "" {
		// The crash happened before the intent was ever created; the
		// gateway-side idempotency key makes re-creation safe.
		outcome, err := service.gateway.CreateIntent(ctx, IntentRequest{
			TenantID:       attempt.TenantID,
			ReservationID:  attempt.ReservationID,
			AttemptID:      attempt.AttemptID,
			AmountCents:    attempt.AmountCents,
			IdempotencyKey: attempt.IdempotencyKey,
		})
		if err != nil {
			return GatewayOutcome{}, err
		}
		attempt.IntentRef = outcome.IntentRef
		attempt.UpdatedUnixUTC = service.nowFn()
		if err := service.store.UpdatePaymentAttempt(ctx, attempt, OutcomePending); err != nil {
			return GatewayOutcome{}, err
		}
		if outcome.Status != GatewayStatusPending {
			return outcome, nil
		}
	}
	return service.gateway.Confirm(ctx, attempt.IntentRef)
}

// claimAttempt performs the per-key check-then-act step atomically: either
// the key is fresh and a pending attempt plus registry record are created, or
// the stored outcome of the first execution is returned for replay.
func (service *Service) claimAttempt(ctx context.Context, tenantID string, reservationID string, direction PaymentDirection, amountCents int64, key string, targetRef string) (PaymentAttempt, *PaymentResult, error) {
	for range [2]struct{}{} {
		var claimed PaymentAttempt
		var replay *PaymentResult
		err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			record, err := transactionStore.GetIdempotencyRecord(ctx, tenantID, key)
			if err == nil {
				stored, err := service.replayFromRecord(record)
				if err != nil {
					return err
				}
				replay = &stored
				return nil
			}
			if !errors.Is(err, ErrUnknownIdempotencyRecord) {
				return err
			}
			if direction == DirectionRefund {
				refundable, err := refundableCents(ctx, transactionStore, tenantID, reservationID)
				if err != nil {
					return err
				}
				if amountCents > refundable {
					return fmt.Errorf("%w: %d requested, %d refundable", ErrRefundExceedsCaptured, amountCents, refundable)
				}
			}
			now := service.nowFn()
			claimed = PaymentAttempt{
				TenantID:       tenantID,
				AttemptID:      service.newID(),
				ReservationID:  reservationID,
				Direction:      direction,
				AmountCents:    amountCents,
				IdempotencyKey: key,
				IntentRef:      targetRef,
				Outcome:        OutcomePending,
				CreatedUnixUTC: now,
				UpdatedUnixUTC: now,
			}
			if err := transactionStore.InsertPaymentAttempt(ctx, claimed); err != nil {
				return err
			}
			return transactionStore.CreateIdempotencyRecord(ctx, IdempotencyRecord{
				TenantID:         tenantID,
				Key:              key,
				Scope:            ScopeMoney,
				State:            IdempotencyStatePending,
				AttemptID:        claimed.AttemptID,
				ExpiresAtUnixUTC: now + service.retentionFor(ScopeMoney),
				CreatedUnixUTC:   now,
			})
		})
		if errors.Is(err, ErrIdempotencyKeyExists) {
			// Lost the first-writer race; the next pass replays the record.
			continue
		}
		if err != nil {
			return PaymentAttempt{}, nil, err
		}
		return claimed, replay, nil
	}
	return PaymentAttempt{}, nil, fmt.Errorf("%w: key %s", ErrIdempotencyKeyExists, key)
}

func (service *Service) replayFromRecord(record IdempotencyRecord) (PaymentResult, error) {
	if record.State == IdempotencyStatePending {
		return pendingResult(record.AttemptID), nil
	}
	return decodePaymentResult(record.ResultJSON)
}

// settleAttempt applies a known gateway outcome to a pending attempt exactly
// once. It is shared by the synchronous path, the webhook path, and
// reconcile, and is safe to call concurrently from all three.
func (service *Service) settleAttempt(ctx context.Context, tenantID string, attemptID string, outcome GatewayOutcome) (PaymentResult, bool, error) {
	switch outcome.Status {
	case GatewayStatusSucceeded:
		return service.settleSuccess(ctx, tenantID, attemptID, outcome)
	case GatewayStatusDeclined:
		return service.settleFailure(ctx, tenantID, attemptID, outcome.DeclineReason)
	default:
		return pendingResult(attemptID), false, nil
	}
}

func (service *Service) settleSuccess(ctx context.Context, tenantID string, attemptID string, outcome GatewayOutcome) (PaymentResult, bool, error) {
	attempt, err := service.store.GetPaymentAttempt(ctx, tenantID, attemptID)
	if err != nil {
		return PaymentResult{}, false, err
	}
	if attempt.Outcome.Terminal() {
		result, err := service.storedResult(ctx, attempt)
		return result, true, err
	}
	// The posting must be durable before anyone is told "succeeded". A crash
	// after the post but before the registry flip is recovered by replaying
	// this path: the batch dedupe keys make the re-post a no-op.
	batch, err := service.settlementBatch(attempt)
	if err != nil {
		return PaymentResult{}, false, err
	}
	if err := service.postings.Post(ctx, batch); err != nil {
		return PaymentResult{}, false, err
	}
	result := PaymentResult{State: PaymentStateSucceeded, AttemptID: attempt.AttemptID, BatchID: attempt.AttemptID}
	resultJSON, err := encodePaymentResult(result)
	if err != nil {
		return PaymentResult{}, false, err
	}
	confirmedNow := false
	settledNow := false
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		fresh, err := transactionStore.GetPaymentAttempt(ctx, tenantID, attemptID)
		if err != nil {
			return err
		}
		if fresh.Outcome.Terminal() {
			return nil
		}
		// The reservation row lock serializes concurrent settlers, so the
		// ceiling check below sees every previously settled attempt.
		reservation, err := transactionStore.GetReservationForUpdate(ctx, tenantID, fresh.ReservationID)
		if err != nil {
			return err
		}
		exceeded, err := exceedsSettleCeiling(ctx, transactionStore, reservation, fresh)
		if err != nil {
			return err
		}
		if exceeded {
			return errSettleCeilingExceeded
		}
		fresh.Outcome = OutcomeSucceeded
		if outcome.IntentRef != "" {
			fresh.IntentRef = outcome.IntentRef
		}
		if outcome.ChargeRef != "" {
			fresh.ChargeRef = outcome.ChargeRef
		}
		fresh.UpdatedUnixUTC = service.nowFn()
		if err := transactionStore.UpdatePaymentAttempt(ctx, fresh, OutcomePending); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				// A concurrent settler won; its result is the result.
				return nil
			}
			return err
		}
		settledNow = true
		record, err := transactionStore.GetIdempotencyRecord(ctx, tenantID, fresh.IdempotencyKey)
		if err != nil {
			return err
		}
		if record.State == IdempotencyStatePending {
			record.State = IdempotencyStateSucceeded
			record.ResultJSON = resultJSON
			if err := transactionStore.UpdateIdempotencyRecord(ctx, record, IdempotencyStatePending); err != nil {
				return err
			}
		}
		if fresh.Direction == DirectionCapture {
			reservation.AmountPaidCents += fresh.AmountCents
			if reservation.Status == ReservationStatusPendingPayment {
				reservation.Status = ReservationStatusConfirmed
				confirmedNow = true
			}
		} else {
			reservation.AmountPaidCents -= fresh.AmountCents
		}
		reservation.UpdatedUnixUTC = service.nowFn()
		return transactionStore.UpdateReservation(ctx, reservation, reservation.Version)
	})
	if errors.Is(err, errSettleCeilingExceeded) {
		return service.voidSettlement(ctx, tenantID, attempt)
	}
	if err != nil {
		return PaymentResult{}, false, err
	}
	if settledNow {
		eventName := EventPaymentCaptured
		if attempt.Direction == DirectionRefund {
			eventName = EventPaymentRefunded
		}
		service.publish(Event{
			Name:            eventName,
			TenantID:        tenantID,
			ReservationID:   attempt.ReservationID,
			AttemptID:       attempt.AttemptID,
			BatchID:         result.BatchID,
			AmountCents:     attempt.AmountCents,
			OccurredUnixUTC: service.nowFn(),
		})
	}
	if confirmedNow {
		service.publish(Event{
			Name:            EventReservationConfirmed,
			TenantID:        tenantID,
			ReservationID:   attempt.ReservationID,
			OccurredUnixUTC: service.nowFn(),
		})
	}
	return result, !settledNow, nil
}

func (service *Service) settleFailure(ctx context.Context, tenantID string, attemptID string, declineReason string) (PaymentResult, bool, error) {
	attempt, err := service.store.GetPaymentAttempt(ctx, tenantID, attemptID)
	if err != nil {
		return PaymentResult{}, false, err
	}
	if attempt.Outcome.Terminal() {
		result, err := service.storedResult(ctx, attempt)
		return result, true, err
	}
	result := PaymentResult{State: PaymentStateDeclined, AttemptID: attemptID, DeclineReason: declineReason}
	resultJSON, err := encodePaymentResult(result)
	if err != nil {
		return PaymentResult{}, false, err
	}
	settledNow := false
	holdReleased := false
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		fresh, err := transactionStore.GetPaymentAttempt(ctx, tenantID, attemptID)
		if err != nil {
			return err
		}
		if fresh.Outcome.Terminal() {
			return nil
		}
		// Locked before the attempt flip so settlers of either outcome take
		// the reservation and attempt rows in the same order.
		var reservation Reservation
		if fresh.Direction == DirectionCapture {
			reservation, err = transactionStore.GetReservationForUpdate(ctx, tenantID, fresh.ReservationID)
			if err != nil {
				return err
			}
		}
		fresh.Outcome = OutcomeFailed
		fresh.DeclineReason = declineReason
		fresh.UpdatedUnixUTC = service.nowFn()
		if err := transactionStore.UpdatePaymentAttempt(ctx, fresh, OutcomePending); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return nil
			}
			return err
		}
		settledNow = true
		record, err := transactionStore.GetIdempotencyRecord(ctx, tenantID, fresh.IdempotencyKey)
		if err != nil {
			return err
		}
		if record.State == IdempotencyStatePending {
			record.State = IdempotencyStateFailed
			record.ResultJSON = resultJSON
			if err := transactionStore.UpdateIdempotencyRecord(ctx, record, IdempotencyStatePending); err != nil {
				return err
			}
		}
		if fresh.Direction != DirectionCapture {
			return nil
		}
		// A declined capture releases the inventory hold.
		if reservation.Status == ReservationStatusPendingPayment {
			reservation.Status = ReservationStatusCancelled
			reservation.UpdatedUnixUTC = service.nowFn()
			holdReleased = true
			return transactionStore.UpdateReservation(ctx, reservation, reservation.Version)
		}
		return nil
	})
	if err != nil {
		return PaymentResult{}, false, err
	}
	if holdReleased {
		service.publish(Event{
			Name:            EventReservationCancelled,
			TenantID:        tenantID,
			ReservationID:   attempt.ReservationID,
			OccurredUnixUTC: service.nowFn(),
		})
	}
	if !settledNow {
		stored, err := service.storedResult(ctx, attempt)
		return stored, true, err
	}
	return result, false, nil
}

// storedResult rebuilds the terminal result of an attempt, preferring the
// registry's stored copy.
func (service *Service) storedResult(ctx context.Context, attempt PaymentAttempt) (PaymentResult, error) {
	record, err := service.store.GetIdempotencyRecord(ctx, attempt.TenantID, attempt.IdempotencyKey)
	if err == nil && record.State != IdempotencyStatePending && record.ResultJSON != "" {
		return decodePaymentResult(record.ResultJSON)
	}
	fresh, err := service.store.GetPaymentAttempt(ctx, attempt.TenantID, attempt.AttemptID)
	if err != nil {
		return PaymentResult{}, err
	}
	switch fresh.Outcome {
	case OutcomeSucceeded:
		return PaymentResult{State: PaymentStateSucceeded, AttemptID: fresh.AttemptID, BatchID: fresh.AttemptID}, nil
	case OutcomeFailed:
		return PaymentResult{State: PaymentStateDeclined, AttemptID: fresh.AttemptID, DeclineReason: fresh.DeclineReason}, nil
	default:
		return pendingResult(fresh.AttemptID), nil
	}
}

// settlementBatch builds the balanced posting for one money movement. There
// is exactly one batch per attempt, keyed by the attempt id, so replays after
// a crash dedupe to a no-op.
func (service *Service) settlementBatch(attempt PaymentAttempt) (ledger.Batch, error) {
	tenantID, err := ledger.NewTenantID(attempt.TenantID)
	if err != nil {
		return ledger.Batch{}, err
	}
	batchID, err := ledger.NewBatchID(attempt.AttemptID)
	if err != nil {
		return ledger.Batch{}, err
	}
	amount, err := ledger.NewAmountCents(attempt.AmountCents)
	if err != nil {
		return ledger.Batch{}, err
	}
	cashKey, err := ledger.NewDedupeKey(attempt.AttemptID + idempotencyKeyDelimiter + dedupeSuffixCash)
	if err != nil {
		return ledger.Batch{}, err
	}
	revenueKey, err := ledger.NewDedupeKey(attempt.AttemptID + idempotencyKeyDelimiter + dedupeSuffixRevenue)
	if err != nil {
		return ledger.Batch{}, err
	}
	metadata, err := ledger.NewMetadataJSON(fmt.Sprintf(`{"reservation_id":%q,"attempt_id":%q,"direction":%q}`, attempt.ReservationID, attempt.AttemptID, attempt.Direction))
	if err != nil {
		return ledger.Batch{}, err
	}
	cashSide, revenueSide := ledger.SideDebit, ledger.SideCredit
	if attempt.Direction == DirectionRefund {
		cashSide, revenueSide = ledger.SideCredit, ledger.SideDebit
	}
	cashLine, err := ledger.NewLine(ledger.AccountCash, cashSide, amount, cashKey, attempt.ReservationID, metadata)
	if err != nil {
		return ledger.Batch{}, err
	}
	revenueLine, err := ledger.NewLine(ledger.AccountRevenue, revenueSide, amount, revenueKey, attempt.ReservationID, metadata)
	if err != nil {
		return ledger.Batch{}, err
	}
	return ledger.NewBatch(batchID, tenantID, service.nowFn(), []ledger.Line{cashLine, revenueLine})
}

// claimEventKey registers a gateway event id so redelivered callbacks replay
// instead of re-settling. A still-pending claim (an earlier delivery crashed
// mid-settle) allows processing to proceed; settle itself is idempotent.
func (service *Service) claimEventKey(ctx context.Context, tenantID string, key string, attemptID string) (bool, error) {
	now := service.nowFn()
	err := service.store.CreateIdempotencyRecord(ctx, IdempotencyRecord{
		TenantID:         tenantID,
		Key:              key,
		Scope:            ScopeMoney,
		State:            IdempotencyStatePending,
		AttemptID:        attemptID,
		ExpiresAtUnixUTC: now + service.retentionFor(ScopeMoney),
		CreatedUnixUTC:   now,
	})
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrIdempotencyKeyExists) {
		return false, err
	}
	record, err := service.store.GetIdempotencyRecord(ctx, tenantID, key)
	if err != nil {
		return false, err
	}
	return record.State == IdempotencyStatePending, nil
}

func (service *Service) finishEventKey(ctx context.Context, tenantID string, key string, result PaymentResult) error {
	if result.State == PaymentStatePending {
		return nil
	}
	record, err := service.store.GetIdempotencyRecord(ctx, tenantID, key)
	if err != nil {
		return err
	}
	if record.State != IdempotencyStatePending {
		return nil
	}
	resultJSON, err := encodePaymentResult(result)
	if err != nil {
		return err
	}
	record.State = IdempotencyStateSucceeded
	if result.State == PaymentStateDeclined {
		record.State = IdempotencyStateFailed
	}
	record.ResultJSON = resultJSON
	return service.store.UpdateIdempotencyRecord(ctx, record, IdempotencyStatePending)
}

func refundableCents(ctx context.Context, store Store, tenantID string, reservationID string) (int64, error) {
	captured, err := store.SumSucceededAmount(ctx, tenantID, reservationID, DirectionCapture)
	if err != nil {
		return 0, err
	}
	refunded, err := store.SumSucceededAmount(ctx, tenantID, reservationID, DirectionRefund)
	if err != nil {
		return 0, err
	}
	return captured - refunded, nil
}

// exceedsSettleCeiling reports whether settling the attempt as succeeded
// would overdraw the reservation: a capture past the amount still due, or a
// refund past the refundable remainder. The claim-time checks cannot see
// attempts that were still unresolved at the gateway, so the check is
// repeated here under the reservation lock.
func exceedsSettleCeiling(ctx context.Context, store Store, reservation Reservation, attempt PaymentAttempt) (bool, error) {
	if attempt.Direction == DirectionCapture {
		return attempt.AmountCents > reservation.AmountDueCents-reservation.AmountPaidCents, nil
	}
	refundable, err := refundableCents(ctx, store, attempt.TenantID, attempt.ReservationID)
	if err != nil {
		return false, err
	}
	return attempt.AmountCents > refundable, nil
}

// voidSettlement compensates a posted settlement whose attempt failed the
// ceiling check: the batch is reversed and the attempt is failed. Both steps
// are idempotent, so a crash between them is recovered by the next reconcile
// walking the same path.
func (service *Service) voidSettlement(ctx context.Context, tenantID string, attempt PaymentAttempt) (PaymentResult, bool, error) {
	ledgerTenantID, err := ledger.NewTenantID(tenantID)
	if err != nil {
		return PaymentResult{}, false, err
	}
	originalBatchID, err := ledger.NewBatchID(attempt.AttemptID)
	if err != nil {
		return PaymentResult{}, false, err
	}
	voidBatchID, err := ledger.NewBatchID(attempt.AttemptID + idempotencyKeyDelimiter + batchSuffixVoid)
	if err != nil {
		return PaymentResult{}, false, err
	}
	reason := "capture exceeds amount due"
	ceilingErr := ErrCaptureExceedsDue
	if attempt.Direction == DirectionRefund {
		reason = "refund exceeds captured total"
		ceilingErr = ErrRefundExceedsCaptured
	}
	metadata, err := ledger.NewMetadataJSON(fmt.Sprintf(`{"voided_attempt_id":%q,"reason":%q}`, attempt.AttemptID, reason))
	if err != nil {
		return PaymentResult{}, false, err
	}
	if err := service.postings.Reverse(ctx, ledgerTenantID, originalBatchID, voidBatchID, metadata); err != nil {
		return PaymentResult{}, false, err
	}
	result, replayed, err := service.settleFailure(ctx, tenantID, attempt.AttemptID, reason)
	if err != nil {
		return result, replayed, err
	}
	return result, replayed, fmt.Errorf("%w: attempt %s", ceilingErr, attempt.AttemptID)
}

// purgeExpiredKeys garbage-collects the registry opportunistically on money
// operations; best effort only.
func (service *Service) purgeExpiredKeys(ctx context.Context) {
	_, _ = service.store.PurgeExpiredIdempotencyRecords(ctx, service.nowFn())
}

func pendingResult(attemptID string) PaymentResult {
	return PaymentResult{State: PaymentStatePending, AttemptID: attemptID}
}

func replayStatus(replayed bool) string {
	if replayed {
		return operationStatusReplayed
	}
	return ""
}
