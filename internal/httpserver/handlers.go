package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/joshuahuffman02/Keepr-sub004/internal/gateway/stripegw"
	"github.com/joshuahuffman02/Keepr-sub004/pkg/booking"
	"github.com/joshuahuffman02/Keepr-sub004/pkg/ledger"
)

const dateLayout = "2006-01-02"

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type reservationResponse struct {
	ReservationID   string `json:"reservation_id"`
	UnitID          string `json:"unit_id"`
	Arrival         string `json:"arrival"`
	Departure       string `json:"departure"`
	Status          string `json:"status"`
	AmountDueCents  int64  `json:"amount_due_cents"`
	AmountPaidCents int64  `json:"amount_paid_cents"`
	Version         int64  `json:"version"`
}

func toReservationResponse(reservation booking.Reservation) reservationResponse {
	return reservationResponse{
		ReservationID:   reservation.ReservationID,
		UnitID:          reservation.UnitID,
		Arrival:         reservation.Arrival.Format(dateLayout),
		Departure:       reservation.Departure.Format(dateLayout),
		Status:          string(reservation.Status),
		AmountDueCents:  reservation.AmountDueCents,
		AmountPaidCents: reservation.AmountPaidCents,
		Version:         reservation.Version,
	}
}

type lineResponse struct {
	AccountCode string `json:"account_code"`
	Side        string `json:"side"`
	AmountCents int64  `json:"amount_cents"`
	DedupeKey   string `json:"dedupe_key"`
	Reference   string `json:"reference,omitempty"`
}

func (server *Server) tenantID(ctx *gin.Context) (booking.TenantID, bool) {
	tenantID, err := booking.NewTenantID(ctx.GetHeader(tenantHeader))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Code: "missing_tenant", Message: "X-Tenant-ID header is required"})
		return booking.TenantID{}, false
	}
	return tenantID, true
}

func (server *Server) ledgerTenantID(ctx *gin.Context) (ledger.TenantID, bool) {
	tenantID, err := ledger.NewTenantID(ctx.GetHeader(tenantHeader))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Code: "missing_tenant", Message: "X-Tenant-ID header is required"})
		return ledger.TenantID{}, false
	}
	return tenantID, true
}

func (server *Server) handleRegisterUnit(ctx *gin.Context) {
	tenantID, ok := server.tenantID(ctx)
	if !ok {
		return
	}
	var request struct {
		UnitID string `json:"unit_id"`
		Name   string `json:"name"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
		return
	}
	unitID, err := booking.NewUnitID(request.UnitID)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	unit, err := server.bookings.RegisterUnit(ctx.Request.Context(), tenantID, unitID, request.Name)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"unit_id": unit.UnitID, "name": unit.Name})
}

func (server *Server) handleCreateReservation(ctx *gin.Context) {
	tenantID, ok := server.tenantID(ctx)
	if !ok {
		return
	}
	var request struct {
		UnitID    string `json:"unit_id"`
		Arrival   string `json:"arrival"`
		Departure string `json:"departure"`
		Metadata  string `json:"metadata,omitempty"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
		return
	}
	draft, err := buildDraft(tenantID, request.UnitID, request.Arrival, request.Departure, request.Metadata)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	reservation, err := server.bookings.CreateReservation(ctx.Request.Context(), draft)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, toReservationResponse(reservation))
}

func buildDraft(tenantID booking.TenantID, rawUnitID string, rawArrival string, rawDeparture string, rawMetadata string) (booking.ReservationDraft, error) {
	unitID, err := booking.NewUnitID(rawUnitID)
	if err != nil {
		return booking.ReservationDraft{}, err
	}
	arrival, err := time.Parse(dateLayout, rawArrival)
	if err != nil {
		return booking.ReservationDraft{}, booking.ErrInvalidDateRange
	}
	departure, err := time.Parse(dateLayout, rawDeparture)
	if err != nil {
		return booking.ReservationDraft{}, booking.ErrInvalidDateRange
	}
	stay, err := booking.NewDateRange(arrival, departure)
	if err != nil {
		return booking.ReservationDraft{}, err
	}
	metadata, err := booking.NewMetadataJSON(rawMetadata)
	if err != nil {
		return booking.ReservationDraft{}, err
	}
	return booking.ReservationDraft{TenantID: tenantID, UnitID: unitID, Stay: stay, Metadata: metadata}, nil
}

func (server *Server) handleGetReservation(ctx *gin.Context) {
	tenantID, ok := server.tenantID(ctx)
	if !ok {
		return
	}
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	reservation, err := server.bookings.GetReservation(ctx.Request.Context(), tenantID, reservationID)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toReservationResponse(reservation))
}

func (server *Server) handlePay(ctx *gin.Context) {
	tenantID, ok := server.tenantID(ctx)
	if !ok {
		return
	}
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	var request struct {
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
		return
	}
	key, err := booking.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	result, err := server.bookings.Pay(ctx.Request.Context(), tenantID, reservationID, key)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	ctx.JSON(paymentStatusCode(result), result)
}

func (server *Server) handleCancel(ctx *gin.Context) {
	tenantID, ok := server.tenantID(ctx)
	if !ok {
		return
	}
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	var request struct {
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
		return
	}
	key, err := booking.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	if err := server.bookings.Cancel(ctx.Request.Context(), tenantID, reservationID, key); err != nil {
		server.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (server *Server) handleCheckIn(ctx *gin.Context) {
	server.handleTransition(ctx, server.bookings.CheckIn)
}

func (server *Server) handleCheckOut(ctx *gin.Context) {
	server.handleTransition(ctx, server.bookings.CheckOut)
}

func (server *Server) handleTransition(ctx *gin.Context, transition func(context.Context, booking.TenantID, booking.ReservationID) (booking.Reservation, error)) {
	tenantID, ok := server.tenantID(ctx)
	if !ok {
		return
	}
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	reservation, err := transition(ctx.Request.Context(), tenantID, reservationID)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toReservationResponse(reservation))
}

func (server *Server) handleRefund(ctx *gin.Context) {
	tenantID, ok := server.tenantID(ctx)
	if !ok {
		return
	}
	var request struct {
		ReservationID  string `json:"reservation_id"`
		AmountCents    int64  `json:"amount_cents"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
		return
	}
	reservationID, err := booking.NewReservationID(request.ReservationID)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	amount, err := booking.NewAmountCents(request.AmountCents)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	key, err := booking.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	result, err := server.bookings.Refund(ctx.Request.Context(), tenantID, reservationID, amount, key)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	ctx.JSON(paymentStatusCode(result), result)
}

func (server *Server) handleReconcile(ctx *gin.Context) {
	tenantID, ok := server.tenantID(ctx)
	if !ok {
		return
	}
	attemptID, err := booking.NewAttemptID(ctx.Param("id"))
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	result, err := server.bookings.Reconcile(ctx.Request.Context(), tenantID, attemptID)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	ctx.JSON(paymentStatusCode(result), result)
}

func (server *Server) handleGatewayWebhook(ctx *gin.Context) {
	payload, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "unreadable body"})
		return
	}
	event, err := stripegw.ParseEvent(payload, ctx.GetHeader("Stripe-Signature"), server.cfg.WebhookSigningSecret)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_webhook", Message: err.Error()})
		return
	}
	if err := server.bookings.HandleGatewayEvent(ctx.Request.Context(), event); err != nil {
		// Unknown intents are acknowledged so the gateway stops retrying
		// deliveries for attempts this deployment never created.
		if errors.Is(err, booking.ErrUnknownAttempt) {
			ctx.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		server.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (server *Server) handleClosePeriod(ctx *gin.Context) {
	tenantID, ok := server.ledgerTenantID(ctx)
	if !ok {
		return
	}
	var request struct {
		ThroughUnixUTC int64 `json:"through_unix_utc"`
	}
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: err.Error()})
		return
	}
	if err := server.postings.ClosePeriod(ctx.Request.Context(), tenantID, request.ThroughUnixUTC); err != nil {
		server.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"closed_through_unix_utc": request.ThroughUnixUTC})
}

func (server *Server) handleListBatch(ctx *gin.Context) {
	tenantID, ok := server.ledgerTenantID(ctx)
	if !ok {
		return
	}
	batchID, err := ledger.NewBatchID(ctx.Param("id"))
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	lines, err := server.postings.ListBatch(ctx.Request.Context(), tenantID, batchID)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	response := make([]lineResponse, 0, len(lines))
	for _, line := range lines {
		response = append(response, lineResponse{
			AccountCode: line.AccountCode().String(),
			Side:        line.Side().String(),
			AmountCents: line.AmountCents().Int64(),
			DedupeKey:   line.DedupeKey().String(),
			Reference:   line.Reference(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"batch_id": batchID.String(), "lines": response})
}

func (server *Server) handleTrialBalance(ctx *gin.Context) {
	tenantID, ok := server.ledgerTenantID(ctx)
	if !ok {
		return
	}
	balances, err := server.postings.TrialBalance(ctx.Request.Context(), tenantID)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	type balanceResponse struct {
		AccountCode string `json:"account_code"`
		NetCents    int64  `json:"net_cents"`
	}
	response := make([]balanceResponse, 0, len(balances))
	for _, balance := range balances {
		response = append(response, balanceResponse{AccountCode: balance.AccountCode, NetCents: balance.NetCents})
	}
	ctx.JSON(http.StatusOK, gin.H{"balances": response})
}

func paymentStatusCode(result booking.PaymentResult) int {
	switch result.State {
	case booking.PaymentStateDeclined:
		return http.StatusPaymentRequired
	case booking.PaymentStatePending:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

func (server *Server) writeError(ctx *gin.Context, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		server.logger.Error("request failed", zap.Error(err))
	}
	ctx.JSON(status, errorResponse{Code: code, Message: err.Error()})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrUnknownUnit),
		errors.Is(err, booking.ErrUnknownReservation),
		errors.Is(err, booking.ErrUnknownAttempt),
		errors.Is(err, ledger.ErrUnknownBatch):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, booking.ErrUnitUnavailable):
		return http.StatusConflict, "unit_unavailable"
	case errors.Is(err, booking.ErrUnitExists):
		return http.StatusConflict, "unit_exists"
	case errors.Is(err, booking.ErrVersionConflict),
		errors.Is(err, booking.ErrIdempotencyKeyExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, booking.ErrInvalidStatusTransition),
		errors.Is(err, booking.ErrReservationClosed),
		errors.Is(err, booking.ErrNothingDue),
		errors.Is(err, booking.ErrPaymentPending):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, booking.ErrGatewayDeclined):
		return http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, booking.ErrGatewayUnavailable):
		return http.StatusBadGateway, "gateway_unavailable"
	case errors.Is(err, booking.ErrRefundExceedsCaptured),
		errors.Is(err, booking.ErrCaptureExceedsDue),
		errors.Is(err, ledger.ErrUnbalancedBatch),
		errors.Is(err, ledger.ErrPeriodClosed),
		errors.Is(err, ledger.ErrInvalidPeriod),
		errors.Is(err, ledger.ErrDuplicateDedupeKey):
		return http.StatusUnprocessableEntity, "invariant_violation"
	case isValidationError(err):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func isValidationError(err error) bool {
	validation := []error{
		booking.ErrInvalidTenantID,
		booking.ErrInvalidUnitID,
		booking.ErrInvalidReservationID,
		booking.ErrInvalidAttemptID,
		booking.ErrInvalidIdempotencyKey,
		booking.ErrInvalidMetadataJSON,
		booking.ErrInvalidAmountCents,
		booking.ErrInvalidDateRange,
		booking.ErrInvalidDraft,
		ledger.ErrInvalidTenantID,
		ledger.ErrInvalidBatchID,
	}
	for _, sentinel := range validation {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
