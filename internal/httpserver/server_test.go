package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/joshuahuffman02/Keepr-sub004/internal/store/gormstore"
	"github.com/joshuahuffman02/Keepr-sub004/pkg/booking"
	"github.com/joshuahuffman02/Keepr-sub004/pkg/ledger"
)

type testGateway struct {
	declineNext bool
}

func (gateway *testGateway) CreateIntent(ctx context.Context, request booking.IntentRequest) (booking.GatewayOutcome, error) {
	if gateway.declineNext {
		gateway.declineNext = false
		return booking.GatewayOutcome{
			Status:        booking.GatewayStatusDeclined,
			IntentRef:     "pi_" + request.AttemptID,
			DeclineReason: "card_declined",
		}, nil
	}
	return booking.GatewayOutcome{
		Status:    booking.GatewayStatusSucceeded,
		IntentRef: "pi_" + request.AttemptID,
		ChargeRef: "ch_" + request.AttemptID,
	}, nil
}

func (gateway *testGateway) Confirm(ctx context.Context, intentRef string) (booking.GatewayOutcome, error) {
	return booking.GatewayOutcome{Status: booking.GatewayStatusSucceeded, IntentRef: intentRef}, nil
}

func (gateway *testGateway) Refund(ctx context.Context, chargeRef string, amountCents int64, idempotencyKey string) (booking.GatewayOutcome, error) {
	return booking.GatewayOutcome{Status: booking.GatewayStatusSucceeded, ChargeRef: "re_" + chargeRef}, nil
}

type testRate struct{}

func (testRate) ComputeCharges(ctx context.Context, draft booking.ReservationDraft) (booking.Charges, error) {
	return booking.Charges{TotalCents: 10000 * int64(draft.Stay.Nights())}, nil
}

type testHarness struct {
	router  *gin.Engine
	gateway *testGateway
}

func newTestHarness(test *testing.T) *testHarness {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(test.TempDir(), "api.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(test, err)
	require.NoError(test, db.AutoMigrate(gormstore.Models()...))

	postings, err := ledger.NewService(gormstore.NewLedgerStore(db), func() int64 { return time.Now().Unix() })
	require.NoError(test, err)

	gateway := &testGateway{}
	var sequence int
	bookings, err := booking.NewService(
		gormstore.NewBookingStore(db),
		postings,
		gateway,
		testRate{},
		func() int64 { return time.Now().Unix() },
		booking.WithIDGenerator(func() string {
			sequence++
			return fmt.Sprintf("id-%d", sequence)
		}),
	)
	require.NoError(test, err)

	server, err := NewServer(nil, bookings, postings, Config{})
	require.NoError(test, err)
	return &testHarness{router: server.Router(), gateway: gateway}
}

func (harness *testHarness) do(test *testing.T, method string, path string, body any) *httptest.ResponseRecorder {
	test.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(test, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(tenantHeader, "tenant-1")
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

func (harness *testHarness) decode(test *testing.T, recorder *httptest.ResponseRecorder, target any) {
	test.Helper()
	require.NoError(test, json.Unmarshal(recorder.Body.Bytes(), target))
}

func (harness *testHarness) createReservation(test *testing.T, arrival string, departure string) string {
	test.Helper()
	recorder := harness.do(test, http.MethodPost, "/v1/units", gin.H{"unit_id": "unit-1", "name": "Cabin 7"})
	require.Contains(test, []int{http.StatusCreated, http.StatusConflict}, recorder.Code)

	recorder = harness.do(test, http.MethodPost, "/v1/reservations", gin.H{
		"unit_id":   "unit-1",
		"arrival":   arrival,
		"departure": departure,
	})
	require.Equal(test, http.StatusCreated, recorder.Code)
	var created reservationResponse
	harness.decode(test, recorder, &created)
	return created.ReservationID
}

func TestCreateAndFetchReservation(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)

	reservationID := harness.createReservation(test, "2026-06-01", "2026-06-05")
	recorder := harness.do(test, http.MethodGet, "/v1/reservations/"+reservationID, nil)
	require.Equal(test, http.StatusOK, recorder.Code)

	var fetched reservationResponse
	harness.decode(test, recorder, &fetched)
	require.Equal(test, "pending_payment", fetched.Status)
	require.Equal(test, int64(40000), fetched.AmountDueCents)
	require.Equal(test, "2026-06-01", fetched.Arrival)
	require.Equal(test, "2026-06-05", fetched.Departure)
}

func TestMissingTenantHeaderRejected(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)

	request := httptest.NewRequest(http.MethodGet, "/v1/reservations/res-1", nil)
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	require.Equal(test, http.StatusBadRequest, recorder.Code)

	var response errorResponse
	harness.decode(test, recorder, &response)
	require.Equal(test, "missing_tenant", response.Code)
}

func TestDoubleBookingConflict(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)

	harness.createReservation(test, "2026-06-01", "2026-06-05")
	recorder := harness.do(test, http.MethodPost, "/v1/reservations", gin.H{
		"unit_id":   "unit-1",
		"arrival":   "2026-06-03",
		"departure": "2026-06-07",
	})
	require.Equal(test, http.StatusConflict, recorder.Code)

	var response errorResponse
	harness.decode(test, recorder, &response)
	require.Equal(test, "unit_unavailable", response.Code)
}

func TestPayConfirmsAndReplays(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)

	reservationID := harness.createReservation(test, "2026-06-01", "2026-06-05")
	payBody := gin.H{"idempotency_key": "pay-1"}

	recorder := harness.do(test, http.MethodPost, "/v1/reservations/"+reservationID+"/pay", payBody)
	require.Equal(test, http.StatusOK, recorder.Code)
	var first booking.PaymentResult
	harness.decode(test, recorder, &first)
	require.Equal(test, booking.PaymentStateSucceeded, first.State)

	recorder = harness.do(test, http.MethodPost, "/v1/reservations/"+reservationID+"/pay", payBody)
	require.Equal(test, http.StatusOK, recorder.Code)
	var replay booking.PaymentResult
	harness.decode(test, recorder, &replay)
	require.Equal(test, first, replay)

	recorder = harness.do(test, http.MethodGet, "/v1/reservations/"+reservationID, nil)
	var fetched reservationResponse
	harness.decode(test, recorder, &fetched)
	require.Equal(test, "confirmed", fetched.Status)
	require.Equal(test, fetched.AmountDueCents, fetched.AmountPaidCents)
}

func TestDeclinedPayReturns402(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)

	reservationID := harness.createReservation(test, "2026-06-01", "2026-06-05")
	harness.gateway.declineNext = true

	recorder := harness.do(test, http.MethodPost, "/v1/reservations/"+reservationID+"/pay", gin.H{"idempotency_key": "pay-1"})
	require.Equal(test, http.StatusPaymentRequired, recorder.Code)

	var result booking.PaymentResult
	harness.decode(test, recorder, &result)
	require.Equal(test, booking.PaymentStateDeclined, result.State)
	require.Equal(test, "card_declined", result.DeclineReason)
}

func TestRefundCeilingReturns422(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)

	reservationID := harness.createReservation(test, "2026-06-01", "2026-06-05")
	recorder := harness.do(test, http.MethodPost, "/v1/reservations/"+reservationID+"/pay", gin.H{"idempotency_key": "pay-1"})
	require.Equal(test, http.StatusOK, recorder.Code)

	recorder = harness.do(test, http.MethodPost, "/v1/refunds", gin.H{
		"reservation_id":  reservationID,
		"amount_cents":    99999999,
		"idempotency_key": "refund-1",
	})
	require.Equal(test, http.StatusUnprocessableEntity, recorder.Code)

	var response errorResponse
	harness.decode(test, recorder, &response)
	require.Equal(test, "invariant_violation", response.Code)
}

func TestCancelAndTrialBalance(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)

	reservationID := harness.createReservation(test, "2026-06-01", "2026-06-05")
	recorder := harness.do(test, http.MethodPost, "/v1/reservations/"+reservationID+"/pay", gin.H{"idempotency_key": "pay-1"})
	require.Equal(test, http.StatusOK, recorder.Code)
	var paid booking.PaymentResult
	harness.decode(test, recorder, &paid)

	recorder = harness.do(test, http.MethodPost, "/v1/reservations/"+reservationID+"/cancel", gin.H{"idempotency_key": "cancel-1"})
	require.Equal(test, http.StatusOK, recorder.Code)

	recorder = harness.do(test, http.MethodGet, "/v1/reservations/"+reservationID, nil)
	var fetched reservationResponse
	harness.decode(test, recorder, &fetched)
	require.Equal(test, "cancelled", fetched.Status)
	require.Zero(test, fetched.AmountPaidCents)

	// Capture then full refund nets to zero per account.
	recorder = harness.do(test, http.MethodGet, "/v1/ledger/trial-balance", nil)
	require.Equal(test, http.StatusOK, recorder.Code)
	var balances struct {
		Balances []struct {
			AccountCode string `json:"account_code"`
			NetCents    int64  `json:"net_cents"`
		} `json:"balances"`
	}
	harness.decode(test, recorder, &balances)
	for _, balance := range balances.Balances {
		require.Zero(test, balance.NetCents, "account %s", balance.AccountCode)
	}

	recorder = harness.do(test, http.MethodGet, "/v1/ledger/batches/"+paid.BatchID, nil)
	require.Equal(test, http.StatusOK, recorder.Code)
}

func TestUnknownReservationReturns404(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)

	recorder := harness.do(test, http.MethodGet, "/v1/reservations/ghost", nil)
	require.Equal(test, http.StatusNotFound, recorder.Code)
}

func TestWebhookForUnknownIntentAcknowledged(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)

	recorder := harness.do(test, http.MethodPost, "/v1/gateway/webhook", gin.H{
		"id":   "evt_1",
		"type": "payment_intent.succeeded",
		"data": gin.H{"object": gin.H{"id": "pi_ghost", "metadata": gin.H{"tenant_id": "tenant-1"}}},
	})
	require.Equal(test, http.StatusOK, recorder.Code)
}

func TestHealthz(test *testing.T) {
	test.Parallel()
	harness := newTestHarness(test)

	recorder := harness.do(test, http.MethodGet, "/healthz", nil)
	require.Equal(test, http.StatusOK, recorder.Code)
}
