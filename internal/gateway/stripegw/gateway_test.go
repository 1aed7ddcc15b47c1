package stripegw

import (
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v76"

	"github.com/joshuahuffman02/Keepr-sub004/pkg/booking"
)

func TestNewGatewayRequiresKey(test *testing.T) {
	test.Parallel()

	if _, err := NewGateway(""); err == nil {
		test.Fatal("expected an error for a missing api key")
	}
	gateway, err := NewGateway("sk_test_123", WithCurrency("eur"))
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if gateway.currency != "eur" {
		test.Fatalf("expected currency eur, got %q", gateway.currency)
	}
}

func TestOutcomeFromIntent(test *testing.T) {
	test.Parallel()

	succeeded := outcomeFromIntent(&stripe.PaymentIntent{
		ID:           "pi_1",
		Status:       stripe.PaymentIntentStatusSucceeded,
		LatestCharge: &stripe.Charge{ID: "ch_1"},
	})
	if succeeded.Status != booking.GatewayStatusSucceeded || succeeded.ChargeRef != "ch_1" {
		test.Fatalf("unexpected outcome %+v", succeeded)
	}

	declined := outcomeFromIntent(&stripe.PaymentIntent{
		ID:     "pi_2",
		Status: stripe.PaymentIntentStatusRequiresPaymentMethod,
		LastPaymentError: &stripe.Error{
			DeclineCode: stripe.DeclineCodeInsufficientFunds,
		},
	})
	if declined.Status != booking.GatewayStatusDeclined {
		test.Fatalf("expected declined, got %+v", declined)
	}
	if declined.DeclineReason != string(stripe.DeclineCodeInsufficientFunds) {
		test.Fatalf("unexpected decline reason %q", declined.DeclineReason)
	}

	processing := outcomeFromIntent(&stripe.PaymentIntent{
		ID:     "pi_3",
		Status: stripe.PaymentIntentStatusProcessing,
	})
	if processing.Status != booking.GatewayStatusPending {
		test.Fatalf("expected pending, got %+v", processing)
	}
}

func TestDeclinedOrError(test *testing.T) {
	test.Parallel()

	cardError := &stripe.Error{
		Type:           stripe.ErrorTypeCard,
		DeclineCode:    stripe.DeclineCodeStolenCard,
		HTTPStatusCode: 402,
		PaymentIntent:  &stripe.PaymentIntent{ID: "pi_1"},
	}
	outcome, err := declinedOrError(cardError)
	if err != nil {
		test.Fatalf("card declines are outcomes, got error %v", err)
	}
	if outcome.Status != booking.GatewayStatusDeclined || outcome.IntentRef != "pi_1" {
		test.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.DeclineReason != string(stripe.DeclineCodeStolenCard) {
		test.Fatalf("unexpected decline reason %q", outcome.DeclineReason)
	}

	serverError := &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 503}
	if _, err := declinedOrError(serverError); err == nil {
		test.Fatal("server failures must stay errors so the attempt stays pending")
	}

	transportError := errors.New("dial tcp: connection refused")
	if _, err := declinedOrError(transportError); !errors.Is(err, transportError) {
		test.Fatalf("expected the transport error back, got %v", err)
	}
}

func TestParseEventTranslatesStatuses(test *testing.T) {
	test.Parallel()

	payload := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {
			"object": {
				"id": "pi_1",
				"latest_charge": {"id": "ch_1"},
				"metadata": {"tenant_id": "tenant-1"}
			}
		}
	}`)
	event, err := ParseEvent(payload, "", "")
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if event.EventID != "evt_1" || event.TenantID != "tenant-1" {
		test.Fatalf("unexpected event %+v", event)
	}
	if event.Status != booking.GatewayStatusSucceeded || event.IntentRef != "pi_1" || event.ChargeRef != "ch_1" {
		test.Fatalf("unexpected event %+v", event)
	}

	failed := []byte(`{
		"id": "evt_2",
		"type": "payment_intent.payment_failed",
		"data": {"object": {"id": "pi_2", "metadata": {"tenant_id": "tenant-1"}}}
	}`)
	event, err = ParseEvent(failed, "", "")
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if event.Status != booking.GatewayStatusDeclined {
		test.Fatalf("expected declined, got %+v", event)
	}
}

func TestParseEventRejectsBadSignature(test *testing.T) {
	test.Parallel()

	_, err := ParseEvent([]byte(`{}`), "t=1,v1=bad", "whsec_secret")
	if err == nil {
		test.Fatal("expected a signature verification error")
	}
}
