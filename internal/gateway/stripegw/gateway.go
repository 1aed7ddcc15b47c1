// Package stripegw adapts the Stripe card API to the booking.PaymentGateway
// contract. Idempotency keys are forwarded to Stripe so a retried call after
// a crashed response dedupes on their side as well as ours.
package stripegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/joshuahuffman02/Keepr-sub004/pkg/booking"
)

const defaultCurrency = "usd"

// Gateway talks to Stripe payment intents and refunds.
type Gateway struct {
	api      *client.API
	currency string
}

// Option adjusts gateway construction.
type Option func(*Gateway)

// WithCurrency overrides the charge currency, default "usd".
func WithCurrency(currency string) Option {
	return func(gateway *Gateway) {
		gateway.currency = currency
	}
}

// NewGateway builds a Stripe-backed gateway from an API key.
func NewGateway(apiKey string, options ...Option) (*Gateway, error) {
	if apiKey == "" {
		return nil, errors.New("stripegw: missing api key")
	}
	gateway := &Gateway{
		api:      client.New(apiKey, nil),
		currency: defaultCurrency,
	}
	for _, option := range options {
		option(gateway)
	}
	return gateway, nil
}

// CreateIntent creates a payment intent for the attempt. Card declines come
// back as a declined outcome, not an error; errors mean the outcome is
// unknown and the attempt must stay pending.
func (gateway *Gateway) CreateIntent(ctx context.Context, request booking.IntentRequest) (booking.GatewayOutcome, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(request.AmountCents),
		Currency:           stripe.String(gateway.currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Description:        stripe.String("reservation " + request.ReservationID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(request.IdempotencyKey)
	params.AddMetadata("tenant_id", request.TenantID)
	params.AddMetadata("reservation_id", request.ReservationID)
	params.AddMetadata("attempt_id", request.AttemptID)

	intent, err := gateway.api.PaymentIntents.New(params)
	if err != nil {
		return declinedOrError(err)
	}
	return outcomeFromIntent(intent), nil
}

// Confirm drives a pending intent to a terminal state.
func (gateway *Gateway) Confirm(ctx context.Context, intentRef string) (booking.GatewayOutcome, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	intent, err := gateway.api.PaymentIntents.Confirm(intentRef, params)
	if err != nil {
		return declinedOrError(err)
	}
	return outcomeFromIntent(intent), nil
}

// Refund returns money against a settled charge.
func (gateway *Gateway) Refund(ctx context.Context, chargeRef string, amountCents int64, idempotencyKey string) (booking.GatewayOutcome, error) {
	params := &stripe.RefundParams{
		Charge: stripe.String(chargeRef),
		Amount: stripe.Int64(amountCents),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	created, err := gateway.api.Refunds.New(params)
	if err != nil {
		return declinedOrError(err)
	}
	return outcomeFromRefund(created), nil
}

func outcomeFromIntent(intent *stripe.PaymentIntent) booking.GatewayOutcome {
	outcome := booking.GatewayOutcome{IntentRef: intent.ID}
	if intent.LatestCharge != nil {
		outcome.ChargeRef = intent.LatestCharge.ID
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		outcome.Status = booking.GatewayStatusSucceeded
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		outcome.Status = booking.GatewayStatusDeclined
		if intent.LastPaymentError != nil {
			outcome.DeclineReason = string(intent.LastPaymentError.DeclineCode)
		}
	default:
		outcome.Status = booking.GatewayStatusPending
	}
	return outcome
}

func outcomeFromRefund(created *stripe.Refund) booking.GatewayOutcome {
	outcome := booking.GatewayOutcome{ChargeRef: created.ID}
	switch created.Status {
	case stripe.RefundStatusSucceeded:
		outcome.Status = booking.GatewayStatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		outcome.Status = booking.GatewayStatusDeclined
		outcome.DeclineReason = string(created.FailureReason)
	default:
		outcome.Status = booking.GatewayStatusPending
	}
	return outcome
}

// declinedOrError splits Stripe errors into declines, which are a definitive
// answer, and transport or server failures, where the charge may or may not
// have happened and the attempt must stay pending.
func declinedOrError(err error) (booking.GatewayOutcome, error) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return booking.GatewayOutcome{}, err
	}
	if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
		return booking.GatewayOutcome{}, err
	}
	if stripeErr.Type == stripe.ErrorTypeCard {
		reason := string(stripeErr.DeclineCode)
		if reason == "" {
			reason = string(stripeErr.Code)
		}
		outcome := booking.GatewayOutcome{
			Status:        booking.GatewayStatusDeclined,
			DeclineReason: reason,
		}
		if stripeErr.PaymentIntent != nil {
			outcome.IntentRef = stripeErr.PaymentIntent.ID
		}
		return outcome, nil
	}
	return booking.GatewayOutcome{}, err
}

// ParseEvent verifies and translates a Stripe webhook delivery. An empty
// signing secret skips signature verification, for local development only.
func ParseEvent(payload []byte, signatureHeader string, signingSecret string) (booking.GatewayEvent, error) {
	var event stripe.Event
	if signingSecret != "" {
		verified, err := webhook.ConstructEvent(payload, signatureHeader, signingSecret)
		if err != nil {
			return booking.GatewayEvent{}, fmt.Errorf("verify webhook signature: %w", err)
		}
		event = verified
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return booking.GatewayEvent{}, fmt.Errorf("decode webhook payload: %w", err)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return booking.GatewayEvent{}, fmt.Errorf("decode webhook object: %w", err)
	}

	translated := booking.GatewayEvent{
		EventID:   event.ID,
		TenantID:  intent.Metadata["tenant_id"],
		IntentRef: intent.ID,
	}
	if intent.LatestCharge != nil {
		translated.ChargeRef = intent.LatestCharge.ID
	}
	switch event.Type {
	case "payment_intent.succeeded":
		translated.Status = booking.GatewayStatusSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		translated.Status = booking.GatewayStatusDeclined
		if intent.LastPaymentError != nil {
			translated.DeclineReason = string(intent.LastPaymentError.DeclineCode)
		}
	default:
		translated.Status = booking.GatewayStatusPending
	}
	return translated, nil
}
