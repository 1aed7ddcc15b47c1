package booking

import "context"

// GatewayStatus is the gateway's answer for one interaction.
type GatewayStatus string

const (
	GatewayStatusSucceeded GatewayStatus = "succeeded"
	GatewayStatusPending   GatewayStatus = "pending"
	GatewayStatusDeclined  GatewayStatus = "declined"
)

// IntentRequest carries everything the gateway needs to create an intent.
// The idempotency key is forwarded so gateway-side retries dedupe too.
type IntentRequest struct {
	TenantID       string
	ReservationID  string
	AttemptID      string
	AmountCents    int64
	IdempotencyKey string
	MetadataJSON   string
}

// GatewayOutcome is the result of one gateway interaction. A transport-level
// failure is reported as an error instead; the attempt then stays pending
// until a callback or reconcile resolves it.
type GatewayOutcome struct {
	Status        GatewayStatus
	IntentRef     string
	ChargeRef     string
	DeclineReason string
}

// PaymentGateway is the external card-network contract. Implementations are
// black boxes; the core only relies on these three calls and on the
// asynchronous callback channel delivering GatewayEvent values, possibly more
// than once and possibly out of order relative to the synchronous calls.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, request IntentRequest) (GatewayOutcome, error)
	Confirm(ctx context.Context, intentRef string) (GatewayOutcome, error)
	Refund(ctx context.Context, chargeRef string, amountCents int64, idempotencyKey string) (GatewayOutcome, error)
}

// GatewayEvent is one asynchronous gateway callback.
type GatewayEvent struct {
	EventID       string
	TenantID      string
	IntentRef     string
	Status        GatewayStatus
	ChargeRef     string
	DeclineReason string
}
