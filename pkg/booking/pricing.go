package booking

import (
	"context"
	"fmt"
)

// ReservationDraft is the input to pricing and reservation creation.
type ReservationDraft struct {
	TenantID TenantID
	UnitID   UnitID
	Stay     DateRange
	Metadata MetadataJSON
}

func (draft ReservationDraft) validate() error {
	if draft.TenantID.String() == "" {
		return fmt.Errorf("%w: missing tenant id", ErrInvalidDraft)
	}
	if draft.UnitID.String() == "" {
		return fmt.Errorf("%w: missing unit id", ErrInvalidDraft)
	}
	if draft.Stay.Nights() <= 0 {
		return fmt.Errorf("%w: missing date range", ErrInvalidDraft)
	}
	return nil
}

// ChargeLine is one priced component of a stay. The core treats it as opaque.
type ChargeLine struct {
	Description string
	AmountCents int64
}

// Charges is the already-computed price of a draft, produced upstream.
type Charges struct {
	TotalCents int64
	Lines      []ChargeLine
}

// ChargeCalculator is the upstream pricing/tax collaborator: a pure function
// called once when a reservation is drafted. This core does not compute
// prices or tax amounts itself.
type ChargeCalculator interface {
	ComputeCharges(ctx context.Context, draft ReservationDraft) (Charges, error)
}

type flatNightlyRate struct {
	rateCents int64
}

// FlatNightlyRate is a ChargeCalculator charging one flat rate per night,
// for deployments without an external pricing service.
func FlatNightlyRate(rateCents int64) ChargeCalculator {
	return flatNightlyRate{rateCents: rateCents}
}

func (calculator flatNightlyRate) ComputeCharges(ctx context.Context, draft ReservationDraft) (Charges, error) {
	nights := int64(draft.Stay.Nights())
	total := calculator.rateCents * nights
	return Charges{
		TotalCents: total,
		Lines: []ChargeLine{{
			Description: fmt.Sprintf("%d nights at flat rate", nights),
			AmountCents: total,
		}},
	}, nil
}
