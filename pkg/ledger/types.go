package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AmountCents is a strictly positive integer currency amount in cents.
// The posting side carries the sign; amounts themselves never go negative.
type AmountCents int64

// TenantID scopes every posting to one tenant.
type TenantID struct {
	value string
}

// BatchID identifies one posting batch (one business event).
type BatchID struct {
	value string
}

// DedupeKey makes a single line replay-safe within a tenant.
type DedupeKey struct {
	value string
}

// AccountCode names a ledger account (cash, revenue, ...).
type AccountCode struct {
	value string
}

// MetadataJSON stores arbitrary posting metadata.
type MetadataJSON struct {
	value string
}

// Well-known account codes used by the reservation core.
var (
	AccountCash            = AccountCode{value: "cash"}
	AccountRevenue         = AccountCode{value: "revenue"}
	AccountPlatformFee     = AccountCode{value: "platform_fee"}
	AccountRefundLiability = AccountCode{value: "refund_liability"}
)

// Side marks a line as a debit or a credit.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// String returns the side name.
func (side Side) String() string {
	return string(side)
}

// Opposite returns the inverted side, used when reversing a batch.
func (side Side) Opposite() Side {
	if side == SideDebit {
		return SideCredit
	}
	return SideDebit
}

// ParseSide validates a raw side name.
func ParseSide(raw string) (Side, error) {
	switch Side(raw) {
	case SideDebit, SideCredit:
		return Side(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, raw)
	}
}

// NewTenantID validates and normalizes a tenant id.
func NewTenantID(raw string) (TenantID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TenantID{}, fmt.Errorf("%w: empty value", ErrInvalidTenantID)
	}
	return TenantID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TenantID) String() string {
	return id.value
}

// NewBatchID validates and normalizes a batch id.
func NewBatchID(raw string) (BatchID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BatchID{}, fmt.Errorf("%w: empty value", ErrInvalidBatchID)
	}
	return BatchID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BatchID) String() string {
	return id.value
}

// NewDedupeKey validates and normalizes a dedupe key.
func NewDedupeKey(raw string) (DedupeKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DedupeKey{}, fmt.Errorf("%w: empty value", ErrInvalidDedupeKey)
	}
	return DedupeKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key DedupeKey) String() string {
	return key.value
}

// NewAccountCode validates an account code (lowercase snake_case).
func NewAccountCode(raw string) (AccountCode, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountCode{}, fmt.Errorf("%w: empty value", ErrInvalidAccountCode)
	}
	for _, r := range trimmed {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return AccountCode{}, fmt.Errorf("%w: %q must be lowercase snake_case", ErrInvalidAccountCode, raw)
		}
	}
	return AccountCode{value: trimmed}, nil
}

// String returns the normalized account code.
func (code AccountCode) String() string {
	return code.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewAmountCents validates an amount and ensures it is strictly positive.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw cent value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Line is a single immutable debit or credit within a batch.
type Line struct {
	accountCode  AccountCode
	side         Side
	amountCents  AmountCents
	dedupeKey    DedupeKey
	reference    string
	metadataJSON MetadataJSON
}

// NewLine assembles a validated ledger line. The reference ties the line back
// to the originating reservation or payment attempt and may be empty.
func NewLine(accountCode AccountCode, side Side, amountCents AmountCents, dedupeKey DedupeKey, reference string, metadata MetadataJSON) (Line, error) {
	if accountCode.value == "" {
		return Line{}, fmt.Errorf("%w: empty value", ErrInvalidAccountCode)
	}
	if _, err := ParseSide(side.String()); err != nil {
		return Line{}, err
	}
	if amountCents <= 0 {
		return Line{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	if dedupeKey.value == "" {
		return Line{}, fmt.Errorf("%w: empty value", ErrInvalidDedupeKey)
	}
	return Line{
		accountCode:  accountCode,
		side:         side,
		amountCents:  amountCents,
		dedupeKey:    dedupeKey,
		reference:    strings.TrimSpace(reference),
		metadataJSON: metadata,
	}, nil
}

// AccountCode returns the line account.
func (line Line) AccountCode() AccountCode { return line.accountCode }

// Side returns debit or credit.
func (line Line) Side() Side { return line.side }

// AmountCents returns the positive line amount.
func (line Line) AmountCents() AmountCents { return line.amountCents }

// DedupeKey returns the replay-protection key.
func (line Line) DedupeKey() DedupeKey { return line.dedupeKey }

// Reference returns the originating reservation or attempt reference.
func (line Line) Reference() string { return line.reference }

// MetadataJSON returns the line metadata.
func (line Line) MetadataJSON() MetadataJSON { return line.metadataJSON }

// Batch groups the lines of one business event. Post only accepts batches
// whose debit and credit sides net to zero.
type Batch struct {
	batchID            BatchID
	tenantID           TenantID
	effectiveAtUnixUTC int64
	lines              []Line
}

// NewBatch assembles a validated posting batch.
func NewBatch(batchID BatchID, tenantID TenantID, effectiveAtUnixUTC int64, lines []Line) (Batch, error) {
	if batchID.value == "" {
		return Batch{}, fmt.Errorf("%w: empty value", ErrInvalidBatchID)
	}
	if tenantID.value == "" {
		return Batch{}, fmt.Errorf("%w: empty value", ErrInvalidTenantID)
	}
	if len(lines) == 0 {
		return Batch{}, fmt.Errorf("%w: batch has no lines", ErrInvalidBatch)
	}
	seen := make(map[DedupeKey]struct{}, len(lines))
	for _, line := range lines {
		if _, duplicate := seen[line.dedupeKey]; duplicate {
			return Batch{}, fmt.Errorf("%w: dedupe key repeated within batch", ErrInvalidBatch)
		}
		seen[line.dedupeKey] = struct{}{}
	}
	copied := make([]Line, len(lines))
	copy(copied, lines)
	return Batch{
		batchID:            batchID,
		tenantID:           tenantID,
		effectiveAtUnixUTC: effectiveAtUnixUTC,
		lines:              copied,
	}, nil
}

// BatchID returns the batch identifier.
func (batch Batch) BatchID() BatchID { return batch.batchID }

// TenantID returns the owning tenant.
func (batch Batch) TenantID() TenantID { return batch.tenantID }

// EffectiveAtUnixUTC returns the accounting date of the batch.
func (batch Batch) EffectiveAtUnixUTC() int64 { return batch.effectiveAtUnixUTC }

// Lines returns a copy of the batch lines.
func (batch Batch) Lines() []Line {
	copied := make([]Line, len(batch.lines))
	copy(copied, batch.lines)
	return copied
}

// Net returns debits minus credits across the batch.
func (batch Batch) Net() int64 {
	var net int64
	for _, line := range batch.lines {
		if line.side == SideDebit {
			net += line.amountCents.Int64()
		} else {
			net -= line.amountCents.Int64()
		}
	}
	return net
}

// AccountBalance is the net position of one account (debits minus credits).
type AccountBalance struct {
	AccountCode string
	NetCents    int64
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// AnyDedupeKeyExists reports whether any of the keys has already been
	// written for the tenant.
	AnyDedupeKeyExists(ctx context.Context, tenantID TenantID, keys []DedupeKey) (bool, error)
	// InsertLine appends one immutable line. Returns ErrDuplicateDedupeKey
	// (wrapped) when the tenant-scoped dedupe key already exists.
	InsertLine(ctx context.Context, tenantID TenantID, batchID BatchID, effectiveAtUnixUTC int64, line Line) error
	ListBatchLines(ctx context.Context, tenantID TenantID, batchID BatchID) ([]Line, error)
	SumByAccount(ctx context.Context, tenantID TenantID) ([]AccountBalance, error)
	// ClosedThroughUnixUTC returns the tenant's closed-through accounting
	// date, zero when no period has been closed.
	ClosedThroughUnixUTC(ctx context.Context, tenantID TenantID) (int64, error)
	AdvanceClosedThrough(ctx context.Context, tenantID TenantID, throughUnixUTC int64) error
}
