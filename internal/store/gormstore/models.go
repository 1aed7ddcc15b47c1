package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Unit mirrors the units table.
type Unit struct {
	TenantID  string    `gorm:"primaryKey"`
	UnitID    string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Unit) TableName() string { return "units" }

// Reservation mirrors the reservations table. Arrival and departure are
// civil dates stored at UTC midnight; the range is half-open.
type Reservation struct {
	TenantID        string         `gorm:"primaryKey;index:idx_reservations_tenant_unit,priority:1"`
	ReservationID   string         `gorm:"primaryKey"`
	UnitID          string         `gorm:"not null;index:idx_reservations_tenant_unit,priority:2"`
	Arrival         time.Time      `gorm:"not null"`
	Departure       time.Time      `gorm:"not null"`
	Status          string         `gorm:"not null;index"`
	AmountDueCents  int64          `gorm:"not null"`
	AmountPaidCents int64          `gorm:"not null"`
	Metadata        datatypes.JSON `gorm:"not null"`
	Version         int64          `gorm:"not null"`
	CreatedAt       time.Time      `gorm:"not null"`
	UpdatedAt       time.Time      `gorm:"not null"`
}

func (Reservation) TableName() string { return "reservations" }

// PaymentAttempt mirrors the payment_attempts table.
type PaymentAttempt struct {
	TenantID       string    `gorm:"primaryKey;index:idx_attempts_tenant_reservation,priority:1;index:idx_attempts_tenant_intent,priority:1"`
	AttemptID      string    `gorm:"primaryKey"`
	ReservationID  string    `gorm:"not null;index:idx_attempts_tenant_reservation,priority:2"`
	Direction      string    `gorm:"not null"`
	AmountCents    int64     `gorm:"not null"`
	IdempotencyKey string    `gorm:"not null"`
	IntentRef      string    `gorm:"index:idx_attempts_tenant_intent,priority:2"`
	ChargeRef      string    `gorm:""`
	Outcome        string    `gorm:"not null"`
	DeclineReason  string    `gorm:""`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (PaymentAttempt) TableName() string { return "payment_attempts" }

// IdempotencyRecord mirrors the idempotency_records table. The composite
// primary key is the uniqueness guarantee the first-writer-wins claim
// depends on.
type IdempotencyRecord struct {
	TenantID   string    `gorm:"primaryKey"`
	Key        string    `gorm:"primaryKey"`
	Scope      string    `gorm:"not null"`
	State      string    `gorm:"not null"`
	AttemptID  string    `gorm:""`
	ResultJSON string    `gorm:""`
	ExpiresAt  time.Time `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_records" }

// LedgerLine mirrors the append-only ledger_lines table. Lines are never
// updated or deleted; corrections arrive as new offsetting lines.
type LedgerLine struct {
	LineID      string         `gorm:"type:uuid;primaryKey"`
	TenantID    string         `gorm:"not null;index:uniq_lines_tenant_dedupe,unique,priority:1;index:idx_lines_tenant_batch,priority:1"`
	BatchID     string         `gorm:"not null;index:idx_lines_tenant_batch,priority:2"`
	AccountCode string         `gorm:"not null"`
	Side        string         `gorm:"not null"`
	AmountCents int64          `gorm:"not null"`
	DedupeKey   string         `gorm:"not null;index:uniq_lines_tenant_dedupe,unique,priority:2"`
	Reference   string         `gorm:""`
	Metadata    datatypes.JSON `gorm:"not null"`
	EffectiveAt time.Time      `gorm:"not null"`
	CreatedAt   time.Time      `gorm:"not null"`
}

func (LedgerLine) TableName() string { return "ledger_lines" }

func (line *LedgerLine) BeforeCreate(tx *gorm.DB) error {
	if line.LineID == "" {
		line.LineID = uuid.NewString()
	}
	return nil
}

// AccountingPeriod mirrors the accounting_periods table: one row per tenant
// holding its closed-through date.
type AccountingPeriod struct {
	TenantID      string    `gorm:"primaryKey"`
	ClosedThrough time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (AccountingPeriod) TableName() string { return "accounting_periods" }

// Models returns every table for migration.
func Models() []interface{} {
	return []interface{}{
		&Unit{},
		&Reservation{},
		&PaymentAttempt{},
		&IdempotencyRecord{},
		&LedgerLine{},
		&AccountingPeriod{},
	}
}
