package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/joshuahuffman02/Keepr-sub004/pkg/ledger"
)

const (
	errorOperationStore = "store"
	errorSubjectLine    = "line"
	errorSubjectBalance = "balance"
	errorSubjectPeriod  = "period"
	errorCodeDuplicate  = "duplicate"
	errorCodeExists     = "exists"
	errorCodeInsert     = "insert"
	errorCodeInvalid    = "invalid"
	errorCodeList       = "list"
	errorCodeLookup     = "lookup"
	errorCodeSum        = "sum"
	errorCodeUpsert     = "upsert"
)

// LedgerStore implements ledger.Store using GORM over the same database as
// BookingStore, so a capture's posting and registry flip can share one
// transaction boundary at the database level.
type LedgerStore struct {
	db *gorm.DB
}

// NewLedgerStore returns a LedgerStore backed by gorm.DB.
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction})
	})
}

func (store *LedgerStore) AnyDedupeKeyExists(ctx context.Context, tenantID ledger.TenantID, keys []ledger.DedupeKey) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}
	rawKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		rawKeys = append(rawKeys, key.String())
	}
	var count int64
	err := store.db.WithContext(ctx).
		Model(&LedgerLine{}).
		Where("tenant_id = ? AND dedupe_key IN ?", tenantID.String(), rawKeys).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectLine, errorCodeExists, err)
	}
	return count > 0, nil
}

func (store *LedgerStore) InsertLine(ctx context.Context, tenantID ledger.TenantID, batchID ledger.BatchID, effectiveAtUnixUTC int64, line ledger.Line) error {
	model := LedgerLine{
		TenantID:    tenantID.String(),
		BatchID:     batchID.String(),
		AccountCode: line.AccountCode().String(),
		Side:        line.Side().String(),
		AmountCents: line.AmountCents().Int64(),
		DedupeKey:   line.DedupeKey().String(),
		Reference:   line.Reference(),
		Metadata:    datatypesJSON(line.MetadataJSON().String()),
		EffectiveAt: time.Unix(effectiveAtUnixUTC, 0).UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectLine, errorCodeDuplicate, ledger.ErrDuplicateDedupeKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectLine, errorCodeInsert, err)
	}
	return nil
}

func (store *LedgerStore) ListBatchLines(ctx context.Context, tenantID ledger.TenantID, batchID ledger.BatchID) ([]ledger.Line, error) {
	var rows []LedgerLine
	err := store.db.WithContext(ctx).
		Where("tenant_id = ? AND batch_id = ?", tenantID.String(), batchID.String()).
		Order("created_at ASC, line_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLine, errorCodeList, err)
	}
	lines := make([]ledger.Line, 0, len(rows))
	for _, row := range rows {
		line, err := mapLedgerLine(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLine, errorCodeInvalid, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (store *LedgerStore) SumByAccount(ctx context.Context, tenantID ledger.TenantID) ([]ledger.AccountBalance, error) {
	var rows []struct {
		AccountCode string
		NetCents    int64
	}
	err := store.db.WithContext(ctx).
		Model(&LedgerLine{}).
		Select("account_code, coalesce(sum(case when side = 'debit' then amount_cents else -amount_cents end),0) as net_cents").
		Where("tenant_id = ?", tenantID.String()).
		Group("account_code").
		Order("account_code ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	balances := make([]ledger.AccountBalance, 0, len(rows))
	for _, row := range rows {
		balances = append(balances, ledger.AccountBalance{AccountCode: row.AccountCode, NetCents: row.NetCents})
	}
	return balances, nil
}

func (store *LedgerStore) ClosedThroughUnixUTC(ctx context.Context, tenantID ledger.TenantID) (int64, error) {
	var model AccountingPeriod
	err := store.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectPeriod, errorCodeLookup, err)
	}
	return model.ClosedThrough.Unix(), nil
}

func (store *LedgerStore) AdvanceClosedThrough(ctx context.Context, tenantID ledger.TenantID, throughUnixUTC int64) error {
	model := AccountingPeriod{
		TenantID:      tenantID.String(),
		ClosedThrough: time.Unix(throughUnixUTC, 0).UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"closed_through", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectPeriod, errorCodeUpsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func mapLedgerLine(row LedgerLine) (ledger.Line, error) {
	accountCode, err := ledger.NewAccountCode(row.AccountCode)
	if err != nil {
		return ledger.Line{}, err
	}
	side, err := ledger.ParseSide(row.Side)
	if err != nil {
		return ledger.Line{}, err
	}
	amount, err := ledger.NewAmountCents(row.AmountCents)
	if err != nil {
		return ledger.Line{}, err
	}
	dedupeKey, err := ledger.NewDedupeKey(row.DedupeKey)
	if err != nil {
		return ledger.Line{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Line{}, err
	}
	return ledger.NewLine(accountCode, side, amount, dedupeKey, row.Reference, metadata)
}
