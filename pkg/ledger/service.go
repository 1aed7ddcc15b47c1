package ledger

import (
	"context"
	"errors"
	"fmt"
)

// errBatchReplayed aborts the posting transaction when any line's dedupe key
// already exists; Post maps it to a no-op success.
var errBatchReplayed = errors.New("batch replayed")

// Service contains the posting logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Post durably writes a balanced batch, all lines or none. An unbalanced
// batch is rejected with nothing written. If any line's dedupe key already
// exists for the tenant the whole batch is treated as a replay and nothing
// new is written; Post still returns nil so crash-recovery re-posting is safe.
// Batches dated into a closed accounting period are rejected.
func (service *Service) Post(ctx context.Context, batch Batch) error {
	replayed, operationError := service.post(ctx, batch)
	status := ""
	if replayed {
		status = operationStatusReplayed
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationPost,
		TenantID:   batch.TenantID(),
		BatchID:    batch.BatchID(),
		LineCount:  len(batch.Lines()),
		DebitCents: debitTotal(batch),
		Status:     status,
		Error:      operationError,
	})
	return operationError
}

func (service *Service) post(ctx context.Context, batch Batch) (bool, error) {
	if batch.Net() != 0 {
		return false, WrapError(operationPost, "batch", "unbalanced", ErrUnbalancedBatch)
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		closedThrough, err := transactionStore.ClosedThroughUnixUTC(ctx, batch.TenantID())
		if err != nil {
			return err
		}
		if closedThrough != 0 && batch.EffectiveAtUnixUTC() <= closedThrough {
			return WrapError(operationPost, "period", "closed", ErrPeriodClosed)
		}
		keys := make([]DedupeKey, 0, len(batch.Lines()))
		for _, line := range batch.Lines() {
			keys = append(keys, line.DedupeKey())
		}
		exists, err := transactionStore.AnyDedupeKeyExists(ctx, batch.TenantID(), keys)
		if err != nil {
			return err
		}
		if exists {
			return errBatchReplayed
		}
		for _, line := range batch.Lines() {
			err := transactionStore.InsertLine(ctx, batch.TenantID(), batch.BatchID(), batch.EffectiveAtUnixUTC(), line)
			if errors.Is(err, ErrDuplicateDedupeKey) {
				// A concurrent writer won the race for the same event.
				return errBatchReplayed
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(operationError, errBatchReplayed) {
		return true, nil
	}
	return false, operationError
}

// Reverse posts a new batch that offsets the original by swapping the side of
// every line. The original batch is never touched; history is preserved.
func (service *Service) Reverse(ctx context.Context, tenantID TenantID, originalBatchID BatchID, reversalBatchID BatchID, metadata MetadataJSON) error {
	operationError := service.reverse(ctx, tenantID, originalBatchID, reversalBatchID, metadata)
	service.logOperation(ctx, OperationLog{
		Operation: operationReverse,
		TenantID:  tenantID,
		BatchID:   reversalBatchID,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) reverse(ctx context.Context, tenantID TenantID, originalBatchID BatchID, reversalBatchID BatchID, metadata MetadataJSON) error {
	originalLines, err := service.store.ListBatchLines(ctx, tenantID, originalBatchID)
	if err != nil {
		return err
	}
	if len(originalLines) == 0 {
		return WrapError(operationReverse, "batch", "unknown", ErrUnknownBatch)
	}
	reversed := make([]Line, 0, len(originalLines))
	for _, original := range originalLines {
		reversedKey, err := NewDedupeKey(original.DedupeKey().String() + dedupeKeyDelimiter + dedupeSuffixReverse)
		if err != nil {
			return err
		}
		line, err := NewLine(original.AccountCode(), original.Side().Opposite(), original.AmountCents(), reversedKey, originalBatchID.String(), metadata)
		if err != nil {
			return err
		}
		reversed = append(reversed, line)
	}
	batch, err := NewBatch(reversalBatchID, tenantID, service.nowFn(), reversed)
	if err != nil {
		return err
	}
	_, err = service.post(ctx, batch)
	return err
}

// ClosePeriod advances the tenant's closed-through accounting date. The date
// never moves backward.
func (service *Service) ClosePeriod(ctx context.Context, tenantID TenantID, throughUnixUTC int64) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if throughUnixUTC <= 0 {
			return WrapError(operationClosePeriod, "period", "invalid", ErrInvalidPeriod)
		}
		current, err := transactionStore.ClosedThroughUnixUTC(ctx, tenantID)
		if err != nil {
			return err
		}
		if throughUnixUTC <= current {
			return WrapError(operationClosePeriod, "period", "regressive", ErrInvalidPeriod)
		}
		return transactionStore.AdvanceClosedThrough(ctx, tenantID, throughUnixUTC)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationClosePeriod,
		TenantID:  tenantID,
		Error:     operationError,
	})
	return operationError
}

// TrialBalance returns per-account net positions for a tenant. The column
// sums always net to zero because only balanced batches are ever written.
func (service *Service) TrialBalance(ctx context.Context, tenantID TenantID) ([]AccountBalance, error) {
	return service.store.SumByAccount(ctx, tenantID)
}

// ListBatch returns the lines of one posting batch.
func (service *Service) ListBatch(ctx context.Context, tenantID TenantID, batchID BatchID) ([]Line, error) {
	lines, err := service.store.ListBatchLines(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, WrapError(operationListBatch, "batch", "unknown", ErrUnknownBatch)
	}
	return lines, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func debitTotal(batch Batch) int64 {
	var total int64
	for _, line := range batch.Lines() {
		if line.Side() == SideDebit {
			total += line.AmountCents().Int64()
		}
	}
	return total
}
