package ledger

import (
	"errors"
	"testing"
)

func TestValueTypeValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{
			name: "empty tenant id",
			run: func() error {
				_, err := NewTenantID("   ")
				return err
			},
			wantErr: ErrInvalidTenantID,
		},
		{
			name: "empty batch id",
			run: func() error {
				_, err := NewBatchID("")
				return err
			},
			wantErr: ErrInvalidBatchID,
		},
		{
			name: "empty dedupe key",
			run: func() error {
				_, err := NewDedupeKey("")
				return err
			},
			wantErr: ErrInvalidDedupeKey,
		},
		{
			name: "uppercase account code",
			run: func() error {
				_, err := NewAccountCode("Cash")
				return err
			},
			wantErr: ErrInvalidAccountCode,
		},
		{
			name: "invalid metadata json",
			run: func() error {
				_, err := NewMetadataJSON("{not json")
				return err
			},
			wantErr: ErrInvalidMetadataJSON,
		},
		{
			name: "zero amount",
			run: func() error {
				_, err := NewAmountCents(0)
				return err
			},
			wantErr: ErrInvalidAmountCents,
		},
		{
			name: "negative amount",
			run: func() error {
				_, err := NewAmountCents(-5)
				return err
			},
			wantErr: ErrInvalidAmountCents,
		},
		{
			name: "unknown side",
			run: func() error {
				_, err := ParseSide("both")
				return err
			},
			wantErr: ErrInvalidSide,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if err := testCase.run(); !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestNewMetadataJSONDefaultsEmptyToObject(test *testing.T) {
	test.Parallel()
	metadata, err := NewMetadataJSON("  ")
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	if metadata.String() != "{}" {
		test.Fatalf("expected empty metadata to normalize to {}, got %q", metadata.String())
	}
}

func TestSideOpposite(test *testing.T) {
	test.Parallel()
	if SideDebit.Opposite() != SideCredit {
		test.Fatal("expected debit to flip to credit")
	}
	if SideCredit.Opposite() != SideDebit {
		test.Fatal("expected credit to flip to debit")
	}
}

func TestNewBatchRejectsRepeatedDedupeKey(test *testing.T) {
	test.Parallel()
	tenantID := mustTenantID(test, "tenant-1")
	line := mustLine(test, AccountCash, SideDebit, 100, "same-key")
	other := mustLine(test, AccountRevenue, SideCredit, 100, "same-key")

	_, err := NewBatch(mustBatchID(test, "batch"), tenantID, 100, []Line{line, other})
	if !errors.Is(err, ErrInvalidBatch) {
		test.Fatalf("expected ErrInvalidBatch, got %v", err)
	}
}

func TestNewBatchRejectsEmptyLines(test *testing.T) {
	test.Parallel()
	tenantID := mustTenantID(test, "tenant-1")

	_, err := NewBatch(mustBatchID(test, "batch"), tenantID, 100, nil)
	if !errors.Is(err, ErrInvalidBatch) {
		test.Fatalf("expected ErrInvalidBatch, got %v", err)
	}
}

func TestBatchNet(test *testing.T) {
	test.Parallel()
	tenantID := mustTenantID(test, "tenant-1")
	debit := mustLine(test, AccountCash, SideDebit, 300, "net:cash")
	credit := mustLine(test, AccountRevenue, SideCredit, 100, "net:revenue")
	batch := mustBatch(test, tenantID, "net", 100, debit, credit)

	if batch.Net() != 200 {
		test.Fatalf("expected net 200, got %d", batch.Net())
	}
}
