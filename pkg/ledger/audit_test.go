package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestAuditMatchesStoredBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	userID := mustUserID(test, "audited")
	mustGrant(test, service, userID, UnitCredits, 1000)
	if err := service.Reserve(context.Background(), userID, UnitCredits, mustPositiveAmount(test, 300), mustReservationID(test, "a"), mustIdempotencyKey(test, "a"), MetadataJSON{}); err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if err := service.Reserve(context.Background(), userID, UnitCredits, mustPositiveAmount(test, 200), mustReservationID(test, "b"), mustIdempotencyKey(test, "b"), MetadataJSON{}); err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if err := service.Capture(context.Background(), userID, mustReservationID(test, "a"), mustIdempotencyKey(test, "a-capture"), mustPositiveAmount(test, 300), MetadataJSON{}); err != nil {
		test.Fatalf("capture: %v", err)
	}

	balance, err := service.Audit(context.Background(), userID, UnitCredits)
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	expected := Balance{Unit: UnitCredits, TotalCents: 700, BlockedCents: 200, AvailableCents: 500}
	if balance != expected {
		test.Fatalf(balanceMismatch, expected, balance)
	}
	if balance.AvailableCents+balance.BlockedCents != balance.TotalCents {
		test.Fatalf("available + blocked must equal total: %+v", balance)
	}
}

func TestAuditReportsDrift(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	userID := mustUserID(test, "drifted")
	mustGrant(test, service, userID, UnitCredits, 100)
	store.totalDrift = 5

	_, err := service.Audit(context.Background(), userID, UnitCredits)
	if !errors.Is(err, ErrInvalidBalance) {
		test.Fatalf(errorMismatchMessage, ErrInvalidBalance, err)
	}
	var operationError OperationError
	if !errors.As(err, &operationError) || operationError.Code() != errorCodeTotalDrift {
		test.Fatalf("expected total drift operation error, got %v", err)
	}
	last := logger.entries[len(logger.entries)-1]
	if last.Operation != operationAudit || last.Status != operationStatusError {
		test.Fatalf("expected audit failure to be logged, got %+v", last)
	}
}

func TestReplay(test *testing.T) {
	test.Parallel()
	accountID := mustAccountID(test, "account")
	entry := func(id string, entryType EntryType, amount int64, expires int64) Entry {
		test.Helper()
		built, err := NewEntry(mustEntryID(test, id), accountID, UnitCredits, entryType, EntryAmountCents(amount), nil, mustIdempotencyKey(test, id), expires, MetadataJSON{}, 1)
		if err != nil {
			test.Fatalf("entry: %v", err)
		}
		return built
	}
	testCases := []struct {
		name    string
		entries []Entry
		want    Balance
		wantErr error
	}{
		{
			name:    "hold then release",
			entries: []Entry{entry("g", EntryGrant, 100, 0), entry("h", EntryHold, -40, 0), entry("r", EntryReverseHold, 40, 0)},
			want:    Balance{Unit: UnitCredits, TotalCents: 100, AvailableCents: 100},
		},
		{
			name:    "active hold",
			entries: []Entry{entry("g", EntryGrant, 100, 0), entry("h", EntryHold, -40, 0)},
			want:    Balance{Unit: UnitCredits, TotalCents: 100, BlockedCents: 40, AvailableCents: 60},
		},
		{
			name:    "spend and refund",
			entries: []Entry{entry("g", EntryGrant, 100, 0), entry("s", EntrySpend, -60, 0), entry("f", EntryRefund, 30, 0)},
			want:    Balance{Unit: UnitCredits, TotalCents: 70, AvailableCents: 70},
		},
		{
			name:    "expired grant",
			entries: []Entry{entry("g", EntryGrant, 100, 5), entry("g2", EntryGrant, 10, 0)},
			want:    Balance{Unit: UnitCredits, TotalCents: 10, AvailableCents: 10},
		},
		{
			name:    "spent before lapse",
			entries: []Entry{entry("g", EntryGrant, 100, 5), entry("s", EntrySpend, -60, 0)},
			want:    Balance{Unit: UnitCredits},
		},
		{
			name:    "overspent",
			entries: []Entry{entry("g", EntryGrant, 10, 0), entry("s", EntrySpend, -20, 0)},
			wantErr: ErrInvalidBalance,
		},
		{
			name:    "reverse without hold",
			entries: []Entry{entry("g", EntryGrant, 10, 0), entry("r", EntryReverseHold, 5, 0)},
			wantErr: ErrInvalidBalance,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			balance, err := Replay(UnitCredits, testCase.entries, 10)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("replay: %v", err)
			}
			if balance != testCase.want {
				test.Fatalf(balanceMismatch, testCase.want, balance)
			}
		})
	}
}

func mustEntryID(test *testing.T, raw string) EntryID {
	test.Helper()
	value, err := NewEntryID(raw)
	if err != nil {
		test.Fatalf("entry id: %v", err)
	}
	return value
}
