package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustPositive(test *testing.T, raw int64) ledger.PositiveAmountCents {
	test.Helper()
	amount, err := ledger.NewPositiveAmountCents(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func mustKey(test *testing.T, raw string) ledger.IdempotencyKey {
	test.Helper()
	key, err := ledger.NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustReservationID(test *testing.T, raw string) ledger.ReservationID {
	test.Helper()
	reservationID, err := ledger.NewReservationID(raw)
	if err != nil {
		test.Fatalf("reservation id: %v", err)
	}
	return reservationID
}

func newLedgerService(test *testing.T, now *int64) *ledger.Service {
	test.Helper()
	store := NewLedgerStore(openTestDB(test), func() int64 { return *now })
	service, err := ledger.NewService(store, func() int64 { return *now })
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	return service
}

func TestGetOrCreateAccountIDIsStable(test *testing.T) {
	test.Parallel()
	store := NewLedgerStore(openTestDB(test), func() int64 { return testNowMillis })
	ctx := context.Background()
	userID := mustUserID(test, "user-accounts")

	first, err := store.GetOrCreateAccountID(ctx, userID)
	if err != nil {
		test.Fatalf("first lookup: %v", err)
	}
	second, err := store.GetOrCreateAccountID(ctx, userID)
	if err != nil {
		test.Fatalf("second lookup: %v", err)
	}
	if first != second {
		test.Fatalf("expected the same account, got %s and %s", first, second)
	}
	other, err := store.GetOrCreateAccountID(ctx, mustUserID(test, "user-other"))
	if err != nil {
		test.Fatalf("other lookup: %v", err)
	}
	if other == first {
		test.Fatalf("expected distinct accounts per user")
	}
}

func TestLedgerServiceOnSQLite(test *testing.T) {
	test.Parallel()
	now := testNowMillis
	service := newLedgerService(test, &now)
	ctx := context.Background()
	userID := mustUserID(test, "user-ledger")
	reservationID := mustReservationID(test, "reservation-1")

	if err := service.Grant(ctx, userID, ledger.UnitCredits, mustPositive(test, 6000), mustKey(test, "grant-1"), 0, ledger.MetadataJSON{}); err != nil {
		test.Fatalf("grant: %v", err)
	}
	if err := service.Grant(ctx, userID, ledger.UnitCredits, mustPositive(test, 1000), mustKey(test, "grant-1"), 0, ledger.MetadataJSON{}); !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		test.Fatalf("expected duplicate key, got %v", err)
	}
	if err := service.Reserve(ctx, userID, ledger.UnitCredits, mustPositive(test, 4500), reservationID, mustKey(test, "hold-1"), ledger.MetadataJSON{}); err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if err := service.Reserve(ctx, userID, ledger.UnitCredits, mustPositive(test, 100), reservationID, mustKey(test, "hold-2"), ledger.MetadataJSON{}); !errors.Is(err, ledger.ErrReservationExists) {
		test.Fatalf("expected existing reservation, got %v", err)
	}

	balance, err := service.Balance(ctx, userID, ledger.UnitCredits)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.TotalCents != 6000 || balance.BlockedCents != 4500 || balance.AvailableCents != 1500 {
		test.Fatalf("unexpected balance after hold %+v", balance)
	}
	if err := service.Spend(ctx, userID, ledger.UnitCredits, mustPositive(test, 2000), mustKey(test, "spend-1"), ledger.MetadataJSON{}); !errors.Is(err, ledger.ErrInsufficientFunds) {
		test.Fatalf("expected insufficient funds, got %v", err)
	}

	if err := service.Capture(ctx, userID, reservationID, mustKey(test, "capture-1"), mustPositive(test, 3000), ledger.MetadataJSON{}); err != nil {
		test.Fatalf("capture: %v", err)
	}
	if err := service.Release(ctx, userID, reservationID, mustKey(test, "release-1"), ledger.MetadataJSON{}); !errors.Is(err, ledger.ErrReservationClosed) {
		test.Fatalf("expected closed reservation, got %v", err)
	}

	audited, err := service.Audit(ctx, userID, ledger.UnitCredits)
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if audited.TotalCents != 3000 || audited.BlockedCents != 0 || audited.AvailableCents != 3000 {
		test.Fatalf("unexpected audited balance %+v", audited)
	}

	entries, err := service.ListEntries(ctx, userID, 0, 0)
	if err != nil {
		test.Fatalf("list entries: %v", err)
	}
	if len(entries) != 4 {
		test.Fatalf("expected grant, hold, reverse and spend entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Metadata().String() != "{}" {
			test.Fatalf("expected default metadata, got %s", entry.Metadata())
		}
	}
}

func TestBalanceForfeitsOnlyUnspentLapsedCredit(test *testing.T) {
	test.Parallel()
	now := testNowMillis
	service := newLedgerService(test, &now)
	ctx := context.Background()
	userID := mustUserID(test, "user-expiring")

	if err := service.Grant(ctx, userID, ledger.UnitPoints, mustPositive(test, 50), mustKey(test, "grant-expiring"), testNowMillis+hourMillis, ledger.MetadataJSON{}); err != nil {
		test.Fatalf("grant expiring: %v", err)
	}
	if err := service.Grant(ctx, userID, ledger.UnitPoints, mustPositive(test, 20), mustKey(test, "grant-permanent"), 0, ledger.MetadataJSON{}); err != nil {
		test.Fatalf("grant permanent: %v", err)
	}
	if err := service.Spend(ctx, userID, ledger.UnitPoints, mustPositive(test, 30), mustKey(test, "spend-points"), ledger.MetadataJSON{}); err != nil {
		test.Fatalf("spend: %v", err)
	}
	credits, err := service.Balance(ctx, userID, ledger.UnitCredits)
	if err != nil {
		test.Fatalf("credit balance: %v", err)
	}
	if credits.TotalCents != 0 {
		test.Fatalf("points must not leak into credits, got %+v", credits)
	}

	before, err := service.Balance(ctx, userID, ledger.UnitPoints)
	if err != nil {
		test.Fatalf("balance before expiry: %v", err)
	}
	if before.TotalCents != 40 {
		test.Fatalf("expected 40 points before expiry, got %d", before.TotalCents)
	}

	now = testNowMillis + hourMillis
	after, err := service.Audit(ctx, userID, ledger.UnitPoints)
	if err != nil {
		test.Fatalf("audit after expiry: %v", err)
	}
	// The spend drew on the expiring grant first, so only its last 20 points lapse.
	if after.TotalCents != 20 || after.AvailableCents != 20 {
		test.Fatalf("expected 20 points after expiry, got %+v", after)
	}
}
