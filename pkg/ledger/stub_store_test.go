package ledger

import (
	"context"
	"fmt"
	"testing"
)

// stubStore keeps entries in memory and derives its aggregates from them.
type stubStore struct {
	accountID    AccountID
	entries      []Entry
	reservations map[ReservationID]Reservation
	keys         map[string]struct{}

	totalDrift          int64
	getAccountError     error
	insertEntryError    error
	sumTotalError       error
	sumActiveHoldsError error
	listError           error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accountID:    mustAccountID(test, "account-1"),
		reservations: make(map[ReservationID]Reservation),
		keys:         make(map[string]struct{}),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	entries := append([]Entry(nil), store.entries...)
	reservations := make(map[ReservationID]Reservation, len(store.reservations))
	for key, value := range store.reservations {
		reservations[key] = value
	}
	keys := make(map[string]struct{}, len(store.keys))
	for key := range store.keys {
		keys[key] = struct{}{}
	}
	if err := fn(ctx, store); err != nil {
		store.entries = entries
		store.reservations = reservations
		store.keys = keys
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateAccountID(ctx context.Context, userID UserID) (AccountID, error) {
	if store.getAccountError != nil {
		return AccountID{}, store.getAccountError
	}
	return store.accountID, nil
}

func (store *stubStore) InsertEntry(ctx context.Context, entry EntryInput) error {
	if store.insertEntryError != nil {
		return store.insertEntryError
	}
	if _, exists := store.keys[entry.IdempotencyKey().String()]; exists {
		return ErrDuplicateIdempotencyKey
	}
	store.keys[entry.IdempotencyKey().String()] = struct{}{}
	entryID, err := NewEntryID(fmt.Sprintf("entry-%d", len(store.entries)+1))
	if err != nil {
		return err
	}
	store.entries = append(store.entries, Entry{entryID: entryID, EntryInput: entry})
	return nil
}

func (store *stubStore) SumTotal(ctx context.Context, accountID AccountID, unit Unit) (SignedAmountCents, error) {
	if store.sumTotalError != nil {
		return 0, store.sumTotalError
	}
	var total int64
	for _, entry := range store.entries {
		if entry.Unit() != unit || !entry.Type().countsTowardTotal() {
			continue
		}
		total += entry.AmountCents().Int64()
	}
	return SignedAmountCents(total + store.totalDrift), nil
}

func (store *stubStore) SumActiveHolds(ctx context.Context, accountID AccountID, unit Unit) (AmountCents, error) {
	if store.sumActiveHoldsError != nil {
		return 0, store.sumActiveHoldsError
	}
	var holds int64
	for _, reservation := range store.reservations {
		if reservation.Unit() == unit && reservation.Status() == ReservationStatusActive {
			holds += reservation.AmountCents().Int64()
		}
	}
	return AmountCents(holds), nil
}

func (store *stubStore) CreateReservation(ctx context.Context, reservation Reservation) error {
	if _, exists := store.reservations[reservation.ReservationID()]; exists {
		return ErrReservationExists
	}
	store.reservations[reservation.ReservationID()] = reservation
	return nil
}

func (store *stubStore) GetReservation(ctx context.Context, accountID AccountID, reservationID ReservationID) (Reservation, error) {
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return Reservation{}, ErrUnknownReservation
	}
	return reservation, nil
}

func (store *stubStore) UpdateReservationStatus(ctx context.Context, accountID AccountID, reservationID ReservationID, from, to ReservationStatus) error {
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return ErrUnknownReservation
	}
	if reservation.Status() != from {
		return ErrReservationClosed
	}
	reservation.status = to
	store.reservations[reservationID] = reservation
	return nil
}

func (store *stubStore) ListEntries(ctx context.Context, accountID AccountID, beforeUnixMilli int64, limit int) ([]Entry, error) {
	if store.listError != nil {
		return nil, store.listError
	}
	var result []Entry
	for index := len(store.entries) - 1; index >= 0 && len(result) < limit; index-- {
		if store.entries[index].CreatedUnixMilli() < beforeUnixMilli {
			result = append(result, store.entries[index])
		}
	}
	return result, nil
}

func (store *stubStore) ListUnitEntries(ctx context.Context, accountID AccountID, unit Unit) ([]Entry, error) {
	if store.listError != nil {
		return nil, store.listError
	}
	var result []Entry
	for _, entry := range store.entries {
		if entry.Unit() == unit {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (store *stubStore) mustReservation(test *testing.T, reservationID ReservationID) Reservation {
	test.Helper()
	reservation, ok := store.reservations[reservationID]
	if !ok {
		test.Fatalf("reservation %s not found", reservationID.String())
	}
	return reservation
}

const testClockMillis = 1_700_000_000_000

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return testClockMillis }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustGrant(test *testing.T, service *Service, userID UserID, unit Unit, amount int64) {
	test.Helper()
	key := mustIdempotencyKey(test, fmt.Sprintf("grant-%s-%d", unit, amount))
	if err := service.Grant(context.Background(), userID, unit, mustPositiveAmount(test, amount), key, 0, MetadataJSON{}); err != nil {
		test.Fatalf("grant: %v", err)
	}
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	value, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return value
}

func mustReservationID(test *testing.T, raw string) ReservationID {
	test.Helper()
	value, err := NewReservationID(raw)
	if err != nil {
		test.Fatalf("reservation id: %v", err)
	}
	return value
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	value, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return value
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	value, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return value
}

func mustPositiveAmount(test *testing.T, raw int64) PositiveAmountCents {
	test.Helper()
	value, err := NewPositiveAmountCents(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}
