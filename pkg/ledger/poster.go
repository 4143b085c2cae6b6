package ledger

import (
	"context"
	"fmt"
)

// Poster applies ledger operations against a Store that is already scoped to a
// transaction. Callers that own a wider unit of work (the booking engine) post
// through it so ledger rows commit or roll back with their own writes.
type Poster struct {
	store Store
	nowFn func() int64
}

// NewPoster binds a Poster to a transaction-scoped store and a millisecond clock.
func NewPoster(store Store, now func() int64) (Poster, error) {
	if store == nil {
		return Poster{}, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return Poster{}, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return Poster{store: store, nowFn: now}, nil
}

// Balance returns total, blocked and available amounts for one unit.
func (poster Poster) Balance(ctx context.Context, userID UserID, unit Unit) (Balance, error) {
	accountID, err := poster.store.GetOrCreateAccountID(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return poster.balance(ctx, accountID, unit)
}

// balance combines the stored aggregates with the credit forfeited by lapsed grants.
func (poster Poster) balance(ctx context.Context, accountID AccountID, unit Unit) (Balance, error) {
	total, err := poster.store.SumTotal(ctx, accountID, unit)
	if err != nil {
		return Balance{}, err
	}
	holds, err := poster.store.SumActiveHolds(ctx, accountID, unit)
	if err != nil {
		return Balance{}, err
	}
	entries, err := poster.store.ListUnitEntries(ctx, accountID, unit)
	if err != nil {
		return Balance{}, err
	}
	forfeited := ForfeitedAmount(unit, entries, poster.nowFn())
	return calculateBalance(unit, total-SignedAmountCents(forfeited), holds)
}

// Grant appends a positive grant (optionally expiring).
func (poster Poster) Grant(ctx context.Context, userID UserID, unit Unit, amount PositiveAmountCents, idempotencyKey IdempotencyKey, expiresUnixMilli int64, metadata MetadataJSON) error {
	accountID, err := poster.store.GetOrCreateAccountID(ctx, userID)
	if err != nil {
		return err
	}
	entryInput, err := NewEntryInput(accountID, unit, EntryGrant, amount.ToEntryAmountCents(), nil, idempotencyKey, expiresUnixMilli, metadata, poster.nowFn())
	if err != nil {
		return err
	}
	return poster.store.InsertEntry(ctx, entryInput)
}

// Reserve blocks funds with a negative hold if the available balance covers the amount.
func (poster Poster) Reserve(ctx context.Context, userID UserID, unit Unit, amount PositiveAmountCents, reservationID ReservationID, idempotencyKey IdempotencyKey, metadata MetadataJSON) error {
	accountID, err := poster.store.GetOrCreateAccountID(ctx, userID)
	if err != nil {
		return err
	}
	if err := poster.requireAvailable(ctx, accountID, unit, amount); err != nil {
		return err
	}
	reservation, err := NewReservation(accountID, reservationID, unit, amount, ReservationStatusActive)
	if err != nil {
		return err
	}
	if err := poster.store.CreateReservation(ctx, reservation); err != nil {
		return err
	}
	entryInput, err := NewEntryInput(accountID, unit, EntryHold, amount.ToEntryAmountCents().Negated(), &reservationID, idempotencyKey, 0, metadata, poster.nowFn())
	if err != nil {
		return err
	}
	return poster.store.InsertEntry(ctx, entryInput)
}

// Capture reverses the whole hold and spends amount, which may be less than the
// hold. The remainder returns to the available balance.
func (poster Poster) Capture(ctx context.Context, userID UserID, reservationID ReservationID, idempotencyKey IdempotencyKey, amount PositiveAmountCents, metadata MetadataJSON) error {
	accountID, reservation, err := poster.activeReservation(ctx, userID, reservationID)
	if err != nil {
		return err
	}
	if amount > reservation.AmountCents() {
		return fmt.Errorf("%w: capture exceeds reservation", ErrInvalidAmountCents)
	}
	if err := poster.store.UpdateReservationStatus(ctx, accountID, reservationID, ReservationStatusActive, ReservationStatusCaptured); err != nil {
		return err
	}
	nowUnixMilli := poster.nowFn()
	reverseKey, err := deriveIdempotencyKey(idempotencyKey, idempotencySuffixReverse)
	if err != nil {
		return err
	}
	reverseEntry, err := NewEntryInput(accountID, reservation.Unit(), EntryReverseHold, reservation.AmountCents().ToEntryAmountCents(), &reservationID, reverseKey, 0, metadata, nowUnixMilli)
	if err != nil {
		return err
	}
	if err := poster.store.InsertEntry(ctx, reverseEntry); err != nil {
		return err
	}
	spendKey, err := deriveIdempotencyKey(idempotencyKey, idempotencySuffixSpend)
	if err != nil {
		return err
	}
	spendEntry, err := NewEntryInput(accountID, reservation.Unit(), EntrySpend, amount.ToEntryAmountCents().Negated(), &reservationID, spendKey, 0, metadata, nowUnixMilli)
	if err != nil {
		return err
	}
	return poster.store.InsertEntry(ctx, spendEntry)
}

// Release cancels a reservation by writing a reverse-hold entry and returns the released amount.
func (poster Poster) Release(ctx context.Context, userID UserID, reservationID ReservationID, idempotencyKey IdempotencyKey, metadata MetadataJSON) (AmountCents, error) {
	accountID, reservation, err := poster.activeReservation(ctx, userID, reservationID)
	if err != nil {
		return 0, err
	}
	if err := poster.store.UpdateReservationStatus(ctx, accountID, reservationID, ReservationStatusActive, ReservationStatusReleased); err != nil {
		return 0, err
	}
	entryInput, err := NewEntryInput(accountID, reservation.Unit(), EntryReverseHold, reservation.AmountCents().ToEntryAmountCents(), &reservationID, idempotencyKey, 0, metadata, poster.nowFn())
	if err != nil {
		return 0, err
	}
	if err := poster.store.InsertEntry(ctx, entryInput); err != nil {
		return 0, err
	}
	return reservation.AmountCents().ToAmountCents(), nil
}

// Spend debits the available balance immediately (no hold).
func (poster Poster) Spend(ctx context.Context, userID UserID, unit Unit, amount PositiveAmountCents, reservationID *ReservationID, idempotencyKey IdempotencyKey, metadata MetadataJSON) error {
	accountID, err := poster.store.GetOrCreateAccountID(ctx, userID)
	if err != nil {
		return err
	}
	if err := poster.requireAvailable(ctx, accountID, unit, amount); err != nil {
		return err
	}
	entryInput, err := NewEntryInput(accountID, unit, EntrySpend, amount.ToEntryAmountCents().Negated(), reservationID, idempotencyKey, 0, metadata, poster.nowFn())
	if err != nil {
		return err
	}
	return poster.store.InsertEntry(ctx, entryInput)
}

// Refund credits back part or all of an earlier spend tied to reservationID.
func (poster Poster) Refund(ctx context.Context, userID UserID, unit Unit, amount PositiveAmountCents, reservationID ReservationID, idempotencyKey IdempotencyKey, metadata MetadataJSON) error {
	accountID, err := poster.store.GetOrCreateAccountID(ctx, userID)
	if err != nil {
		return err
	}
	entryInput, err := NewEntryInput(accountID, unit, EntryRefund, amount.ToEntryAmountCents(), &reservationID, idempotencyKey, 0, metadata, poster.nowFn())
	if err != nil {
		return err
	}
	return poster.store.InsertEntry(ctx, entryInput)
}

// Audit replays the unit's entry log and compares it with the stored aggregates.
// Any drift is reported as ErrInvalidBalance and left untouched.
func (poster Poster) Audit(ctx context.Context, userID UserID, unit Unit) (Balance, error) {
	accountID, err := poster.store.GetOrCreateAccountID(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	entries, err := poster.store.ListUnitEntries(ctx, accountID, unit)
	if err != nil {
		return Balance{}, err
	}
	replayed, err := Replay(unit, entries, poster.nowFn())
	if err != nil {
		return Balance{}, err
	}
	stored, err := poster.store.SumTotal(ctx, accountID, unit)
	if err != nil {
		return Balance{}, err
	}
	holds, err := poster.store.SumActiveHolds(ctx, accountID, unit)
	if err != nil {
		return Balance{}, err
	}
	forfeited := ForfeitedAmount(unit, entries, poster.nowFn())
	storedBalance, err := calculateBalance(unit, stored-SignedAmountCents(forfeited), holds)
	if err != nil {
		return Balance{}, err
	}
	if replayed.TotalCents != storedBalance.TotalCents {
		return Balance{}, WrapError(errorOperationService, errorSubjectAudit, errorCodeTotalDrift,
			fmt.Errorf("%w: replayed total %d, stored total %d", ErrInvalidBalance, replayed.TotalCents, storedBalance.TotalCents))
	}
	if replayed.BlockedCents != storedBalance.BlockedCents {
		return Balance{}, WrapError(errorOperationService, errorSubjectAudit, errorCodeHoldDrift,
			fmt.Errorf("%w: replayed holds %d, stored holds %d", ErrInvalidBalance, replayed.BlockedCents, storedBalance.BlockedCents))
	}
	return storedBalance, nil
}

func (poster Poster) activeReservation(ctx context.Context, userID UserID, reservationID ReservationID) (AccountID, Reservation, error) {
	accountID, err := poster.store.GetOrCreateAccountID(ctx, userID)
	if err != nil {
		return AccountID{}, Reservation{}, err
	}
	reservation, err := poster.store.GetReservation(ctx, accountID, reservationID)
	if err != nil {
		return AccountID{}, Reservation{}, err
	}
	if reservation.Status() != ReservationStatusActive {
		return AccountID{}, Reservation{}, ErrReservationClosed
	}
	return accountID, reservation, nil
}

func (poster Poster) requireAvailable(ctx context.Context, accountID AccountID, unit Unit, amount PositiveAmountCents) error {
	balance, err := poster.balance(ctx, accountID, unit)
	if err != nil {
		return err
	}
	if balance.AvailableCents < amount.ToAmountCents() {
		return ErrInsufficientFunds
	}
	return nil
}

// Replay derives a balance from an entry log alone. The undrawn remainder of
// grants lapsed by atUnixMilli no longer counts toward the total.
func Replay(unit Unit, entries []Entry, atUnixMilli int64) (Balance, error) {
	var total int64
	var holds int64
	for _, entry := range entries {
		if entry.Unit() != unit {
			continue
		}
		if !entry.Type().countsTowardTotal() {
			holds -= entry.AmountCents().Int64()
			continue
		}
		total += entry.AmountCents().Int64()
	}
	total -= ForfeitedAmount(unit, entries, atUnixMilli).Int64()
	if holds < 0 {
		return Balance{}, WrapError(errorOperationService, errorSubjectAudit, errorCodeHoldDrift,
			fmt.Errorf("%w: reversed more than held", ErrInvalidBalance))
	}
	return calculateBalance(unit, SignedAmountCents(total), AmountCents(holds))
}

func deriveIdempotencyKey(baseKey IdempotencyKey, suffix string) (IdempotencyKey, error) {
	combined := baseKey.String() + idempotencyKeyDelimiter + suffix
	return NewIdempotencyKey(combined)
}

func calculateBalance(unit Unit, total SignedAmountCents, holds AmountCents) (Balance, error) {
	totalCents, err := NewAmountCents(total.Int64())
	if err != nil {
		return Balance{}, WrapError(errorOperationService, errorSubjectBalance, errorCodeNegative, ErrInvalidBalance)
	}
	available, err := NewAmountCents(totalCents.Int64() - holds.Int64())
	if err != nil {
		return Balance{}, WrapError(errorOperationService, errorSubjectBalance, errorCodeNegative, ErrInvalidBalance)
	}
	return Balance{
		Unit:           unit,
		TotalCents:     totalCents,
		BlockedCents:   holds,
		AvailableCents: available,
	}, nil
}
