package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AmountCents is a non-negative integer amount in the minor unit of a ledger unit.
type AmountCents int64

// PositiveAmountCents is a strictly positive amount used for operation inputs.
type PositiveAmountCents int64

// EntryAmountCents is the non-zero signed amount carried by a ledger entry.
type EntryAmountCents int64

// SignedAmountCents is an aggregate that may legitimately be negative while being validated.
type SignedAmountCents int64

// NewAmountCents validates a non-negative amount.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewPositiveAmountCents validates an amount and ensures it is strictly positive.
func NewPositiveAmountCents(raw int64) (PositiveAmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return PositiveAmountCents(raw), nil
}

// Int64 returns the raw value.
func (amount PositiveAmountCents) Int64() int64 {
	return int64(amount)
}

// ToAmountCents widens the amount.
func (amount PositiveAmountCents) ToAmountCents() AmountCents {
	return AmountCents(amount)
}

// ToEntryAmountCents converts the amount to a positive entry delta.
func (amount PositiveAmountCents) ToEntryAmountCents() EntryAmountCents {
	return EntryAmountCents(amount)
}

// NewEntryAmountCents validates a signed, non-zero entry amount.
func NewEntryAmountCents(raw int64) (EntryAmountCents, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must not be zero", ErrInvalidEntryAmountCents)
	}
	return EntryAmountCents(raw), nil
}

// Int64 returns the raw value.
func (amount EntryAmountCents) Int64() int64 {
	return int64(amount)
}

// Negated flips the sign of the entry amount.
func (amount EntryAmountCents) Negated() EntryAmountCents {
	return -amount
}

// Int64 returns the raw value.
func (amount SignedAmountCents) Int64() int64 {
	return int64(amount)
}

// Unit is the currency an account balance is kept in. Units never mix.
type Unit string

const (
	UnitCredits Unit = "credits"
	UnitPoints  Unit = "points"
)

// ParseUnit validates a unit name. An empty value selects credits.
func ParseUnit(raw string) (Unit, error) {
	switch Unit(strings.ToLower(strings.TrimSpace(raw))) {
	case "", UnitCredits:
		return UnitCredits, nil
	case UnitPoints:
		return UnitPoints, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUnit, raw)
	}
}

func (unit Unit) String() string {
	return string(unit)
}

// UserID identifies an account owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

func (id UserID) String() string {
	return id.value
}

// AccountID identifies the ledger account of a user.
type AccountID struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

func (id AccountID) String() string {
	return id.value
}

// EntryID identifies a persisted ledger entry.
type EntryID struct {
	value string
}

// NewEntryID validates and normalizes an entry id.
func NewEntryID(raw string) (EntryID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntryID{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	return EntryID{value: trimmed}, nil
}

func (id EntryID) String() string {
	return id.value
}

// ReservationID identifies a reservation. Bookings use their own id.
type ReservationID struct {
	value string
}

// NewReservationID validates and normalizes a reservation id.
func NewReservationID(raw string) (ReservationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReservationID{}, fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	return ReservationID{value: trimmed}, nil
}

func (id ReservationID) String() string {
	return id.value
}

// IdempotencyKey scopes duplicate detection per account.
type IdempotencyKey struct {
	value string
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

func (key IdempotencyKey) String() string {
	return key.value
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
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

func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// EntryType enumerates ledger entry kinds.
type EntryType string

const (
	EntryGrant       EntryType = "grant"
	EntryHold        EntryType = "hold"
	EntryReverseHold EntryType = "reverse_hold"
	EntrySpend       EntryType = "spend"
	EntryRefund      EntryType = "refund"
)

// ParseEntryType validates a stored entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(strings.TrimSpace(raw)) {
	case EntryGrant:
		return EntryGrant, nil
	case EntryHold:
		return EntryHold, nil
	case EntryReverseHold:
		return EntryReverseHold, nil
	case EntrySpend:
		return EntrySpend, nil
	case EntryRefund:
		return EntryRefund, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
	}
}

func (entryType EntryType) String() string {
	return string(entryType)
}

// countsTowardTotal reports whether the entry moves the total balance.
// Holds only move funds between available and blocked.
func (entryType EntryType) countsTowardTotal() bool {
	return entryType != EntryHold && entryType != EntryReverseHold
}

// ReservationStatus defines reservation lifecycle.
type ReservationStatus string

const (
	ReservationStatusActive   ReservationStatus = "active"
	ReservationStatusCaptured ReservationStatus = "captured"
	ReservationStatusReleased ReservationStatus = "released"
)

// ParseReservationStatus validates a stored reservation status.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	switch ReservationStatus(strings.TrimSpace(raw)) {
	case ReservationStatusActive:
		return ReservationStatusActive, nil
	case ReservationStatusCaptured:
		return ReservationStatusCaptured, nil
	case ReservationStatusReleased:
		return ReservationStatusReleased, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReservationStatus, raw)
	}
}

func (status ReservationStatus) String() string {
	return string(status)
}

// EntryInput is a validated entry waiting to be appended.
type EntryInput struct {
	accountID        AccountID
	unit             Unit
	entryType        EntryType
	amountCents      EntryAmountCents
	reservationID    *ReservationID
	idempotencyKey   IdempotencyKey
	expiresUnixMilli int64
	metadata         MetadataJSON
	createdUnixMilli int64
}

// NewEntryInput validates entry fields. Holds must be negative, reverse holds and grants positive.
func NewEntryInput(accountID AccountID, unit Unit, entryType EntryType, amount EntryAmountCents, reservationID *ReservationID, idempotencyKey IdempotencyKey, expiresUnixMilli int64, metadata MetadataJSON, createdUnixMilli int64) (EntryInput, error) {
	if accountID.String() == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if unit != UnitCredits && unit != UnitPoints {
		return EntryInput{}, fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}
	if _, err := ParseEntryType(entryType.String()); err != nil {
		return EntryInput{}, err
	}
	if amount == 0 {
		return EntryInput{}, fmt.Errorf("%w: must not be zero", ErrInvalidEntryAmountCents)
	}
	switch entryType {
	case EntryHold, EntrySpend:
		if amount > 0 {
			return EntryInput{}, fmt.Errorf("%w: %s must be negative", ErrInvalidEntryAmountCents, entryType)
		}
	default:
		if amount < 0 {
			return EntryInput{}, fmt.Errorf("%w: %s must be positive", ErrInvalidEntryAmountCents, entryType)
		}
	}
	if idempotencyKey.String() == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return EntryInput{
		accountID:        accountID,
		unit:             unit,
		entryType:        entryType,
		amountCents:      amount,
		reservationID:    reservationID,
		idempotencyKey:   idempotencyKey,
		expiresUnixMilli: expiresUnixMilli,
		metadata:         metadata,
		createdUnixMilli: createdUnixMilli,
	}, nil
}

func (entry EntryInput) AccountID() AccountID { return entry.accountID }
func (entry EntryInput) Unit() Unit { return entry.unit }
func (entry EntryInput) Type() EntryType { return entry.entryType }
func (entry EntryInput) AmountCents() EntryAmountCents { return entry.amountCents }
func (entry EntryInput) ReservationID() *ReservationID { return entry.reservationID }
func (entry EntryInput) IdempotencyKey() IdempotencyKey { return entry.idempotencyKey }
func (entry EntryInput) ExpiresUnixMilli() int64 { return entry.expiresUnixMilli }
func (entry EntryInput) Metadata() MetadataJSON { return entry.metadata }
func (entry EntryInput) CreatedUnixMilli() int64 { return entry.createdUnixMilli }

// Entry is a single immutable line in the ledger.
type Entry struct {
	entryID EntryID
	EntryInput
}

// NewEntry rebuilds a persisted entry.
func NewEntry(entryID EntryID, accountID AccountID, unit Unit, entryType EntryType, amount EntryAmountCents, reservationID *ReservationID, idempotencyKey IdempotencyKey, expiresUnixMilli int64, metadata MetadataJSON, createdUnixMilli int64) (Entry, error) {
	if entryID.String() == "" {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	input, err := NewEntryInput(accountID, unit, entryType, amount, reservationID, idempotencyKey, expiresUnixMilli, metadata, createdUnixMilli)
	if err != nil {
		return Entry{}, err
	}
	return Entry{entryID: entryID, EntryInput: input}, nil
}

// EntryID returns the persisted identifier.
func (entry Entry) EntryID() EntryID {
	return entry.entryID
}

// Reservation is the stored hold record behind blocked credit.
type Reservation struct {
	accountID     AccountID
	reservationID ReservationID
	unit          Unit
	amountCents   PositiveAmountCents
	status        ReservationStatus
}

// NewReservation validates reservation fields.
func NewReservation(accountID AccountID, reservationID ReservationID, unit Unit, amount PositiveAmountCents, status ReservationStatus) (Reservation, error) {
	if accountID.String() == "" {
		return Reservation{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if reservationID.String() == "" {
		return Reservation{}, fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	if unit != UnitCredits && unit != UnitPoints {
		return Reservation{}, fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}
	if amount <= 0 {
		return Reservation{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	if _, err := ParseReservationStatus(status.String()); err != nil {
		return Reservation{}, err
	}
	return Reservation{accountID: accountID, reservationID: reservationID, unit: unit, amountCents: amount, status: status}, nil
}

func (reservation Reservation) AccountID() AccountID { return reservation.accountID }
func (reservation Reservation) ReservationID() ReservationID { return reservation.reservationID }
func (reservation Reservation) Unit() Unit { return reservation.unit }
func (reservation Reservation) AmountCents() PositiveAmountCents { return reservation.amountCents }
func (reservation Reservation) Status() ReservationStatus { return reservation.status }

// Balance view for an account in one unit.
type Balance struct {
	Unit           Unit
	TotalCents     AmountCents
	BlockedCents   AmountCents
	AvailableCents AmountCents
}

// Store is the persistence contract used by Service and Poster.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccountID(ctx context.Context, userID UserID) (AccountID, error)
	InsertEntry(ctx context.Context, entry EntryInput) error
	SumTotal(ctx context.Context, accountID AccountID, unit Unit) (SignedAmountCents, error)
	SumActiveHolds(ctx context.Context, accountID AccountID, unit Unit) (AmountCents, error)
	CreateReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, accountID AccountID, reservationID ReservationID) (Reservation, error)
	UpdateReservationStatus(ctx context.Context, accountID AccountID, reservationID ReservationID, from, to ReservationStatus) error
	ListEntries(ctx context.Context, accountID AccountID, beforeUnixMilli int64, limit int) ([]Entry, error)
	ListUnitEntries(ctx context.Context, accountID AccountID, unit Unit) ([]Entry, error)
}
