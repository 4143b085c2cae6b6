package booking

import (
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidGroupSize   = errors.New("invalid group size")
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidTimezone    = errors.New("invalid timezone")
	ErrUnsupportedUnit    = errors.New("unit not accepted for slot")
	ErrClubNotFound       = errors.New("club not found")
	ErrClubInactive       = errors.New("club inactive")
	ErrInstructorNotFound = errors.New("instructor not found")
	ErrInstructorInactive = errors.New("instructor inactive")

	ErrInsufficientCredit       = errors.New("insufficient credit")
	ErrSlotFull                 = errors.New("slot full")
	ErrSlotNotFound             = errors.New("slot not found")
	ErrSlotAlreadyCancelled     = errors.New("slot already cancelled")
	ErrSlotExpired              = errors.New("slot expired")
	ErrNoCourtAvailable         = errors.New("no court available")
	ErrInstructorUnavailable    = errors.New("instructor unavailable")
	ErrConcurrentConflict       = errors.New("concurrent conflict")
	ErrBookingNotFound          = errors.New("booking not found")
	ErrBookingAlreadyCancelled  = errors.New("booking already cancelled")
	ErrForbidden                = errors.New("forbidden")
	ErrInvalidEngineConfig      = errors.New("invalid engine config")
	ErrLedgerInvariantViolation = errors.New("ledger invariant violation")
)

// Kind classifies an error for callers that map failures to transport codes or retry decisions.
type Kind string

const (
	KindValidation              Kind = "validation"
	KindInsufficientCredit      Kind = "insufficient_credit"
	KindSlotFull                Kind = "slot_full"
	KindSlotNotFound            Kind = "slot_not_found"
	KindSlotAlreadyCancelled    Kind = "slot_already_cancelled"
	KindSlotExpired             Kind = "slot_expired"
	KindNoCourtAvailable        Kind = "no_court_available"
	KindInstructorUnavailable   Kind = "instructor_unavailable"
	KindConcurrentConflict      Kind = "concurrent_conflict"
	KindLedgerInvariant         Kind = "ledger_invariant"
	KindNotFound                Kind = "not_found"
	KindBookingAlreadyCancelled Kind = "booking_already_cancelled"
	KindForbidden               Kind = "forbidden"
	KindInternal                Kind = "internal"
)

var kindTable = []struct {
	target error
	kind   Kind
}{
	{ErrInvalidInput, KindValidation},
	{ErrInvalidGroupSize, KindValidation},
	{ErrInvalidDate, KindValidation},
	{ErrInvalidTimezone, KindValidation},
	{ErrUnsupportedUnit, KindValidation},
	{ErrClubNotFound, KindValidation},
	{ErrClubInactive, KindValidation},
	{ErrInstructorNotFound, KindValidation},
	{ErrInstructorInactive, KindValidation},
	{ErrInsufficientCredit, KindInsufficientCredit},
	{ErrSlotFull, KindSlotFull},
	{ErrSlotNotFound, KindSlotNotFound},
	{ErrSlotAlreadyCancelled, KindSlotAlreadyCancelled},
	{ErrSlotExpired, KindSlotExpired},
	{ErrNoCourtAvailable, KindNoCourtAvailable},
	{ErrInstructorUnavailable, KindInstructorUnavailable},
	{ErrConcurrentConflict, KindConcurrentConflict},
	{ErrLedgerInvariantViolation, KindLedgerInvariant},
	{ErrBookingNotFound, KindNotFound},
	{ErrBookingAlreadyCancelled, KindBookingAlreadyCancelled},
	{ErrForbidden, KindForbidden},
}

// KindOf returns the classification of err, or KindInternal for anything unrecognised.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, row := range kindTable {
		if errors.Is(err, row.target) {
			return row.kind
		}
	}
	return KindInternal
}

// IsRetryable reports whether err may succeed when the whole operation is retried.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConcurrentConflict
}

// translateLedgerError maps ledger sentinels onto booking errors while keeping the original in the chain.
func translateLedgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fmt.Errorf("%w: %w", ErrInsufficientCredit, err)
	case errors.Is(err, ledger.ErrInvalidBalance):
		return fmt.Errorf("%w: %w", ErrLedgerInvariantViolation, err)
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey), errors.Is(err, ledger.ErrReservationExists):
		return fmt.Errorf("%w: %w", ErrConcurrentConflict, err)
	default:
		return err
	}
}
