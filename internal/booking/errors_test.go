package booking

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

func TestKindOf(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{name: "nil", err: nil, kind: ""},
		{name: "validation", err: fmt.Errorf("%w: group of 9", ErrInvalidGroupSize), kind: KindValidation},
		{name: "credit", err: translateLedgerError(ledger.ErrInsufficientFunds), kind: KindInsufficientCredit},
		{name: "full", err: ErrSlotFull, kind: KindSlotFull},
		{name: "missing slot", err: ledger.WrapError("store", "slot", "get", ErrSlotNotFound), kind: KindSlotNotFound},
		{name: "cancelled slot", err: ErrSlotAlreadyCancelled, kind: KindSlotAlreadyCancelled},
		{name: "expired slot", err: fmt.Errorf("%w: slot-1", ErrSlotExpired), kind: KindSlotExpired},
		{name: "no court", err: ErrNoCourtAvailable, kind: KindNoCourtAvailable},
		{name: "instructor busy", err: ErrInstructorUnavailable, kind: KindInstructorUnavailable},
		{name: "booking cancelled", err: ErrBookingAlreadyCancelled, kind: KindBookingAlreadyCancelled},
		{name: "conflict", err: ErrConcurrentConflict, kind: KindConcurrentConflict, retryable: true},
		{name: "duplicate key", err: translateLedgerError(ledger.ErrDuplicateIdempotencyKey), kind: KindConcurrentConflict, retryable: true},
		{name: "ledger drift", err: translateLedgerError(ledger.ErrInvalidBalance), kind: KindLedgerInvariant},
		{name: "forbidden", err: ErrForbidden, kind: KindForbidden},
		{name: "booking missing", err: ErrBookingNotFound, kind: KindNotFound},
		{name: "unknown", err: errors.New("disk on fire"), kind: KindInternal},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if kind := KindOf(testCase.err); kind != testCase.kind {
				test.Fatalf("expected %q, got %q", testCase.kind, kind)
			}
			if retryable := IsRetryable(testCase.err); retryable != testCase.retryable {
				test.Fatalf("expected retryable=%v, got %v", testCase.retryable, retryable)
			}
		})
	}
}

func TestTranslateLedgerErrorKeepsCause(test *testing.T) {
	test.Parallel()
	cause := ledger.WrapError("service", "balance", "negative_available", ledger.ErrInvalidBalance)
	translated := translateLedgerError(cause)
	if !errors.Is(translated, ErrLedgerInvariantViolation) || !errors.Is(translated, ledger.ErrInvalidBalance) {
		test.Fatalf("expected both sentinels in %v", translated)
	}
	plain := errors.New("io")
	if translateLedgerError(plain) != plain {
		test.Fatalf("unrelated errors must pass through")
	}
	if translateLedgerError(nil) != nil {
		test.Fatalf("nil must stay nil")
	}
}
