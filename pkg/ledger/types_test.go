package ledger

import (
	"errors"
	"testing"
)

func TestNewUserID(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " user-123 ", wantVal: "user-123"},
		{name: "empty", input: "   ", wantErr: ErrInvalidUserID},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			result, err := NewUserID(testCase.input)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected error %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if result.String() != testCase.wantVal {
				test.Fatalf("expected %q, got %q", testCase.wantVal, result.String())
			}
		})
	}
}

func TestParseUnit(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		input   string
		want    Unit
		wantErr bool
	}{
		{input: "", want: UnitCredits},
		{input: "credits", want: UnitCredits},
		{input: " Points ", want: UnitPoints},
		{input: "euros", wantErr: true},
	}
	for _, testCase := range testCases {
		unit, err := ParseUnit(testCase.input)
		if testCase.wantErr {
			if !errors.Is(err, ErrInvalidUnit) {
				test.Fatalf("expected ErrInvalidUnit for %q, got %v", testCase.input, err)
			}
			continue
		}
		if err != nil || unit != testCase.want {
			test.Fatalf("ParseUnit(%q) = %q, %v", testCase.input, unit, err)
		}
	}
}

func TestAmountConstructors(test *testing.T) {
	test.Parallel()
	if _, err := NewAmountCents(-1); !errors.Is(err, ErrInvalidAmountCents) {
		test.Fatalf("expected negative amount to fail, got %v", err)
	}
	if _, err := NewPositiveAmountCents(0); !errors.Is(err, ErrInvalidAmountCents) {
		test.Fatalf("expected zero positive amount to fail, got %v", err)
	}
	if _, err := NewEntryAmountCents(0); !errors.Is(err, ErrInvalidEntryAmountCents) {
		test.Fatalf("expected zero entry amount to fail, got %v", err)
	}
	amount, err := NewPositiveAmountCents(25)
	if err != nil {
		test.Fatalf("positive amount: %v", err)
	}
	if amount.ToEntryAmountCents().Negated().Int64() != -25 {
		test.Fatalf("unexpected negation %d", amount.ToEntryAmountCents().Negated())
	}
}

func TestNewEntryInputEnforcesSigns(test *testing.T) {
	test.Parallel()
	accountID := mustAccountID(test, "account")
	key := mustIdempotencyKey(test, "key")
	testCases := []struct {
		name      string
		unit      Unit
		entryType EntryType
		amount    EntryAmountCents
		wantErr   error
	}{
		{name: "grant positive", unit: UnitCredits, entryType: EntryGrant, amount: 10},
		{name: "grant negative", unit: UnitCredits, entryType: EntryGrant, amount: -10, wantErr: ErrInvalidEntryAmountCents},
		{name: "hold negative", unit: UnitCredits, entryType: EntryHold, amount: -10},
		{name: "hold positive", unit: UnitCredits, entryType: EntryHold, amount: 10, wantErr: ErrInvalidEntryAmountCents},
		{name: "spend positive", unit: UnitPoints, entryType: EntrySpend, amount: 10, wantErr: ErrInvalidEntryAmountCents},
		{name: "refund positive", unit: UnitPoints, entryType: EntryRefund, amount: 10},
		{name: "zero", unit: UnitCredits, entryType: EntryRefund, amount: 0, wantErr: ErrInvalidEntryAmountCents},
		{name: "unknown type", unit: UnitCredits, entryType: EntryType("bonus"), amount: 10, wantErr: ErrInvalidEntryType},
		{name: "unknown unit", unit: Unit("euros"), entryType: EntryGrant, amount: 10, wantErr: ErrInvalidUnit},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			_, err := NewEntryInput(accountID, testCase.unit, testCase.entryType, testCase.amount, nil, key, 0, MetadataJSON{}, 1)
			if testCase.wantErr == nil && err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestNewMetadataJSON(test *testing.T) {
	test.Parallel()
	metadata, err := NewMetadataJSON("  ")
	if err != nil || metadata.String() != "{}" {
		test.Fatalf("expected empty object default, got %q, %v", metadata.String(), err)
	}
	if _, err := NewMetadataJSON("{"); !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("expected invalid metadata, got %v", err)
	}
	if (MetadataJSON{}).String() != "{}" {
		test.Fatalf("zero metadata should render as empty object")
	}
}
