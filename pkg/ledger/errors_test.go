package ledger

import (
	"errors"
	"testing"
)

const (
	operationName    = "ledger"
	subjectName      = "entry"
	codeName         = "invalid"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestWrapErrorKeepsStoreCodesAndCause(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		operation string
		subject   string
		code      string
		cause     error
		expected  string
	}{
		{
			name:      "slot conflict",
			operation: "store",
			subject:   "slot",
			code:      "conflict",
			cause:     ErrReservationExists,
			expected:  "store.slot.conflict: " + ErrReservationExists.Error(),
		},
		{
			name:      "ledger drift",
			operation: "service",
			subject:   "balance",
			code:      "negative_available",
			cause:     ErrInvalidBalance,
			expected:  "service.balance.negative_available: " + ErrInvalidBalance.Error(),
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			wrapped := WrapError(testCase.operation, testCase.subject, testCase.code, testCase.cause)
			if wrapped.Error() != testCase.expected {
				test.Fatalf("expected %q, got %q", testCase.expected, wrapped.Error())
			}
			if !errors.Is(wrapped, testCase.cause) {
				test.Fatalf("expected %v to wrap %v", wrapped, testCase.cause)
			}
			var operationError OperationError
			if !errors.As(wrapped, &operationError) || operationError.Subject() != testCase.subject {
				test.Fatalf("expected an operation error for subject %q, got %#v", testCase.subject, wrapped)
			}
		})
	}
}
