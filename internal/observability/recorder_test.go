package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

func newObservedRecorder(test *testing.T) (*Recorder, *observer.ObservedLogs) {
	test.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	recorder, err := NewRecorder(zap.New(core), nil)
	if err != nil {
		test.Fatalf("recorder: %v", err)
	}
	return recorder, logs
}

func TestObserveOperationCountsOutcomes(test *testing.T) {
	test.Parallel()
	recorder, logs := newObservedRecorder(test)
	ctx := context.Background()

	recorder.ObserveOperation(ctx, booking.OperationRecord{Operation: booking.OperationBook, UserID: "user-1", SlotID: "slot-1", Amount: 6000, Duration: time.Millisecond})
	recorder.ObserveOperation(ctx, booking.OperationRecord{Operation: booking.OperationBook, Error: fmt.Errorf("%w: 4 of 4", booking.ErrSlotFull)})
	recorder.ObserveOperation(ctx, booking.OperationRecord{Operation: booking.OperationBook, Error: booking.ErrConcurrentConflict})
	recorder.ObserveOperation(ctx, booking.OperationRecord{Operation: booking.OperationGenerate, ClubID: "club", Count: 26})

	testCases := []struct {
		outcome  string
		expected float64
	}{
		{outcome: outcomeOK, expected: 1},
		{outcome: string(booking.KindSlotFull), expected: 1},
		{outcome: string(booking.KindConcurrentConflict), expected: 1},
		{outcome: string(booking.KindInternal), expected: 0},
	}
	for _, testCase := range testCases {
		if got := testutil.ToFloat64(recorder.engineOperations.WithLabelValues(booking.OperationBook, testCase.outcome)); got != testCase.expected {
			test.Fatalf("outcome %s: expected %v, got %v", testCase.outcome, testCase.expected, got)
		}
	}
	if got := testutil.ToFloat64(recorder.generatedSlots); got != 26 {
		test.Fatalf("expected 26 generated slots, got %v", got)
	}

	if logs.Len() != 4 {
		test.Fatalf("expected one log line per operation, got %d", logs.Len())
	}
	conflicts := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if len(conflicts) != 1 || conflicts[0].ContextMap()["outcome"] != string(booking.KindConcurrentConflict) {
		test.Fatalf("expected the conflict at warn level, got %+v", conflicts)
	}
	first := logs.All()[0].ContextMap()
	if first["user_id"] != "user-1" || first["amount"] != int64(6000) {
		test.Fatalf("unexpected fields %+v", first)
	}
	if _, ok := first["booking_id"]; ok {
		test.Fatalf("empty identifiers must be omitted")
	}
}

func TestLogOperationEscalatesInvariantFailures(test *testing.T) {
	test.Parallel()
	recorder, logs := newObservedRecorder(test)
	ctx := context.Background()
	userID, err := ledger.NewUserID("user-2")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	reservationID, err := ledger.NewReservationID("booking-1")
	if err != nil {
		test.Fatalf("reservation id: %v", err)
	}

	recorder.LogOperation(ctx, ledger.OperationLog{Operation: "reserve", Status: "ok", UserID: userID, Unit: ledger.UnitCredits, ReservationID: &reservationID, Amount: 6000})
	recorder.LogOperation(ctx, ledger.OperationLog{Operation: "spend", Status: "error", UserID: userID, Unit: ledger.UnitCredits, Error: ledger.ErrInsufficientFunds})
	recorder.LogOperation(ctx, ledger.OperationLog{Operation: "audit", Status: "error", UserID: userID, Unit: ledger.UnitPoints, Error: ledger.WrapError("service", "audit", "total_drift", ledger.ErrInvalidBalance)})

	if got := testutil.ToFloat64(recorder.ledgerOperations.WithLabelValues("reserve", "ok")); got != 1 {
		test.Fatalf("expected one reserve, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.invariantFailures); got != 1 {
		test.Fatalf("expected one invariant failure, got %v", got)
	}
	entries := logs.All()
	levels := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for index, level := range levels {
		if entries[index].Level != level {
			test.Fatalf("entry %d: expected %s, got %s", index, level, entries[index].Level)
		}
	}
	if entries[0].ContextMap()["reservation_id"] != "booking-1" {
		test.Fatalf("expected reservation id field, got %+v", entries[0].ContextMap())
	}
}

func TestHandlerExposesMetrics(test *testing.T) {
	test.Parallel()
	recorder, _ := newObservedRecorder(test)
	recorder.ObserveOperation(context.Background(), booking.OperationRecord{Operation: booking.OperationCancel, Error: errors.New("boom")})

	response := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if response.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", response.Code)
	}
	if !strings.Contains(response.Body.String(), `courtbook_engine_operations_total{operation="cancel",outcome="internal"} 1`) {
		test.Fatalf("expected the cancel counter in the exposition, got:\n%s", response.Body.String())
	}
}

func TestNewRecorderRejectsDuplicateRegistration(test *testing.T) {
	test.Parallel()
	first, err := NewRecorder(nil, nil)
	if err != nil {
		test.Fatalf("first recorder: %v", err)
	}
	if _, err := NewRecorder(nil, first.registry); err == nil {
		test.Fatalf("expected duplicate registration to fail")
	}
}
