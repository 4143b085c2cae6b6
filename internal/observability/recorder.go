// Package observability turns engine and ledger callbacks into zap logs and Prometheus metrics.
package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

const (
	metricsNamespace = "courtbook"
	outcomeOK        = "ok"
)

// Recorder implements booking.Observer and ledger.OperationLogger.
type Recorder struct {
	logger            *zap.Logger
	registry          *prometheus.Registry
	engineOperations  *prometheus.CounterVec
	engineDuration    *prometheus.HistogramVec
	generatedSlots    prometheus.Counter
	ledgerOperations  *prometheus.CounterVec
	invariantFailures prometheus.Counter
}

// NewRecorder registers the courtbook metrics on registry. A nil registry gets a fresh one.
func NewRecorder(logger *zap.Logger, registry *prometheus.Registry) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	recorder := &Recorder{
		logger:   logger,
		registry: registry,
		engineOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "engine_operations_total",
			Help:      "Booking engine operations by outcome.",
		}, []string{"operation", "outcome"}),
		engineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "engine_operation_duration_seconds",
			Help:      "Booking engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		generatedSlots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "generated_slots_total",
			Help:      "Proposal slots written by the generator.",
		}),
		ledgerOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger operations by status.",
		}, []string{"operation", "status"}),
		invariantFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ledger_invariant_failures_total",
			Help:      "Balance drift detected by audits or postings.",
		}),
	}
	collectors := []prometheus.Collector{
		recorder.engineOperations,
		recorder.engineDuration,
		recorder.generatedSlots,
		recorder.ledgerOperations,
		recorder.invariantFailures,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return recorder, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (recorder *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(recorder.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one engine operation.
func (recorder *Recorder) ObserveOperation(ctx context.Context, record booking.OperationRecord) {
	outcome := outcomeOK
	if record.Error != nil {
		outcome = string(booking.KindOf(record.Error))
	}
	recorder.engineOperations.WithLabelValues(record.Operation, outcome).Inc()
	recorder.engineDuration.WithLabelValues(record.Operation).Observe(record.Duration.Seconds())
	if record.Operation == booking.OperationGenerate && record.Error == nil {
		recorder.generatedSlots.Add(float64(record.Count))
	}
	if errors.Is(record.Error, booking.ErrLedgerInvariantViolation) {
		recorder.invariantFailures.Inc()
	}

	fields := []zap.Field{
		zap.String("operation", record.Operation),
		zap.String("outcome", outcome),
		zap.Duration("duration", record.Duration),
	}
	fields = appendNonEmpty(fields, "user_id", record.UserID)
	fields = appendNonEmpty(fields, "club_id", record.ClubID)
	fields = appendNonEmpty(fields, "slot_id", record.SlotID)
	fields = appendNonEmpty(fields, "booking_id", record.BookingID)
	if record.Amount != 0 {
		fields = append(fields, zap.Int64("amount", record.Amount))
	}
	if record.Count != 0 {
		fields = append(fields, zap.Int("count", record.Count))
	}
	if record.Error != nil {
		fields = append(fields, zap.Error(record.Error))
	}
	recorder.logger.Log(engineLevel(record.Error), "engine operation", fields...)
}

// LogOperation records one ledger operation.
func (recorder *Recorder) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	recorder.ledgerOperations.WithLabelValues(entry.Operation, entry.Status).Inc()
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("user_id", entry.UserID.String()),
		zap.String("unit", entry.Unit.String()),
		zap.Int64("amount_cents", entry.Amount.Int64()),
	}
	fields = appendNonEmpty(fields, "idempotency_key", entry.IdempotencyKey.String())
	if entry.ReservationID != nil {
		fields = append(fields, zap.String("reservation_id", entry.ReservationID.String()))
	}
	level := zapcore.InfoLevel
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		level = zapcore.WarnLevel
		if errors.Is(entry.Error, ledger.ErrInvalidBalance) {
			recorder.invariantFailures.Inc()
			level = zapcore.ErrorLevel
		}
	}
	recorder.logger.Log(level, "ledger operation", fields...)
}

func engineLevel(err error) zapcore.Level {
	switch booking.KindOf(err) {
	case "":
		return zapcore.InfoLevel
	case booking.KindInternal, booking.KindLedgerInvariant:
		return zapcore.ErrorLevel
	case booking.KindConcurrentConflict:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func appendNonEmpty(fields []zap.Field, key string, value string) []zap.Field {
	if value == "" {
		return fields
	}
	return append(fields, zap.String(key, value))
}

var (
	_ booking.Observer       = (*Recorder)(nil)
	_ ledger.OperationLogger = (*Recorder)(nil)
)
