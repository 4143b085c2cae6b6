package booking

import (
	"context"
	"time"
)

// Operation names reported to the Observer.
const (
	OperationBook       = "book"
	OperationCancel     = "cancel"
	OperationCancelSlot = "cancel_slot"
	OperationSettle     = "settle"
	OperationGenerate   = "generate"
	OperationPurge      = "purge_proposals"
	OperationPublish    = "publish"
)

// Routing keys of the events published after a commit.
const (
	RoutingBookingConfirmed = "booking.confirmed"
	RoutingBookingCancelled = "booking.cancelled"
	RoutingSlotsGenerated   = "slots.generated"
)

// EventPublisher delivers domain events. Publishing happens after commit and never undoes it.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Observer receives one record per engine operation.
type Observer interface {
	ObserveOperation(ctx context.Context, record OperationRecord)
}

// OperationRecord describes a finished engine operation.
type OperationRecord struct {
	Operation string
	UserID    string
	ClubID    string
	SlotID    string
	BookingID string
	Amount    int64
	Count     int
	Duration  time.Duration
	Error     error
}

// BookingConfirmedEvent is published once a booking commits.
type BookingConfirmedEvent struct {
	BookingID     string `json:"booking_id"`
	UserID        string `json:"user_id"`
	SlotID        string `json:"slot_id"`
	ClubID        string `json:"club_id"`
	CourtNumber   int    `json:"court_number"`
	GroupSize     int    `json:"group_size"`
	Unit          string `json:"unit"`
	AmountCharged int64  `json:"amount_charged"`
	StartUnixMs   int64  `json:"start_unix_ms"`
	OccurredAtUTC int64  `json:"occurred_at_unix_ms"`
}

// BookingCancelledEvent is published once a cancellation commits.
type BookingCancelledEvent struct {
	BookingID      string `json:"booking_id"`
	UserID         string `json:"user_id"`
	SlotID         string `json:"slot_id"`
	Reason         string `json:"reason,omitempty"`
	Unit           string `json:"unit"`
	AmountRefunded int64  `json:"amount_refunded"`
	OccurredAtUTC  int64  `json:"occurred_at_unix_ms"`
}

// SlotsGeneratedEvent is published when a generation run created new proposals.
type SlotsGeneratedEvent struct {
	ClubID        string `json:"club_id"`
	InstructorID  string `json:"instructor_id"`
	Date          string `json:"date"`
	Created       int    `json:"created"`
	OccurredAtUTC int64  `json:"occurred_at_unix_ms"`
}

func publish(ctx context.Context, publisher EventPublisher, observer Observer, routingKey string, event any) {
	if err := publisher.Publish(ctx, routingKey, event); err != nil {
		observer.ObserveOperation(ctx, OperationRecord{Operation: OperationPublish, Error: err})
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }

type noopObserver struct{}

func (noopObserver) ObserveOperation(context.Context, OperationRecord) {}
