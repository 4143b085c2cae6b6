package booking

import (
	"context"

	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

// Store is the persistence contract of the booking engine. Every method called on
// the txStore handed to WithTx runs inside the same database transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// Ledger exposes the ledger store bound to the same transaction.
	Ledger() ledger.Store

	SaveClub(ctx context.Context, club Club) error
	GetClub(ctx context.Context, clubID string) (Club, error)
	LockClub(ctx context.Context, clubID string) error
	SaveCourt(ctx context.Context, court Court) error
	ListActiveCourts(ctx context.Context, clubID string) ([]Court, error)
	SaveInstructor(ctx context.Context, instructor Instructor) error
	GetInstructor(ctx context.Context, instructorID string) (Instructor, error)
	ListInstructors(ctx context.Context, clubID string, onlyActive bool) ([]Instructor, error)

	InsertSlots(ctx context.Context, slots []TimeSlot) (int, error)
	GetSlot(ctx context.Context, slotID string) (TimeSlot, error)
	GetSlotForUpdate(ctx context.Context, slotID string) (TimeSlot, error)
	ListSlots(ctx context.Context, filter SlotFilter) ([]TimeSlot, error)
	UpdateSlot(ctx context.Context, slot TimeSlot, expectedVersion int64) error
	// CourtNumbersInUse lists court numbers held by confirmed, non-cancelled slots of the
	// club overlapping [startUnixMilli, endUnixMilli), ignoring excludeSlotID.
	CourtNumbersInUse(ctx context.Context, clubID string, startUnixMilli int64, endUnixMilli int64, excludeSlotID string) ([]int, error)
	InstructorBusy(ctx context.Context, instructorID string, startUnixMilli int64, endUnixMilli int64, excludeSlotID string) (bool, error)
	DeleteStaleProposals(ctx context.Context, clubID string, beforeUnixMilli int64) (int, error)

	InsertBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, bookingID string) (Booking, error)
	GetBookingForUpdate(ctx context.Context, bookingID string) (Booking, error)
	UpdateBooking(ctx context.Context, booking Booking) error
	ListActiveBookings(ctx context.Context, slotID string) ([]Booking, error)
	ListUserBookings(ctx context.Context, userID string, fromUnixMilli int64) ([]Booking, error)
	ListUnsettledBookings(ctx context.Context, startedBeforeUnixMilli int64, limit int) ([]Booking, error)
}
