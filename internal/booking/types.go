package booking

import (
	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

const (
	// MaxGroupSize bounds how many players one booking can bring.
	MaxGroupSize = 4

	defaultLevel    = "open"
	defaultCategory = "class"
)

// Club owns courts and instructors and defines the opening hours classes are generated in.
type Club struct {
	ID                   string
	Name                 string
	Timezone             string
	OpenTime             string
	CloseTime            string
	SlotStepMinutes      int
	ClassDurationMinutes int
	DefaultCapacity      int
	PriceCents           int64
	PricePoints          int64
	Active               bool
}

// Instructor teaches classes at one club.
type Instructor struct {
	ID         string
	ClubID     string
	Name       string
	PriceCents int64
	Active     bool
}

// Court is a physical court. The booking flow only reads courts.
type Court struct {
	ID     string
	ClubID string
	Number int
	Active bool
}

// SlotStatus is derived from court assignment, occupancy and the cancelled flag.
type SlotStatus string

const (
	SlotProposal  SlotStatus = "proposal"
	SlotConfirmed SlotStatus = "confirmed"
	SlotFull      SlotStatus = "full"
	SlotCancelled SlotStatus = "cancelled"
)

// TimeSlot is a schedulable class window. A slot without a court is a proposal.
type TimeSlot struct {
	ID               string
	ClubID           string
	InstructorID     string
	StartUnixMilli   int64
	EndUnixMilli     int64
	Level            string
	Category         string
	CourtID          string
	CourtNumber      int
	Capacity         int
	BookedPlayers    int
	RecycledSpots    int
	PriceCents       int64
	PricePoints      int64
	Cancelled        bool
	Version          int64
	CreatedUnixMilli int64
}

// IsProposal reports whether the slot still waits for its first booking.
func (slot TimeSlot) IsProposal() bool {
	return slot.CourtID == ""
}

// Remaining returns the number of free player places.
func (slot TimeSlot) Remaining() int {
	return slot.Capacity - slot.BookedPlayers
}

// Status derives the lifecycle state.
func (slot TimeSlot) Status() SlotStatus {
	switch {
	case slot.Cancelled:
		return SlotCancelled
	case slot.IsProposal():
		return SlotProposal
	case slot.Remaining() <= 0:
		return SlotFull
	default:
		return SlotConfirmed
	}
}

// UnitPrice returns the per-player price in the given unit. Zero means the unit is not accepted.
func (slot TimeSlot) UnitPrice(unit ledger.Unit) int64 {
	if unit == ledger.UnitPoints {
		return slot.PricePoints
	}
	return slot.PriceCents
}

// BookingStatus is the lifecycle of a booking row. Book commits bookings as
// CONFIRMED and cancellation is the only transition.
type BookingStatus string

const (
	// BookingPending is reserved for stored rows and clients; no engine path writes it.
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// Booking links a user to a slot for a group of players.
type Booking struct {
	ID                 string
	UserID             string
	SlotID             string
	Status             BookingStatus
	GroupSize          int
	Confirmed          bool
	Recycled           bool
	Unit               ledger.Unit
	AmountCharged      int64
	AmountRefunded     int64
	Settled            bool
	CancelReason       string
	CreatedUnixMilli   int64
	CancelledUnixMilli int64
}

// Active reports whether the booking still occupies capacity.
func (booking Booking) Active() bool {
	return booking.Status != BookingCancelled
}

// SlotFilter selects slots by club, instructor and an absolute time range.
type SlotFilter struct {
	ClubID        string
	InstructorID  string
	FromUnixMilli int64
	ToUnixMilli   int64
	// OnlyBookable drops cancelled and full slots.
	OnlyBookable bool
	Limit        int
}
