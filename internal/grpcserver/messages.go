package grpcserver

// Empty is returned by calls without a payload.
type Empty struct{}

type GenerateSlotsRequest struct {
	ClubID       string `json:"club_id"`
	InstructorID string `json:"instructor_id,omitempty"`
	Date         string `json:"date,omitempty"`
	DayOffset    int32  `json:"day_offset,omitempty"`
	// Without InstructorID, Days consecutive days are generated for every active instructor.
	Days         int32  `json:"days,omitempty"`
	Level        string `json:"level,omitempty"`
	Category     string `json:"category,omitempty"`
}

type GenerateSlotsResponse struct {
	Date       string `json:"date"`
	FromUnixMs int64  `json:"from_unix_ms"`
	ToUnixMs   int64  `json:"to_unix_ms"`
	Created    int32  `json:"created"`
	Skipped    int32  `json:"skipped"`
}

type ListSlotsRequest struct {
	ClubID       string `json:"club_id"`
	Date         string `json:"date"`
	InstructorID string `json:"instructor_id,omitempty"`
	OnlyBookable bool   `json:"only_bookable,omitempty"`
}

type ListSlotsResponse struct {
	Slots []*Slot `json:"slots"`
}

type Slot struct {
	SlotID        string `json:"slot_id"`
	ClubID        string `json:"club_id"`
	InstructorID  string `json:"instructor_id"`
	StartUnixMs   int64  `json:"start_unix_ms"`
	EndUnixMs     int64  `json:"end_unix_ms"`
	Level         string `json:"level"`
	Category      string `json:"category"`
	Status        string `json:"status"`
	CourtNumber   int32  `json:"court_number"`
	Capacity      int32  `json:"capacity"`
	BookedPlayers int32  `json:"booked_players"`
	RecycledSpots int32  `json:"recycled_spots"`
	PriceCents    int64  `json:"price_cents"`
	PricePoints   int64  `json:"price_points"`
}

type Booking struct {
	BookingID       string `json:"booking_id"`
	UserID          string `json:"user_id"`
	SlotID          string `json:"slot_id"`
	Status          string `json:"status"`
	GroupSize       int32  `json:"group_size"`
	Recycled        bool   `json:"recycled"`
	Unit            string `json:"unit"`
	AmountCharged   int64  `json:"amount_charged"`
	AmountRefunded  int64  `json:"amount_refunded"`
	Settled         bool   `json:"settled"`
	CreatedUnixMs   int64  `json:"created_unix_ms"`
	CancelledUnixMs int64  `json:"cancelled_unix_ms,omitempty"`
}

type Balance struct {
	Unit           string `json:"unit"`
	TotalCents     int64  `json:"total_cents"`
	BlockedCents   int64  `json:"blocked_cents"`
	AvailableCents int64  `json:"available_cents"`
}

type BookRequest struct {
	UserID         string `json:"user_id"`
	SlotID         string `json:"slot_id"`
	GroupSize      int32  `json:"group_size"`
	Unit           string `json:"unit,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type BookResponse struct {
	Booking  *Booking `json:"booking"`
	Slot     *Slot    `json:"slot"`
	Balance  *Balance `json:"balance"`
	Replayed bool     `json:"replayed,omitempty"`
}

type CancelRequest struct {
	BookingID string `json:"booking_id"`
	// UserID must own the booking; empty cancels administratively.
	UserID    string `json:"user_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type CancelResponse struct {
	Booking        *Booking `json:"booking"`
	Slot           *Slot    `json:"slot"`
	AmountRefunded int64    `json:"amount_refunded"`
	Balance        *Balance `json:"balance"`
}

type ListBookingsRequest struct {
	UserID     string `json:"user_id"`
	FromUnixMs int64  `json:"from_unix_ms,omitempty"`
}

type ListBookingsResponse struct {
	Bookings []*Booking `json:"bookings"`
}

type BalanceRequest struct {
	UserID string `json:"user_id"`
	Unit   string `json:"unit,omitempty"`
}

type GrantRequest struct {
	UserID         string `json:"user_id"`
	Unit           string `json:"unit,omitempty"`
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
	ExpiresUnixMs  int64  `json:"expires_unix_ms,omitempty"`
	MetadataJSON   string `json:"metadata_json,omitempty"`
}

type ListEntriesRequest struct {
	UserID       string `json:"user_id"`
	BeforeUnixMs int64  `json:"before_unix_ms,omitempty"`
	Limit        int32  `json:"limit,omitempty"`
}

type ListEntriesResponse struct {
	Entries []*Entry `json:"entries"`
}

type Entry struct {
	EntryID        string `json:"entry_id"`
	AccountID      string `json:"account_id"`
	Unit           string `json:"unit"`
	Type           string `json:"type"`
	AmountCents    int64  `json:"amount_cents"`
	ReservationID  string `json:"reservation_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	ExpiresUnixMs  int64  `json:"expires_unix_ms,omitempty"`
	MetadataJSON   string `json:"metadata_json"`
	CreatedUnixMs  int64  `json:"created_unix_ms"`
}

type CancelSlotRequest struct {
	SlotID string `json:"slot_id"`
	Reason string `json:"reason,omitempty"`
}

type CancelSlotResponse struct {
	Bookings []*Booking `json:"bookings"`
}
