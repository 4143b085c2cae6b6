package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

// SettlementMode decides what a booking does to the ledger when it is made.
type SettlementMode string

const (
	// SettlementHold blocks the charge; Settle captures it once the class started.
	SettlementHold SettlementMode = "hold"
	// SettlementSpend debits the charge immediately; cancellations write refund entries.
	SettlementSpend SettlementMode = "spend"
)

const defaultLockTimeout = 5 * time.Second

// bookingNamespace derives booking ids from client idempotency keys.
var bookingNamespace = uuid.MustParse("0b7c4d52-3a1e-5f69-8e2d-9c4b1a7f6e35")

// ParseSettlementMode validates a settlement mode name.
func ParseSettlementMode(raw string) (SettlementMode, error) {
	switch SettlementMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SettlementHold:
		return SettlementHold, nil
	case SettlementSpend:
		return SettlementSpend, nil
	default:
		return "", fmt.Errorf("%w: settlement mode %q", ErrInvalidEngineConfig, raw)
	}
}

// Engine books and cancels slots. Every mutation of a slot happens under the slot's
// lock and inside one store transaction together with its ledger entries.
type Engine struct {
	store        Store
	locker       Locker
	nowFn        func() int64
	newID        func() string
	lockTimeout  time.Duration
	settlement   SettlementMode
	refundPolicy RefundPolicy
	publisher    EventPublisher
	observer     Observer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLockTimeout bounds how long Book and Cancel wait for a busy slot.
func WithLockTimeout(timeout time.Duration) EngineOption {
	return func(engine *Engine) {
		if timeout > 0 {
			engine.lockTimeout = timeout
		}
	}
}

// WithSettlement selects hold or spend settlement.
func WithSettlement(mode SettlementMode) EngineOption {
	return func(engine *Engine) {
		engine.settlement = mode
	}
}

// WithRefundPolicy replaces DefaultRefundPolicy.
func WithRefundPolicy(policy RefundPolicy) EngineOption {
	return func(engine *Engine) {
		engine.refundPolicy = policy
	}
}

// WithPublisher wires the event publisher.
func WithPublisher(publisher EventPublisher) EngineOption {
	return func(engine *Engine) {
		if publisher != nil {
			engine.publisher = publisher
		}
	}
}

// WithObserver wires the operation observer.
func WithObserver(observer Observer) EngineOption {
	return func(engine *Engine) {
		if observer != nil {
			engine.observer = observer
		}
	}
}

// WithIDGenerator replaces uuid.NewString for booking ids.
func WithIDGenerator(newID func() string) EngineOption {
	return func(engine *Engine) {
		if newID != nil {
			engine.newID = newID
		}
	}
}

// NewEngine wires an Engine. now returns epoch milliseconds.
func NewEngine(store Store, locker Locker, now func() int64, options ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidEngineConfig)
	}
	if locker == nil {
		return nil, fmt.Errorf("%w: locker dependency is nil", ErrInvalidEngineConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidEngineConfig)
	}
	engine := &Engine{
		store:        store,
		locker:       locker,
		nowFn:        now,
		newID:        uuid.NewString,
		lockTimeout:  defaultLockTimeout,
		settlement:   SettlementHold,
		refundPolicy: DefaultRefundPolicy(),
		publisher:    noopPublisher{},
		observer:     noopObserver{},
	}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	if _, err := ParseSettlementMode(string(engine.settlement)); err != nil {
		return nil, err
	}
	if err := engine.refundPolicy.Validate(); err != nil {
		return nil, err
	}
	return engine, nil
}

// BookRequest asks for GroupSize places on a slot paid in Unit.
// A non-empty IdempotencyKey makes retries of the same request return the first booking.
type BookRequest struct {
	UserID         string
	SlotID         string
	GroupSize      int
	Unit           ledger.Unit
	IdempotencyKey string
}

// BookResult carries the committed booking, the slot after the booking and the payer's balance.
type BookResult struct {
	Booking  Booking
	Slot     TimeSlot
	Balance  ledger.Balance
	Replayed bool
}

func (request BookRequest) normalize() (BookRequest, error) {
	request.UserID = strings.TrimSpace(request.UserID)
	request.SlotID = strings.TrimSpace(request.SlotID)
	request.IdempotencyKey = strings.TrimSpace(request.IdempotencyKey)
	if request.UserID == "" {
		return BookRequest{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if request.SlotID == "" {
		return BookRequest{}, fmt.Errorf("%w: slot id is required", ErrInvalidInput)
	}
	if request.GroupSize < 1 || request.GroupSize > MaxGroupSize {
		return BookRequest{}, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidGroupSize, request.GroupSize, MaxGroupSize)
	}
	unit, err := ledger.ParseUnit(request.Unit.String())
	if err != nil {
		return BookRequest{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	request.Unit = unit
	return request, nil
}

// Book reserves capacity on a slot and charges the user in one atomic step.
// A proposal is promoted to a confirmed slot with the lowest free court.
func (engine *Engine) Book(ctx context.Context, request BookRequest) (BookResult, error) {
	startedAt := time.Now()
	result, err := engine.book(ctx, request)
	engine.observer.ObserveOperation(ctx, OperationRecord{
		Operation: OperationBook,
		UserID:    request.UserID,
		SlotID:    request.SlotID,
		BookingID: result.Booking.ID,
		Amount:    result.Booking.AmountCharged,
		Duration:  time.Since(startedAt),
		Error:     err,
	})
	if err != nil {
		return BookResult{}, err
	}
	if !result.Replayed {
		publish(ctx, engine.publisher, engine.observer, RoutingBookingConfirmed, BookingConfirmedEvent{
			BookingID:     result.Booking.ID,
			UserID:        result.Booking.UserID,
			SlotID:        result.Slot.ID,
			ClubID:        result.Slot.ClubID,
			CourtNumber:   result.Slot.CourtNumber,
			GroupSize:     result.Booking.GroupSize,
			Unit:          result.Booking.Unit.String(),
			AmountCharged: result.Booking.AmountCharged,
			StartUnixMs:   result.Slot.StartUnixMilli,
			OccurredAtUTC: result.Booking.CreatedUnixMilli,
		})
	}
	return result, nil
}

func (engine *Engine) book(ctx context.Context, request BookRequest) (BookResult, error) {
	request, err := request.normalize()
	if err != nil {
		return BookResult{}, err
	}
	bookingID := engine.newID()
	if request.IdempotencyKey != "" {
		bookingID = uuid.NewSHA1(bookingNamespace, []byte(request.UserID+"/"+request.IdempotencyKey)).String()
	}
	release, err := engine.locker.Acquire(ctx, SlotLockKey(request.SlotID), engine.lockTimeout)
	if err != nil {
		return BookResult{}, err
	}
	defer release()

	var result BookResult
	err = engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		nowUnixMilli := engine.nowFn()
		if request.IdempotencyKey != "" {
			existing, lookupErr := txStore.GetBooking(ctx, bookingID)
			if lookupErr == nil {
				return engine.replayBooking(ctx, txStore, request, existing, &result)
			}
			if KindOf(lookupErr) != KindNotFound {
				return lookupErr
			}
		}
		slot, err := txStore.GetSlotForUpdate(ctx, request.SlotID)
		if err != nil {
			return err
		}
		if slot.Cancelled {
			return fmt.Errorf("%w: %s", ErrSlotAlreadyCancelled, slot.ID)
		}
		if slot.EndUnixMilli <= nowUnixMilli {
			return fmt.Errorf("%w: %s", ErrSlotExpired, slot.ID)
		}
		if slot.Remaining() < request.GroupSize {
			return fmt.Errorf("%w: %d of %d places left", ErrSlotFull, max(slot.Remaining(), 0), slot.Capacity)
		}
		unitPrice := slot.UnitPrice(request.Unit)
		if unitPrice <= 0 {
			return fmt.Errorf("%w: %s", ErrUnsupportedUnit, request.Unit)
		}
		charge := unitPrice * int64(request.GroupSize)
		expectedVersion := slot.Version

		booking := Booking{
			ID:               bookingID,
			UserID:           request.UserID,
			SlotID:           slot.ID,
			Status:           BookingConfirmed,
			GroupSize:        request.GroupSize,
			Confirmed:        true,
			Unit:             request.Unit,
			AmountCharged:    charge,
			Settled:          engine.settlement == SettlementSpend,
			CreatedUnixMilli: nowUnixMilli,
		}
		poster, err := ledger.NewPoster(txStore.Ledger(), engine.nowFn)
		if err != nil {
			return err
		}
		refs, err := newLedgerRefs(booking, slot)
		if err != nil {
			return err
		}
		if err := engine.charge(ctx, poster, booking, refs); err != nil {
			return err
		}
		if slot.IsProposal() {
			if err := engine.promote(ctx, txStore, &slot); err != nil {
				return err
			}
		}
		if slot.RecycledSpots > 0 {
			reused := min(slot.RecycledSpots, request.GroupSize)
			slot.RecycledSpots -= reused
			booking.Recycled = true
		}
		slot.BookedPlayers += request.GroupSize
		slot.Version++
		if err := txStore.UpdateSlot(ctx, slot, expectedVersion); err != nil {
			return err
		}
		if err := txStore.InsertBooking(ctx, booking); err != nil {
			return err
		}
		balance, err := poster.Balance(ctx, refs.userID, booking.Unit)
		if err != nil {
			return translateLedgerError(err)
		}
		result = BookResult{Booking: booking, Slot: slot, Balance: balance}
		return nil
	})
	if err != nil {
		return BookResult{}, err
	}
	return result, nil
}

func (engine *Engine) replayBooking(ctx context.Context, txStore Store, request BookRequest, existing Booking, result *BookResult) error {
	if existing.UserID != request.UserID || existing.SlotID != request.SlotID {
		return fmt.Errorf("%w: idempotency key reused for a different booking", ErrInvalidInput)
	}
	slot, err := txStore.GetSlot(ctx, existing.SlotID)
	if err != nil {
		return err
	}
	poster, err := ledger.NewPoster(txStore.Ledger(), engine.nowFn)
	if err != nil {
		return err
	}
	userID, err := ledger.NewUserID(existing.UserID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	balance, err := poster.Balance(ctx, userID, existing.Unit)
	if err != nil {
		return translateLedgerError(err)
	}
	*result = BookResult{Booking: existing, Slot: slot, Balance: balance, Replayed: true}
	return nil
}

// charge writes the ledger side of a new booking.
func (engine *Engine) charge(ctx context.Context, poster ledger.Poster, booking Booking, refs ledgerRefs) error {
	amount, err := ledger.NewPositiveAmountCents(booking.AmountCharged)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if engine.settlement == SettlementSpend {
		err = poster.Spend(ctx, refs.userID, booking.Unit, amount, &refs.reservationID, refs.key("spend"), refs.metadata)
	} else {
		err = poster.Reserve(ctx, refs.userID, booking.Unit, amount, refs.reservationID, refs.key("hold"), refs.metadata)
	}
	return translateLedgerError(err)
}

// promote assigns the lowest-numbered active court that no overlapping confirmed
// slot of the club holds. The club row lock serializes promotions across slots.
func (engine *Engine) promote(ctx context.Context, txStore Store, slot *TimeSlot) error {
	if err := txStore.LockClub(ctx, slot.ClubID); err != nil {
		return err
	}
	busy, err := txStore.InstructorBusy(ctx, slot.InstructorID, slot.StartUnixMilli, slot.EndUnixMilli, slot.ID)
	if err != nil {
		return err
	}
	if busy {
		return fmt.Errorf("%w: %s already teaches at that time", ErrInstructorUnavailable, slot.InstructorID)
	}
	courts, err := txStore.ListActiveCourts(ctx, slot.ClubID)
	if err != nil {
		return err
	}
	inUse, err := txStore.CourtNumbersInUse(ctx, slot.ClubID, slot.StartUnixMilli, slot.EndUnixMilli, slot.ID)
	if err != nil {
		return err
	}
	court, ok := lowestFreeCourt(courts, inUse)
	if !ok {
		return fmt.Errorf("%w: club %s", ErrNoCourtAvailable, slot.ClubID)
	}
	slot.CourtID = court.ID
	slot.CourtNumber = court.Number
	return nil
}

func lowestFreeCourt(courts []Court, inUse []int) (Court, bool) {
	taken := make(map[int]struct{}, len(inUse))
	for _, number := range inUse {
		taken[number] = struct{}{}
	}
	sorted := append([]Court(nil), courts...)
	sort.Slice(sorted, func(left, right int) bool { return sorted[left].Number < sorted[right].Number })
	for _, court := range sorted {
		if !court.Active {
			continue
		}
		if _, used := taken[court.Number]; !used {
			return court, true
		}
	}
	return Court{}, false
}

// ListSlotsForDate lists a club's slots on a local calendar day.
func (engine *Engine) ListSlotsForDate(ctx context.Context, clubID string, date string, instructorID string, onlyBookable bool) ([]TimeSlot, error) {
	club, err := engine.store.GetClub(ctx, strings.TrimSpace(clubID))
	if err != nil {
		return nil, err
	}
	location, err := LoadLocation(club.Timezone)
	if err != nil {
		return nil, err
	}
	day, err := ResolveDate(date, 0, engine.nowFn(), location)
	if err != nil {
		return nil, err
	}
	fromUnixMilli, toUnixMilli := DayRange(day, location)
	return engine.store.ListSlots(ctx, SlotFilter{
		ClubID:        club.ID,
		InstructorID:  strings.TrimSpace(instructorID),
		FromUnixMilli: fromUnixMilli,
		ToUnixMilli:   toUnixMilli,
		OnlyBookable:  onlyBookable,
	})
}

// ListUserBookings lists a user's bookings created at or after fromUnixMilli.
func (engine *Engine) ListUserBookings(ctx context.Context, userID string, fromUnixMilli int64) ([]Booking, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return engine.store.ListUserBookings(ctx, trimmed, fromUnixMilli)
}

// ledgerRefs are the ledger identifiers of one booking. The booking id doubles
// as reservation id and seeds every idempotency key.
type ledgerRefs struct {
	userID        ledger.UserID
	reservationID ledger.ReservationID
	metadata      ledger.MetadataJSON
	base          string
}

type bookingMetadata struct {
	BookingID string `json:"booking_id"`
	SlotID    string `json:"slot_id"`
	GroupSize int    `json:"group_size"`
	Reason    string `json:"reason,omitempty"`
}

func newLedgerRefs(booking Booking, slot TimeSlot) (ledgerRefs, error) {
	userID, err := ledger.NewUserID(booking.UserID)
	if err != nil {
		return ledgerRefs{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	reservationID, err := ledger.NewReservationID(booking.ID)
	if err != nil {
		return ledgerRefs{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	payload, err := json.Marshal(bookingMetadata{BookingID: booking.ID, SlotID: slot.ID, GroupSize: booking.GroupSize, Reason: booking.CancelReason})
	if err != nil {
		return ledgerRefs{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(payload))
	if err != nil {
		return ledgerRefs{}, err
	}
	return ledgerRefs{userID: userID, reservationID: reservationID, metadata: metadata, base: "booking:" + booking.ID}, nil
}

func (refs ledgerRefs) key(step string) ledger.IdempotencyKey {
	key, _ := ledger.NewIdempotencyKey(refs.base + ":" + step)
	return key
}

