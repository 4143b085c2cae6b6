package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

const (
	fullRefundPercent   = 100
	defaultSettleLimit  = 500
	cancelReasonBySlot  = "slot_cancelled"
	defaultRefundCutoff = 24 * time.Hour
)

// RefundPolicy decides how much of a charge returns on cancellation: everything
// until CutoffBefore the class starts, LateRefundPercent after that, nothing once it started.
type RefundPolicy struct {
	CutoffBefore      time.Duration
	LateRefundPercent int64
}

// DefaultRefundPolicy refunds in full up to a day ahead and nothing later.
func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{CutoffBefore: defaultRefundCutoff, LateRefundPercent: 0}
}

// Validate rejects negative cutoffs and percentages outside 0..100.
func (policy RefundPolicy) Validate() error {
	if policy.CutoffBefore < 0 {
		return fmt.Errorf("%w: negative refund cutoff", ErrInvalidEngineConfig)
	}
	if policy.LateRefundPercent < 0 || policy.LateRefundPercent > fullRefundPercent {
		return fmt.Errorf("%w: late refund percent %d", ErrInvalidEngineConfig, policy.LateRefundPercent)
	}
	return nil
}

// RefundPercent returns the refunded share for a cancellation at nowUnixMilli.
func (policy RefundPolicy) RefundPercent(nowUnixMilli int64, startUnixMilli int64) int64 {
	if nowUnixMilli >= startUnixMilli {
		return 0
	}
	if startUnixMilli-nowUnixMilli >= policy.CutoffBefore.Milliseconds() {
		return fullRefundPercent
	}
	return policy.LateRefundPercent
}

// RefundAmount applies percent to charged, rounding down to the minor unit.
func RefundAmount(charged int64, percent int64) int64 {
	return charged * percent / fullRefundPercent
}

// CancelRequest cancels one booking. An empty UserID skips the owner check (administrative cancel).
type CancelRequest struct {
	BookingID string
	UserID    string
	Reason    string
}

// CancelResult carries the cancelled booking, the slot after release and the payer's balance.
type CancelResult struct {
	Booking        Booking
	Slot           TimeSlot
	AmountRefunded int64
	Balance        ledger.Balance
}

// Cancel releases a booking's places and compensates the ledger per the refund policy.
func (engine *Engine) Cancel(ctx context.Context, request CancelRequest) (CancelResult, error) {
	startedAt := time.Now()
	result, err := engine.cancel(ctx, request)
	engine.observer.ObserveOperation(ctx, OperationRecord{
		Operation: OperationCancel,
		UserID:    request.UserID,
		SlotID:    result.Slot.ID,
		BookingID: request.BookingID,
		Amount:    result.AmountRefunded,
		Duration:  time.Since(startedAt),
		Error:     err,
	})
	if err != nil {
		return CancelResult{}, err
	}
	engine.publishCancelled(ctx, result.Booking)
	return result, nil
}

func (engine *Engine) cancel(ctx context.Context, request CancelRequest) (CancelResult, error) {
	bookingID := strings.TrimSpace(request.BookingID)
	if bookingID == "" {
		return CancelResult{}, fmt.Errorf("%w: booking id is required", ErrInvalidInput)
	}
	located, err := engine.store.GetBooking(ctx, bookingID)
	if err != nil {
		return CancelResult{}, err
	}
	release, err := engine.locker.Acquire(ctx, SlotLockKey(located.SlotID), engine.lockTimeout)
	if err != nil {
		return CancelResult{}, err
	}
	defer release()

	var result CancelResult
	err = engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		booking, err := txStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		userID := strings.TrimSpace(request.UserID)
		if userID != "" && userID != booking.UserID {
			return fmt.Errorf("%w: booking %s belongs to another user", ErrForbidden, booking.ID)
		}
		if !booking.Active() {
			return fmt.Errorf("%w: %s", ErrBookingAlreadyCancelled, booking.ID)
		}
		slot, err := txStore.GetSlotForUpdate(ctx, booking.SlotID)
		if err != nil {
			return err
		}
		percent := engine.refundPolicy.RefundPercent(engine.nowFn(), slot.StartUnixMilli)
		cancelled, updatedSlot, balance, err := engine.cancelLocked(ctx, txStore, booking, slot, percent, request.Reason)
		if err != nil {
			return err
		}
		result = CancelResult{Booking: cancelled, Slot: updatedSlot, AmountRefunded: cancelled.AmountRefunded, Balance: balance}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	return result, nil
}

// cancelLocked compensates the ledger, returns the places to the slot and marks
// the booking cancelled. The caller holds the slot lock and both row locks.
func (engine *Engine) cancelLocked(ctx context.Context, txStore Store, booking Booking, slot TimeSlot, percent int64, reason string) (Booking, TimeSlot, ledger.Balance, error) {
	nowUnixMilli := engine.nowFn()
	booking.CancelReason = strings.TrimSpace(reason)
	refund := RefundAmount(booking.AmountCharged, percent)
	poster, err := ledger.NewPoster(txStore.Ledger(), engine.nowFn)
	if err != nil {
		return Booking{}, TimeSlot{}, ledger.Balance{}, err
	}
	refs, err := newLedgerRefs(booking, slot)
	if err != nil {
		return Booking{}, TimeSlot{}, ledger.Balance{}, err
	}
	if err := engine.compensate(ctx, poster, booking, refs, refund); err != nil {
		return Booking{}, TimeSlot{}, ledger.Balance{}, translateLedgerError(err)
	}

	expectedVersion := slot.Version
	slot.BookedPlayers -= booking.GroupSize
	if slot.BookedPlayers < 0 {
		return Booking{}, TimeSlot{}, ledger.Balance{}, fmt.Errorf("slot %s occupancy below zero", slot.ID)
	}
	if !slot.IsProposal() && !slot.Cancelled {
		slot.RecycledSpots += booking.GroupSize
	}
	slot.Version++
	if err := txStore.UpdateSlot(ctx, slot, expectedVersion); err != nil {
		return Booking{}, TimeSlot{}, ledger.Balance{}, err
	}

	booking.Status = BookingCancelled
	booking.AmountRefunded = refund
	booking.Settled = true
	booking.CancelledUnixMilli = nowUnixMilli
	if err := txStore.UpdateBooking(ctx, booking); err != nil {
		return Booking{}, TimeSlot{}, ledger.Balance{}, err
	}
	balance, err := poster.Balance(ctx, refs.userID, booking.Unit)
	if err != nil {
		return Booking{}, TimeSlot{}, ledger.Balance{}, translateLedgerError(err)
	}
	return booking, slot, balance, nil
}

// compensate undoes the charge of a booking except for the kept part.
// An open hold is captured for the kept part (or released when nothing is kept);
// a settled charge gets a refund entry for the refunded part.
func (engine *Engine) compensate(ctx context.Context, poster ledger.Poster, booking Booking, refs ledgerRefs, refund int64) error {
	kept := booking.AmountCharged - refund
	if !booking.Settled {
		if kept <= 0 {
			_, err := poster.Release(ctx, refs.userID, refs.reservationID, refs.key("release"), refs.metadata)
			return err
		}
		keptAmount, err := ledger.NewPositiveAmountCents(kept)
		if err != nil {
			return err
		}
		return poster.Capture(ctx, refs.userID, refs.reservationID, refs.key("cancel"), keptAmount, refs.metadata)
	}
	if refund <= 0 {
		return nil
	}
	refundAmount, err := ledger.NewPositiveAmountCents(refund)
	if err != nil {
		return err
	}
	return poster.Refund(ctx, refs.userID, booking.Unit, refundAmount, refs.reservationID, refs.key("refund"), refs.metadata)
}

// CancelSlot cancels a slot and every active booking on it with a full refund.
func (engine *Engine) CancelSlot(ctx context.Context, slotID string, reason string) ([]Booking, error) {
	startedAt := time.Now()
	cancelled, err := engine.cancelSlot(ctx, strings.TrimSpace(slotID), reason)
	engine.observer.ObserveOperation(ctx, OperationRecord{
		Operation: OperationCancelSlot,
		SlotID:    slotID,
		Count:     len(cancelled),
		Duration:  time.Since(startedAt),
		Error:     err,
	})
	if err != nil {
		return nil, err
	}
	for _, booking := range cancelled {
		engine.publishCancelled(ctx, booking)
	}
	return cancelled, nil
}

func (engine *Engine) cancelSlot(ctx context.Context, slotID string, reason string) ([]Booking, error) {
	if slotID == "" {
		return nil, fmt.Errorf("%w: slot id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(reason) == "" {
		reason = cancelReasonBySlot
	}
	release, err := engine.locker.Acquire(ctx, SlotLockKey(slotID), engine.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	var cancelled []Booking
	err = engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		cancelled = nil
		slot, err := txStore.GetSlotForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Cancelled {
			return fmt.Errorf("%w: %s", ErrSlotAlreadyCancelled, slot.ID)
		}
		bookings, err := txStore.ListActiveBookings(ctx, slot.ID)
		if err != nil {
			return err
		}
		// Flag first so released places are not counted as recycled.
		slot.Cancelled = true
		slot.RecycledSpots = 0
		for _, active := range bookings {
			booking, err := txStore.GetBookingForUpdate(ctx, active.ID)
			if err != nil {
				return err
			}
			cancelledBooking, updatedSlot, _, err := engine.cancelLocked(ctx, txStore, booking, slot, fullRefundPercent, reason)
			if err != nil {
				return err
			}
			slot = updatedSlot
			cancelled = append(cancelled, cancelledBooking)
		}
		if len(bookings) == 0 {
			expectedVersion := slot.Version
			slot.Version++
			return txStore.UpdateSlot(ctx, slot, expectedVersion)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// SettleResult reports a settlement run.
type SettleResult struct {
	Settled int
	Failed  int
}

// Settle captures the holds of bookings whose class started before startedBeforeUnixMilli.
// Each booking settles in its own transaction; failures are counted and reported, not retried.
func (engine *Engine) Settle(ctx context.Context, startedBeforeUnixMilli int64, limit int) (SettleResult, error) {
	startedAt := time.Now()
	if limit <= 0 {
		limit = defaultSettleLimit
	}
	bookings, err := engine.store.ListUnsettledBookings(ctx, startedBeforeUnixMilli, limit)
	if err != nil {
		engine.observer.ObserveOperation(ctx, OperationRecord{Operation: OperationSettle, Duration: time.Since(startedAt), Error: err})
		return SettleResult{}, err
	}
	var result SettleResult
	var firstErr error
	for _, candidate := range bookings {
		if err := engine.settleOne(ctx, candidate); err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.Settled++
	}
	engine.observer.ObserveOperation(ctx, OperationRecord{Operation: OperationSettle, Count: result.Settled, Duration: time.Since(startedAt), Error: firstErr})
	return result, firstErr
}

func (engine *Engine) settleOne(ctx context.Context, candidate Booking) error {
	release, err := engine.locker.Acquire(ctx, SlotLockKey(candidate.SlotID), engine.lockTimeout)
	if err != nil {
		return err
	}
	defer release()
	return engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		booking, err := txStore.GetBookingForUpdate(ctx, candidate.ID)
		if err != nil {
			return err
		}
		if !booking.Active() || booking.Settled {
			return nil
		}
		slot, err := txStore.GetSlot(ctx, booking.SlotID)
		if err != nil {
			return err
		}
		poster, err := ledger.NewPoster(txStore.Ledger(), engine.nowFn)
		if err != nil {
			return err
		}
		refs, err := newLedgerRefs(booking, slot)
		if err != nil {
			return err
		}
		amount, err := ledger.NewPositiveAmountCents(booking.AmountCharged)
		if err != nil {
			return err
		}
		if err := poster.Capture(ctx, refs.userID, refs.reservationID, refs.key("settle"), amount, refs.metadata); err != nil {
			return translateLedgerError(err)
		}
		booking.Settled = true
		return txStore.UpdateBooking(ctx, booking)
	})
}

func (engine *Engine) publishCancelled(ctx context.Context, booking Booking) {
	publish(ctx, engine.publisher, engine.observer, RoutingBookingCancelled, BookingCancelledEvent{
		BookingID:      booking.ID,
		UserID:         booking.UserID,
		SlotID:         booking.SlotID,
		Reason:         booking.CancelReason,
		Unit:           booking.Unit.String(),
		AmountRefunded: booking.AmountRefunded,
		OccurredAtUTC:  booking.CancelledUnixMilli,
	})
}
