package grpcserver

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

const (
	errorInvalidUserID         = "invalid_user_id"
	errorInvalidReservationID  = "invalid_reservation_id"
	errorInvalidIdempotencyKey = "invalid_idempotency_key"
	errorInvalidAmount         = "invalid_amount_cents"
	errorInvalidMetadata       = "invalid_metadata_json"
	errorInvalidUnit           = "invalid_unit"
	errorInvalidListLimit      = "invalid_list_limit"
	errorDuplicateIdempotency  = "duplicate_idempotency_key"

	defaultListEntriesLimit = 50
	maxListEntriesLimit     = 200
)

// BookingServer exposes the booking engine, the slot generator and the ledger over gRPC.
type BookingServer struct {
	UnimplementedBookingServiceServer
	engine        *booking.Engine
	generator     *booking.Generator
	ledgerService *ledger.Service
}

// NewBookingServer constructs the gRPC server.
func NewBookingServer(engine *booking.Engine, generator *booking.Generator, ledgerService *ledger.Service) *BookingServer {
	return &BookingServer{engine: engine, generator: generator, ledgerService: ledgerService}
}

func (server *BookingServer) GenerateSlots(ctx context.Context, request *GenerateSlotsRequest) (*GenerateSlotsResponse, error) {
	var (
		result booking.GenerateResult
		err    error
	)
	if request.InstructorID == "" {
		days := int(request.Days)
		if days <= 0 {
			days = 1
		}
		result, err = server.generator.GenerateRange(ctx, request.ClubID, int(request.DayOffset), days)
	} else {
		result, err = server.generator.Generate(ctx, booking.GenerateRequest{
			ClubID:       request.ClubID,
			InstructorID: request.InstructorID,
			Date:         request.Date,
			DayOffset:    int(request.DayOffset),
			Level:        request.Level,
			Category:     request.Category,
		})
	}
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &GenerateSlotsResponse{
		Date:       result.Date,
		FromUnixMs: result.FromUnixMilli,
		ToUnixMs:   result.ToUnixMilli,
		Created:    int32(result.Created),
		Skipped:    int32(result.Skipped),
	}, nil
}

func (server *BookingServer) ListSlots(ctx context.Context, request *ListSlotsRequest) (*ListSlotsResponse, error) {
	slots, err := server.engine.ListSlotsForDate(ctx, request.ClubID, request.Date, request.InstructorID, request.OnlyBookable)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &ListSlotsResponse{Slots: make([]*Slot, 0, len(slots))}
	for _, slot := range slots {
		response.Slots = append(response.Slots, toSlotMessage(slot))
	}
	return response, nil
}

func (server *BookingServer) Book(ctx context.Context, request *BookRequest) (*BookResponse, error) {
	unit, err := ledger.ParseUnit(request.Unit)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, err := server.engine.Book(ctx, booking.BookRequest{
		UserID:         request.UserID,
		SlotID:         request.SlotID,
		GroupSize:      int(request.GroupSize),
		Unit:           unit,
		IdempotencyKey: request.IdempotencyKey,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &BookResponse{
		Booking:  toBookingMessage(result.Booking),
		Slot:     toSlotMessage(result.Slot),
		Balance:  toBalanceMessage(result.Balance),
		Replayed: result.Replayed,
	}, nil
}

func (server *BookingServer) Cancel(ctx context.Context, request *CancelRequest) (*CancelResponse, error) {
	result, err := server.engine.Cancel(ctx, booking.CancelRequest{
		BookingID: request.BookingID,
		UserID:    request.UserID,
		Reason:    request.Reason,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &CancelResponse{
		Booking:        toBookingMessage(result.Booking),
		Slot:           toSlotMessage(result.Slot),
		AmountRefunded: result.AmountRefunded,
		Balance:        toBalanceMessage(result.Balance),
	}, nil
}

func (server *BookingServer) CancelSlot(ctx context.Context, request *CancelSlotRequest) (*CancelSlotResponse, error) {
	cancelled, err := server.engine.CancelSlot(ctx, request.SlotID, request.Reason)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &CancelSlotResponse{Bookings: toBookingMessages(cancelled)}, nil
}

func (server *BookingServer) ListBookings(ctx context.Context, request *ListBookingsRequest) (*ListBookingsResponse, error) {
	bookings, err := server.engine.ListUserBookings(ctx, request.UserID, request.FromUnixMs)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &ListBookingsResponse{Bookings: toBookingMessages(bookings)}, nil
}

func (server *BookingServer) GetBalance(ctx context.Context, request *BalanceRequest) (*Balance, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	unit, err := ledger.ParseUnit(request.Unit)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, err := server.ledgerService.Balance(ctx, userID, unit)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return toBalanceMessage(balance), nil
}

func (server *BookingServer) Grant(ctx context.Context, request *GrantRequest) (*Empty, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	unit, err := ledger.ParseUnit(request.Unit)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := ledger.NewPositiveAmountCents(request.AmountCents)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idem, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := ledger.NewMetadataJSON(request.MetadataJSON)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if err := server.ledgerService.Grant(ctx, userID, unit, amount, idem, request.ExpiresUnixMs, metadata); err != nil {
		return nil, mapToGRPCError(err)
	}
	return &Empty{}, nil
}

func (server *BookingServer) ListEntries(ctx context.Context, request *ListEntriesRequest) (*ListEntriesResponse, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit, err := normalizeListLimit(request.Limit)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	entries, err := server.ledgerService.ListEntries(ctx, userID, request.BeforeUnixMs, int(limit))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &ListEntriesResponse{Entries: make([]*Entry, 0, len(entries))}
	for _, entryRecord := range entries {
		reservationIDValue := ""
		if reservationID := entryRecord.ReservationID(); reservationID != nil {
			reservationIDValue = reservationID.String()
		}
		response.Entries = append(response.Entries, &Entry{
			EntryID:        entryRecord.EntryID().String(),
			AccountID:      entryRecord.AccountID().String(),
			Unit:           entryRecord.Unit().String(),
			Type:           entryRecord.Type().String(),
			AmountCents:    entryRecord.AmountCents().Int64(),
			ReservationID:  reservationIDValue,
			IdempotencyKey: entryRecord.IdempotencyKey().String(),
			ExpiresUnixMs:  entryRecord.ExpiresUnixMilli(),
			MetadataJSON:   entryRecord.Metadata().String(),
			CreatedUnixMs:  entryRecord.CreatedUnixMilli(),
		})
	}
	return response, nil
}

func normalizeListLimit(limit int32) (int32, error) {
	if limit <= 0 {
		return defaultListEntriesLimit, nil
	}
	if limit > maxListEntriesLimit {
		return 0, fmt.Errorf("limit exceeds maximum: %d > %d", limit, maxListEntriesLimit)
	}
	return limit, nil
}

var ledgerArgumentErrors = []struct {
	target error
	reason string
}{
	{ledger.ErrInvalidUserID, errorInvalidUserID},
	{ledger.ErrInvalidReservationID, errorInvalidReservationID},
	{ledger.ErrInvalidIdempotencyKey, errorInvalidIdempotencyKey},
	{ledger.ErrInvalidAmountCents, errorInvalidAmount},
	{ledger.ErrInvalidMetadataJSON, errorInvalidMetadata},
	{ledger.ErrInvalidUnit, errorInvalidUnit},
}

var kindCodes = map[booking.Kind]codes.Code{
	booking.KindValidation:              codes.InvalidArgument,
	booking.KindInsufficientCredit:      codes.FailedPrecondition,
	booking.KindSlotFull:                codes.FailedPrecondition,
	booking.KindSlotNotFound:            codes.NotFound,
	booking.KindSlotAlreadyCancelled:    codes.FailedPrecondition,
	booking.KindSlotExpired:             codes.FailedPrecondition,
	booking.KindNoCourtAvailable:        codes.FailedPrecondition,
	booking.KindInstructorUnavailable:   codes.FailedPrecondition,
	booking.KindConcurrentConflict:      codes.Aborted,
	booking.KindLedgerInvariant:         codes.DataLoss,
	booking.KindNotFound:                codes.NotFound,
	booking.KindBookingAlreadyCancelled: codes.FailedPrecondition,
	booking.KindForbidden:               codes.PermissionDenied,
}

// mapToGRPCError sets the status message to a stable reason clients can switch on.
func mapToGRPCError(source error) error {
	for _, row := range ledgerArgumentErrors {
		if errors.Is(source, row.target) {
			return status.Error(codes.InvalidArgument, row.reason)
		}
	}
	if errors.Is(source, ledger.ErrInsufficientFunds) {
		return status.Error(codes.FailedPrecondition, string(booking.KindInsufficientCredit))
	}
	if errors.Is(source, ledger.ErrInvalidBalance) {
		return status.Error(codes.DataLoss, string(booking.KindLedgerInvariant))
	}
	if errors.Is(source, ledger.ErrDuplicateIdempotencyKey) {
		return status.Error(codes.AlreadyExists, errorDuplicateIdempotency)
	}
	kind := booking.KindOf(source)
	if code, ok := kindCodes[kind]; ok {
		return status.Error(code, string(kind))
	}
	return status.Error(codes.Internal, string(booking.KindInternal))
}

// KindFromStatus recovers the booking.Kind carried by a status returned from this server.
func KindFromStatus(err error) booking.Kind {
	statusInfo, ok := status.FromError(err)
	if !ok || statusInfo.Code() == codes.OK {
		return ""
	}
	reason := booking.Kind(statusInfo.Message())
	if code, known := kindCodes[reason]; known && code == statusInfo.Code() {
		return reason
	}
	if statusInfo.Code() == codes.InvalidArgument {
		return booking.KindValidation
	}
	return booking.KindInternal
}

var kindSentinels = map[booking.Kind]error{
	booking.KindValidation:              booking.ErrInvalidInput,
	booking.KindInsufficientCredit:      booking.ErrInsufficientCredit,
	booking.KindSlotFull:                booking.ErrSlotFull,
	booking.KindSlotNotFound:            booking.ErrSlotNotFound,
	booking.KindSlotAlreadyCancelled:    booking.ErrSlotAlreadyCancelled,
	booking.KindSlotExpired:             booking.ErrSlotExpired,
	booking.KindNoCourtAvailable:        booking.ErrNoCourtAvailable,
	booking.KindInstructorUnavailable:   booking.ErrInstructorUnavailable,
	booking.KindConcurrentConflict:      booking.ErrConcurrentConflict,
	booking.KindLedgerInvariant:         booking.ErrLedgerInvariantViolation,
	booking.KindNotFound:                booking.ErrBookingNotFound,
	booking.KindBookingAlreadyCancelled: booking.ErrBookingAlreadyCancelled,
	booking.KindForbidden:               booking.ErrForbidden,
}

// BookingError rewraps a status from this server around the booking sentinel of its kind,
// so booking.KindOf classifies remote failures like local ones.
func BookingError(err error) error {
	if err == nil {
		return nil
	}
	sentinel, ok := kindSentinels[KindFromStatus(err)]
	if !ok {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func toSlotMessage(slot booking.TimeSlot) *Slot {
	return &Slot{
		SlotID:        slot.ID,
		ClubID:        slot.ClubID,
		InstructorID:  slot.InstructorID,
		StartUnixMs:   slot.StartUnixMilli,
		EndUnixMs:     slot.EndUnixMilli,
		Level:         slot.Level,
		Category:      slot.Category,
		Status:        string(slot.Status()),
		CourtNumber:   int32(slot.CourtNumber),
		Capacity:      int32(slot.Capacity),
		BookedPlayers: int32(slot.BookedPlayers),
		RecycledSpots: int32(slot.RecycledSpots),
		PriceCents:    slot.PriceCents,
		PricePoints:   slot.PricePoints,
	}
}

func toBookingMessage(record booking.Booking) *Booking {
	return &Booking{
		BookingID:       record.ID,
		UserID:          record.UserID,
		SlotID:          record.SlotID,
		Status:          string(record.Status),
		GroupSize:       int32(record.GroupSize),
		Recycled:        record.Recycled,
		Unit:            record.Unit.String(),
		AmountCharged:   record.AmountCharged,
		AmountRefunded:  record.AmountRefunded,
		Settled:         record.Settled,
		CreatedUnixMs:   record.CreatedUnixMilli,
		CancelledUnixMs: record.CancelledUnixMilli,
	}
}

func toBookingMessages(records []booking.Booking) []*Booking {
	messages := make([]*Booking, 0, len(records))
	for _, record := range records {
		messages = append(messages, toBookingMessage(record))
	}
	return messages
}

func toBalanceMessage(balance ledger.Balance) *Balance {
	return &Balance{
		Unit:           balance.Unit.String(),
		TotalCents:     balance.TotalCents.Int64(),
		BlockedCents:   balance.BlockedCents.Int64(),
		AvailableCents: balance.AvailableCents.Int64(),
	}
}

var _ BookingServiceServer = (*BookingServer)(nil)
