package gormstore

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

// Store implements booking.Store using GORM. Ledger rows live in the same database,
// so the ledger view of a transaction shares its *gorm.DB.
type Store struct {
	db    *gorm.DB
	nowFn func() int64
}

// New returns a Store backed by gorm.DB. now returns epoch milliseconds.
func New(db *gorm.DB, now func() int64) *Store {
	return &Store{db: db, nowFn: now}
}

// WithTx executes fn within a transaction. Serialization and lock failures surface as booking.ErrConcurrentConflict.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction, nowFn: store.nowFn})
	})
	if isConcurrencyFailure(err) && !errors.Is(err, booking.ErrConcurrentConflict) {
		return wrapQueryError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return err
}

// Ledger returns a ledger.Store sharing this store's connection or transaction.
func (store *Store) Ledger() ledger.Store {
	return &LedgerStore{db: store.db, nowFn: store.nowFn}
}

func (store *Store) SaveClub(ctx context.Context, club booking.Club) error {
	model := Club{
		ID:                   club.ID,
		Name:                 club.Name,
		Timezone:             club.Timezone,
		OpenTime:             club.OpenTime,
		CloseTime:            club.CloseTime,
		SlotStepMinutes:      club.SlotStepMinutes,
		ClassDurationMinutes: club.ClassDurationMinutes,
		DefaultCapacity:      club.DefaultCapacity,
		PriceCents:           club.PriceCents,
		PricePoints:          club.PricePoints,
		Active:               club.Active,
	}
	if err := store.db.WithContext(ctx).Save(&model).Error; err != nil {
		return wrapQueryError(errorSubjectClub, errorCodeSave, err)
	}
	return nil
}

func (store *Store) GetClub(ctx context.Context, clubID string) (booking.Club, error) {
	var model Club
	if err := store.db.WithContext(ctx).Where("id = ?", clubID).Take(&model).Error; err != nil {
		return booking.Club{}, wrapLookupError(errorSubjectClub, err, booking.ErrClubNotFound)
	}
	return mapClub(model), nil
}

// LockClub takes the club row lock that serializes court assignment across the club's slots.
func (store *Store) LockClub(ctx context.Context, clubID string) error {
	var model Club
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", clubID).
		Take(&model).Error
	if err != nil {
		return wrapLookupError(errorSubjectClub, err, booking.ErrClubNotFound)
	}
	return nil
}

func (store *Store) SaveCourt(ctx context.Context, court booking.Court) error {
	model := Court{ID: court.ID, ClubID: court.ClubID, Number: court.Number, Active: court.Active}
	if err := store.db.WithContext(ctx).Save(&model).Error; err != nil {
		return wrapQueryError(errorSubjectCourt, errorCodeSave, err)
	}
	return nil
}

func (store *Store) ListActiveCourts(ctx context.Context, clubID string) ([]booking.Court, error) {
	var rows []Court
	err := store.db.WithContext(ctx).
		Where("club_id = ? AND active = ?", clubID, true).
		Order("number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapQueryError(errorSubjectCourt, errorCodeList, err)
	}
	courts := make([]booking.Court, 0, len(rows))
	for _, row := range rows {
		courts = append(courts, booking.Court{ID: row.ID, ClubID: row.ClubID, Number: row.Number, Active: row.Active})
	}
	return courts, nil
}

func (store *Store) SaveInstructor(ctx context.Context, instructor booking.Instructor) error {
	model := Instructor{
		ID:         instructor.ID,
		ClubID:     instructor.ClubID,
		Name:       instructor.Name,
		PriceCents: instructor.PriceCents,
		Active:     instructor.Active,
	}
	if err := store.db.WithContext(ctx).Save(&model).Error; err != nil {
		return wrapQueryError(errorSubjectInstructor, errorCodeSave, err)
	}
	return nil
}

func (store *Store) GetInstructor(ctx context.Context, instructorID string) (booking.Instructor, error) {
	var model Instructor
	if err := store.db.WithContext(ctx).Where("id = ?", instructorID).Take(&model).Error; err != nil {
		return booking.Instructor{}, wrapLookupError(errorSubjectInstructor, err, booking.ErrInstructorNotFound)
	}
	return mapInstructor(model), nil
}

func (store *Store) ListInstructors(ctx context.Context, clubID string, onlyActive bool) ([]booking.Instructor, error) {
	query := store.db.WithContext(ctx).Where("club_id = ?", clubID)
	if onlyActive {
		query = query.Where("active = ?", true)
	}
	var rows []Instructor
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, wrapQueryError(errorSubjectInstructor, errorCodeList, err)
	}
	instructors := make([]booking.Instructor, 0, len(rows))
	for _, row := range rows {
		instructors = append(instructors, mapInstructor(row))
	}
	return instructors, nil
}

// InsertSlots inserts proposals and ignores rows whose id or (instructor, start) already exists.
func (store *Store) InsertSlots(ctx context.Context, slots []booking.TimeSlot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	models := make([]TimeSlot, 0, len(slots))
	for _, slot := range slots {
		models = append(models, toSlotModel(slot))
	}
	result := store.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&models)
	if result.Error != nil {
		return 0, wrapQueryError(errorSubjectSlot, errorCodeInsert, result.Error)
	}
	return int(result.RowsAffected), nil
}

func (store *Store) GetSlot(ctx context.Context, slotID string) (booking.TimeSlot, error) {
	var model TimeSlot
	if err := store.db.WithContext(ctx).Where("id = ?", slotID).Take(&model).Error; err != nil {
		return booking.TimeSlot{}, wrapLookupError(errorSubjectSlot, err, booking.ErrSlotNotFound)
	}
	return mapSlot(model), nil
}

func (store *Store) GetSlotForUpdate(ctx context.Context, slotID string) (booking.TimeSlot, error) {
	var model TimeSlot
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", slotID).
		Take(&model).Error
	if err != nil {
		return booking.TimeSlot{}, wrapLookupError(errorSubjectSlot, err, booking.ErrSlotNotFound)
	}
	return mapSlot(model), nil
}

func (store *Store) ListSlots(ctx context.Context, filter booking.SlotFilter) ([]booking.TimeSlot, error) {
	query := store.db.WithContext(ctx).Model(&TimeSlot{})
	if filter.ClubID != "" {
		query = query.Where("club_id = ?", filter.ClubID)
	}
	if filter.InstructorID != "" {
		query = query.Where("instructor_id = ?", filter.InstructorID)
	}
	if filter.FromUnixMilli != 0 {
		query = query.Where("start_unix_milli >= ?", filter.FromUnixMilli)
	}
	if filter.ToUnixMilli != 0 {
		query = query.Where("start_unix_milli < ?", filter.ToUnixMilli)
	}
	if filter.OnlyBookable {
		query = query.Where("cancelled = ? AND booked_players < capacity", false)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []TimeSlot
	if err := query.Order("start_unix_milli ASC, instructor_id ASC").Find(&rows).Error; err != nil {
		return nil, wrapQueryError(errorSubjectSlot, errorCodeList, err)
	}
	slots := make([]booking.TimeSlot, 0, len(rows))
	for _, row := range rows {
		slots = append(slots, mapSlot(row))
	}
	return slots, nil
}

// UpdateSlot writes the slot only if its stored version still equals expectedVersion.
func (store *Store) UpdateSlot(ctx context.Context, slot booking.TimeSlot, expectedVersion int64) error {
	var courtID interface{}
	if slot.CourtID != "" {
		courtID = slot.CourtID
	}
	result := store.db.WithContext(ctx).
		Model(&TimeSlot{}).
		Where("id = ? AND version = ?", slot.ID, expectedVersion).
		Updates(map[string]interface{}{
			"court_id":       courtID,
			"court_number":   slot.CourtNumber,
			"booked_players": slot.BookedPlayers,
			"recycled_spots": slot.RecycledSpots,
			"cancelled":      slot.Cancelled,
			"version":        slot.Version,
		})
	if result.Error != nil {
		return wrapQueryError(errorSubjectSlot, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSlot, errorCodeConflict, booking.ErrConcurrentConflict)
	}
	return nil
}

func (store *Store) CourtNumbersInUse(ctx context.Context, clubID string, startUnixMilli int64, endUnixMilli int64, excludeSlotID string) ([]int, error) {
	var numbers []int
	err := store.confirmedOverlapping(ctx, startUnixMilli, endUnixMilli, excludeSlotID).
		Where("club_id = ?", clubID).
		Distinct().
		Pluck("court_number", &numbers).Error
	if err != nil {
		return nil, wrapQueryError(errorSubjectSlot, errorCodeList, err)
	}
	return numbers, nil
}

func (store *Store) InstructorBusy(ctx context.Context, instructorID string, startUnixMilli int64, endUnixMilli int64, excludeSlotID string) (bool, error) {
	var count int64
	err := store.confirmedOverlapping(ctx, startUnixMilli, endUnixMilli, excludeSlotID).
		Where("instructor_id = ?", instructorID).
		Count(&count).Error
	if err != nil {
		return false, wrapQueryError(errorSubjectSlot, errorCodeList, err)
	}
	return count > 0, nil
}

func (store *Store) confirmedOverlapping(ctx context.Context, startUnixMilli int64, endUnixMilli int64, excludeSlotID string) *gorm.DB {
	return store.db.WithContext(ctx).
		Model(&TimeSlot{}).
		Where("court_id IS NOT NULL AND cancelled = ?", false).
		Where("id <> ?", excludeSlotID).
		Where("start_unix_milli < ? AND end_unix_milli > ?", endUnixMilli, startUnixMilli)
}

// DeleteStaleProposals removes court-less slots without occupancy that started before beforeUnixMilli.
func (store *Store) DeleteStaleProposals(ctx context.Context, clubID string, beforeUnixMilli int64) (int, error) {
	query := store.db.WithContext(ctx).
		Where("court_id IS NULL AND booked_players = 0 AND start_unix_milli < ?", beforeUnixMilli).
		Where("NOT EXISTS (SELECT 1 FROM bookings WHERE bookings.slot_id = time_slots.id)")
	if clubID != "" {
		query = query.Where("club_id = ?", clubID)
	}
	result := query.Delete(&TimeSlot{})
	if result.Error != nil {
		return 0, wrapQueryError(errorSubjectSlot, errorCodeDelete, result.Error)
	}
	return int(result.RowsAffected), nil
}

func (store *Store) InsertBooking(ctx context.Context, entry booking.Booking) error {
	model := toBookingModel(entry)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, "") {
		return wrapStoreError(errorSubjectBooking, errorCodeDuplicate, booking.ErrConcurrentConflict)
	}
	if err != nil {
		return wrapQueryError(errorSubjectBooking, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID string) (booking.Booking, error) {
	var model Booking
	if err := store.db.WithContext(ctx).Where("id = ?", bookingID).Take(&model).Error; err != nil {
		return booking.Booking{}, wrapLookupError(errorSubjectBooking, err, booking.ErrBookingNotFound)
	}
	return mapBooking(model), nil
}

func (store *Store) GetBookingForUpdate(ctx context.Context, bookingID string) (booking.Booking, error) {
	var model Booking
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", bookingID).
		Take(&model).Error
	if err != nil {
		return booking.Booking{}, wrapLookupError(errorSubjectBooking, err, booking.ErrBookingNotFound)
	}
	return mapBooking(model), nil
}

func (store *Store) UpdateBooking(ctx context.Context, entry booking.Booking) error {
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"status":               string(entry.Status),
			"confirmed":            entry.Confirmed,
			"recycled":             entry.Recycled,
			"amount_refunded":      entry.AmountRefunded,
			"settled":              entry.Settled,
			"cancel_reason":        entry.CancelReason,
			"cancelled_unix_milli": entry.CancelledUnixMilli,
		})
	if result.Error != nil {
		return wrapQueryError(errorSubjectBooking, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, booking.ErrBookingNotFound)
	}
	return nil
}

func (store *Store) ListActiveBookings(ctx context.Context, slotID string) ([]booking.Booking, error) {
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("slot_id = ? AND status <> ?", slotID, string(booking.BookingCancelled)).
		Order("created_unix_milli ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapQueryError(errorSubjectBooking, errorCodeList, err)
	}
	return mapBookings(rows), nil
}

func (store *Store) ListUserBookings(ctx context.Context, userID string, fromUnixMilli int64) ([]booking.Booking, error) {
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND created_unix_milli >= ?", userID, fromUnixMilli).
		Order("created_unix_milli DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapQueryError(errorSubjectBooking, errorCodeList, err)
	}
	return mapBookings(rows), nil
}

// ListUnsettledBookings returns active, unsettled bookings whose slot started before startedBeforeUnixMilli.
func (store *Store) ListUnsettledBookings(ctx context.Context, startedBeforeUnixMilli int64, limit int) ([]booking.Booking, error) {
	var rows []Booking
	query := store.db.WithContext(ctx).
		Model(&Booking{}).
		Joins("JOIN time_slots ON time_slots.id = bookings.slot_id").
		Where("bookings.status <> ? AND bookings.settled = ?", string(booking.BookingCancelled), false).
		Where("time_slots.start_unix_milli < ?", startedBeforeUnixMilli).
		Order("time_slots.start_unix_milli ASC, bookings.id ASC").
		Select("bookings.*")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapQueryError(errorSubjectBooking, errorCodeList, err)
	}
	return mapBookings(rows), nil
}

func mapClub(model Club) booking.Club {
	return booking.Club{
		ID:                   model.ID,
		Name:                 model.Name,
		Timezone:             model.Timezone,
		OpenTime:             model.OpenTime,
		CloseTime:            model.CloseTime,
		SlotStepMinutes:      model.SlotStepMinutes,
		ClassDurationMinutes: model.ClassDurationMinutes,
		DefaultCapacity:      model.DefaultCapacity,
		PriceCents:           model.PriceCents,
		PricePoints:          model.PricePoints,
		Active:               model.Active,
	}
}

func mapInstructor(model Instructor) booking.Instructor {
	return booking.Instructor{ID: model.ID, ClubID: model.ClubID, Name: model.Name, PriceCents: model.PriceCents, Active: model.Active}
}

func toSlotModel(slot booking.TimeSlot) TimeSlot {
	var courtID *string
	if slot.CourtID != "" {
		value := slot.CourtID
		courtID = &value
	}
	return TimeSlot{
		ID:               slot.ID,
		ClubID:           slot.ClubID,
		InstructorID:     slot.InstructorID,
		StartUnixMilli:   slot.StartUnixMilli,
		EndUnixMilli:     slot.EndUnixMilli,
		Level:            slot.Level,
		Category:         slot.Category,
		CourtID:          courtID,
		CourtNumber:      slot.CourtNumber,
		Capacity:         slot.Capacity,
		BookedPlayers:    slot.BookedPlayers,
		RecycledSpots:    slot.RecycledSpots,
		PriceCents:       slot.PriceCents,
		PricePoints:      slot.PricePoints,
		Cancelled:        slot.Cancelled,
		Version:          slot.Version,
		CreatedUnixMilli: slot.CreatedUnixMilli,
	}
}

func mapSlot(model TimeSlot) booking.TimeSlot {
	var courtID string
	if model.CourtID != nil {
		courtID = *model.CourtID
	}
	return booking.TimeSlot{
		ID:               model.ID,
		ClubID:           model.ClubID,
		InstructorID:     model.InstructorID,
		StartUnixMilli:   model.StartUnixMilli,
		EndUnixMilli:     model.EndUnixMilli,
		Level:            model.Level,
		Category:         model.Category,
		CourtID:          courtID,
		CourtNumber:      model.CourtNumber,
		Capacity:         model.Capacity,
		BookedPlayers:    model.BookedPlayers,
		RecycledSpots:    model.RecycledSpots,
		PriceCents:       model.PriceCents,
		PricePoints:      model.PricePoints,
		Cancelled:        model.Cancelled,
		Version:          model.Version,
		CreatedUnixMilli: model.CreatedUnixMilli,
	}
}

func toBookingModel(entry booking.Booking) Booking {
	return Booking{
		ID:                 entry.ID,
		UserID:             entry.UserID,
		SlotID:             entry.SlotID,
		Status:             string(entry.Status),
		GroupSize:          entry.GroupSize,
		Confirmed:          entry.Confirmed,
		Recycled:           entry.Recycled,
		Unit:               entry.Unit.String(),
		AmountCharged:      entry.AmountCharged,
		AmountRefunded:     entry.AmountRefunded,
		Settled:            entry.Settled,
		CancelReason:       entry.CancelReason,
		CreatedUnixMilli:   entry.CreatedUnixMilli,
		CancelledUnixMilli: entry.CancelledUnixMilli,
	}
}

func mapBooking(model Booking) booking.Booking {
	return booking.Booking{
		ID:                 model.ID,
		UserID:             model.UserID,
		SlotID:             model.SlotID,
		Status:             booking.BookingStatus(model.Status),
		GroupSize:          model.GroupSize,
		Confirmed:          model.Confirmed,
		Recycled:           model.Recycled,
		Unit:               ledger.Unit(model.Unit),
		AmountCharged:      model.AmountCharged,
		AmountRefunded:     model.AmountRefunded,
		Settled:            model.Settled,
		CancelReason:       model.CancelReason,
		CreatedUnixMilli:   model.CreatedUnixMilli,
		CancelledUnixMilli: model.CancelledUnixMilli,
	}
}

func mapBookings(rows []Booking) []booking.Booking {
	bookings := make([]booking.Booking, 0, len(rows))
	for _, row := range rows {
		bookings = append(bookings, mapBooking(row))
	}
	return bookings
}

var _ booking.Store = (*Store)(nil)
