package gormstore

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

// LedgerStore implements ledger.Store using GORM.
type LedgerStore struct {
	db    *gorm.DB
	nowFn func() int64
}

// NewLedgerStore returns a LedgerStore backed by gorm.DB. now returns epoch milliseconds.
func NewLedgerStore(db *gorm.DB, now func() int64) *LedgerStore {
	return &LedgerStore{db: db, nowFn: now}
}

// WithTx executes fn within a transaction.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction, nowFn: store.nowFn})
	})
	if isConcurrencyFailure(err) {
		return wrapQueryError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return err
}

// GetOrCreateAccountID resolves the account of userID, creating it on first use.
// Concurrent creators converge on the row that won the insert.
func (store *LedgerStore) GetOrCreateAccountID(ctx context.Context, userID ledger.UserID) (ledger.AccountID, error) {
	account, err := store.findAccount(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		candidate := Account{UserID: userID.String(), CreatedUnixMilli: store.nowFn()}
		err = store.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
			Create(&candidate).Error
		if err != nil {
			return ledger.AccountID{}, wrapQueryError(errorSubjectAccount, errorCodeCreate, err)
		}
		account, err = store.findAccount(ctx, userID)
	}
	if err != nil {
		return ledger.AccountID{}, wrapQueryError(errorSubjectAccount, errorCodeLookup, err)
	}
	accountID, err := ledger.NewAccountID(account.AccountID)
	if err != nil {
		return ledger.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return accountID, nil
}

func (store *LedgerStore) findAccount(ctx context.Context, userID ledger.UserID) (Account, error) {
	var account Account
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&account).Error
	return account, err
}

func (store *LedgerStore) InsertEntry(ctx context.Context, entryInput ledger.EntryInput) error {
	var expiresUnixMilli *int64
	if value := entryInput.ExpiresUnixMilli(); value != 0 {
		expiresUnixMilli = &value
	}
	var reservationID *string
	if reservation := entryInput.ReservationID(); reservation != nil {
		value := reservation.String()
		reservationID = &value
	}
	entry := LedgerEntry{
		AccountID:        entryInput.AccountID().String(),
		Unit:             entryInput.Unit().String(),
		Type:             entryInput.Type().String(),
		AmountCents:      entryInput.AmountCents().Int64(),
		ReservationID:    reservationID,
		IdempotencyKey:   entryInput.IdempotencyKey().String(),
		ExpiresUnixMilli: expiresUnixMilli,
		Metadata:         datatypesJSON(entryInput.Metadata().String()),
		CreatedUnixMilli: entryInput.CreatedUnixMilli(),
	}
	if entry.CreatedUnixMilli == 0 {
		entry.CreatedUnixMilli = store.nowFn()
	}
	err := store.db.WithContext(ctx).Create(&entry).Error
	if isIdempotencyConflict(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapQueryError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

// SumTotal adds every entry that moves the total. Expiry is settled by the ledger from the entry log.
func (store *LedgerStore) SumTotal(ctx context.Context, accountID ledger.AccountID, unit ledger.Unit) (ledger.SignedAmountCents, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("account_id = ? AND unit = ?", accountID.String(), unit.String()).
		Where("type not in ?", []string{ledger.EntryHold.String(), ledger.EntryReverseHold.String()}).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapQueryError(errorSubjectBalance, errorCodeSumTotal, err)
	}
	return ledger.SignedAmountCents(sum.Total), nil
}

func (store *LedgerStore) SumActiveHolds(ctx context.Context, accountID ledger.AccountID, unit ledger.Unit) (ledger.AmountCents, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("account_id = ? AND unit = ? AND status = ?", accountID.String(), unit.String(), ledger.ReservationStatusActive.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapQueryError(errorSubjectBalance, errorCodeSumActiveHolds, err)
	}
	activeHolds, err := ledger.NewAmountCents(sum.Total)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return activeHolds, nil
}

func (store *LedgerStore) CreateReservation(ctx context.Context, reservation ledger.Reservation) error {
	nowUnixMilli := store.nowFn()
	model := Reservation{
		AccountID:        reservation.AccountID().String(),
		ReservationID:    reservation.ReservationID().String(),
		Unit:             reservation.Unit().String(),
		AmountCents:      reservation.AmountCents().Int64(),
		Status:           reservation.Status().String(),
		CreatedUnixMilli: nowUnixMilli,
		UpdatedUnixMilli: nowUnixMilli,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isReservationConflict(err) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, ledger.ErrReservationExists)
	}
	if err != nil {
		return wrapQueryError(errorSubjectReservation, errorCodeCreate, err)
	}
	return nil
}

func (store *LedgerStore) GetReservation(ctx context.Context, accountID ledger.AccountID, reservationID ledger.ReservationID) (ledger.Reservation, error) {
	var model Reservation
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND reservation_id = ?", accountID.String(), reservationID.String()).
		Take(&model).Error
	if err != nil {
		return ledger.Reservation{}, wrapLookupError(errorSubjectReservation, err, ledger.ErrUnknownReservation)
	}
	reservation, err := mapReservation(model)
	if err != nil {
		return ledger.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

func (store *LedgerStore) UpdateReservationStatus(ctx context.Context, accountID ledger.AccountID, reservationID ledger.ReservationID, from, to ledger.ReservationStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("account_id = ? AND reservation_id = ? AND status = ?", accountID.String(), reservationID.String(), from.String()).
		Updates(map[string]interface{}{"status": to.String(), "updated_unix_milli": store.nowFn()})
	if result.Error != nil {
		return wrapQueryError(errorSubjectReservation, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, ledger.ErrReservationClosed)
	}
	return nil
}

func (store *LedgerStore) ListEntries(ctx context.Context, accountID ledger.AccountID, beforeUnixMilli int64, limit int) ([]ledger.Entry, error) {
	if beforeUnixMilli == 0 {
		beforeUnixMilli = store.nowFn() + 1
	}
	query := store.db.WithContext(ctx).
		Where("account_id = ? AND created_unix_milli < ?", accountID.String(), beforeUnixMilli).
		Order("created_unix_milli DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []LedgerEntry
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapQueryError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

func (store *LedgerStore) ListUnitEntries(ctx context.Context, accountID ledger.AccountID, unit ledger.Unit) ([]ledger.Entry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND unit = ?", accountID.String(), unit.String()).
		Order("created_unix_milli ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapQueryError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

type sqlSum struct {
	Total int64
}

func mapLedgerEntries(rows []LedgerEntry) ([]ledger.Entry, error) {
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	entryID, err := ledger.NewEntryID(row.EntryID)
	if err != nil {
		return ledger.Entry{}, err
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.Entry{}, err
	}
	unit, err := ledger.ParseUnit(row.Unit)
	if err != nil {
		return ledger.Entry{}, err
	}
	entryType, err := ledger.ParseEntryType(row.Type)
	if err != nil {
		return ledger.Entry{}, err
	}
	amountCents, err := ledger.NewEntryAmountCents(row.AmountCents)
	if err != nil {
		return ledger.Entry{}, err
	}
	var reservationID *ledger.ReservationID
	if row.ReservationID != nil {
		parsedReservationID, err := ledger.NewReservationID(*row.ReservationID)
		if err != nil {
			return ledger.Entry{}, err
		}
		reservationID = &parsedReservationID
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(row.IdempotencyKey)
	if err != nil {
		return ledger.Entry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Entry{}, err
	}
	var expiresUnixMilli int64
	if row.ExpiresUnixMilli != nil {
		expiresUnixMilli = *row.ExpiresUnixMilli
	}
	return ledger.NewEntry(entryID, accountID, unit, entryType, amountCents, reservationID, idempotencyKey, expiresUnixMilli, metadata, row.CreatedUnixMilli)
}

func mapReservation(model Reservation) (ledger.Reservation, error) {
	accountID, err := ledger.NewAccountID(model.AccountID)
	if err != nil {
		return ledger.Reservation{}, err
	}
	reservationID, err := ledger.NewReservationID(model.ReservationID)
	if err != nil {
		return ledger.Reservation{}, err
	}
	unit, err := ledger.ParseUnit(model.Unit)
	if err != nil {
		return ledger.Reservation{}, err
	}
	amountCents, err := ledger.NewPositiveAmountCents(model.AmountCents)
	if err != nil {
		return ledger.Reservation{}, err
	}
	status, err := ledger.ParseReservationStatus(model.Status)
	if err != nil {
		return ledger.Reservation{}, err
	}
	return ledger.NewReservation(accountID, reservationID, unit, amountCents, status)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

var _ ledger.Store = (*LedgerStore)(nil)
