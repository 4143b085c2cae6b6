package gormstore

import (
	"errors"
	"fmt"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

const (
	constraintAccountIdempotencyKey = "ledger_entries_account_id_idempotency_key_key"
	constraintReservationPrimary    = "reservations_pkey"
	defaultMetadataJSON             = "{}"
	pgUniqueViolationCode           = "23505"
	pgSerializationFailureCode      = "40001"
	pgDeadlockDetectedCode          = "40P01"
	pgLockNotAvailableCode          = "55P03"
	sqliteConstraintPrimaryKeyCode  = 1555
	sqliteConstraintUniqueCode      = 2067
	sqliteBusyCode                  = 5
	sqliteLockedCode                = 6
	errorOperationStore             = "store"
	errorSubjectAccount             = "account"
	errorSubjectBalance             = "balance"
	errorSubjectEntry               = "entry"
	errorSubjectReservation         = "reservation"
	errorSubjectClub                = "club"
	errorSubjectCourt               = "court"
	errorSubjectInstructor          = "instructor"
	errorSubjectSlot                = "slot"
	errorSubjectBooking             = "booking"
	errorSubjectTransaction         = "transaction"
	errorCodeCommit                 = "commit"
	errorCodeConflict               = "conflict"
	errorCodeCreate                 = "create"
	errorCodeDelete                 = "delete"
	errorCodeDuplicate              = "duplicate"
	errorCodeGet                    = "get"
	errorCodeInsert                 = "insert"
	errorCodeInvalid                = "invalid"
	errorCodeList                   = "list"
	errorCodeLock                   = "lock"
	errorCodeLookup                 = "lookup"
	errorCodeSave                   = "save"
	errorCodeSumActiveHolds         = "sum_active_holds"
	errorCodeSumTotal               = "sum_total"
	errorCodeUpdate                 = "update"
	errorCodeUpdateStatus           = "update_status"
)

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

// wrapLookupError maps a missing row to notFound and everything else to a store error.
func wrapLookupError(subject string, err error, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(subject, errorCodeGet, notFound)
	}
	return wrapQueryError(subject, errorCodeGet, err)
}

// wrapQueryError classifies lock and serialization failures as concurrent conflicts.
func wrapQueryError(subject string, code string, err error) error {
	if isConcurrencyFailure(err) {
		return wrapStoreError(subject, errorCodeConflict, fmt.Errorf("%w: %w", booking.ErrConcurrentConflict, err))
	}
	return wrapStoreError(subject, code, err)
}

func isIdempotencyConflict(err error) bool {
	return isUniqueViolation(err, constraintAccountIdempotencyKey)
}

func isReservationConflict(err error) bool {
	return isUniqueViolation(err, constraintReservationPrimary)
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	// SQLite does not report constraint names; the extended code still tells
	// uniqueness apart from NOT NULL, CHECK and foreign key failures.
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraintUniqueCode || code == sqliteConstraintPrimaryKeyCode
	}
	return false
}

func isConcurrencyFailure(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailureCode, pgDeadlockDetectedCode, pgLockNotAvailableCode:
			return true
		}
		return false
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xFF
		return code == sqliteBusyCode || code == sqliteLockedCode
	}
	return false
}
