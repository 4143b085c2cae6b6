package gormstore

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	AccountID        string `gorm:"type:uuid;primaryKey"`
	UserID           string `gorm:"not null;uniqueIndex:idx_accounts_user"`
	CreatedUnixMilli int64  `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the ledger_entries table.
type LedgerEntry struct {
	EntryID          string         `gorm:"type:uuid;primaryKey"`
	AccountID        string         `gorm:"type:uuid;not null;index:idx_ledger_account_created,priority:1;uniqueIndex:ledger_entries_account_id_idempotency_key_key,priority:1"`
	Unit             string         `gorm:"not null"`
	Type             string         `gorm:"not null"`
	AmountCents      int64          `gorm:"not null"`
	ReservationID    *string        `gorm:"index:idx_ledger_reservation"`
	IdempotencyKey   string         `gorm:"not null;uniqueIndex:ledger_entries_account_id_idempotency_key_key,priority:2"`
	ExpiresUnixMilli *int64         `gorm:""`
	Metadata         datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedUnixMilli int64          `gorm:"not null;index:idx_ledger_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Reservation mirrors the reservations table.
type Reservation struct {
	AccountID        string `gorm:"type:uuid;primaryKey"`
	ReservationID    string `gorm:"primaryKey"`
	Unit             string `gorm:"not null"`
	AmountCents      int64  `gorm:"not null"`
	Status           string `gorm:"not null"`
	CreatedUnixMilli int64  `gorm:"not null"`
	UpdatedUnixMilli int64  `gorm:"not null"`
}

func (Reservation) TableName() string { return "reservations" }

// Club mirrors the clubs table.
type Club struct {
	ID                   string `gorm:"primaryKey"`
	Name                 string `gorm:"not null"`
	Timezone             string `gorm:"not null"`
	OpenTime             string `gorm:"not null"`
	CloseTime            string `gorm:"not null"`
	SlotStepMinutes      int    `gorm:"not null"`
	ClassDurationMinutes int    `gorm:"not null"`
	DefaultCapacity      int    `gorm:"not null"`
	PriceCents           int64  `gorm:"not null"`
	PricePoints          int64  `gorm:"not null"`
	Active               bool   `gorm:"not null"`
}

func (Club) TableName() string { return "clubs" }

// Court mirrors the courts table.
type Court struct {
	ID     string `gorm:"primaryKey"`
	ClubID string `gorm:"not null;uniqueIndex:idx_courts_club_number,priority:1"`
	Number int    `gorm:"not null;uniqueIndex:idx_courts_club_number,priority:2"`
	Active bool   `gorm:"not null"`
}

func (Court) TableName() string { return "courts" }

// Instructor mirrors the instructors table.
type Instructor struct {
	ID         string `gorm:"primaryKey"`
	ClubID     string `gorm:"not null;index"`
	Name       string `gorm:"not null"`
	PriceCents int64  `gorm:"not null"`
	Active     bool   `gorm:"not null"`
}

func (Instructor) TableName() string { return "instructors" }

// TimeSlot mirrors the time_slots table. A null court marks a proposal.
type TimeSlot struct {
	ID               string  `gorm:"primaryKey"`
	ClubID           string  `gorm:"not null;index:idx_slots_club_start,priority:1"`
	InstructorID     string  `gorm:"not null;uniqueIndex:idx_slots_instructor_start,priority:1"`
	StartUnixMilli   int64   `gorm:"not null;uniqueIndex:idx_slots_instructor_start,priority:2;index:idx_slots_club_start,priority:2"`
	EndUnixMilli     int64   `gorm:"not null"`
	Level            string  `gorm:"not null"`
	Category         string  `gorm:"not null"`
	CourtID          *string `gorm:""`
	CourtNumber      int     `gorm:"not null"`
	Capacity         int     `gorm:"not null"`
	BookedPlayers    int     `gorm:"not null"`
	RecycledSpots    int     `gorm:"not null"`
	PriceCents       int64   `gorm:"not null"`
	PricePoints      int64   `gorm:"not null"`
	Cancelled        bool    `gorm:"not null"`
	Version          int64   `gorm:"not null"`
	CreatedUnixMilli int64   `gorm:"not null"`
}

func (TimeSlot) TableName() string { return "time_slots" }

// Booking mirrors the bookings table.
type Booking struct {
	ID                 string `gorm:"primaryKey"`
	UserID             string `gorm:"not null;index:idx_bookings_user_created,priority:1"`
	SlotID             string `gorm:"not null;index"`
	Status             string `gorm:"not null"`
	GroupSize          int    `gorm:"not null"`
	Confirmed          bool   `gorm:"not null"`
	Recycled           bool   `gorm:"not null"`
	Unit               string `gorm:"not null"`
	AmountCharged      int64  `gorm:"not null"`
	AmountRefunded     int64  `gorm:"not null"`
	Settled            bool   `gorm:"not null"`
	CancelReason       string `gorm:"not null"`
	CreatedUnixMilli   int64  `gorm:"not null;index:idx_bookings_user_created,priority:2"`
	CancelledUnixMilli int64  `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Account{}, &LedgerEntry{}, &Reservation{}, &Club{}, &Court{}, &Instructor{}, &TimeSlot{}, &Booking{}}
}

// AutoMigrate creates or updates the schema. Used for SQLite; PostgreSQL runs the SQL migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
