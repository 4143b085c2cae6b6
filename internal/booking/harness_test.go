package booking_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
	"github.com/MarkoPoloResearchLab/courtbook/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/courtbook/pkg/ledger"
)

const (
	clubID          = "club-madrid"
	nightClubID     = "club-night"
	coachAna        = "coach-ana"
	coachBen        = "coach-ben"
	coachEva        = "coach-eva"
	coachIdle       = "coach-idle"
	coachNight      = "coach-night"
	clubTimezone    = "Europe/Madrid"
	classPriceCents = int64(6000)
	classPoints     = int64(10)
	tomorrow        = "2026-03-03"
)

// testClock starts at 2026-03-02 10:00 Madrid time.
type testClock struct {
	nowMillis atomic.Int64
}

func newTestClock(test *testing.T) *testClock {
	test.Helper()
	clock := &testClock{}
	clock.nowMillis.Store(localMillis(test, "2026-03-02", 10, 0))
	return clock
}

func (clock *testClock) Now() int64 {
	return clock.nowMillis.Load()
}

func (clock *testClock) Set(unixMilli int64) {
	clock.nowMillis.Store(unixMilli)
}

type publishedEvent struct {
	routingKey string
	event      any
}

type recordingPublisher struct {
	mutex  sync.Mutex
	events []publishedEvent
}

func (publisher *recordingPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	publisher.events = append(publisher.events, publishedEvent{routingKey: routingKey, event: event})
	return nil
}

func (publisher *recordingPublisher) routingKeys() []string {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	keys := make([]string, 0, len(publisher.events))
	for _, published := range publisher.events {
		keys = append(keys, published.routingKey)
	}
	return keys
}

type recordingObserver struct {
	mutex   sync.Mutex
	records []booking.OperationRecord
}

func (observer *recordingObserver) ObserveOperation(ctx context.Context, record booking.OperationRecord) {
	observer.mutex.Lock()
	defer observer.mutex.Unlock()
	observer.records = append(observer.records, record)
}

func (observer *recordingObserver) operations() []booking.OperationRecord {
	observer.mutex.Lock()
	defer observer.mutex.Unlock()
	return append([]booking.OperationRecord(nil), observer.records...)
}

type fixture struct {
	store     *gormstore.Store
	ledger    *ledger.Service
	engine    *booking.Engine
	generator *booking.Generator
	clock     *testClock
	publisher *recordingPublisher
	observer  *recordingObserver
}

func newFixture(test *testing.T, options ...booking.EngineOption) *fixture {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(test.TempDir(), "courtbook.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := gormstore.AutoMigrate(db); err != nil {
		test.Fatalf("automigrate failed: %v", err)
	}

	clock := newTestClock(test)
	store := gormstore.New(db, clock.Now)
	publisher := &recordingPublisher{}
	observer := &recordingObserver{}
	engineOptions := append([]booking.EngineOption{booking.WithPublisher(publisher), booking.WithObserver(observer)}, options...)
	engine, err := booking.NewEngine(store, booking.NewMemoryLocker(), clock.Now, engineOptions...)
	if err != nil {
		test.Fatalf("engine init failed: %v", err)
	}
	generator, err := booking.NewGenerator(store, clock.Now, booking.WithGeneratorPublisher(publisher), booking.WithGeneratorObserver(observer))
	if err != nil {
		test.Fatalf("generator init failed: %v", err)
	}
	ledgerService, err := ledger.NewService(store.Ledger(), clock.Now)
	if err != nil {
		test.Fatalf("ledger init failed: %v", err)
	}
	instance := &fixture{
		store:     store,
		ledger:    ledgerService,
		engine:    engine,
		generator: generator,
		clock:     clock,
		publisher: publisher,
		observer:  observer,
	}
	instance.seed(test)
	return instance
}

// seed creates a day club with two courts and a night club used for timezone edge cases.
func (instance *fixture) seed(test *testing.T) {
	test.Helper()
	ctx := context.Background()
	clubs := []booking.Club{
		{ID: clubID, Name: "Padel Centre", Timezone: clubTimezone, OpenTime: "08:00", CloseTime: "22:00", SlotStepMinutes: 30, ClassDurationMinutes: 90, DefaultCapacity: 4, PriceCents: classPriceCents, PricePoints: classPoints, Active: true},
		{ID: nightClubID, Name: "Night Padel", Timezone: clubTimezone, OpenTime: "00:00", CloseTime: "06:00", SlotStepMinutes: 30, ClassDurationMinutes: 60, DefaultCapacity: 4, PriceCents: classPriceCents, Active: true},
	}
	for _, club := range clubs {
		if err := instance.store.SaveClub(ctx, club); err != nil {
			test.Fatalf("save club: %v", err)
		}
	}
	courts := []booking.Court{
		{ID: "court-2", ClubID: clubID, Number: 2, Active: true},
		{ID: "court-1", ClubID: clubID, Number: 1, Active: true},
		{ID: "court-9", ClubID: clubID, Number: 9, Active: false},
		{ID: "night-court-1", ClubID: nightClubID, Number: 1, Active: true},
	}
	for _, court := range courts {
		if err := instance.store.SaveCourt(ctx, court); err != nil {
			test.Fatalf("save court: %v", err)
		}
	}
	instructors := []booking.Instructor{
		{ID: coachAna, ClubID: clubID, Name: "Ana", Active: true},
		{ID: coachBen, ClubID: clubID, Name: "Ben", Active: true},
		{ID: coachEva, ClubID: clubID, Name: "Eva", PriceCents: 7000, Active: true},
		{ID: coachIdle, ClubID: clubID, Name: "Idle", Active: false},
		{ID: coachNight, ClubID: nightClubID, Name: "Nox", Active: true},
	}
	for _, instructor := range instructors {
		if err := instance.store.SaveInstructor(ctx, instructor); err != nil {
			test.Fatalf("save instructor: %v", err)
		}
	}
}

func (instance *fixture) generate(test *testing.T, instructorID string, date string) booking.GenerateResult {
	test.Helper()
	result, err := instance.generator.Generate(context.Background(), booking.GenerateRequest{ClubID: clubID, InstructorID: instructorID, Date: date})
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	return result
}

// proposalAt generates the instructor's proposals for tomorrow and returns the one starting at hour:minute.
func (instance *fixture) proposalAt(test *testing.T, instructorID string, hour int, minute int) booking.TimeSlot {
	test.Helper()
	instance.generate(test, instructorID, tomorrow)
	slot, err := instance.store.GetSlot(context.Background(), booking.SlotID(clubID, instructorID, localMillis(test, tomorrow, hour, minute)))
	if err != nil {
		test.Fatalf("proposal lookup: %v", err)
	}
	return slot
}

func (instance *fixture) grant(test *testing.T, userID string, unit ledger.Unit, amount int64) {
	test.Helper()
	positive, err := ledger.NewPositiveAmountCents(amount)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	key, err := ledger.NewIdempotencyKey("grant:" + userID + ":" + unit.String())
	if err != nil {
		test.Fatalf("key: %v", err)
	}
	if err := instance.ledger.Grant(context.Background(), mustUserID(test, userID), unit, positive, key, 0, ledger.MetadataJSON{}); err != nil {
		test.Fatalf("grant: %v", err)
	}
}

func (instance *fixture) balance(test *testing.T, userID string, unit ledger.Unit) ledger.Balance {
	test.Helper()
	balance, err := instance.ledger.Audit(context.Background(), mustUserID(test, userID), unit)
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	return balance
}

func (instance *fixture) book(test *testing.T, userID string, slotID string, groupSize int) booking.BookResult {
	test.Helper()
	result, err := instance.engine.Book(context.Background(), booking.BookRequest{UserID: userID, SlotID: slotID, GroupSize: groupSize})
	if err != nil {
		test.Fatalf("book: %v", err)
	}
	return result
}

func (instance *fixture) slot(test *testing.T, slotID string) booking.TimeSlot {
	test.Helper()
	slot, err := instance.store.GetSlot(context.Background(), slotID)
	if err != nil {
		test.Fatalf("slot lookup: %v", err)
	}
	return slot
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func localMillis(test *testing.T, date string, hour int, minute int) int64 {
	test.Helper()
	location, err := time.LoadLocation(clubTimezone)
	if err != nil {
		test.Fatalf("load location: %v", err)
	}
	day, err := time.ParseInLocation("2006-01-02", date, location)
	if err != nil {
		test.Fatalf("parse date: %v", err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, location).UnixMilli()
}

func assertBalance(test *testing.T, balance ledger.Balance, total int64, blocked int64, available int64) {
	test.Helper()
	if balance.TotalCents.Int64() != total || balance.BlockedCents.Int64() != blocked || balance.AvailableCents.Int64() != available {
		test.Fatalf("expected total=%d blocked=%d available=%d, got %+v", total, blocked, available, balance)
	}
}
