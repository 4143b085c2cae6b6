package booking

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// GenerateRequest asks for the proposals of one instructor on one local day.
// Date wins over DayOffset when both are set.
type GenerateRequest struct {
	ClubID       string
	InstructorID string
	Date         string
	DayOffset    int
	Level        string
	Category     string
}

// GenerateResult reports how many proposals were written. Skipped counts slots that already existed.
type GenerateResult struct {
	Date          string
	FromUnixMilli int64
	ToUnixMilli   int64
	Created       int
	Skipped       int
}

// Generator writes proposal slots. Running it twice for the same input creates nothing new.
type Generator struct {
	store     Store
	nowFn     func() int64
	publisher EventPublisher
	observer  Observer
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorPublisher announces generated slots.
func WithGeneratorPublisher(publisher EventPublisher) GeneratorOption {
	return func(generator *Generator) {
		generator.publisher = publisher
	}
}

// WithGeneratorObserver reports generation runs.
func WithGeneratorObserver(observer Observer) GeneratorOption {
	return func(generator *Generator) {
		generator.observer = observer
	}
}

// NewGenerator wires a Generator. now returns epoch milliseconds.
func NewGenerator(store Store, now func() int64, options ...GeneratorOption) (*Generator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidEngineConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidEngineConfig)
	}
	generator := &Generator{store: store, nowFn: now, publisher: noopPublisher{}, observer: noopObserver{}}
	for _, option := range options {
		if option != nil {
			option(generator)
		}
	}
	return generator, nil
}

// Generate creates the missing proposals for one instructor and day.
func (generator *Generator) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	startedAt := time.Now()
	result, err := generator.generate(ctx, request)
	generator.observer.ObserveOperation(ctx, OperationRecord{
		Operation: OperationGenerate,
		ClubID:    request.ClubID,
		Count:     result.Created,
		Duration:  time.Since(startedAt),
		Error:     err,
	})
	if err != nil {
		return GenerateResult{}, err
	}
	if result.Created > 0 {
		publish(ctx, generator.publisher, generator.observer, RoutingSlotsGenerated, SlotsGeneratedEvent{
			ClubID:        request.ClubID,
			InstructorID:  request.InstructorID,
			Date:          result.Date,
			Created:       result.Created,
			OccurredAtUTC: generator.nowFn(),
		})
	}
	return result, nil
}

func (generator *Generator) generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	clubID := strings.TrimSpace(request.ClubID)
	instructorID := strings.TrimSpace(request.InstructorID)
	if clubID == "" || instructorID == "" {
		return GenerateResult{}, fmt.Errorf("%w: club and instructor are required", ErrInvalidInput)
	}
	club, err := generator.store.GetClub(ctx, clubID)
	if err != nil {
		return GenerateResult{}, err
	}
	if !club.Active {
		return GenerateResult{}, fmt.Errorf("%w: %s", ErrClubInactive, clubID)
	}
	instructor, err := generator.store.GetInstructor(ctx, instructorID)
	if err != nil {
		return GenerateResult{}, err
	}
	if instructor.ClubID != club.ID {
		return GenerateResult{}, fmt.Errorf("%w: %s does not teach at %s", ErrInstructorNotFound, instructorID, clubID)
	}
	if !instructor.Active {
		return GenerateResult{}, fmt.Errorf("%w: %s", ErrInstructorInactive, instructorID)
	}
	location, err := LoadLocation(club.Timezone)
	if err != nil {
		return GenerateResult{}, err
	}
	date, err := ResolveDate(request.Date, request.DayOffset, generator.nowFn(), location)
	if err != nil {
		return GenerateResult{}, err
	}
	windows, err := candidateWindows(date, club, location)
	if err != nil {
		return GenerateResult{}, err
	}
	slots := generator.buildSlots(club, instructor, request, windows)
	created, err := generator.store.InsertSlots(ctx, slots)
	if err != nil {
		return GenerateResult{}, err
	}
	fromUnixMilli, toUnixMilli := DayRange(date, location)
	return GenerateResult{
		Date:          date.Format(dateLayout),
		FromUnixMilli: fromUnixMilli,
		ToUnixMilli:   toUnixMilli,
		Created:       created,
		Skipped:       len(slots) - created,
	}, nil
}

func (generator *Generator) buildSlots(club Club, instructor Instructor, request GenerateRequest, windows []classWindow) []TimeSlot {
	level := strings.TrimSpace(request.Level)
	if level == "" {
		level = defaultLevel
	}
	category := strings.TrimSpace(request.Category)
	if category == "" {
		category = defaultCategory
	}
	priceCents := club.PriceCents
	if instructor.PriceCents > 0 {
		priceCents = instructor.PriceCents
	}
	nowUnixMilli := generator.nowFn()
	slots := make([]TimeSlot, 0, len(windows))
	for _, window := range windows {
		slots = append(slots, TimeSlot{
			ID:               SlotID(club.ID, instructor.ID, window.startUnixMilli),
			ClubID:           club.ID,
			InstructorID:     instructor.ID,
			StartUnixMilli:   window.startUnixMilli,
			EndUnixMilli:     window.endUnixMilli,
			Level:            level,
			Category:         category,
			Capacity:         club.DefaultCapacity,
			PriceCents:       priceCents,
			PricePoints:      club.PricePoints,
			CreatedUnixMilli: nowUnixMilli,
		})
	}
	return slots
}

// GenerateRange generates proposals for every active instructor of the club over
// days consecutive local days starting fromOffset days from today.
func (generator *Generator) GenerateRange(ctx context.Context, clubID string, fromOffset int, days int) (GenerateResult, error) {
	if days <= 0 {
		return GenerateResult{}, fmt.Errorf("%w: days must be positive", ErrInvalidInput)
	}
	instructors, err := generator.store.ListInstructors(ctx, clubID, true)
	if err != nil {
		return GenerateResult{}, err
	}
	var total GenerateResult
	for offset := fromOffset; offset < fromOffset+days; offset++ {
		for _, instructor := range instructors {
			result, err := generator.Generate(ctx, GenerateRequest{ClubID: clubID, InstructorID: instructor.ID, DayOffset: offset})
			if err != nil {
				return total, err
			}
			if total.Date == "" {
				total.Date = result.Date
				total.FromUnixMilli = result.FromUnixMilli
			}
			total.ToUnixMilli = result.ToUnixMilli
			total.Created += result.Created
			total.Skipped += result.Skipped
		}
	}
	return total, nil
}

// PurgeStaleProposals deletes court-less, unbooked proposals that started before beforeUnixMilli.
func (generator *Generator) PurgeStaleProposals(ctx context.Context, clubID string, beforeUnixMilli int64) (int, error) {
	startedAt := time.Now()
	deleted, err := generator.store.DeleteStaleProposals(ctx, clubID, beforeUnixMilli)
	generator.observer.ObserveOperation(ctx, OperationRecord{
		Operation: OperationPurge,
		ClubID:    clubID,
		Count:     deleted,
		Duration:  time.Since(startedAt),
		Error:     err,
	})
	return deleted, err
}
