package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	dateLayout      = "2006-01-02"
	wallClockLayout = "15:04"
)

// slotNamespace seeds the name-based slot ids so regeneration yields the same id.
var slotNamespace = uuid.MustParse("6f1f2c3e-8d4b-5a0e-9c7d-2b1e4f6a8c90")

// SlotID derives the deterministic id of the slot an instructor teaches at a club starting at startUnixMilli.
func SlotID(clubID string, instructorID string, startUnixMilli int64) string {
	name := fmt.Sprintf("%s/%s/%d", clubID, instructorID, startUnixMilli)
	return uuid.NewSHA1(slotNamespace, []byte(name)).String()
}

// LoadLocation resolves an IANA timezone name.
func LoadLocation(timezone string) (*time.Location, error) {
	location, err := time.LoadLocation(strings.TrimSpace(timezone))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, timezone, err)
	}
	return location, nil
}

// ParseDate reads a YYYY-MM-DD calendar date in location and returns its local midnight.
func ParseDate(raw string, location *time.Location) (time.Time, error) {
	date, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return date, nil
}

// ResolveDate picks the target calendar day: rawDate when given, otherwise the
// local day dayOffset days after nowUnixMilli.
func ResolveDate(rawDate string, dayOffset int, nowUnixMilli int64, location *time.Location) (time.Time, error) {
	if strings.TrimSpace(rawDate) != "" {
		return ParseDate(rawDate, location)
	}
	if dayOffset < 0 {
		return time.Time{}, fmt.Errorf("%w: negative day offset %d", ErrInvalidDate, dayOffset)
	}
	now := time.UnixMilli(nowUnixMilli).In(location)
	return time.Date(now.Year(), now.Month(), now.Day()+dayOffset, 0, 0, 0, 0, location), nil
}

// DayRange returns the half-open [from, to) millisecond range covering the local
// calendar day. DST days are 23 or 25 hours long.
func DayRange(date time.Time, location *time.Location) (int64, int64) {
	local := date.In(location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, location)
	end := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, location)
	return start.UnixMilli(), end.UnixMilli()
}

// parseWallClock reads HH:MM and returns minutes since midnight.
func parseWallClock(raw string) (int, error) {
	parsed, err := time.Parse(wallClockLayout, strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: wall clock %q", ErrInvalidInput, raw)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// classWindow is one candidate class in absolute time.
type classWindow struct {
	startUnixMilli int64
	endUnixMilli   int64
}

// candidateWindows enumerates classes from opening time in step increments while
// the class still ends by closing time. Wall times are resolved in location.
func candidateWindows(date time.Time, club Club, location *time.Location) ([]classWindow, error) {
	openMinute, err := parseWallClock(club.OpenTime)
	if err != nil {
		return nil, err
	}
	closeMinute, err := parseWallClock(club.CloseTime)
	if err != nil {
		return nil, err
	}
	if club.SlotStepMinutes <= 0 || club.ClassDurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: club %s has no slot step or class duration", ErrInvalidInput, club.ID)
	}
	local := date.In(location)
	var windows []classWindow
	for minute := openMinute; minute+club.ClassDurationMinutes <= closeMinute; minute += club.SlotStepMinutes {
		start := time.Date(local.Year(), local.Month(), local.Day(), minute/60, minute%60, 0, 0, location)
		if count := len(windows); count > 0 && start.UnixMilli() <= windows[count-1].startUnixMilli {
			continue
		}
		end := start.Add(time.Duration(club.ClassDurationMinutes) * time.Minute)
		windows = append(windows, classWindow{startUnixMilli: start.UnixMilli(), endUnixMilli: end.UnixMilli()})
	}
	return windows, nil
}
