package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/clinic/clinic/internal/platform/apperr"
)

// Slot granularity bounds in minutes. A granularity must also divide 24h.
const (
	MinGranularity = 5
	MaxGranularity = 240
)

// SlotInput is everything the slot calculator needs for one doctor and date.
type SlotInput struct {
	// Entry is the weekly window for the date's weekday; nil when the
	// doctor does not work that day.
	Entry       *WeeklyScheduleEntry
	Granularity int
	// Occupied holds start times of non-cancelled appointments on the date.
	Occupied []TimeOfDay
	// Cutoff, when set, drops every candidate at or before it. Used when
	// the date is today.
	Cutoff *TimeOfDay
}

// FreeSlots enumerates candidate start times S, S+G, ... while the slot
// still ends within the window, minus occupied and elapsed times. The
// result is ascending and duplicate free.
func FreeSlots(in SlotInput) []TimeOfDay {
	if in.Entry == nil || in.Granularity <= 0 {
		return []TimeOfDay{}
	}
	g := TimeOfDay(in.Granularity)

	var candidates []TimeOfDay
	for t := in.Entry.StartTime; t+g <= in.Entry.EndTime; t += g {
		candidates = append(candidates, t)
	}

	taken := lo.Associate(in.Occupied, func(t TimeOfDay) (TimeOfDay, struct{}) {
		return t, struct{}{}
	})
	free := lo.Filter(candidates, func(t TimeOfDay, _ int) bool {
		if _, ok := taken[t]; ok {
			return false
		}
		return in.Cutoff == nil || t > *in.Cutoff
	})
	if free == nil {
		return []TimeOfDay{}
	}
	return free
}

// onGrid reports whether t is a candidate start time of entry at granularity g.
func onGrid(entry *WeeklyScheduleEntry, t TimeOfDay, g int) bool {
	if t < entry.StartTime || t+TimeOfDay(g) > entry.EndTime {
		return false
	}
	return int(t-entry.StartTime)%g == 0
}

// ValidateGranularity reports an apperr.ErrInvalidArgument unless g lies in
// [MinGranularity, MaxGranularity] and divides 24h.
func ValidateGranularity(g int) error {
	if g < MinGranularity || g > MaxGranularity || minutesPerDay%g != 0 {
		return apperr.Invalid("slot granularity must divide 24h and be between %d and %d minutes, got %d",
			MinGranularity, MaxGranularity, g)
	}
	return nil
}

// ComputeFreeSlots returns the free slot start times for doctorID on date.
// Only the year/month/day of date are used; they are read in the clinic
// timezone. A granularity of zero selects the configured default; other
// values list a finer or coarser grid for display only, since bookings are
// checked against the default grid. Dates before today are rejected.
func (s *Service) ComputeFreeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, granularity int) ([]TimeOfDay, error) {
	return s.computeSlots(ctx, doctorID, date, granularity, false)
}

// ComputeHistoricalSlots is ComputeFreeSlots without the past-date check,
// for audit of what was free on an earlier day.
func (s *Service) ComputeHistoricalSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, granularity int) ([]TimeOfDay, error) {
	return s.computeSlots(ctx, doctorID, date, granularity, true)
}

func (s *Service) computeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, granularity int, historical bool) ([]TimeOfDay, error) {
	if doctorID == uuid.Nil {
		return nil, apperr.Invalid("doctor_id is required")
	}
	if date.IsZero() {
		return nil, apperr.Invalid("date is required")
	}
	if granularity == 0 {
		granularity = s.granularity
	}
	if err := ValidateGranularity(granularity); err != nil {
		return nil, err
	}

	day := s.civilDate(date)
	today := s.today()
	if !historical && day.Before(today) {
		return nil, apperr.Invalid("date %s is in the past", day.Format(dateLayout))
	}
	return s.freeSlots(ctx, doctorID, day, granularity, today)
}

func (s *Service) freeSlots(ctx context.Context, doctorID uuid.UUID, day time.Time, granularity int, today time.Time) ([]TimeOfDay, error) {
	entries, err := s.schedules.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list weekly schedule: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("doctor %s has no weekly schedule: %w", doctorID, apperr.ErrNotFound)
	}

	entry, ok := lo.Find(entries, func(e *WeeklyScheduleEntry) bool {
		return e.DayOfWeek == day.Weekday()
	})
	if !ok {
		return []TimeOfDay{}, nil
	}

	occupied, err := s.occupiedTimes(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	in := SlotInput{Entry: entry, Granularity: granularity, Occupied: occupied}
	if day.Equal(today) {
		cutoff := TimeOfDayOf(s.now(), s.loc)
		in.Cutoff = &cutoff
	}
	return FreeSlots(in), nil
}

func (s *Service) occupiedTimes(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]TimeOfDay, error) {
	appts, err := s.appointments.ListByDoctorBetween(ctx, doctorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w", err)
	}
	active := lo.Filter(appts, func(a *Appointment, _ int) bool { return a.Status.OccupiesSlot() })
	return lo.Map(active, func(a *Appointment, _ int) TimeOfDay {
		return TimeOfDayOf(a.ScheduledAt, s.loc)
	}), nil
}

// scheduleEntryFor loads the weekly entry for day, or nil when there is none.
func (s *Service) scheduleEntryFor(ctx context.Context, doctorID uuid.UUID, day time.Weekday) (*WeeklyScheduleEntry, error) {
	entry, err := s.schedules.Get(ctx, doctorID, day)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get weekly schedule: %w", err)
	}
	return entry, nil
}
