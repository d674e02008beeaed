package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusConfirmed: true, StatusCancelled: true, StatusCompleted: true,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !validStatuses[st] {
		return "", fmt.Errorf("invalid appointment status: %s", s)
	}
	return st, nil
}

// OccupiesSlot reports whether an appointment in this status blocks its slot.
func (s Status) OccupiesSlot() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCompleted
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Role is the authenticated caller's role as supplied by the auth collaborator.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Actor is the authenticated identity every core operation acts on behalf of.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// TimeOfDay is a clinic-local wall clock time in minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// NewTimeOfDay builds a TimeOfDay from hours and minutes.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM". "24:00" is accepted as the end of day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	if parts[0] == "24" && parts[1] == "00" {
		return minutesPerDay, nil
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return NewTimeOfDay(h, m), nil
}

// TimeOfDayOf returns the wall clock time of t in loc.
func TimeOfDayOf(t time.Time, loc *time.Location) TimeOfDay {
	lt := t.In(loc)
	return NewTimeOfDay(lt.Hour(), lt.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On returns the instant at this time of day on date (interpreted in loc).
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.In(loc).Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// WeeklyScheduleEntry is a doctor's recurring availability window for one
// weekday. Rows are keyed by (doctor_id, day_of_week).
type WeeklyScheduleEntry struct {
	DoctorID  uuid.UUID    `db:"doctor_id" json:"doctor_id"`
	DayOfWeek time.Weekday `db:"day_of_week" json:"day_of_week"`
	StartTime TimeOfDay    `db:"start_time" json:"start_time"`
	EndTime   TimeOfDay    `db:"end_time" json:"end_time"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// scheduleGridMinutes is the grid schedule window bounds must sit on.
const scheduleGridMinutes = 5

// Validate checks the weekday range and that the window is well formed.
func (e *WeeklyScheduleEntry) Validate() error {
	if e.DoctorID == uuid.Nil {
		return fmt.Errorf("doctor_id is required")
	}
	if e.DayOfWeek < time.Monday || e.DayOfWeek > time.Saturday {
		return fmt.Errorf("day_of_week must be Monday..Saturday, got %s", e.DayOfWeek)
	}
	if e.StartTime < 0 || e.EndTime > minutesPerDay {
		return fmt.Errorf("schedule window out of range")
	}
	if e.StartTime >= e.EndTime {
		return fmt.Errorf("start_time %s must be before end_time %s", e.StartTime, e.EndTime)
	}
	if int(e.StartTime)%scheduleGridMinutes != 0 || int(e.EndTime)%scheduleGridMinutes != 0 {
		return fmt.Errorf("schedule window must be on a %d-minute grid", scheduleGridMinutes)
	}
	return nil
}

// ParseWeekday accepts "monday", "mon" or the numeric time.Weekday value.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("invalid weekday %q", s)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// Appointment is a booked visit between a patient and a doctor.
type Appointment struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	ScheduledAt        time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Status             Status     `db:"status" json:"status"`
	Reason             string     `db:"reason" json:"reason"`
	CancelledBy        *uuid.UUID `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// BookingRequest is the input to BookAppointment.
type BookingRequest struct {
	PatientID   uuid.UUID `json:"patient_id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Reason      string    `json:"reason"`
}

// StatusChange describes an applied status update, used for the
// compare-and-set write in the appointment store.
type StatusChange struct {
	AppointmentID      uuid.UUID
	From               Status
	To                 Status
	CancelledBy        *uuid.UUID
	CancellationReason *string
	At                 time.Time
}
