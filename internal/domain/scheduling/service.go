package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/apperr"
)

const (
	dateLayout         = "2006-01-02"
	DefaultGranularity = 60
)

// Service is the scheduling core: slot calculation, booking, the appointment
// state machine and the weekly schedule reads and writes. Every mutation of
// the appointment store goes through it.
type Service struct {
	schedules    ScheduleRepository
	appointments AppointmentRepository
	directory    Directory
	notifier     Notifier
	loc          *time.Location
	granularity  int
	now          Clock
	logger       zerolog.Logger
}

func NewService(sched ScheduleRepository, appt AppointmentRepository, dir Directory, loc *time.Location, granularity int) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	return &Service{
		schedules:    sched,
		appointments: appt,
		directory:    dir,
		notifier:     nopNotifier{},
		loc:          loc,
		granularity:  granularity,
		now:          time.Now,
		logger:       zerolog.Nop(),
	}
}

// SetNotifier attaches the notification collaborator.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// SetClock replaces the time source.
func (s *Service) SetClock(c Clock) { s.now = c }

// SetLogger attaches a logger.
func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l.With().Str("component", "scheduling").Logger()
}

// Location returns the clinic timezone.
func (s *Service) Location() *time.Location { return s.loc }

// Granularity returns the default slot length in minutes.
func (s *Service) Granularity() int { return s.granularity }

func (s *Service) civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

func (s *Service) today() time.Time {
	return s.civilDate(s.now().In(s.loc))
}

// -- Weekly schedule --

// SetWeeklyEntry creates or replaces a doctor's window for one weekday.
func (s *Service) SetWeeklyEntry(ctx context.Context, actor Actor, e *WeeklyScheduleEntry) error {
	if !actor.IsAdmin() && !(actor.Role == RoleDoctor && actor.UserID == e.DoctorID) {
		return fmt.Errorf("%w: only the doctor or an admin may edit a schedule", apperr.ErrForbidden)
	}
	if err := e.Validate(); err != nil {
		return apperr.Invalid("%v", err)
	}
	ok, err := s.directory.DoctorExists(ctx, e.DoctorID)
	if err != nil {
		return fmt.Errorf("resolve doctor: %w", err)
	}
	if !ok {
		return apperr.Invalid("unknown doctor %s", e.DoctorID)
	}
	e.UpdatedAt = s.now()
	return s.schedules.Upsert(ctx, e)
}

// RemoveWeeklyEntry deletes a doctor's window for one weekday.
func (s *Service) RemoveWeeklyEntry(ctx context.Context, actor Actor, doctorID uuid.UUID, day time.Weekday) error {
	if !actor.IsAdmin() && !(actor.Role == RoleDoctor && actor.UserID == doctorID) {
		return fmt.Errorf("%w: only the doctor or an admin may edit a schedule", apperr.ErrForbidden)
	}
	return s.schedules.Delete(ctx, doctorID, day)
}

func (s *Service) ListWeeklySchedule(ctx context.Context, doctorID uuid.UUID) ([]*WeeklyScheduleEntry, error) {
	return s.schedules.ListByDoctor(ctx, doctorID)
}

// -- Appointment reads --

// GetAppointment returns an appointment visible to actor.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, a) {
		return nil, fmt.Errorf("%w: appointment %s belongs to another user", apperr.ErrForbidden, id)
	}
	return a, nil
}

// LookupAppointment returns an appointment without visibility checks, for
// collaborators inside the core.
func (s *Service) LookupAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// AppointmentFilter narrows ListAppointments. Exactly one of PatientID or
// DoctorID must be set.
type AppointmentFilter struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Status    Status
}

func (s *Service) ListAppointments(ctx context.Context, actor Actor, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	switch {
	case f.PatientID != uuid.Nil && f.DoctorID == uuid.Nil:
		if !actor.IsAdmin() && actor.UserID != f.PatientID {
			return nil, 0, fmt.Errorf("%w: cannot list another patient's appointments", apperr.ErrForbidden)
		}
		return s.appointments.ListByPatient(ctx, f.PatientID, f.Status, limit, offset)
	case f.DoctorID != uuid.Nil && f.PatientID == uuid.Nil:
		if !actor.IsAdmin() && actor.UserID != f.DoctorID {
			return nil, 0, fmt.Errorf("%w: cannot list another doctor's appointments", apperr.ErrForbidden)
		}
		return s.appointments.ListByDoctor(ctx, f.DoctorID, f.Status, limit, offset)
	default:
		return nil, 0, apperr.Invalid("exactly one of patient_id or doctor_id is required")
	}
}

func canView(actor Actor, a *Appointment) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleDoctor:
		return actor.UserID == a.DoctorID
	case RolePatient:
		return actor.UserID == a.PatientID
	}
	return false
}
