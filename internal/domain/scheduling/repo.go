package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ScheduleRepository holds doctors' recurring weekly availability. Writes
// belong to the doctor-management collaborator.
type ScheduleRepository interface {
	Upsert(ctx context.Context, e *WeeklyScheduleEntry) error
	Delete(ctx context.Context, doctorID uuid.UUID, day time.Weekday) error
	Get(ctx context.Context, doctorID uuid.UUID, day time.Weekday) (*WeeklyScheduleEntry, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*WeeklyScheduleEntry, error)
}

// AppointmentRepository holds booked appointments. Create must reject a
// second non-cancelled appointment for the same (doctor, scheduled_at) with
// apperr.ErrSlotAlreadyTaken. UpdateStatus must only apply when the stored
// status still equals change.From, returning false otherwise.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, change StatusChange) (bool, error)
	// ListByDoctorBetween returns the doctor's appointments with
	// from <= scheduled_at < to, in any status.
	ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error)
}

// Directory is the doctor/patient profile collaborator.
type Directory interface {
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Notifier receives fire-and-forget appointment events. Implementations
// must not block the caller on delivery.
type Notifier interface {
	AppointmentBooked(ctx context.Context, a *Appointment)
	AppointmentStatusChanged(ctx context.Context, a *Appointment, from, to Status)
}

// Clock supplies the current instant; swapped in tests.
type Clock func() time.Time

type nopNotifier struct{}

func (nopNotifier) AppointmentBooked(context.Context, *Appointment) {}

func (nopNotifier) AppointmentStatusChanged(context.Context, *Appointment, Status, Status) {}
