package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
)

type scheduleKey struct {
	doctorID uuid.UUID
	day      time.Weekday
}

// MemoryScheduleRepo is an in-process ScheduleRepository used with
// STORAGE=memory and in tests.
type MemoryScheduleRepo struct {
	mu      sync.RWMutex
	entries map[scheduleKey]WeeklyScheduleEntry
}

func NewMemoryScheduleRepo() *MemoryScheduleRepo {
	return &MemoryScheduleRepo{entries: make(map[scheduleKey]WeeklyScheduleEntry)}
}

func (r *MemoryScheduleRepo) Upsert(_ context.Context, e *WeeklyScheduleEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[scheduleKey{e.DoctorID, e.DayOfWeek}] = *e
	return nil
}

func (r *MemoryScheduleRepo) Delete(_ context.Context, doctorID uuid.UUID, day time.Weekday) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := scheduleKey{doctorID, day}
	if _, ok := r.entries[k]; !ok {
		return fmt.Errorf("weekly schedule %s/%s: %w", doctorID, day, apperr.ErrNotFound)
	}
	delete(r.entries, k)
	return nil
}

func (r *MemoryScheduleRepo) Get(_ context.Context, doctorID uuid.UUID, day time.Weekday) (*WeeklyScheduleEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[scheduleKey{doctorID, day}]
	if !ok {
		return nil, fmt.Errorf("weekly schedule %s/%s: %w", doctorID, day, apperr.ErrNotFound)
	}
	return &e, nil
}

func (r *MemoryScheduleRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*WeeklyScheduleEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*WeeklyScheduleEntry
	for k, e := range r.entries {
		if k.doctorID == doctorID {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DayOfWeek < out[j].DayOfWeek })
	return out, nil
}

// MemoryAppointmentRepo is an in-process AppointmentRepository. The
// uniqueness check and the insert happen under one lock, so it arbitrates
// concurrent bookings the way the partial unique index does in Postgres.
type MemoryAppointmentRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Appointment
}

func NewMemoryAppointmentRepo() *MemoryAppointmentRepo {
	return &MemoryAppointmentRepo{items: make(map[uuid.UUID]Appointment)}
}

func (r *MemoryAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[a.ID]; ok {
		return fmt.Errorf("appointment %s: %w", a.ID, apperr.ErrConflict)
	}
	for _, existing := range r.items {
		if existing.DoctorID == a.DoctorID && existing.ScheduledAt.Equal(a.ScheduledAt) &&
			existing.Status != StatusCancelled {
			return fmt.Errorf("doctor %s at %s: %w", a.DoctorID, a.ScheduledAt.Format(time.RFC3339), apperr.ErrSlotAlreadyTaken)
		}
	}
	r.items[a.ID] = *a
	return nil
}

func (r *MemoryAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("get appointment %s: %w", id, apperr.ErrNotFound)
	}
	return &a, nil
}

func (r *MemoryAppointmentRepo) UpdateStatus(_ context.Context, change StatusChange) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[change.AppointmentID]
	if !ok {
		return false, fmt.Errorf("update appointment %s: %w", change.AppointmentID, apperr.ErrNotFound)
	}
	if a.Status != change.From {
		return false, nil
	}
	a.Status = change.To
	a.UpdatedAt = change.At
	if change.CancelledBy != nil {
		a.CancelledBy = change.CancelledBy
	}
	if change.CancellationReason != nil {
		a.CancellationReason = change.CancellationReason
	}
	r.items[a.ID] = a
	return true, nil
}

func (r *MemoryAppointmentRepo) ListByDoctorBetween(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	items := r.filter(func(a *Appointment) bool {
		return a.DoctorID == doctorID && !a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to)
	})
	sort.Slice(items, func(i, j int) bool { return items[i].ScheduledAt.Before(items[j].ScheduledAt) })
	return items, nil
}

func (r *MemoryAppointmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error) {
	items := r.filter(func(a *Appointment) bool {
		return a.PatientID == patientID && (status == "" || a.Status == status)
	})
	return page(items, limit, offset), len(items), nil
}

func (r *MemoryAppointmentRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error) {
	items := r.filter(func(a *Appointment) bool {
		return a.DoctorID == doctorID && (status == "" || a.Status == status)
	})
	return page(items, limit, offset), len(items), nil
}

func (r *MemoryAppointmentRepo) filter(keep func(a *Appointment) bool) []*Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Appointment
	for _, a := range r.items {
		a := a
		if keep(&a) {
			out = append(out, &a)
		}
	}
	return out
}

// page orders newest first and applies limit/offset.
func page(items []*Appointment, limit, offset int) []*Appointment {
	sort.Slice(items, func(i, j int) bool { return items[i].ScheduledAt.After(items[j].ScheduledAt) })
	if offset >= len(items) {
		return []*Appointment{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
