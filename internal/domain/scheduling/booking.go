package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/clinic/clinic/internal/platform/apperr"
)

const maxReasonLength = 500

// BookAppointment books req.ScheduledAt with the doctor for the patient.
//
// Slot freedom is re-derived here rather than trusted from the caller. The
// store's uniqueness guarantee on active (doctor, scheduled_at) pairs
// decides concurrent attempts: the loser gets apperr.ErrSlotAlreadyTaken and
// must re-query free slots. Nothing is retried automatically.
func (s *Service) BookAppointment(ctx context.Context, actor Actor, req BookingRequest) (*Appointment, error) {
	if err := validateBooking(actor, &req); err != nil {
		return nil, err
	}
	if err := ValidateGranularity(s.granularity); err != nil {
		return nil, err
	}
	if err := s.resolveParties(ctx, req.PatientID, req.DoctorID); err != nil {
		return nil, err
	}

	at := req.ScheduledAt.In(s.loc)
	day := s.civilDate(at)
	tod := TimeOfDayOf(at, s.loc)

	entry, err := s.scheduleEntryFor(ctx, req.DoctorID, day.Weekday())
	if err != nil {
		return nil, err
	}
	if entry == nil || !onGrid(entry, tod, s.granularity) {
		return nil, fmt.Errorf("%s %s is not a bookable slot for doctor %s: %w",
			day.Format(dateLayout), tod, req.DoctorID, apperr.ErrOutsideSchedule)
	}
	if !at.After(s.now()) {
		return nil, apperr.Invalid("scheduled_at %s is not in the future", at.Format("2006-01-02 15:04"))
	}

	free, err := s.freeSlots(ctx, req.DoctorID, day, s.granularity, s.today())
	if err != nil {
		return nil, err
	}
	if !lo.Contains(free, tod) {
		return nil, fmt.Errorf("%s %s with doctor %s: %w",
			day.Format(dateLayout), tod, req.DoctorID, apperr.ErrSlotAlreadyTaken)
	}

	now := s.now()
	appt := &Appointment{
		ID:          uuid.New(),
		PatientID:   req.PatientID,
		DoctorID:    req.DoctorID,
		ScheduledAt: at,
		Status:      StatusPending,
		Reason:      req.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.appointments.Create(ctx, appt); err != nil {
		if errors.Is(err, apperr.ErrSlotAlreadyTaken) {
			s.logger.Info().
				Str("doctor_id", req.DoctorID.String()).
				Time("scheduled_at", at).
				Msg("booking lost slot race")
		}
		return nil, fmt.Errorf("book appointment: %w", err)
	}

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Str("patient_id", appt.PatientID.String()).
		Time("scheduled_at", appt.ScheduledAt).
		Msg("appointment booked")
	s.notifier.AppointmentBooked(ctx, appt)
	return appt, nil
}

func validateBooking(actor Actor, req *BookingRequest) error {
	if req.PatientID == uuid.Nil {
		return apperr.Invalid("patient_id is required")
	}
	if req.DoctorID == uuid.Nil {
		return apperr.Invalid("doctor_id is required")
	}
	if req.ScheduledAt.IsZero() {
		return apperr.Invalid("scheduled_at is required")
	}
	if req.ScheduledAt.Second() != 0 || req.ScheduledAt.Nanosecond() != 0 {
		return apperr.Invalid("scheduled_at must fall on a whole minute")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return apperr.Invalid("reason is required")
	}
	if utf8.RuneCountInString(req.Reason) > maxReasonLength {
		return apperr.Invalid("reason exceeds %d characters", maxReasonLength)
	}

	switch actor.Role {
	case RoleAdmin:
	case RolePatient:
		if actor.UserID != req.PatientID {
			return fmt.Errorf("%w: patients can only book appointments for themselves", apperr.ErrForbidden)
		}
	default:
		return fmt.Errorf("%w: role %q cannot book appointments", apperr.ErrForbidden, actor.Role)
	}
	return nil
}

func (s *Service) resolveParties(ctx context.Context, patientID, doctorID uuid.UUID) error {
	ok, err := s.directory.DoctorExists(ctx, doctorID)
	if err != nil {
		return fmt.Errorf("resolve doctor: %w", err)
	}
	if !ok {
		return apperr.Invalid("unknown doctor %s", doctorID)
	}
	ok, err = s.directory.PatientExists(ctx, patientID)
	if err != nil {
		return fmt.Errorf("resolve patient: %w", err)
	}
	if !ok {
		return apperr.Invalid("unknown patient %s", patientID)
	}
	return nil
}
