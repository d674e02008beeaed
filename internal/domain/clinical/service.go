package clinical

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/apperr"
)

const (
	maxDiagnosisLen = 4000
	maxFieldLen     = 255
)

// Service manages the clinical cascade: a record written for a completed
// appointment, the treatments it owns and their prescriptions.
type Service struct {
	records       RecordRepository
	treatments    TreatmentRepository
	prescriptions PrescriptionRepository
	appointments  AppointmentLookup
	medications   MedicationCatalog
	now           func() time.Time
	logger        zerolog.Logger
}

func NewService(records RecordRepository, treatments TreatmentRepository, prescriptions PrescriptionRepository,
	appts AppointmentLookup, meds MedicationCatalog) *Service {
	return &Service{
		records:       records,
		treatments:    treatments,
		prescriptions: prescriptions,
		appointments:  appts,
		medications:   meds,
		now:           time.Now,
		logger:        zerolog.Nop(),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(c func() time.Time) { s.now = c }

// SetLogger attaches a logger.
func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l.With().Str("component", "clinical").Logger()
}

// canAuthor reports whether actor may write to a record owned by doctorID.
func canAuthor(actor scheduling.Actor, doctorID uuid.UUID) bool {
	return actor.IsAdmin() || (actor.Role == scheduling.RoleDoctor && actor.UserID == doctorID)
}

func canRead(actor scheduling.Actor, rec *ClinicalRecord) bool {
	switch actor.Role {
	case scheduling.RoleAdmin:
		return true
	case scheduling.RoleDoctor:
		return actor.UserID == rec.DoctorID
	case scheduling.RolePatient:
		return actor.UserID == rec.PatientID
	}
	return false
}

// -- Clinical records --

// CreateClinicalRecord writes the record for a completed appointment. The
// patient and doctor are taken from the appointment.
func (s *Service) CreateClinicalRecord(ctx context.Context, actor scheduling.Actor, appointmentID uuid.UUID, diagnosis, observations string) (*ClinicalRecord, error) {
	diagnosis = strings.TrimSpace(diagnosis)
	if appointmentID == uuid.Nil {
		return nil, apperr.Invalid("appointment_id is required")
	}
	if diagnosis == "" {
		return nil, apperr.Invalid("diagnosis is required")
	}
	if utf8.RuneCountInString(diagnosis) > maxDiagnosisLen {
		return nil, apperr.Invalid("diagnosis must be at most %d characters", maxDiagnosisLen)
	}

	appt, err := s.appointments.LookupAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !canAuthor(actor, appt.DoctorID) {
		return nil, fmt.Errorf("%w: only the appointment's doctor may write its clinical record", apperr.ErrForbidden)
	}
	if appt.Status != scheduling.StatusCompleted {
		return nil, fmt.Errorf("appointment %s is %s: %w", appointmentID, appt.Status, apperr.ErrAppointmentNotCompleted)
	}

	rec := &ClinicalRecord{
		ID:            uuid.New(),
		AppointmentID: &appointmentID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		Diagnosis:     diagnosis,
		CreatedAt:     s.now().UTC(),
	}
	if obs := strings.TrimSpace(observations); obs != "" {
		rec.Observations = &obs
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("appointment_id", appointmentID.String()).
		Str("patient_id", rec.PatientID.String()).
		Msg("clinical record created")
	return rec, nil
}

// GetClinicalRecord returns the record with its treatments and their
// prescriptions.
func (s *Service) GetClinicalRecord(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*RecordDetail, error) {
	detail, err := s.records.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canRead(actor, &detail.ClinicalRecord) {
		return nil, fmt.Errorf("%w: clinical record %s belongs to another user", apperr.ErrForbidden, id)
	}
	return detail, nil
}

// ListClinicalRecordsByPatient pages a patient's records, newest first.
// Patients see their own; doctors see the records they wrote.
func (s *Service) ListClinicalRecordsByPatient(ctx context.Context, actor scheduling.Actor, patientID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error) {
	if patientID == uuid.Nil {
		return nil, 0, apperr.Invalid("patient_id is required")
	}
	if actor.Role == scheduling.RolePatient && actor.UserID != patientID {
		return nil, 0, fmt.Errorf("%w: cannot list another patient's clinical records", apperr.ErrForbidden)
	}
	var author uuid.UUID
	if actor.Role == scheduling.RoleDoctor {
		author = actor.UserID
	}
	return s.records.ListByPatient(ctx, patientID, author, limit, offset)
}

// DeleteClinicalRecord removes the record, its treatments and their
// prescriptions.
func (s *Service) DeleteClinicalRecord(ctx context.Context, actor scheduling.Actor, id uuid.UUID) error {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !canAuthor(actor, rec.DoctorID) {
		return fmt.Errorf("%w: only the authoring doctor may delete a clinical record", apperr.ErrForbidden)
	}
	if err := s.records.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("record_id", id.String()).Msg("clinical record deleted")
	return nil
}

// -- Treatments --

// CreateTreatment adds a treatment to an existing record.
func (s *Service) CreateTreatment(ctx context.Context, actor scheduling.Actor, recordID uuid.UUID, in TreatmentInput) (*Treatment, error) {
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		return nil, apperr.Invalid("description is required")
	}
	if in.StartDate.IsZero() {
		return nil, apperr.Invalid("start_date is required")
	}
	start := civilDate(in.StartDate)
	var end *time.Time
	if in.EndDate != nil {
		e := civilDate(*in.EndDate)
		if e.Before(start) {
			return nil, apperr.Invalid("end_date %s precedes start_date %s",
				e.Format("2006-01-02"), start.Format("2006-01-02"))
		}
		end = &e
	}

	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !canAuthor(actor, rec.DoctorID) {
		return nil, fmt.Errorf("%w: only the authoring doctor may add treatments", apperr.ErrForbidden)
	}

	t := &Treatment{
		ID:               uuid.New(),
		ClinicalRecordID: recordID,
		Description:      in.Description,
		StartDate:        start,
		EndDate:          end,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.treatments.Create(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().Str("treatment_id", t.ID.String()).Str("record_id", recordID.String()).Msg("treatment created")
	return t, nil
}

// DeleteTreatment removes the treatment and its prescriptions.
func (s *Service) DeleteTreatment(ctx context.Context, actor scheduling.Actor, id uuid.UUID) error {
	t, err := s.treatments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorizeRecord(ctx, actor, t.ClinicalRecordID); err != nil {
		return err
	}
	return s.treatments.Delete(ctx, id)
}

// -- Prescriptions --

// CreatePrescription adds a prescription to an existing treatment. The
// medication must be known to the catalog.
func (s *Service) CreatePrescription(ctx context.Context, actor scheduling.Actor, treatmentID uuid.UUID, in PrescriptionInput) (*Prescription, error) {
	in.normalize()
	if in.MedicationID == uuid.Nil {
		return nil, apperr.Invalid("medication_id is required")
	}
	for _, f := range []struct{ name, value string }{
		{"dosage", in.Dosage}, {"frequency", in.Frequency}, {"duration", in.Duration},
	} {
		if f.value == "" {
			return nil, apperr.Invalid("%s is required", f.name)
		}
		if utf8.RuneCountInString(f.value) > maxFieldLen {
			return nil, apperr.Invalid("%s must be at most %d characters", f.name, maxFieldLen)
		}
	}

	t, err := s.treatments.GetByID(ctx, treatmentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRecord(ctx, actor, t.ClinicalRecordID); err != nil {
		return nil, err
	}
	ok, err := s.medications.MedicationExists(ctx, in.MedicationID)
	if err != nil {
		return nil, fmt.Errorf("resolve medication: %w", err)
	}
	if !ok {
		return nil, apperr.Invalid("unknown medication %s", in.MedicationID)
	}

	p := &Prescription{
		ID:           uuid.New(),
		TreatmentID:  treatmentID,
		MedicationID: in.MedicationID,
		Dosage:       in.Dosage,
		Frequency:    in.Frequency,
		Duration:     in.Duration,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.prescriptions.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("prescription_id", p.ID.String()).Str("treatment_id", treatmentID.String()).Msg("prescription created")
	return p, nil
}

func (s *Service) DeletePrescription(ctx context.Context, actor scheduling.Actor, id uuid.UUID) error {
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	t, err := s.treatments.GetByID(ctx, p.TreatmentID)
	if err != nil {
		return err
	}
	if err := s.authorizeRecord(ctx, actor, t.ClinicalRecordID); err != nil {
		return err
	}
	return s.prescriptions.Delete(ctx, id)
}

func (s *Service) authorizeRecord(ctx context.Context, actor scheduling.Actor, recordID uuid.UUID) error {
	if actor.IsAdmin() {
		return nil
	}
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return err
	}
	if !canAuthor(actor, rec.DoctorID) {
		return fmt.Errorf("%w: only the authoring doctor may change this clinical record", apperr.ErrForbidden)
	}
	return nil
}
