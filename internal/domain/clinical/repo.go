package clinical

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/scheduling"
)

// RecordRepository holds clinical records. Create must reject a second
// record for the same appointment with apperr.ErrConflict. Delete removes
// the record's treatments and their prescriptions with it.
type RecordRepository interface {
	Create(ctx context.Context, r *ClinicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error)
	// GetDetail reads the record and its cascade as one consistent snapshot.
	GetDetail(ctx context.Context, id uuid.UUID) (*RecordDetail, error)
	// ListByPatient pages a patient's records, newest first. A non-nil
	// authorID keeps only the records that doctor wrote.
	ListByPatient(ctx context.Context, patientID, authorID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// TreatmentRepository holds treatments. Create must fail with
// apperr.ErrNotFound when the owning record no longer exists. Delete
// removes the treatment's prescriptions with it.
type TreatmentRepository interface {
	Create(ctx context.Context, t *Treatment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Treatment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// PrescriptionRepository holds prescriptions. Create must fail with
// apperr.ErrNotFound when the owning treatment no longer exists.
type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AppointmentLookup resolves the visit a record is written for.
// *scheduling.Service satisfies it.
type AppointmentLookup interface {
	LookupAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

// MedicationCatalog is the medication catalog collaborator.
type MedicationCatalog interface {
	MedicationExists(ctx context.Context, id uuid.UUID) (bool, error)
}
