package clinical

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClinicalRecord is the diagnosis written up after a completed visit. It
// owns its treatments; deleting it deletes them.
type ClinicalRecord struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	PatientID     uuid.UUID  `json:"patient_id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	Diagnosis     string     `json:"diagnosis"`
	Observations  *string    `json:"observations,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Treatment belongs to exactly one clinical record and owns its
// prescriptions. StartDate and EndDate are civil dates at UTC midnight.
type Treatment struct {
	ID               uuid.UUID  `json:"id"`
	ClinicalRecordID uuid.UUID  `json:"clinical_record_id"`
	Description      string     `json:"description"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Prescription belongs to exactly one treatment and references a catalog
// medication by id.
type Prescription struct {
	ID           uuid.UUID `json:"id"`
	TreatmentID  uuid.UUID `json:"treatment_id"`
	MedicationID uuid.UUID `json:"medication_id"`
	Dosage       string    `json:"dosage"`
	Frequency    string    `json:"frequency"`
	Duration     string    `json:"duration"`
	CreatedAt    time.Time `json:"created_at"`
}

// TreatmentDetail is a treatment with its prescriptions.
type TreatmentDetail struct {
	Treatment
	Prescriptions []*Prescription `json:"prescriptions"`
}

// RecordDetail is a clinical record with its whole cascade.
type RecordDetail struct {
	ClinicalRecord
	Treatments []*TreatmentDetail `json:"treatments"`
}

// TreatmentInput carries the caller-supplied fields of a new treatment.
type TreatmentInput struct {
	Description string
	StartDate   time.Time
	EndDate     *time.Time
}

// PrescriptionInput carries the caller-supplied fields of a new prescription.
type PrescriptionInput struct {
	MedicationID uuid.UUID
	Dosage       string
	Frequency    string
	Duration     string
}

func (in *PrescriptionInput) normalize() {
	in.Dosage = strings.TrimSpace(in.Dosage)
	in.Frequency = strings.TrimSpace(in.Frequency)
	in.Duration = strings.TrimSpace(in.Duration)
}

// civilDate truncates t to midnight UTC of its own calendar date.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
