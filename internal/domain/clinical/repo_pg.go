package clinical

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

// recordAppointmentConstraint keeps one clinical record per appointment.
const recordAppointmentConstraint = "clinical_record_appointment_key"

func connFor(ctx context.Context, pool *pgxpool.Pool) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Clinical Record Repository ===========

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository { return &recordRepoPG{pool: pool} }

func (r *recordRepoPG) conn(ctx context.Context) db.Querier { return connFor(ctx, r.pool) }

const recordCols = `id, appointment_id, patient_id, doctor_id, diagnosis, observations, created_at`

func scanRecord(row pgx.Row) (*ClinicalRecord, error) {
	var rec ClinicalRecord
	if err := row.Scan(&rec.ID, &rec.AppointmentID, &rec.PatientID, &rec.DoctorID,
		&rec.Diagnosis, &rec.Observations, &rec.CreatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *recordRepoPG) Create(ctx context.Context, rec *ClinicalRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_record (id, appointment_id, patient_id, doctor_id, diagnosis, observations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.AppointmentID, rec.PatientID, rec.DoctorID, rec.Diagnosis, rec.Observations, rec.CreatedAt)
	if db.IsUniqueViolation(err, recordAppointmentConstraint) {
		return fmt.Errorf("appointment %s already has a clinical record: %w", *rec.AppointmentID, apperr.ErrConflict)
	}
	return db.Classify("insert clinical record", err)
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM clinical_record WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(fmt.Sprintf("get clinical record %s", id), err)
	}
	return rec, nil
}

// GetDetail reads the record, its treatments and their prescriptions in one
// repeatable-read transaction so a concurrent delete cannot tear the tree.
func (r *recordRepoPG) GetDetail(ctx context.Context, id uuid.UUID) (*RecordDetail, error) {
	var detail *RecordDetail
	err := db.WithTx(ctx, r.pool, db.ReadSnapshot, func(ctx context.Context) error {
		rec, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		treatments, err := r.treatments(ctx, id)
		if err != nil {
			return err
		}
		prescriptions, err := r.prescriptions(ctx, id)
		if err != nil {
			return err
		}
		detail = assemble(rec, treatments, prescriptions)
		return nil
	})
	return detail, err
}

func (r *recordRepoPG) treatments(ctx context.Context, recordID uuid.UUID) ([]*Treatment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+treatmentCols+` FROM treatment
		WHERE clinical_record_id = $1 ORDER BY start_date, created_at`, recordID)
	if err != nil {
		return nil, db.Classify("list treatments", err)
	}
	defer rows.Close()
	var items []*Treatment
	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, db.Classify("scan treatment", err)
		}
		items = append(items, t)
	}
	return items, db.Classify("iterate treatments", rows.Err())
}

func (r *recordRepoPG) prescriptions(ctx context.Context, recordID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT p.id, p.treatment_id, p.medication_id, p.dosage, p.frequency,
			p.duration, p.created_at
		FROM prescription p JOIN treatment t ON t.id = p.treatment_id
		WHERE t.clinical_record_id = $1 ORDER BY p.created_at`, recordID)
	if err != nil {
		return nil, db.Classify("list prescriptions", err)
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, db.Classify("scan prescription", err)
		}
		items = append(items, p)
	}
	return items, db.Classify("iterate prescriptions", rows.Err())
}

func (r *recordRepoPG) ListByPatient(ctx context.Context, patientID, authorID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error) {
	where := ` WHERE patient_id = $1`
	args := []interface{}{patientID}
	if authorID != uuid.Nil {
		where += ` AND doctor_id = $2`
		args = append(args, authorID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinical_record`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify("count clinical records", err)
	}
	idx := len(args) + 1
	query := `SELECT ` + recordCols + ` FROM clinical_record` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify("list clinical records", err)
	}
	defer rows.Close()
	var items []*ClinicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, db.Classify("scan clinical record", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify("iterate clinical records", err)
	}
	return items, total, nil
}

// Delete relies on ON DELETE CASCADE for treatments and prescriptions.
func (r *recordRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM clinical_record WHERE id = $1`, id)
	if err != nil {
		return db.Classify("delete clinical record", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("clinical record %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// =========== Treatment Repository ===========

type treatmentRepoPG struct{ pool *pgxpool.Pool }

func NewTreatmentRepoPG(pool *pgxpool.Pool) TreatmentRepository { return &treatmentRepoPG{pool: pool} }

func (r *treatmentRepoPG) conn(ctx context.Context) db.Querier { return connFor(ctx, r.pool) }

const treatmentCols = `id, clinical_record_id, description, start_date, end_date, created_at`

func scanTreatment(row pgx.Row) (*Treatment, error) {
	var t Treatment
	if err := row.Scan(&t.ID, &t.ClinicalRecordID, &t.Description, &t.StartDate, &t.EndDate, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *treatmentRepoPG) Create(ctx context.Context, t *Treatment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO treatment (id, clinical_record_id, description, start_date, end_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.ClinicalRecordID, t.Description, t.StartDate, t.EndDate, t.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("clinical record %s: %w", t.ClinicalRecordID, apperr.ErrNotFound)
	}
	return db.Classify("insert treatment", err)
}

func (r *treatmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	t, err := scanTreatment(r.conn(ctx).QueryRow(ctx, `SELECT `+treatmentCols+` FROM treatment WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(fmt.Sprintf("get treatment %s", id), err)
	}
	return t, nil
}

func (r *treatmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM treatment WHERE id = $1`, id)
	if err != nil {
		return db.Classify("delete treatment", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("treatment %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// =========== Prescription Repository ===========

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier { return connFor(ctx, r.pool) }

const prescriptionCols = `id, treatment_id, medication_id, dosage, frequency, duration, created_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	if err := row.Scan(&p.ID, &p.TreatmentID, &p.MedicationID, &p.Dosage, &p.Frequency,
		&p.Duration, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription (id, treatment_id, medication_id, dosage, frequency, duration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.TreatmentID, p.MedicationID, p.Dosage, p.Frequency, p.Duration, p.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("treatment %s or medication %s: %w", p.TreatmentID, p.MedicationID, apperr.ErrNotFound)
	}
	return db.Classify("insert prescription", err)
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+prescriptionCols+` FROM prescription WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(fmt.Sprintf("get prescription %s", id), err)
	}
	return p, nil
}

func (r *prescriptionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM prescription WHERE id = $1`, id)
	if err != nil {
		return db.Classify("delete prescription", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("prescription %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// assemble nests treatments and prescriptions under the record, keeping
// the order they were read in.
func assemble(rec *ClinicalRecord, treatments []*Treatment, prescriptions []*Prescription) *RecordDetail {
	detail := &RecordDetail{ClinicalRecord: *rec, Treatments: make([]*TreatmentDetail, 0, len(treatments))}
	byID := make(map[uuid.UUID]*TreatmentDetail, len(treatments))
	for _, t := range treatments {
		td := &TreatmentDetail{Treatment: *t, Prescriptions: []*Prescription{}}
		byID[t.ID] = td
		detail.Treatments = append(detail.Treatments, td)
	}
	for _, p := range prescriptions {
		if td, ok := byID[p.TreatmentID]; ok {
			td.Prescriptions = append(td.Prescriptions, p)
		}
	}
	return detail
}
