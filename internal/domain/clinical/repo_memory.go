package clinical

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/clinic/clinic/internal/platform/apperr"
)

// MemoryStore keeps the whole cascade in process behind one lock, so
// cascading deletes and parent checks are atomic the way foreign keys make
// them in Postgres. Records, Treatments and Prescriptions expose it through
// the three repository interfaces.
type MemoryStore struct {
	mu            sync.RWMutex
	records       map[uuid.UUID]ClinicalRecord
	treatments    map[uuid.UUID]Treatment
	prescriptions map[uuid.UUID]Prescription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:       make(map[uuid.UUID]ClinicalRecord),
		treatments:    make(map[uuid.UUID]Treatment),
		prescriptions: make(map[uuid.UUID]Prescription),
	}
}

func (s *MemoryStore) Records() RecordRepository             { return memoryRecords{s} }
func (s *MemoryStore) Treatments() TreatmentRepository       { return memoryTreatments{s} }
func (s *MemoryStore) Prescriptions() PrescriptionRepository { return memoryPrescriptions{s} }

type memoryRecords struct{ s *MemoryStore }

func (r memoryRecords) Create(_ context.Context, rec *ClinicalRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.records[rec.ID]; ok {
		return fmt.Errorf("clinical record %s: %w", rec.ID, apperr.ErrConflict)
	}
	if rec.AppointmentID != nil {
		for _, existing := range r.s.records {
			if existing.AppointmentID != nil && *existing.AppointmentID == *rec.AppointmentID {
				return fmt.Errorf("appointment %s already has a clinical record: %w", *rec.AppointmentID, apperr.ErrConflict)
			}
		}
	}
	r.s.records[rec.ID] = *rec
	return nil
}

func (r memoryRecords) GetByID(_ context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.records[id]
	if !ok {
		return nil, fmt.Errorf("get clinical record %s: %w", id, apperr.ErrNotFound)
	}
	return &rec, nil
}

func (r memoryRecords) GetDetail(_ context.Context, id uuid.UUID) (*RecordDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.records[id]
	if !ok {
		return nil, fmt.Errorf("get clinical record %s: %w", id, apperr.ErrNotFound)
	}

	var treatments []*Treatment
	for _, t := range r.s.treatments {
		if t.ClinicalRecordID == id {
			t := t
			treatments = append(treatments, &t)
		}
	}
	sort.Slice(treatments, func(i, j int) bool {
		if !treatments[i].StartDate.Equal(treatments[j].StartDate) {
			return treatments[i].StartDate.Before(treatments[j].StartDate)
		}
		return treatments[i].CreatedAt.Before(treatments[j].CreatedAt)
	})

	owned := lo.SliceToMap(treatments, func(t *Treatment) (uuid.UUID, bool) { return t.ID, true })
	var prescriptions []*Prescription
	for _, p := range r.s.prescriptions {
		if owned[p.TreatmentID] {
			p := p
			prescriptions = append(prescriptions, &p)
		}
	}
	sort.Slice(prescriptions, func(i, j int) bool { return prescriptions[i].CreatedAt.Before(prescriptions[j].CreatedAt) })

	return assemble(&rec, treatments, prescriptions), nil
}

func (r memoryRecords) ListByPatient(_ context.Context, patientID, authorID uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error) {
	r.s.mu.RLock()
	var items []*ClinicalRecord
	for _, rec := range r.s.records {
		if rec.PatientID == patientID && (authorID == uuid.Nil || rec.DoctorID == authorID) {
			rec := rec
			items = append(items, &rec)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	total := len(items)
	if offset >= total {
		return []*ClinicalRecord{}, total, nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, total, nil
}

func (r memoryRecords) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.records[id]; !ok {
		return fmt.Errorf("clinical record %s: %w", id, apperr.ErrNotFound)
	}
	for tid, t := range r.s.treatments {
		if t.ClinicalRecordID == id {
			r.s.deleteTreatmentLocked(tid)
		}
	}
	delete(r.s.records, id)
	return nil
}

func (s *MemoryStore) deleteTreatmentLocked(id uuid.UUID) {
	for pid, p := range s.prescriptions {
		if p.TreatmentID == id {
			delete(s.prescriptions, pid)
		}
	}
	delete(s.treatments, id)
}

type memoryTreatments struct{ s *MemoryStore }

func (r memoryTreatments) Create(_ context.Context, t *Treatment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.records[t.ClinicalRecordID]; !ok {
		return fmt.Errorf("clinical record %s: %w", t.ClinicalRecordID, apperr.ErrNotFound)
	}
	if _, ok := r.s.treatments[t.ID]; ok {
		return fmt.Errorf("treatment %s: %w", t.ID, apperr.ErrConflict)
	}
	r.s.treatments[t.ID] = *t
	return nil
}

func (r memoryTreatments) GetByID(_ context.Context, id uuid.UUID) (*Treatment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.treatments[id]
	if !ok {
		return nil, fmt.Errorf("get treatment %s: %w", id, apperr.ErrNotFound)
	}
	return &t, nil
}

func (r memoryTreatments) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.treatments[id]; !ok {
		return fmt.Errorf("treatment %s: %w", id, apperr.ErrNotFound)
	}
	r.s.deleteTreatmentLocked(id)
	return nil
}

type memoryPrescriptions struct{ s *MemoryStore }

func (r memoryPrescriptions) Create(_ context.Context, p *Prescription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.treatments[p.TreatmentID]; !ok {
		return fmt.Errorf("treatment %s: %w", p.TreatmentID, apperr.ErrNotFound)
	}
	if _, ok := r.s.prescriptions[p.ID]; ok {
		return fmt.Errorf("prescription %s: %w", p.ID, apperr.ErrConflict)
	}
	r.s.prescriptions[p.ID] = *p
	return nil
}

func (r memoryPrescriptions) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.prescriptions[id]
	if !ok {
		return nil, fmt.Errorf("get prescription %s: %w", id, apperr.ErrNotFound)
	}
	return &p, nil
}

func (r memoryPrescriptions) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.prescriptions[id]; !ok {
		return fmt.Errorf("prescription %s: %w", id, apperr.ErrNotFound)
	}
	delete(r.s.prescriptions, id)
	return nil
}

// Counts reports how many rows of each kind are stored.
func (s *MemoryStore) Counts() (records, treatments, prescriptions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), len(s.treatments), len(s.prescriptions)
}
