// Package directory answers existence questions about doctors, patients and
// catalog medications. Profile management lives elsewhere; the core only
// needs to know whether an id refers to an active entry.
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

// Kind names one of the directory tables.
type Kind string

const (
	KindDoctor     Kind = "doctor"
	KindPatient    Kind = "patient"
	KindMedication Kind = "medication"
)

// =========== Postgres ===========

// PG reads the doctor, patient and medication tables. It satisfies
// scheduling.Directory and clinical.MedicationCatalog.
type PG struct{ pool *pgxpool.Pool }

func NewPG(pool *pgxpool.Pool) *PG { return &PG{pool: pool} }

func (d *PG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return d.pool
}

var existsQueries = map[Kind]string{
	KindDoctor:     `SELECT EXISTS (SELECT 1 FROM doctor WHERE id = $1 AND active)`,
	KindPatient:    `SELECT EXISTS (SELECT 1 FROM patient WHERE id = $1 AND active)`,
	KindMedication: `SELECT EXISTS (SELECT 1 FROM medication WHERE id = $1 AND active)`,
}

func (d *PG) exists(ctx context.Context, kind Kind, id uuid.UUID) (bool, error) {
	var ok bool
	if err := d.conn(ctx).QueryRow(ctx, existsQueries[kind], id).Scan(&ok); err != nil {
		return false, db.Classify(fmt.Sprintf("lookup %s %s", kind, id), err)
	}
	return ok, nil
}

func (d *PG) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return d.exists(ctx, KindDoctor, id)
}

func (d *PG) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return d.exists(ctx, KindPatient, id)
}

func (d *PG) MedicationExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return d.exists(ctx, KindMedication, id)
}

// =========== In-memory ===========

// Memory is an in-process directory for development and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[Kind]map[uuid.UUID]bool
}

func NewMemory() *Memory {
	return &Memory{entries: map[Kind]map[uuid.UUID]bool{
		KindDoctor:     {},
		KindPatient:    {},
		KindMedication: {},
	}}
}

// Add registers ids under kind.
func (m *Memory) Add(kind Kind, ids ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.entries[kind][id] = true
	}
}

// Remove deactivates ids under kind.
func (m *Memory) Remove(kind Kind, ids ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries[kind], id)
	}
}

func (m *Memory) has(kind Kind, id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[kind][id]
}

func (m *Memory) DoctorExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.has(KindDoctor, id), nil
}

func (m *Memory) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.has(KindPatient, id), nil
}

func (m *Memory) MedicationExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.has(KindMedication, id), nil
}
