package clinical

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/apperr"
)

var testNow = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

type fakeAppointments struct {
	mu    sync.Mutex
	items map[uuid.UUID]*scheduling.Appointment
}

func (f *fakeAppointments) LookupAppointment(_ context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("get appointment %s: %w", id, apperr.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

type fakeCatalog map[uuid.UUID]bool

func (f fakeCatalog) MedicationExists(_ context.Context, id uuid.UUID) (bool, error) {
	return f[id], nil
}

type testEnv struct {
	svc   *Service
	store *MemoryStore
	appts *fakeAppointments
	meds  fakeCatalog

	doctorID     uuid.UUID
	patientID    uuid.UUID
	medicationID uuid.UUID
	completed    uuid.UUID // a completed appointment
	pending      uuid.UUID // a pending appointment
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:        NewMemoryStore(),
		doctorID:     uuid.New(),
		patientID:    uuid.New(),
		medicationID: uuid.New(),
		completed:    uuid.New(),
		pending:      uuid.New(),
	}
	at := testNow.Add(-2 * time.Hour)
	env.appts = &fakeAppointments{items: map[uuid.UUID]*scheduling.Appointment{
		env.completed: {ID: env.completed, PatientID: env.patientID, DoctorID: env.doctorID,
			ScheduledAt: at, Status: scheduling.StatusCompleted},
		env.pending: {ID: env.pending, PatientID: env.patientID, DoctorID: env.doctorID,
			ScheduledAt: at.Add(24 * time.Hour), Status: scheduling.StatusPending},
	}}
	env.meds = fakeCatalog{env.medicationID: true}
	env.svc = NewService(env.store.Records(), env.store.Treatments(), env.store.Prescriptions(), env.appts, env.meds)
	env.svc.SetClock(func() time.Time { return testNow })
	return env
}

func (env *testEnv) doctor() scheduling.Actor {
	return scheduling.Actor{UserID: env.doctorID, Role: scheduling.RoleDoctor}
}

func (env *testEnv) patient() scheduling.Actor {
	return scheduling.Actor{UserID: env.patientID, Role: scheduling.RolePatient}
}

func (env *testEnv) otherDoctor() scheduling.Actor {
	return scheduling.Actor{UserID: uuid.New(), Role: scheduling.RoleDoctor}
}

func (env *testEnv) admin() scheduling.Actor {
	return scheduling.Actor{UserID: uuid.New(), Role: scheduling.RoleAdmin}
}

// mustCascade writes a record for the completed appointment with one
// treatment carrying one prescription.
func (env *testEnv) mustCascade() (*ClinicalRecord, *Treatment, *Prescription) {
	ctx := context.Background()
	rec, err := env.svc.CreateClinicalRecord(ctx, env.doctor(), env.completed, "acute bronchitis", "mild fever")
	if err != nil {
		panic(err)
	}
	t, err := env.svc.CreateTreatment(ctx, env.doctor(), rec.ID, TreatmentInput{
		Description: "antibiotic course",
		StartDate:   testNow,
	})
	if err != nil {
		panic(err)
	}
	p, err := env.svc.CreatePrescription(ctx, env.doctor(), t.ID, PrescriptionInput{
		MedicationID: env.medicationID, Dosage: "500mg", Frequency: "every 8 hours", Duration: "7 days",
	})
	if err != nil {
		panic(err)
	}
	return rec, t, p
}
