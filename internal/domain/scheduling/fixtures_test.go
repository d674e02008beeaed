package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Wednesday 4 March 2026, 10:00 clinic time.
var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

// nextMonday is the Monday after testNow.
var nextMonday = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

type mockDirectory struct {
	doctors  map[uuid.UUID]bool
	patients map[uuid.UUID]bool
}

func (m *mockDirectory) DoctorExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.doctors[id], nil
}

func (m *mockDirectory) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.patients[id], nil
}

type recordedEvent struct {
	kind     string
	apptID   uuid.UUID
	from, to Status
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) AppointmentBooked(_ context.Context, a *Appointment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{kind: "booked", apptID: a.ID, to: a.Status})
}

func (n *recordingNotifier) AppointmentStatusChanged(_ context.Context, a *Appointment, from, to Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{kind: "status_changed", apptID: a.ID, from: from, to: to})
}

func (n *recordingNotifier) snapshot() []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedEvent(nil), n.events...)
}

type testEnv struct {
	svc      *Service
	sched    *MemoryScheduleRepo
	appts    *MemoryAppointmentRepo
	dir      *mockDirectory
	notifier *recordingNotifier
	now      time.Time

	doctorID  uuid.UUID
	patientID uuid.UUID
	otherID   uuid.UUID // second patient
}

// newTestEnv builds a service whose doctor works Monday 08:00-10:00 with
// hourly slots, Scenario A's setup.
func newTestEnv() *testEnv {
	env := &testEnv{
		sched:     NewMemoryScheduleRepo(),
		appts:     NewMemoryAppointmentRepo(),
		notifier:  &recordingNotifier{},
		now:       testNow,
		doctorID:  uuid.New(),
		patientID: uuid.New(),
		otherID:   uuid.New(),
	}
	env.dir = &mockDirectory{
		doctors:  map[uuid.UUID]bool{env.doctorID: true},
		patients: map[uuid.UUID]bool{env.patientID: true, env.otherID: true},
	}
	env.svc = NewService(env.sched, env.appts, env.dir, time.UTC, 60)
	env.svc.SetNotifier(env.notifier)
	env.svc.SetClock(func() time.Time { return env.now })

	env.sched.Upsert(context.Background(), &WeeklyScheduleEntry{
		DoctorID:  env.doctorID,
		DayOfWeek: time.Monday,
		StartTime: NewTimeOfDay(8, 0),
		EndTime:   NewTimeOfDay(10, 0),
	})
	return env
}

func (env *testEnv) patient() Actor      { return Actor{UserID: env.patientID, Role: RolePatient} }
func (env *testEnv) otherPatient() Actor { return Actor{UserID: env.otherID, Role: RolePatient} }
func (env *testEnv) doctor() Actor       { return Actor{UserID: env.doctorID, Role: RoleDoctor} }
func (env *testEnv) admin() Actor        { return Actor{UserID: uuid.New(), Role: RoleAdmin} }

func (env *testEnv) bookingAt(patientID uuid.UUID, hour, minute int) BookingRequest {
	return BookingRequest{
		PatientID:   patientID,
		DoctorID:    env.doctorID,
		ScheduledAt: NewTimeOfDay(hour, minute).On(nextMonday, time.UTC),
		Reason:      "follow-up",
	}
}

func (env *testEnv) mustBook(hour, minute int) *Appointment {
	a, err := env.svc.BookAppointment(context.Background(), env.patient(), env.bookingAt(env.patientID, hour, minute))
	if err != nil {
		panic(err)
	}
	return a
}

func times(ts ...string) []TimeOfDay {
	out := make([]TimeOfDay, len(ts))
	for i, s := range ts {
		t, err := ParseTimeOfDay(s)
		if err != nil {
			panic(err)
		}
		out[i] = t
	}
	return out
}
