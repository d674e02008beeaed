// Package notification delivers appointment events to the configured sinks
// in the background. The scheduling core hands events over and never waits
// on delivery.
package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/scheduling"
)

type EventType string

const (
	EventBooked        EventType = "appointment.booked"
	EventStatusChanged EventType = "appointment.status_changed"
)

// Event is the wire shape published to every sink.
type Event struct {
	ID            uuid.UUID `json:"id"`
	Type          EventType `json:"type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func newEvent(typ EventType, a *scheduling.Appointment, from, to scheduling.Status, at time.Time) Event {
	return Event{
		ID:            uuid.New(),
		Type:          typ,
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		ScheduledAt:   a.ScheduledAt,
		From:          string(from),
		To:            string(to),
		OccurredAt:    at,
	}
}
