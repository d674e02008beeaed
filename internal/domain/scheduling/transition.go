package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
)

// transitionRule is one allowed edge of the appointment state machine.
type transitionRule struct {
	from, to Status
	actors   []Role
	// guard returns a non-empty reason when the edge is not allowed yet.
	guard func(a *Appointment, now time.Time) string
}

func notPassed(a *Appointment, now time.Time) string {
	if !a.ScheduledAt.After(now) {
		return "appointment time has passed"
	}
	return ""
}

func reached(a *Appointment, now time.Time) string {
	if a.ScheduledAt.After(now) {
		return "appointment time has not been reached"
	}
	return ""
}

var transitionRules = []transitionRule{
	{from: StatusPending, to: StatusConfirmed, actors: []Role{RoleDoctor}},
	{from: StatusPending, to: StatusCancelled, actors: []Role{RolePatient, RoleDoctor}},
	{from: StatusConfirmed, to: StatusCancelled, actors: []Role{RolePatient, RoleDoctor}, guard: notPassed},
	{from: StatusConfirmed, to: StatusCompleted, actors: []Role{RoleDoctor}, guard: reached},
}

func findRule(from, to Status) *transitionRule {
	for i := range transitionRules {
		if transitionRules[i].from == from && transitionRules[i].to == to {
			return &transitionRules[i]
		}
	}
	return nil
}

// CheckTransition decides whether actor may move a to status to at now.
// Missing edges and failed time guards yield *apperr.TransitionError; actor
// violations yield apperr.ErrForbidden.
func CheckTransition(a *Appointment, to Status, actor Actor, now time.Time) error {
	if !validStatuses[to] {
		return apperr.Invalid("unknown target status %q", to)
	}
	rule := findRule(a.Status, to)
	if rule == nil {
		return &apperr.TransitionError{From: string(a.Status), To: string(to)}
	}
	if err := checkActor(rule, a, actor); err != nil {
		return err
	}
	if rule.guard != nil {
		if reason := rule.guard(a, now); reason != "" {
			return &apperr.TransitionError{From: string(a.Status), To: string(to), Reason: reason}
		}
	}
	return nil
}

func checkActor(rule *transitionRule, a *Appointment, actor Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	allowed := false
	for _, r := range rule.actors {
		if r == actor.Role {
			allowed = true
			break
		}
	}
	if !allowed {
		names := make([]string, len(rule.actors))
		for i, r := range rule.actors {
			names[i] = string(r)
		}
		return fmt.Errorf("%w: %s -> %s requires role %s", apperr.ErrForbidden, rule.from, rule.to, strings.Join(names, " or "))
	}
	switch actor.Role {
	case RoleDoctor:
		if actor.UserID != a.DoctorID {
			return fmt.Errorf("%w: appointment belongs to another doctor", apperr.ErrForbidden)
		}
	case RolePatient:
		if actor.UserID != a.PatientID {
			return fmt.Errorf("%w: appointment belongs to another patient", apperr.ErrForbidden)
		}
	}
	return nil
}

// Transition moves appointment id to status to on behalf of actor. The
// write is a compare-and-set on the status read here; if another request
// changed it first the caller gets a TransitionError naming the fresh state.
func (s *Service) Transition(ctx context.Context, actor Actor, id uuid.UUID, to Status, reason string) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := CheckTransition(a, to, actor, now); err != nil {
		return nil, err
	}

	change := StatusChange{AppointmentID: a.ID, From: a.Status, To: to, At: now}
	if to == StatusCancelled {
		by := actor.UserID
		change.CancelledBy = &by
		if r := strings.TrimSpace(reason); r != "" {
			change.CancellationReason = &r
		}
	}

	applied, err := s.appointments.UpdateStatus(ctx, change)
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	if !applied {
		fresh, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &apperr.TransitionError{
			From:   string(fresh.Status),
			To:     string(to),
			Reason: "appointment was modified concurrently",
		}
	}

	from := a.Status
	a.Status = to
	a.UpdatedAt = now
	a.CancelledBy = change.CancelledBy
	a.CancellationReason = change.CancellationReason

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("actor_id", actor.UserID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("appointment status changed")
	s.notifier.AppointmentStatusChanged(ctx, a, from, to)
	return a, nil
}

func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, actor, id, StatusConfirmed, "")
}

func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	return s.Transition(ctx, actor, id, StatusCancelled, reason)
}

func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, actor, id, StatusCompleted, "")
}
