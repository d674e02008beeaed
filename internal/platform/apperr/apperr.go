// Package apperr defines the error kinds shared by the scheduling and
// clinical domains and maps them onto HTTP responses.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error kinds. Domain code wraps these with fmt.Errorf("...: %w", Kind) and
// callers match with errors.Is.
var (
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrOutsideSchedule         = errors.New("outside schedule")
	ErrSlotAlreadyTaken        = errors.New("slot already taken")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrAppointmentNotCompleted = errors.New("appointment not completed")
	ErrNotFound                = errors.New("not found")
	ErrForbidden               = errors.New("forbidden")
	ErrConflict                = errors.New("conflict")
	ErrUnavailable             = errors.New("storage unavailable")
)

// TransitionError reports a rejected state-machine transition with the
// current and requested states.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrInvalidTransition) hold for any TransitionError.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Invalid returns an ErrInvalidArgument wrapped with a formatted message.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Unavailable classifies an infrastructural failure as transient. Context
// deadlines are included since a timed-out write has an unknown outcome.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// IsTimeout reports whether err stems from a cancelled or expired context.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// Kind returns the short machine-readable name of err's kind.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrOutsideSchedule):
		return "outside_schedule"
	case errors.Is(err, ErrSlotAlreadyTaken):
		return "slot_already_taken"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAppointmentNotCompleted):
		return "appointment_not_completed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}

func status(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSlotAlreadyTaken),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAppointmentNotCompleted),
		errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrOutsideSchedule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error payload returned by the REST adapter.
type Body struct {
	Error           string `json:"error"`
	Message         string `json:"message"`
	CurrentStatus   string `json:"current_status,omitempty"`
	RequestedStatus string `json:"requested_status,omitempty"`
}

// ToHTTP converts a domain error into an echo.HTTPError.
func ToHTTP(err error) *echo.HTTPError {
	code := status(err)
	body := Body{Error: Kind(err), Message: err.Error()}
	if code == http.StatusInternalServerError {
		body.Message = "internal server error"
	}
	var te *TransitionError
	if errors.As(err, &te) {
		body.CurrentStatus = te.From
		body.RequestedStatus = te.To
	}
	return echo.NewHTTPError(code, body).SetInternal(err)
}

// Respond writes err as a JSON error response, setting Retry-After on
// transient failures.
func Respond(c echo.Context, err error) error {
	he := ToHTTP(err)
	if he.Code == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	return he
}
