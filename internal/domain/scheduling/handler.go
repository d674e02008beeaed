package scheduling

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/validate"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	anyRole := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	anyRole.GET("/doctors/:id/slots", h.ListFreeSlots)
	anyRole.GET("/doctors/:id/schedule", h.ListWeeklySchedule)
	anyRole.GET("/appointments", h.ListAppointments)
	anyRole.GET("/appointments/:id", h.GetAppointment)
	anyRole.POST("/appointments/:id/cancel", h.CancelAppointment)

	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.POST("/appointments", h.BookAppointment)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.PUT("/doctors/:id/schedule/:weekday", h.SetWeeklyEntry)
	doctor.DELETE("/doctors/:id/schedule/:weekday", h.RemoveWeeklyEntry)
	doctor.POST("/appointments/:id/confirm", h.ConfirmAppointment)
	doctor.POST("/appointments/:id/complete", h.CompleteAppointment)
}

// RequestActor converts the authenticated identity on the request into an
// Actor.
func RequestActor(c echo.Context) (Actor, error) {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed user identity")
	}
	role := Role(auth.RoleFromContext(ctx))
	switch role {
	case RolePatient, RoleDoctor, RoleAdmin:
	default:
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "missing or unknown role")
	}
	return Actor{UserID: id, Role: role}, nil
}

// PathUUID parses the named path parameter.
func PathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Invalid("invalid %s: %q", name, c.Param(name))
	}
	return id, nil
}

// -- Slots --

type slotsResponse struct {
	DoctorID    uuid.UUID   `json:"doctor_id"`
	Date        string      `json:"date"`
	Granularity int         `json:"granularity_minutes"`
	Slots       []TimeOfDay `json:"slots"`
}

func (h *Handler) ListFreeSlots(c echo.Context) error {
	actor, err := RequestActor(c)
	if err != nil {
		return err
	}
	doctorID, err := PathUUID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	date, err := time.ParseInLocation(dateLayout, c.QueryParam("date"), h.svc.Location())
	if err != nil {
		return apperr.Respond(c, apperr.Invalid("date must be YYYY-MM-DD"))
	}
	historical := c.QueryParam("historical") == "true"
	granularity := h.svc.Granularity()
	if g := c.QueryParam("granularity"); g != "" {
		if granularity, err = strconv.Atoi(g); err != nil {
			return apperr.Respond(c, apperr.Invalid("granularity must be an integer number of minutes"))
		}
		// Bookings are checked against the default grid only.
		if granularity != h.svc.Granularity() && !historical {
			return apperr.Respond(c, apperr.Invalid("granularity %d is only available with historical=true; bookable slots use %d",
				granularity, h.svc.Granularity()))
		}
	}

	var slots []TimeOfDay
	if historical {
		if !actor.IsAdmin() {
			return apperr.Respond(c, fmt.Errorf("%w: historical slots require admin", apperr.ErrForbidden))
		}
		slots, err = h.svc.ComputeHistoricalSlots(c.Request().Context(), doctorID, date, granularity)
	} else {
		slots, err = h.svc.ComputeFreeSlots(c.Request().Context(), doctorID, date, granularity)
	}
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, slotsResponse{
		DoctorID:    doctorID,
		Date:        date.Format(dateLayout),
		Granularity: granularity,
		Slots:       slots,
	})
}

// -- Weekly schedule --

type weeklyEntryRequest struct {
	StartTime string `json:"start_time" validate:"required,hhmm"`
	EndTime   string `json:"end_time" validate:"required,hhmm"`
}

func (h *Handler) SetWeeklyEntry(c echo.Context) error {
	actor, err := RequestActor(c)
	if err != nil {
		return err
	}
	doctorID, err := PathUUID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	day, err := ParseWeekday(c.Param("weekday"))
	if err != nil {
		return apperr.Respond(c, apperr.Invalid("%v", err))
	}
	var req weeklyEntryRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.Respond(c, err)
	}
	start, err := ParseTimeOfDay(req.StartTime)
	if err != nil {
		return apperr.Respond(c, apperr.Invalid("%v", err))
	}
	end, err := ParseTimeOfDay(req.EndTime)
	if err != nil {
		return apperr.Respond(c, apperr.Invalid("%v", err))
	}

	entry := &WeeklyScheduleEntry{DoctorID: doctorID, DayOfWeek: day, StartTime: start, EndTime: end}
	if err := h.svc.SetWeeklyEntry(c.Request().Context(), actor, entry); err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) RemoveWeeklyEntry(c echo.Context) error {
	actor, err := RequestActor(c)
	if err != nil {
		return err
	}
	doctorID, err := PathUUID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	day, err := ParseWeekday(c.Param("weekday"))
	if err != nil {
		return apperr.Respond(c, apperr.Invalid("%v", err))
	}
	if err := h.svc.RemoveWeeklyEntry(c.Request().Context(), actor, doctorID, day); err != nil {
		return apperr.Respond(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListWeeklySchedule(c echo.Context) error {
	doctorID, err := PathUUID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	entries, err := h.svc.ListWeeklySchedule(c.Request().Context(), doctorID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	if entries == nil {
		entries = []*WeeklyScheduleEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

// -- Appointments --

type bookingRequest struct {
	PatientID   uuid.UUID `json:"patient_id"`
	DoctorID    uuid.UUID `json:"doctor_id" validate:"required"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Reason      string    `json:"reason" validate:"required,max=500"`
}

func (h *Handler) BookAppointment(c echo.Context) error {
	actor, err := RequestActor(c)
	if err != nil {
		return err
	}
	var req bookingRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.Respond(c, err)
	}
	if req.PatientID == uuid.Nil && actor.Role == RolePatient {
		req.PatientID = actor.UserID
	}

	appt, err := h.svc.BookAppointment(c.Request().Context(), actor, BookingRequest{
		PatientID:   req.PatientID,
		DoctorID:    req.DoctorID,
		ScheduledAt: req.ScheduledAt,
		Reason:      req.Reason,
	})
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	actor, err := RequestActor(c)
	if err != nil {
		return err
	}
	id, err := PathUUID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, appt)
}

// ListAppointments filters by patient_id or doctor_id. Without either the
// caller's own appointments are listed.
func (h *Handler) ListAppointments(c echo.Context) error {
	actor, err := RequestActor(c)
	if err != nil {
		return err
	}
	var f AppointmentFilter
	if v := c.QueryParam("patient_id"); v != "" {
		if f.PatientID, err = uuid.Parse(v); err != nil {
			return apperr.Respond(c, apperr.Invalid("invalid patient_id"))
		}
	}
	if v := c.QueryParam("doctor_id"); v != "" {
		if f.DoctorID, err = uuid.Parse(v); err != nil {
			return apperr.Respond(c, apperr.Invalid("invalid doctor_id"))
		}
	}
	if f.PatientID == uuid.Nil && f.DoctorID == uuid.Nil {
		switch actor.Role {
		case RolePatient:
			f.PatientID = actor.UserID
		case RoleDoctor:
			f.DoctorID = actor.UserID
		}
	}
	if v := c.QueryParam("status"); v != "" {
		if f.Status, err = ParseStatus(v); err != nil {
			return apperr.Respond(c, apperr.Invalid("%v", err))
		}
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.Respond(c, err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL, pg))
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) ConfirmAppointment(c echo.Context) error {
	return h.transition(c, StatusConfirmed)
}

func (h *Handler) CompleteAppointment(c echo.Context) error {
	return h.transition(c, StatusCompleted)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	return h.transition(c, StatusCancelled)
}

func (h *Handler) transition(c echo.Context, to Status) error {
	actor, err := RequestActor(c)
	if err != nil {
		return err
	}
	id, err := PathUUID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	var reason string
	if to == StatusCancelled && c.Request().ContentLength > 0 {
		var req cancelRequest
		if err := validate.Bind(c, &req); err != nil {
			return apperr.Respond(c, err)
		}
		reason = req.Reason
	}
	appt, err := h.svc.Transition(c.Request().Context(), actor, id, to, reason)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, appt)
}
