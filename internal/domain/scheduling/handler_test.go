package scheduling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/validate"
)

func newTestHandler() (*Handler, *echo.Echo, *testEnv) {
	env := newTestEnv()
	e := echo.New()
	e.Validator = validate.New()
	return NewHandler(env.svc), e, env
}

func newRequestContext(e *echo.Echo, method, target, body string, actor Actor) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if actor.UserID != uuid.Nil {
		ctx := context.WithValue(req.Context(), auth.UserIDKey, actor.UserID.String())
		ctx = context.WithValue(ctx, auth.UserRoleKey, string(actor.Role))
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func requireHTTPError(t *testing.T, err error, code int, kind string) apperr.Body {
	t.Helper()
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected *echo.HTTPError, got %T", err)
	assert.Equal(t, code, he.Code)
	body, ok := he.Message.(apperr.Body)
	if kind != "" {
		require.True(t, ok, "expected apperr.Body message, got %T", he.Message)
		assert.Equal(t, kind, body.Error)
	}
	return body
}

func TestHandler_ListFreeSlots(t *testing.T) {
	h, e, env := newTestHandler()
	c, rec := newRequestContext(e, http.MethodGet, "/?date=2026-03-09", "", env.patient())
	c.SetParamNames("id")
	c.SetParamValues(env.doctorID.String())

	require.NoError(t, h.ListFreeSlots(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Date        string   `json:"date"`
		Granularity int      `json:"granularity_minutes"`
		Slots       []string `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-03-09", resp.Date)
	assert.Equal(t, 60, resp.Granularity)
	assert.Equal(t, []string{"08:00", "09:00"}, resp.Slots)
}

func TestHandler_ListFreeSlots_HistoricalGranularity(t *testing.T) {
	h, e, env := newTestHandler()
	c, rec := newRequestContext(e, http.MethodGet, "/?date=2026-03-02&historical=true&granularity=30", "", env.admin())
	c.SetParamNames("id")
	c.SetParamValues(env.doctorID.String())

	require.NoError(t, h.ListFreeSlots(c))
	var resp struct {
		Granularity int      `json:"granularity_minutes"`
		Slots       []string `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 30, resp.Granularity)
	assert.Equal(t, []string{"08:00", "08:30", "09:00", "09:30"}, resp.Slots)
}

func TestHandler_ListFreeSlots_DefaultGranularityParam(t *testing.T) {
	h, e, env := newTestHandler()
	c, rec := newRequestContext(e, http.MethodGet, "/?date=2026-03-09&granularity=60", "", env.patient())
	c.SetParamNames("id")
	c.SetParamValues(env.doctorID.String())

	require.NoError(t, h.ListFreeSlots(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ListFreeSlots_Errors(t *testing.T) {
	h, e, env := newTestHandler()

	tests := []struct {
		name   string
		target string
		doctor string
		actor  Actor
		code   int
	}{
		{"bad date", "/?date=09-03-2026", env.doctorID.String(), env.patient(), http.StatusBadRequest},
		{"bad doctor id", "/?date=2026-03-09", "nope", env.patient(), http.StatusBadRequest},
		{"bad granularity", "/?date=2026-03-09&granularity=abc", env.doctorID.String(), env.patient(), http.StatusBadRequest},
		{"historical needs admin", "/?date=2026-03-02&historical=true", env.doctorID.String(), env.patient(), http.StatusForbidden},
		{"custom granularity needs historical view", "/?date=2026-03-09&granularity=30", env.doctorID.String(), env.patient(), http.StatusBadRequest},
		{"unknown doctor", "/?date=2026-03-09", uuid.New().String(), env.patient(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newRequestContext(e, http.MethodGet, tt.target, "", tt.actor)
			c.SetParamNames("id")
			c.SetParamValues(tt.doctor)
			requireHTTPError(t, h.ListFreeSlots(c), tt.code, "")
		})
	}
}

func TestHandler_ListFreeSlots_HistoricalAdmin(t *testing.T) {
	h, e, env := newTestHandler()
	c, rec := newRequestContext(e, http.MethodGet, "/?date=2026-03-02&historical=true", "", env.admin())
	c.SetParamNames("id")
	c.SetParamValues(env.doctorID.String())

	require.NoError(t, h.ListFreeSlots(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_MissingIdentity(t *testing.T) {
	h, e, _ := newTestHandler()
	c, _ := newRequestContext(e, http.MethodGet, "/", "", Actor{})
	requireHTTPError(t, h.ListAppointments(c), http.StatusUnauthorized, "")
}

func TestHandler_BookAppointment(t *testing.T) {
	h, e, env := newTestHandler()
	body := `{"doctor_id":"` + env.doctorID.String() + `","scheduled_at":"2026-03-09T08:00:00Z","reason":"sore throat"}`
	c, rec := newRequestContext(e, http.MethodPost, "/appointments", body, env.patient())

	require.NoError(t, h.BookAppointment(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var appt Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, env.patientID, appt.PatientID)

	// same slot, other patient
	body = `{"patient_id":"` + env.otherID.String() + `","doctor_id":"` + env.doctorID.String() + `","scheduled_at":"2026-03-09T08:00:00Z","reason":"checkup"}`
	c, _ = newRequestContext(e, http.MethodPost, "/appointments", body, env.otherPatient())
	requireHTTPError(t, h.BookAppointment(c), http.StatusConflict, "slot_already_taken")
}

func TestHandler_BookAppointment_Errors(t *testing.T) {
	h, e, env := newTestHandler()
	doctor := env.doctorID.String()

	tests := []struct {
		name string
		body string
		code int
		kind string
	}{
		{"outside schedule", `{"doctor_id":"` + doctor + `","scheduled_at":"2026-03-09T12:00:00Z","reason":"x"}`, http.StatusUnprocessableEntity, "outside_schedule"},
		{"missing reason", `{"doctor_id":"` + doctor + `","scheduled_at":"2026-03-09T08:00:00Z"}`, http.StatusBadRequest, "invalid_argument"},
		{"missing doctor", `{"scheduled_at":"2026-03-09T08:00:00Z","reason":"x"}`, http.StatusBadRequest, "invalid_argument"},
		{"malformed json", `{"doctor_id":`, http.StatusBadRequest, "invalid_argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newRequestContext(e, http.MethodPost, "/appointments", tt.body, env.patient())
			requireHTTPError(t, h.BookAppointment(c), tt.code, tt.kind)
		})
	}
}

func TestHandler_TransitionFlow(t *testing.T) {
	h, e, env := newTestHandler()
	appt := env.mustBook(8, 0)

	c, rec := newRequestContext(e, http.MethodPost, "/", "", env.doctor())
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())
	require.NoError(t, h.ConfirmAppointment(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	// completing before the appointment time names both states
	c, _ = newRequestContext(e, http.MethodPost, "/", "", env.doctor())
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())
	body := requireHTTPError(t, h.CompleteAppointment(c), http.StatusConflict, "invalid_transition")
	assert.Equal(t, "confirmed", body.CurrentStatus)
	assert.Equal(t, "completed", body.RequestedStatus)

	c, rec = newRequestContext(e, http.MethodPost, "/", `{"reason":"travelling"}`, env.patient())
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())
	require.NoError(t, h.CancelAppointment(c))

	var cancelled Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "travelling", *cancelled.CancellationReason)
}

func TestHandler_GetAppointment_Visibility(t *testing.T) {
	h, e, env := newTestHandler()
	appt := env.mustBook(8, 0)

	c, rec := newRequestContext(e, http.MethodGet, "/", "", env.patient())
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())
	require.NoError(t, h.GetAppointment(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c, _ = newRequestContext(e, http.MethodGet, "/", "", env.otherPatient())
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())
	requireHTTPError(t, h.GetAppointment(c), http.StatusForbidden, "forbidden")

	c, _ = newRequestContext(e, http.MethodGet, "/", "", env.patient())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	requireHTTPError(t, h.GetAppointment(c), http.StatusNotFound, "not_found")
}

func TestHandler_ListAppointments(t *testing.T) {
	h, e, env := newTestHandler()
	env.mustBook(8, 0)
	env.mustBook(9, 0)

	c, rec := newRequestContext(e, http.MethodGet, "/appointments?limit=1", "", env.patient())
	require.NoError(t, h.ListAppointments(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data    []Appointment `json:"data"`
		Total   int           `json:"total"`
		HasMore bool          `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Data, 1)
	assert.True(t, resp.HasMore)

	c, _ = newRequestContext(e, http.MethodGet, "/appointments?patient_id="+env.patientID.String(), "", env.otherPatient())
	requireHTTPError(t, h.ListAppointments(c), http.StatusForbidden, "forbidden")

	c, _ = newRequestContext(e, http.MethodGet, "/appointments?status=arrived", "", env.patient())
	requireHTTPError(t, h.ListAppointments(c), http.StatusBadRequest, "invalid_argument")
}

func TestHandler_WeeklySchedule(t *testing.T) {
	h, e, env := newTestHandler()

	c, rec := newRequestContext(e, http.MethodPut, "/", `{"start_time":"14:00","end_time":"18:00"}`, env.doctor())
	c.SetParamNames("id", "weekday")
	c.SetParamValues(env.doctorID.String(), "thursday")
	require.NoError(t, h.SetWeeklyEntry(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = newRequestContext(e, http.MethodGet, "/", "", env.patient())
	c.SetParamNames("id")
	c.SetParamValues(env.doctorID.String())
	require.NoError(t, h.ListWeeklySchedule(c))

	var entries []WeeklyScheduleEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, NewTimeOfDay(14, 0), entries[1].StartTime)

	c, _ = newRequestContext(e, http.MethodPut, "/", `{"start_time":"18:00","end_time":"14:00"}`, env.doctor())
	c.SetParamNames("id", "weekday")
	c.SetParamValues(env.doctorID.String(), "friday")
	requireHTTPError(t, h.SetWeeklyEntry(c), http.StatusBadRequest, "invalid_argument")

	c, _ = newRequestContext(e, http.MethodPut, "/", `{"start_time":"08:00","end_time":"12:00"}`, env.doctor())
	c.SetParamNames("id", "weekday")
	c.SetParamValues(env.doctorID.String(), "sunday")
	requireHTTPError(t, h.SetWeeklyEntry(c), http.StatusBadRequest, "invalid_argument")

	other := Actor{UserID: uuid.New(), Role: RoleDoctor}
	c, _ = newRequestContext(e, http.MethodPut, "/", `{"start_time":"08:00","end_time":"12:00"}`, other)
	c.SetParamNames("id", "weekday")
	c.SetParamValues(env.doctorID.String(), "friday")
	requireHTTPError(t, h.SetWeeklyEntry(c), http.StatusForbidden, "forbidden")

	c, rec = newRequestContext(e, http.MethodDelete, "/", "", env.doctor())
	c.SetParamNames("id", "weekday")
	c.SetParamValues(env.doctorID.String(), "thursday")
	require.NoError(t, h.RemoveWeeklyEntry(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
