package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/directory"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

func TestResolveSigningKey_FromConfig(t *testing.T) {
	key, random, err := resolveSigningKey(testSigningKey)
	require.NoError(t, err)
	assert.False(t, random)
	assert.Equal(t, []byte(testSigningKey), key)
}

func TestResolveSigningKey_RandomGeneration(t *testing.T) {
	key, random, err := resolveSigningKey("")
	require.NoError(t, err)
	assert.True(t, random)
	assert.Len(t, key, 32)

	key2, _, err := resolveSigningKey("")
	require.NoError(t, err)
	assert.NotEqual(t, key, key2, "two random keys should differ")
}

func TestErrorHandler_UniformBody(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{"domain error", apperr.ToHTTP(apperr.ErrSlotAlreadyTaken), http.StatusConflict, "slot_already_taken"},
		{"plain echo error", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header"), http.StatusUnauthorized, "unauthorized"},
		{"unrouted", echo.ErrNotFound, http.StatusNotFound, "not_found"},
		{"bare error", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			errorHandler(zerolog.Nop())(tt.err, c)

			assert.Equal(t, tt.wantCode, rec.Code)
			var body apperr.Body
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantKind, body.Error)
			assert.NotContains(t, body.Message, "boom")
		})
	}
}

type testServer struct {
	t   *testing.T
	app *app
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Env:                    "test",
		Storage:                config.StorageMemory,
		ClinicTimezone:         "UTC",
		SlotGranularityMinutes: 60,
		AuthSigningKey:         testSigningKey,
		CORSOrigins:            []string{"*"},
		RequestTimeout:         5 * time.Second,
		BodyLimit:              "64K",
		NotifySinks:            []string{"log", "websocket"},
		NotifyQueueSize:        64,
	}
	require.NoError(t, cfg.Validate())

	a, err := buildApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.close)
	return &testServer{t: t, app: a}
}

func (s *testServer) token(userID uuid.UUID, role string) string {
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	require.NoError(s.t, err)
	return signed
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.app.echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestServer_HealthIsPublic(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec = s.do(http.MethodGet, "/health/db", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsArePublic(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/health", "", nil)

	rec := s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_server_request_duration_seconds_count{method="GET",route="/health",status_code="200"} 1`)
}

func TestServer_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/v1/appointments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body apperr.Body
	decode(t, rec, &body)
	assert.Equal(t, "unauthorized", body.Error)
}

func TestServer_BookingToPrescription(t *testing.T) {
	s := newTestServer(t)
	doctorID, patientID, otherID := uuid.New(), uuid.New(), uuid.New()
	s.app.memDir.Add(directory.KindDoctor, doctorID)
	s.app.memDir.Add(directory.KindPatient, patientID, otherID)

	doctor := s.token(doctorID, auth.RoleDoctor)
	patient := s.token(patientID, auth.RolePatient)
	other := s.token(otherID, auth.RolePatient)

	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 7)
	date := day.Format("2006-01-02")
	weekday := strings.ToLower(day.Weekday().String())

	rec := s.do(http.MethodPut, "/api/v1/doctors/"+doctorID.String()+"/schedule/"+weekday, doctor,
		map[string]string{"start_time": "08:00", "end_time": "10:00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/v1/doctors/"+doctorID.String()+"/slots?date="+date, patient, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var slots struct {
		Slots []string `json:"slots"`
	}
	decode(t, rec, &slots)
	assert.Equal(t, []string{"08:00", "09:00"}, slots.Slots)

	at := day.Add(8 * time.Hour)
	booking := map[string]interface{}{"doctor_id": doctorID, "scheduled_at": at, "reason": "checkup"}
	rec = s.do(http.MethodPost, "/api/v1/appointments", patient, booking)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var appt struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	decode(t, rec, &appt)
	assert.Equal(t, "pending", appt.Status)

	rec = s.do(http.MethodPost, "/api/v1/appointments", other, booking)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var conflict apperr.Body
	decode(t, rec, &conflict)
	assert.Equal(t, "slot_already_taken", conflict.Error)

	apptPath := "/api/v1/appointments/" + appt.ID.String()
	rec = s.do(http.MethodPost, apptPath+"/clinical-record", doctor, map[string]string{"diagnosis": "flu"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var notDone apperr.Body
	decode(t, rec, &notDone)
	assert.Equal(t, "appointment_not_completed", notDone.Error)

	rec = s.do(http.MethodPost, apptPath+"/confirm", doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s.app.scheduling.SetClock(func() time.Time { return at.Add(45 * time.Minute) })
	rec = s.do(http.MethodPost, apptPath+"/complete", doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, apptPath+"/clinical-record", doctor, map[string]string{"diagnosis": "seasonal flu"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var record struct {
		ID uuid.UUID `json:"id"`
	}
	decode(t, rec, &record)

	recordPath := "/api/v1/clinical-records/" + record.ID.String()
	rec = s.do(http.MethodPost, recordPath+"/treatments", doctor,
		map[string]string{"description": "rest and fluids", "start_date": date})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var treatment struct {
		ID uuid.UUID `json:"id"`
	}
	decode(t, rec, &treatment)

	rec = s.do(http.MethodPost, "/api/v1/treatments/"+treatment.ID.String()+"/prescriptions", doctor,
		map[string]string{"medication_id": devMedicationID, "dosage": "500mg", "frequency": "twice daily", "duration": "5 days"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, recordPath, patient, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tree struct {
		Diagnosis  string `json:"diagnosis"`
		Treatments []struct {
			Prescriptions []struct {
				Dosage string `json:"dosage"`
			} `json:"prescriptions"`
		} `json:"treatments"`
	}
	decode(t, rec, &tree)
	assert.Equal(t, "seasonal flu", tree.Diagnosis)
	require.Len(t, tree.Treatments, 1)
	require.Len(t, tree.Treatments[0].Prescriptions, 1)
	assert.Equal(t, "500mg", tree.Treatments[0].Prescriptions[0].Dosage)

	rec = s.do(http.MethodGet, recordPath, other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
