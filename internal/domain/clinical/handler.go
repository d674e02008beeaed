package clinical

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/validate"
	"github.com/clinic/clinic/pkg/pagination"
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	read.GET("/clinical-records", h.ListClinicalRecords)
	read.GET("/clinical-records/:id", h.GetClinicalRecord)

	write := api.Group("", auth.RequireRole(auth.RoleDoctor))
	write.POST("/appointments/:id/clinical-record", h.CreateClinicalRecord)
	write.DELETE("/clinical-records/:id", h.DeleteClinicalRecord)
	write.POST("/clinical-records/:id/treatments", h.CreateTreatment)
	write.DELETE("/treatments/:id", h.DeleteTreatment)
	write.POST("/treatments/:id/prescriptions", h.CreatePrescription)
	write.DELETE("/prescriptions/:id", h.DeletePrescription)
}

// -- Clinical records --

type recordRequest struct {
	Diagnosis    string `json:"diagnosis" validate:"required,max=4000"`
	Observations string `json:"observations"`
}

func (h *Handler) CreateClinicalRecord(c echo.Context) error {
	actor, err := scheduling.RequestActor(c)
	if err != nil {
		return err
	}
	apptID, err := scheduling.PathUUID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	var req recordRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.Respond(c, err)
	}
	rec, err := h.svc.CreateClinicalRecord(c.Request().Context(), actor, apptID, req.Diagnosis, req.Observations)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetClinicalRecord(c echo.Context) error {
	actor, err := scheduling.RequestActor(c)
	if err != nil {
		return err
	}
	id, err := scheduling.PathUUID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	detail, err := h.svc.GetClinicalRecord(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// ListClinicalRecords lists a patient's records. Patients may omit
// patient_id to list their own.
func (h *Handler) ListClinicalRecords(c echo.Context) error {
	actor, err := scheduling.RequestActor(c)
	if err != nil {
		return err
	}
	var patientID uuid.UUID
	if v := c.QueryParam("patient_id"); v != "" {
		if patientID, err = uuid.Parse(v); err != nil {
			return apperr.Respond(c, apperr.Invalid("invalid patient_id"))
		}
	} else if actor.Role == scheduling.RolePatient {
		patientID = actor.UserID
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListClinicalRecordsByPatient(c.Request().Context(), actor, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.Respond(c, err)
	}
	if items == nil {
		items = []*ClinicalRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL, pg))
}

func (h *Handler) DeleteClinicalRecord(c echo.Context) error {
	return h.delete(c, h.svc.DeleteClinicalRecord)
}

// -- Treatments --

type treatmentRequest struct {
	Description string `json:"description" validate:"required"`
	StartDate   string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate     string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) CreateTreatment(c echo.Context) error {
	actor, err := scheduling.RequestActor(c)
	if err != nil {
		return err
	}
	recordID, err := scheduling.PathUUID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	var req treatmentRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.Respond(c, err)
	}
	in := TreatmentInput{Description: req.Description}
	if in.StartDate, err = time.Parse(dateLayout, req.StartDate); err != nil {
		return apperr.Respond(c, apperr.Invalid("start_date must be YYYY-MM-DD"))
	}
	if req.EndDate != "" {
		end, err := time.Parse(dateLayout, req.EndDate)
		if err != nil {
			return apperr.Respond(c, apperr.Invalid("end_date must be YYYY-MM-DD"))
		}
		in.EndDate = &end
	}

	t, err := h.svc.CreateTreatment(c.Request().Context(), actor, recordID, in)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) DeleteTreatment(c echo.Context) error {
	return h.delete(c, h.svc.DeleteTreatment)
}

// -- Prescriptions --

type prescriptionRequest struct {
	MedicationID uuid.UUID `json:"medication_id" validate:"required"`
	Dosage       string    `json:"dosage" validate:"required,max=255"`
	Frequency    string    `json:"frequency" validate:"required,max=255"`
	Duration     string    `json:"duration" validate:"required,max=255"`
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	actor, err := scheduling.RequestActor(c)
	if err != nil {
		return err
	}
	treatmentID, err := scheduling.PathUUID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	var req prescriptionRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.Respond(c, err)
	}
	p, err := h.svc.CreatePrescription(c.Request().Context(), actor, treatmentID, PrescriptionInput{
		MedicationID: req.MedicationID,
		Dosage:       req.Dosage,
		Frequency:    req.Frequency,
		Duration:     req.Duration,
	})
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) DeletePrescription(c echo.Context) error {
	return h.delete(c, h.svc.DeletePrescription)
}

func (h *Handler) delete(c echo.Context, fn func(ctx context.Context, actor scheduling.Actor, id uuid.UUID) error) error {
	actor, err := scheduling.RequestActor(c)
	if err != nil {
		return err
	}
	id, err := scheduling.PathUUID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	if err := fn(c.Request().Context(), actor, id); err != nil {
		return apperr.Respond(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
