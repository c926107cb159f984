package doselog

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pillara/pillara/internal/platform/apperr"
	"github.com/pillara/pillara/internal/platform/auth"
	"github.com/pillara/pillara/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/doses", h.ListDoseLogs)
	api.GET("/doses/adherence", h.GetAdherence)
	api.POST("/doses", h.LogDose)
	api.PUT("/doses/:id", h.UpdateDoseLog)
}

// LogDoseRequest is the body of POST /doses. Status defaults to Taken and
// timestamp to the time of the request.
type LogDoseRequest struct {
	MedicationID uuid.UUID  `json:"medication_id"`
	Status       Status     `json:"status"`
	Timestamp    *time.Time `json:"timestamp"`
}

func (h *Handler) LogDose(c echo.Context) error {
	var req LogDoseRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.Validation("invalid request body"))
	}
	ev, err := h.svc.LogDose(c.Request().Context(), auth.CallerID(c), req.MedicationID, req.Status, req.Timestamp)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, ev)
}

func (h *Handler) UpdateDoseLog(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTPError(apperr.Validation("invalid id"))
	}
	var corr Correction
	if err := c.Bind(&corr); err != nil {
		return apperr.HTTPError(apperr.Validation("invalid request body"))
	}
	ev, err := h.svc.UpdateDoseLog(c.Request().Context(), auth.CallerID(c), id, corr)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, ev)
}

func (h *Handler) ListDoseLogs(c echo.Context) error {
	var medID *uuid.UUID
	raw := c.QueryParam("medication_id")
	if raw == "" {
		raw = c.QueryParam("medicationId")
	}
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.HTTPError(apperr.Validation("invalid medication_id"))
		}
		medID = &id
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoseLogs(c.Request().Context(), auth.CallerID(c), medID, c.QueryParam("days"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*DoseEvent{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// GetAdherence never rejects the days parameter; unusable values fall back
// to the default window.
func (h *Handler) GetAdherence(c echo.Context) error {
	report, err := h.svc.GetAdherenceReport(c.Request().Context(), auth.CallerID(c), c.QueryParam("days"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}
