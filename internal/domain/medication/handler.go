package medication

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

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
	api.POST("/medications", h.CreateMedication)
	api.GET("/medications", h.ListMedications)
	api.GET("/medications/:id", h.GetMedication)
	api.PUT("/medications/:id", h.UpdateMedication)
	api.DELETE("/medications/:id", h.DeleteMedication)
}

func (h *Handler) CreateMedication(c echo.Context) error {
	var m Medication
	if err := c.Bind(&m); err != nil {
		return apperr.HTTPError(apperr.Validation("invalid request body"))
	}
	m.ID = uuid.Nil
	if err := h.svc.CreateMedication(c.Request().Context(), auth.CallerID(c), &m); err != nil {
		return apperr.HTTPError(err)
	}
	setETag(c, m.Version)
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetMedication(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.GetMedication(c.Request().Context(), auth.CallerID(c), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	setETag(c, m.Version)
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListMedications(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMedications(c.Request().Context(), auth.CallerID(c), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*Medication{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// UpdateMedication takes the expected version from the body's "version"
// field, or from an If-Match header when the body carries none.
func (h *Handler) UpdateMedication(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.HTTPError(apperr.Validation("invalid request body"))
	}
	if req.Version == nil {
		if v, ok, err := ParseIfMatch(c.Request().Header.Get("If-Match")); err != nil {
			return apperr.HTTPError(apperr.Validation(err.Error()))
		} else if ok {
			req.Version = &v
		}
	}

	m, err := h.svc.UpdateMedication(c.Request().Context(), auth.CallerID(c), id, req.Version, req.Changes)
	if err != nil {
		return apperr.HTTPError(err)
	}
	setETag(c, m.Version)
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMedication(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteMedication(c.Request().Context(), auth.CallerID(c), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.HTTPError(apperr.Validation("invalid id"))
	}
	return id, nil
}

func setETag(c echo.Context, version int) {
	c.Response().Header().Set("ETag", fmt.Sprintf(`W/"%d"`, version))
}

// ParseIfMatch reads a version from an If-Match value such as W/"3", "3"
// or 3. It reports false when the header is empty.
func ParseIfMatch(v string) (int, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false, nil
	}
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false, fmt.Errorf("invalid If-Match version")
	}
	return n, true, nil
}
