package medicalrecord

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/hospital-api/internal/platform/auth"
	"github.com/carelink/hospital-api/pkg/pagination"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the medical record endpoints on g. Reads and writes
// carry separate role gates: nurses can read records but not author them.
func (h *Handler) RegisterRoutes(g *echo.Group, read, write echo.MiddlewareFunc) {
	g.POST("", h.Create, write)
	g.GET("/:id", h.Get, read)
	g.GET("/patient/:patientId", h.ListByPatient, read)
	g.PUT("/:id", h.Update, write)
	g.DELETE("/:id", h.Delete, write)
}

type recordRequest struct {
	PatientID  uuid.UUID  `json:"patient_id"`
	RecordType string     `json:"record_type"`
	Diagnosis  string     `json:"diagnosis"`
	Notes      string     `json:"notes"`
	RecordedAt *time.Time `json:"recorded_at"`
}

func (h *Handler) Create(c echo.Context) error {
	var req recordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	rec := &Record{
		PatientID:   req.PatientID,
		PhysicianID: auth.UserIDFromContext(ctx),
		RecordType:  req.RecordType,
		Diagnosis:   req.Diagnosis,
		Notes:       req.Notes,
	}
	if req.RecordedAt != nil {
		rec.RecordedAt = *req.RecordedAt
	}

	if err := h.service.Create(ctx, rec, auth.UserIDFromContext(ctx)); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	ctx := c.Request().Context()
	rec, err := h.service.Get(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "record not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load record")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}

	ctx := c.Request().Context()
	params := pagination.FromContext(c)
	records, total, err := h.service.ListByPatient(ctx, patientID, auth.UserIDFromContext(ctx), params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list records")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, total, params.Limit, params.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	var req recordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	rec := &Record{
		ID:         id,
		PatientID:  req.PatientID,
		RecordType: req.RecordType,
		Diagnosis:  req.Diagnosis,
		Notes:      req.Notes,
	}
	if err := h.service.Update(ctx, rec, auth.UserIDFromContext(ctx)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "record not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	ctx := c.Request().Context()
	if err := h.service.Delete(ctx, id, auth.UserIDFromContext(ctx)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "record not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete record")
	}
	return c.NoContent(http.StatusNoContent)
}
