package incident

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/hospital-api/internal/platform/auth"
	"github.com/carelink/hospital-api/internal/platform/tenant"
	"github.com/carelink/hospital-api/pkg/pagination"
)

// Handler exposes the incident reporting API. Routes are role-gated to
// compliance and security officers by the caller.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the incident endpoints on g. Reporting and status
// changes require the write operation; browsing only needs read.
func (h *Handler) RegisterRoutes(g *echo.Group, read, write echo.MiddlewareFunc) {
	g.POST("", h.Create, write)
	g.GET("", h.List, read)
	g.GET("/:id", h.Get, read)
	g.PATCH("/:id/status", h.UpdateStatus, write)
}

type createIncidentRequest struct {
	Type             Type     `json:"type"`
	Severity         Severity `json:"severity"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	PHIInvolved      bool     `json:"phi_involved"`
	AffectedPatients int      `json:"affected_patients"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createIncidentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Title == "" || req.Type == "" || req.Severity == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "type, severity and title are required")
	}
	if req.AffectedPatients < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "affected_patients cannot be negative")
	}

	ctx := c.Request().Context()
	inc, err := h.service.Create(ctx, CreateParams{
		TenantSlug:       tenant.SlugFromContext(ctx),
		Type:             req.Type,
		Severity:         req.Severity,
		Title:            req.Title,
		Description:      req.Description,
		PHIInvolved:      req.PHIInvolved,
		AffectedPatients: req.AffectedPatients,
		ReportedBy:       auth.UserIDFromContext(ctx),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record incident")
	}
	return c.JSON(http.StatusCreated, inc)
}

func (h *Handler) List(c echo.Context) error {
	params := pagination.FromContext(c)
	status := Status(strings.ToUpper(c.QueryParam("status")))
	incidents, total, err := h.service.List(c.Request().Context(), status, params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list incidents")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(incidents, total, params.Limit, params.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid incident id")
	}
	inc, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "incident not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load incident")
	}
	return c.JSON(http.StatusOK, inc)
}

type updateStatusRequest struct {
	Status Status `json:"status"`
	Note   string `json:"note"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid incident id")
	}
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	inc, err := h.service.UpdateStatus(ctx, id, req.Status, auth.UserIDFromContext(ctx), req.Note)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "incident not found")
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, inc)
}
