package tenant

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/hospital-api/internal/platform/hipaa"
	"github.com/carelink/hospital-api/pkg/pagination"
)

// Handler exposes the tenant provisioning API. All routes are expected to be
// role-gated to platform administrators by the caller.
type Handler struct {
	provisioner *Provisioner
	registry    Registry
	audit       *hipaa.Trail
}

// NewHandler creates a tenant admin handler.
func NewHandler(provisioner *Provisioner, registry Registry, audit *hipaa.Trail) *Handler {
	return &Handler{provisioner: provisioner, registry: registry, audit: audit}
}

// RegisterRoutes mounts the tenant admin endpoints on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id/status", h.UpdateStatus)
	g.DELETE("/:id", h.Delete)
}

type createTenantRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createTenantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" || !ValidSlug(req.Slug) {
		return echo.NewHTTPError(http.StatusBadRequest, "name and a lowercase URL-safe slug are required")
	}

	ctx := c.Request().Context()
	t, err := h.provisioner.Create(ctx, req.Name, req.Slug)
	if err != nil {
		if errors.Is(err, ErrSlugTaken) {
			return echo.NewHTTPError(http.StatusConflict, "tenant with this slug already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "tenant provisioning failed")
	}

	h.audit.Log(ctx, hipaa.Options{
		UserID:     actorID(c),
		Action:     hipaa.ActionTenantCreated,
		Severity:   hipaa.SeverityInfo,
		Resource:   "/admin/tenants",
		ResourceID: t.ID.String(),
		IPAddress:  c.RealIP(),
		Metadata:   map[string]any{"slug": t.Slug},
	})

	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) List(c echo.Context) error {
	params := pagination.FromContext(c)
	tenants, total, err := h.registry.List(c.Request().Context(), params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list tenants")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(tenants, total, params.Limit, params.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	}

	t, err := h.registry.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load tenant")
	}
	return c.JSON(http.StatusOK, t)
}

type updateStatusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	}

	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be active, suspended, or inactive")
	}

	ctx := c.Request().Context()
	if err := h.registry.UpdateStatus(ctx, id, req.Status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update tenant")
	}

	h.audit.Log(ctx, hipaa.Options{
		UserID:     actorID(c),
		Action:     hipaa.ActionTenantUpdated,
		Severity:   hipaa.SeverityWarning,
		Resource:   "/admin/tenants",
		ResourceID: id.String(),
		IPAddress:  c.RealIP(),
		Metadata:   map[string]any{"status": req.Status},
	})

	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	}

	ctx := c.Request().Context()
	t, err := h.provisioner.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "tenant deletion failed")
	}

	// Destroying a tenant and all its PHI is always written through
	// synchronously.
	h.audit.Log(ctx, hipaa.Options{
		UserID:     actorID(c),
		Action:     hipaa.ActionTenantDeleted,
		Severity:   hipaa.SeverityCritical,
		Resource:   "/admin/tenants",
		ResourceID: id.String(),
		IPAddress:  c.RealIP(),
		Metadata:   map[string]any{"slug": t.Slug},
	})

	return c.NoContent(http.StatusNoContent)
}

// actorID reads the authenticated user id mirrored into the echo context by
// the JWT middleware.
func actorID(c echo.Context) string {
	id, _ := c.Get("user_id").(string)
	return id
}
