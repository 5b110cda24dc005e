package hipaa

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carelink/hospital-api/pkg/pagination"
)

// Handler exposes the audit trail to compliance officers: filtered queries,
// activity reports, on-demand anomaly checks, and per-entry integrity
// verification. The caller gates every route behind the audit.read operation.
type Handler struct {
	trail *Trail
}

func NewHandler(trail *Trail) *Handler {
	return &Handler{trail: trail}
}

// RegisterRoutes mounts the audit endpoints on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.Query)
	g.GET("/report", h.Report)
	g.GET("/anomalies/:userId", h.CheckAnomalies)
}

func (h *Handler) Query(c echo.Context) error {
	params := pagination.FromContext(c)
	filter := QueryFilter{
		UserID:    c.QueryParam("user_id"),
		PatientID: c.QueryParam("patient_id"),
		Action:    Action(c.QueryParam("action")),
		Severity:  Severity(c.QueryParam("severity")),
		Limit:     params.Limit,
		Offset:    params.Offset,
	}
	if v := c.QueryParam("anomalies"); v != "" {
		b := v == "true"
		filter.IsAnomaly = &b
	}
	if v := c.QueryParam("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start must be RFC 3339")
		}
		filter.StartDate = t
	}
	if v := c.QueryParam("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "end must be RFC 3339")
		}
		filter.EndDate = t
	}

	entries, total, err := h.trail.Query(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "audit query failed")
	}

	// Tampered entries are surfaced, not hidden: compliance needs to see
	// that something was altered.
	type verified struct {
		*Entry
		IntegrityOK bool `json:"integrity_ok"`
	}
	out := make([]verified, len(entries))
	for i, e := range entries {
		out[i] = verified{Entry: e, IntegrityOK: h.trail.VerifyEntry(e)}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, params.Limit, params.Offset))
}

func (h *Handler) Report(c echo.Context) error {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	if v := c.QueryParam("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start must be RFC 3339")
		}
		start = t
	}
	if v := c.QueryParam("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "end must be RFC 3339")
		}
		end = t
	}
	if !end.After(start) {
		return echo.NewHTTPError(http.StatusBadRequest, "end must be after start")
	}

	report, err := h.trail.Report(c.Request().Context(), start, end)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "report generation failed")
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) CheckAnomalies(c echo.Context) error {
	userID := c.Param("userId")
	window, _ := strconv.Atoi(c.QueryParam("window_minutes"))

	flagged, err := h.trail.DetectAnomalies(c.Request().Context(), userID, window)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "anomaly check failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user_id": userID,
		"flagged": flagged,
	})
}
