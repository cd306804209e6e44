package audit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fieldchart/fieldchart/internal/platform/auth"
	"github.com/fieldchart/fieldchart/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "compliance"))
	read.GET("/audit-events", h.ListEvents)
	read.GET("/audit-events/:id", h.GetEvent)
	read.GET("/audit-events/:id/verify", h.VerifyEvent)
}

func (h *Handler) GetEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GetEvent(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "audit event not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, key := range []string{"user", "action", "resource-type", "resource", "category", "severity"} {
		if v := c.QueryParam(key); v != "" {
			params[key] = v
		}
	}
	items, total, err := h.svc.SearchEvents(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) VerifyEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.Verify(c.Request().Context(), id)
	if err != nil {
		if IsIntegrityFailure(err) {
			return c.JSON(http.StatusOK, map[string]interface{}{
				"event_id": e.ID,
				"valid":    false,
			})
		}
		return echo.NewHTTPError(http.StatusNotFound, "audit event not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"event_id": e.ID,
		"valid":    true,
	})
}
