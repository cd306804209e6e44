package encounter

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fieldchart/fieldchart/internal/platform/auth"
	"github.com/fieldchart/fieldchart/internal/validation"
	"github.com/fieldchart/fieldchart/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/encounters", h.CreateEncounter)
	api.GET("/encounters", h.ListEncounters)
	api.GET("/encounters/:id", h.GetEncounter)
	api.PUT("/encounters/:id", h.UpdateEncounter)
	api.POST("/encounters/:id/submit", h.SubmitForReview)
	api.PATCH("/encounters/:id/status", h.UpdateStatus)
	api.POST("/encounters/:id/lock", h.LockEncounter, auth.RequireRole("provider", "supervisor"))
	api.POST("/encounters/:id/amend", h.StartAmendment, auth.RequireRole("provider", "supervisor"))
	api.GET("/encounters/:id/status-history", h.GetStatusHistory)
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	var snap validation.Snapshot
	if err := c.Bind(&snap); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	enc, err := h.svc.CreateFromSnapshot(c.Request().Context(), actor(c), &snap)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":     enc.ID,
		"status": enc.Status,
	})
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	enc, err := h.svc.GetEncounter(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "encounter not found")
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	var (
		items []*Encounter
		total int
		err   error
	)
	if provider := c.QueryParam("provider"); provider != "" {
		items, total, err = h.svc.ListEncountersByProvider(ctx, provider, pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.ListEncounters(ctx, pg.Limit, pg.Offset)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateEncounter(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var snap validation.Snapshot
	if err := c.Bind(&snap); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	enc, err := h.svc.UpdateFromSnapshot(c.Request().Context(), actor(c), id, &snap)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, enc)
}

// SubmitForReview returns 200 on acceptance and 422 with per-field errors
// when the completion gate rejects the chart.
func (h *Handler) SubmitForReview(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var snap validation.Snapshot
	if err := c.Bind(&snap); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	outcome, err := h.svc.SubmitForReview(c.Request().Context(), actor(c), id, &snap)
	if err != nil {
		return writeError(c, err)
	}
	if !outcome.Success {
		return c.JSON(http.StatusUnprocessableEntity, outcome)
	}
	return c.JSON(http.StatusOK, outcome)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	enc, err := h.svc.UpdateStatus(c.Request().Context(), actor(c), id, req.Status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) LockEncounter(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	enc, err := h.svc.Lock(c.Request().Context(), actor(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) StartAmendment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	enc, err := h.svc.StartAmendment(c.Request().Context(), actor(c), id, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	history, err := h.svc.GetStatusHistory(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, history)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func actor(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return uid
	}
	return "anonymous"
}

// writeError maps domain errors onto HTTP statuses: lifecycle violations
// are conflicts, the chief-complaint completion rule is unprocessable.
func writeError(c echo.Context, err error) error {
	switch {
	case IsLifecycleViolation(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrChiefComplaintRequired):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
