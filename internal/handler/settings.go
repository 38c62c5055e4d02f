package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dorm-reservation/internal/repository"
	"github.com/iliyamo/dorm-reservation/internal/service"
)

// SettingsHandler exposes the reservation window. Reads evaluate the
// window against the current clock, so every response carries is_open_now
// and the remaining wait in milliseconds.
type SettingsHandler struct {
	Settings *repository.SettingsRepo
	Gate     *service.Gate
}

func NewSettingsHandler(settings *repository.SettingsRepo, gate *service.Gate) *SettingsHandler {
	return &SettingsHandler{Settings: settings, Gate: gate}
}

type settingsResp struct {
	service.GateStatus
	TimeUntilOpenMs int64 `json:"time_until_open"`
}

func (h *SettingsHandler) status(c echo.Context, ctx context.Context) error {
	st, err := h.Gate.Status(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation settings not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load reservation settings failed"})
	}
	return c.JSON(http.StatusOK, settingsResp{GateStatus: st, TimeUntilOpenMs: st.TimeUntilOpen.Milliseconds()})
}

// Get: GET /v1/settings/reservation
func (h *SettingsHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	return h.status(c, ctx)
}

type updateSettingsReq struct {
	OpenDateTime      string `json:"open_date_time" validate:"required"`
	IsReservationOpen bool   `json:"is_reservation_open"`
	Description       string `json:"description" validate:"max=200"`
}

// Update handles PUT /v1/admin/settings/reservation. open_date_time must
// be RFC3339 and is stored in UTC. If the settings row is missing it is
// recreated first.
func (h *SettingsHandler) Update(c echo.Context) error {
	adminID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req updateSettingsReq
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	openAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.OpenDateTime))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "open_date_time must be RFC3339"})
	}
	openAt = openAt.UTC()
	desc := strings.TrimSpace(req.Description)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err = h.Settings.Update(ctx, openAt, req.IsReservationOpen, desc, adminID)
	if errors.Is(err, repository.ErrNotFound) {
		if err = h.Settings.EnsureDefault(ctx, openAt, req.IsReservationOpen, desc); err == nil {
			err = h.Settings.Update(ctx, openAt, req.IsReservationOpen, desc, adminID)
		}
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update reservation settings failed"})
	}
	return h.status(c, ctx)
}

// Toggle: PATCH /v1/admin/settings/reservation/toggle flips the manual
// override.
func (h *SettingsHandler) Toggle(c echo.Context) error {
	adminID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Settings.Toggle(ctx, adminID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation settings not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "toggle reservation failed"})
	}
	return h.status(c, ctx)
}
