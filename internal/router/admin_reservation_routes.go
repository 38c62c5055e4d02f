package router

// Admin reservation desk: listing, statistics, export and the check-in /
// check-out stamps.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dorm-reservation/internal/handler"
	"github.com/iliyamo/dorm-reservation/internal/middleware"
)

// RegisterAdminReservations mounts the reservation desk under /v1/admin.
func RegisterAdminReservations(e *echo.Echo, h *handler.ReservationHandler, x *handler.ExportHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireAdmin(),
	)
	g.GET("/reservations", h.AdminList)
	g.GET("/reservations/stats", h.AdminStats)
	g.GET("/reservations/export", x.Reservations)
	g.DELETE("/reservations/:id", h.Cancel)
	g.POST("/reservations/:id/check-in", h.CheckIn)
	g.POST("/reservations/:id/check-out", h.CheckOut)
	g.GET("/rooms/:id/history", h.RoomHistory)
}
