package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dorm-reservation/internal/handler"
	"github.com/iliyamo/dorm-reservation/internal/middleware"
	"github.com/iliyamo/dorm-reservation/internal/utils"
)

// RegisterStudent registers the reservation endpoints of signed-in users.
// Admins may call them too; cancelling someone else's reservation by id is
// allowed for admins only and checked in the handler.
func RegisterStudent(e *echo.Echo, r *handler.ReservationHandler, s *handler.SettingsHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleUser, utils.RoleAdmin),
	)
	g.GET("/settings/reservation", s.Get)

	g.GET("/reservations/my", r.My)
	g.DELETE("/reservations/my", r.CancelMine)
	g.GET("/reservations/history", r.MyHistory)
	g.POST("/reservations", r.Create) // gated by the reservation window
	g.DELETE("/reservations/:id", r.Cancel)
}
