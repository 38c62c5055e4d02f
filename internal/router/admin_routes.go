package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dorm-reservation/internal/handler"
	"github.com/iliyamo/dorm-reservation/internal/middleware"
)

// RegisterAdmin registers room, user and settings management under
// /v1/admin. Every route requires the admin role.
func RegisterAdmin(e *echo.Echo, rooms *handler.RoomHandler, users *handler.AdminUserHandler, settings *handler.SettingsHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireAdmin(),
	)

	// ---- Rooms ----
	g.GET("/rooms", rooms.List)
	g.GET("/rooms/stats", rooms.Stats)
	g.POST("/rooms", rooms.Create)
	g.POST("/rooms/initialize", rooms.Initialize)
	g.GET("/rooms/:id", rooms.Get)
	g.PUT("/rooms/:id", rooms.Update)
	g.PATCH("/rooms/:id", rooms.Update)
	g.POST("/rooms/:id/deactivate", rooms.Deactivate)
	g.POST("/rooms/:id/activate", rooms.Activate)
	g.DELETE("/rooms/:id", rooms.Delete)

	// ---- Users ----
	g.GET("/users", users.List)
	g.GET("/users/search", users.Search)
	g.POST("/users/repair-data-consistency", users.Repair)
	g.POST("/users/sync-gender", users.SyncGender)
	g.GET("/users/:id", users.Get)
	g.PUT("/users/:id", users.Update)
	g.DELETE("/users/:id", users.Delete)
	g.PUT("/users/:id/assign-room", users.AssignRoom) // bypasses the reservation window
	g.DELETE("/users/:id/room-assignment", users.CancelAssignment)

	// ---- Reservation window ----
	g.GET("/settings/reservation", settings.Get)
	g.PUT("/settings/reservation", settings.Update)
	g.PATCH("/settings/reservation/toggle", settings.Toggle)
}
