// Package router registers the HTTP routes of the API.
package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/dorm-reservation/internal/handler"
	"github.com/iliyamo/dorm-reservation/internal/middleware"
	"github.com/iliyamo/dorm-reservation/internal/utils"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, db *sql.DB, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db, rdb))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the auth routes. Token exchange lives under
// /v1/auth; /v1/me needs a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)               // rotates the refresh token
	g.POST("/refresh-access", a.RefreshAccess) // keeps the refresh token
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole(utils.RoleUser, utils.RoleAdmin))
	auth.GET("/me", a.Me)

	// logout works with a refresh token alone, so it stays outside the
	// protected group
	e.POST("/v1/logout", a.Logout)
}

// RegisterPublic registers room browsing for guests. Responses go through
// the Redis response cache, which admin writes purge.
func RegisterPublic(e *echo.Echo, r *handler.RoomHandler, cache *middleware.ResponseCache) {
	g := e.Group("/v1/rooms", cache.Middleware())
	g.GET("", r.List)
	g.GET("/:id", r.Get)
}
