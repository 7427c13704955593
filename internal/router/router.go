// Package router registers the HTTP routes of the reservation API.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticketing-reservation/internal/handler"
	"github.com/iliyamo/ticketing-reservation/internal/middleware"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, metrics http.Handler) {
	e.GET("/healthz", handler.Health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterSeats registers the seat endpoints.  The availability map is
// public and goes through the response cache; everything else needs a JWT.
// Cancelling bookings, running the reaper and releasing another user's
// holds are admin only.
func RegisterSeats(e *echo.Echo, h *handler.SeatHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	e.GET("/v1/schedules/:id/seats", h.Availability, optional(cache)...)

	g := e.Group("/v1/seats", middleware.JWTAuth(jwtSecret))
	customer := middleware.RequireRole(middleware.RoleCustomer, middleware.RoleAdmin)
	admin := middleware.RequireRole(middleware.RoleAdmin)

	g.POST("/check-availability", h.CheckAvailability, customer)
	g.POST("/lock", h.Lock, customer)
	g.DELETE("/lock", h.Unlock, customer)
	g.POST("/confirm", h.Confirm, customer)
	g.POST("/cancel", h.Cancel, admin)
	g.POST("/reap", h.Reap, admin)

	e.DELETE("/v1/users/:userId/seat-locks", h.ReleaseUserHolds, middleware.JWTAuth(jwtSecret), admin)
}

// RegisterQueue registers the admission queue endpoints behind JWT auth
// and the rate limiter.  Clearing sessions and forcing promotion are admin
// only.
func RegisterQueue(e *echo.Echo, h *handler.QueueHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	mw := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleCustomer, middleware.RoleAdmin),
	}
	g := e.Group("/v1/queue", append(mw, optional(limiter)...)...)
	g.POST("/check", h.Check)
	g.POST("/token", h.IssueToken)
	g.POST("/activate", h.Activate)
	g.GET("/status/:token", h.Status)
	g.POST("/token/:token/verify", h.Verify)
	g.POST("/token/:token/use", h.Use)
	g.DELETE("/token/:token", h.Cancel)
	g.POST("/heartbeat", h.Heartbeat)
	g.POST("/release-session", h.ReleaseSession)
	g.GET("/my-tokens", h.MyTokens)

	admin := middleware.RequireRole(middleware.RoleAdmin)
	g.POST("/clear-sessions", h.ClearSessions, admin)
	g.POST("/process", h.Process, admin)
}

func optional(mw echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if mw == nil {
		return nil
	}
	return []echo.MiddlewareFunc{mw}
}
