package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
)

// RegisterCustomer registers customer endpoints under /v1.  All routes
// require a valid JWT with the user or admin role.  limit is applied to
// seat holds, the only endpoint that writes to the ledger on every call.
func RegisterCustomer(e *echo.Echo, holds *handler.HoldHandler, bookings *handler.BookingHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleUser, middleware.RoleAdmin),
	)

	g.POST("/buses/:id/holds", holds.Hold, limit)
	g.DELETE("/buses/:id/holds", holds.Release)

	g.POST("/bookings", bookings.Create)
	g.GET("/bookings", bookings.List)
	g.GET("/bookings/:id", bookings.Get)
	g.POST("/bookings/:id/pay", bookings.Pay)
	g.DELETE("/bookings/:id", bookings.Cancel)
}
