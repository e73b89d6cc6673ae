package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
)

// RegisterLedger mounts the seat ledger contract for other services
// under /v1/ledger.  Requires the service or admin role.
func RegisterLedger(e *echo.Echo, h *handler.LedgerHandler, jwtSecret string) {
	g := e.Group(
		"/v1/ledger",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleService, middleware.RoleAdmin),
	)
	g.POST("/reserve", h.Reserve)
	g.POST("/confirm", h.Confirm)
	g.POST("/release", h.Release)
	g.GET("/booked", h.Booked)
}

// RegisterAdmin registers ADMIN-scoped endpoints under /v1/admin.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleAdmin),
	)

	// ---- Buses ----
	g.POST("/buses", h.CreateBus)
	g.PUT("/buses/:id", h.UpdateBus)
	g.DELETE("/buses/:id", h.DeleteBus)

	// ---- Bookings ----
	g.GET("/bookings", h.ListBookings)
	g.GET("/stats", h.Stats)

	g.POST("/sweep", h.Sweep)
}
