package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/handler"
)

// RegisterRoutes registers routes that do not require authentication and
// are not versioned.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterPublic registers the unauthenticated browse endpoints.  cache
// wraps bus search only; seat availability must always be read live.
func RegisterPublic(e *echo.Echo, h *handler.BusHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/buses", h.Search, cache)
	e.GET("/v1/buses/:id", h.Get)
	e.GET("/v1/buses/:id/seats", h.Seats)
}
