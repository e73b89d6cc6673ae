package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/bus-seat-reservation/internal/ledger"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

// AdminHandler manages the bus catalogue and reports on bookings.
// OnCatalogChange, when set, runs after every successful bus write; the
// server uses it to drop cached search responses.
type AdminHandler struct {
	buses           *service.BusService
	bookings        *service.BookingService
	ledger          *ledger.Ledger
	log             *zap.Logger
	OnCatalogChange func(ctx context.Context)
}

func NewAdminHandler(buses *service.BusService, bookings *service.BookingService, l *ledger.Ledger, log *zap.Logger) *AdminHandler {
	if buses == nil || bookings == nil || l == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{buses: buses, bookings: bookings, ledger: l, log: log}
}

func (h *AdminHandler) catalogChanged(c echo.Context) {
	if h.OnCatalogChange != nil {
		h.OnCatalogChange(c.Request().Context())
	}
}

// CreateBus handles POST /v1/admin/buses.
func (h *AdminHandler) CreateBus(c echo.Context) error {
	var in service.BusInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	b, err := h.buses.Create(c.Request().Context(), in)
	if err != nil {
		return writeError(c, h.log, err)
	}
	h.catalogChanged(c)
	return c.JSON(http.StatusCreated, b)
}

// UpdateBus handles PUT /v1/admin/buses/:id.  The body replaces every
// editable field.
func (h *AdminHandler) UpdateBus(c echo.Context) error {
	var in service.BusInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	b, err := h.buses.Update(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return writeError(c, h.log, err)
	}
	h.catalogChanged(c)
	return c.JSON(http.StatusOK, b)
}

// DeleteBus handles DELETE /v1/admin/buses/:id.
func (h *AdminHandler) DeleteBus(c echo.Context) error {
	if err := h.buses.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, h.log, err)
	}
	h.catalogChanged(c)
	return c.NoContent(http.StatusNoContent)
}

// ListBookings handles GET /v1/admin/bookings?status=.
func (h *AdminHandler) ListBookings(c echo.Context) error {
	items, err := h.bookings.ListBookings(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	if items == nil {
		items = []model.Booking{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

// Stats handles GET /v1/admin/stats.
func (h *AdminHandler) Stats(c echo.Context) error {
	st, err := h.bookings.Stats(c.Request().Context())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Sweep handles POST /v1/admin/sweep, freeing expired holds now instead
// of waiting for the next sweeper tick.
func (h *AdminHandler) Sweep(c echo.Context) error {
	n, err := h.ledger.SweepExpiredHolds(c.Request().Context())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": n})
}
