package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

// BusHandler serves the public bus catalogue and seat availability.
type BusHandler struct {
	buses *service.BusService
	log   *zap.Logger
}

func NewBusHandler(buses *service.BusService, log *zap.Logger) *BusHandler {
	if buses == nil {
		panic("nil bus service passed to NewBusHandler")
	}
	return &BusHandler{buses: buses, log: log}
}

// Search handles GET /v1/buses?source=&destination=.  Both filters are
// optional and case insensitive.
func (h *BusHandler) Search(c echo.Context) error {
	buses, err := h.buses.Search(c.Request().Context(), c.QueryParam("source"), c.QueryParam("destination"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	if buses == nil {
		buses = []model.Bus{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": buses, "count": len(buses)})
}

// Get handles GET /v1/buses/:id.
func (h *BusHandler) Get(c echo.Context) error {
	b, err := h.buses.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Seats handles GET /v1/buses/:id/seats?date=YYYY-MM-DD.  The response
// carries the seat map version, which clients may send back as
// expected_version when holding seats.
func (h *BusHandler) Seats(c echo.Context) error {
	date, err := model.ParseDate(c.QueryParam("date"))
	if err != nil {
		return badRequest(c, "date must be YYYY-MM-DD")
	}
	view, err := h.buses.Seats(c.Request().Context(), c.Param("id"), date)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if view.Unavailable == nil {
		view.Unavailable = []string{}
	}
	return c.JSON(http.StatusOK, view)
}
