package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

// BookingHandler serves the customer booking endpoints.  All methods
// assume JWTAuth has run; the caller is read with middleware.UserID.
type BookingHandler struct {
	bookings *service.BookingService
	log      *zap.Logger
}

func NewBookingHandler(bookings *service.BookingService, log *zap.Logger) *BookingHandler {
	if bookings == nil {
		panic("nil booking service passed to NewBookingHandler")
	}
	return &BookingHandler{bookings: bookings, log: log}
}

type createBookingRequest struct {
	BusID         string            `json:"bus_id"`
	JourneyDate   string            `json:"journey_date"`
	HolderToken   string            `json:"holder_token"`
	Passengers    []model.Passenger `json:"passengers"`
	PaymentMethod string            `json:"payment_method"`
}

// Create handles POST /v1/bookings.  The seats named by the passengers
// must be held by holder_token.  The booking starts pending.
func (h *BookingHandler) Create(c echo.Context) error {
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	date, err := model.ParseDate(body.JourneyDate)
	if err != nil {
		return badRequest(c, err.Error())
	}
	b, err := h.bookings.CreateBooking(c.Request().Context(), service.CreateBookingInput{
		UserID:        middleware.UserID(c),
		BusID:         body.BusID,
		JourneyDate:   date,
		HolderToken:   body.HolderToken,
		Passengers:    body.Passengers,
		PaymentMethod: body.PaymentMethod,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// List handles GET /v1/bookings, newest first.
func (h *BookingHandler) List(c echo.Context) error {
	items, err := h.bookings.ListUserBookings(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	if items == nil {
		items = []model.Booking{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	b, err := h.bookings.GetBooking(c.Request().Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Pay handles POST /v1/bookings/:id/pay.  Payment is simulated as
// successful; the held seats are then confirmed in the ledger.
func (h *BookingHandler) Pay(c echo.Context) error {
	b, err := h.bookings.ConfirmPayment(c.Request().Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Cancel handles DELETE /v1/bookings/:id and frees the booking's seats.
func (h *BookingHandler) Cancel(c echo.Context) error {
	b, err := h.bookings.CancelBooking(c.Request().Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, b)
}
