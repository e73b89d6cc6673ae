package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/bus-seat-reservation/internal/ledger"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// LedgerHandler exposes the seat ledger operations to other services.
// Every request names the bus, the journey date and the holder token
// explicitly; nothing is taken from the caller's session.
type LedgerHandler struct {
	ledger *ledger.Ledger
	log    *zap.Logger
}

func NewLedgerHandler(l *ledger.Ledger, log *zap.Logger) *LedgerHandler {
	if l == nil {
		panic("nil ledger passed to NewLedgerHandler")
	}
	return &LedgerHandler{ledger: l, log: log}
}

type ledgerRequest struct {
	BusID           string   `json:"bus_id"`
	JourneyDate     string   `json:"journey_date"`
	SeatIDs         []string `json:"seat_ids"`
	HolderToken     string   `json:"holder_token"`
	BookingID       string   `json:"booking_id"`
	Reason          string   `json:"reason"`
	HoldSeconds     int      `json:"hold_seconds"`
	ExpectedVersion *uint64  `json:"expected_version"`
}

// bind decodes the body and its journey date.  A non-empty problem is
// the message for a 400.
func bind(c echo.Context) (body ledgerRequest, date time.Time, problem string) {
	if err := c.Bind(&body); err != nil {
		return body, date, "invalid request body"
	}
	date, err := model.ParseDate(body.JourneyDate)
	if err != nil {
		return body, date, err.Error()
	}
	return body, date, ""
}

// Reserve handles POST /v1/ledger/reserve.
func (h *LedgerHandler) Reserve(c echo.Context) error {
	body, date, problem := bind(c)
	if problem != "" {
		return badRequest(c, problem)
	}
	res, err := h.ledger.Reserve(c.Request().Context(), ledger.ReserveRequest{
		BusID:           body.BusID,
		JourneyDate:     date,
		SeatIDs:         body.SeatIDs,
		HolderToken:     body.HolderToken,
		HoldDuration:    time.Duration(body.HoldSeconds) * time.Second,
		ExpectedVersion: body.ExpectedVersion,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Confirm handles POST /v1/ledger/confirm.
func (h *LedgerHandler) Confirm(c echo.Context) error {
	body, date, problem := bind(c)
	if problem != "" {
		return badRequest(c, problem)
	}
	res, err := h.ledger.Confirm(c.Request().Context(), ledger.ConfirmRequest{
		BusID:           body.BusID,
		JourneyDate:     date,
		SeatIDs:         body.SeatIDs,
		HolderToken:     body.HolderToken,
		BookingID:       body.BookingID,
		ExpectedVersion: body.ExpectedVersion,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Release handles POST /v1/ledger/release.  reason is one of
// hold_released, hold_expired or booking_cancelled.
func (h *LedgerHandler) Release(c echo.Context) error {
	body, date, problem := bind(c)
	if problem != "" {
		return badRequest(c, problem)
	}
	res, err := h.ledger.Release(c.Request().Context(), ledger.ReleaseRequest{
		BusID:       body.BusID,
		JourneyDate: date,
		SeatIDs:     body.SeatIDs,
		Reason:      ledger.ReleaseReason(body.Reason),
		HolderToken: body.HolderToken,
		BookingID:   body.BookingID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Booked handles GET /v1/ledger/booked?bus_id=&date=.
func (h *LedgerHandler) Booked(c echo.Context) error {
	date, err := model.ParseDate(c.QueryParam("date"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	busID := c.QueryParam("bus_id")
	seats, err := h.ledger.QueryBooked(c.Request().Context(), busID, date)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if seats == nil {
		seats = []string{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"bus_id":       busID,
		"journey_date": date.Format(model.DateLayout),
		"seats":        seats,
	})
}
