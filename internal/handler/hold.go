package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/bus-seat-reservation/internal/ledger"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

// HoldHandler lets customers hold and release seats on a bus while they
// fill in passenger details.  The holder token returned by Hold must be
// passed to later hold, release and booking calls of the same checkout.
type HoldHandler struct {
	ledger *ledger.Ledger
	log    *zap.Logger
}

func NewHoldHandler(l *ledger.Ledger, log *zap.Logger) *HoldHandler {
	if l == nil {
		panic("nil ledger passed to NewHoldHandler")
	}
	return &HoldHandler{ledger: l, log: log}
}

type holdRequest struct {
	JourneyDate     string   `json:"journey_date"`
	Seats           []string `json:"seats"`
	HolderToken     string   `json:"holder_token"`
	HoldSeconds     int      `json:"hold_seconds"`
	ExpectedVersion *uint64  `json:"expected_version"`
}

// Hold handles POST /v1/buses/:id/holds.  A fresh holder token is minted
// when the body carries none.  Returns 201 with the hold.
func (h *HoldHandler) Hold(c echo.Context) error {
	var body holdRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	date, err := model.ParseDate(body.JourneyDate)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if body.HolderToken == "" {
		tok, err := utils.NewHolderToken()
		if err != nil {
			return writeError(c, h.log, err)
		}
		body.HolderToken = tok
	}
	res, err := h.ledger.Reserve(c.Request().Context(), ledger.ReserveRequest{
		BusID:           c.Param("id"),
		JourneyDate:     date,
		SeatIDs:         body.Seats,
		HolderToken:     body.HolderToken,
		HoldDuration:    time.Duration(body.HoldSeconds) * time.Second,
		ExpectedVersion: body.ExpectedVersion,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, res)
}

type releaseRequest struct {
	JourneyDate string   `json:"journey_date"`
	Seats       []string `json:"seats"`
	HolderToken string   `json:"holder_token"`
}

// Release handles DELETE /v1/buses/:id/holds.  Only seats held by the
// given token are freed; the rest are ignored.
func (h *HoldHandler) Release(c echo.Context) error {
	var body releaseRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	date, err := model.ParseDate(body.JourneyDate)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if body.HolderToken == "" {
		return badRequest(c, "holder_token is required")
	}
	res, err := h.ledger.Release(c.Request().Context(), ledger.ReleaseRequest{
		BusID:       c.Param("id"),
		JourneyDate: date,
		SeatIDs:     body.Seats,
		Reason:      ledger.ReasonHoldReleased,
		HolderToken: body.HolderToken,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}
