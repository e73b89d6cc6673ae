package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/bus-seat-reservation/internal/ledger"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Seats   []string `json:"seats,omitempty"`
}

// classify maps an error to its HTTP status and error code.  Ledger
// kinds are checked before the repository ones; a SeatError unwraps to
// its kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrSeatConflict):
		return http.StatusConflict, "seat_conflict"
	case errors.Is(err, ledger.ErrHoldExpired):
		return http.StatusGone, "hold_expired"
	case errors.Is(err, ledger.ErrHoldMismatch):
		return http.StatusForbidden, "hold_mismatch"
	case errors.Is(err, ledger.ErrNotHeld):
		return http.StatusConflict, "not_held"
	case errors.Is(err, ledger.ErrStaleVersion):
		return http.StatusPreconditionFailed, "stale_version"
	case errors.Is(err, ledger.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ledger.ErrStoreUnavailable), errors.Is(err, repository.ErrUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, repository.ErrBusNotFound), errors.Is(err, repository.ErrBookingNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError renders err.  Unclassified errors are logged and their
// text is not sent to the client.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	status, code := classify(err)
	body := errorBody{Error: code, Message: err.Error(), Seats: ledger.SeatsOf(err)}
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		body.Message = "internal error"
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: msg})
}
