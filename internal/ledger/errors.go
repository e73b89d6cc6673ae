package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by the ledger.  Seat specific failures are
// returned as *SeatError, which unwraps to one of these, so callers can
// test with errors.Is and recover the seats with errors.As.
var (
	ErrSeatConflict     = errors.New("seat conflict")
	ErrHoldExpired      = errors.New("hold expired")
	ErrHoldMismatch     = errors.New("seat held by another holder")
	ErrNotHeld          = errors.New("seat not held")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrStaleVersion     = errors.New("stale seat map version")
	ErrStoreUnavailable = errors.New("seat store unavailable")
)

// SeatError reports the seats that caused an operation to fail.
type SeatError struct {
	Kind  error
	Seats []string
}

func (e *SeatError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, strings.Join(e.Seats, ", "))
}

func (e *SeatError) Unwrap() error { return e.Kind }

// SeatsOf returns the seats attached to err, or nil.
func SeatsOf(err error) []string {
	var se *SeatError
	if errors.As(err, &se) {
		return se.Seats
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
