// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish between different failure
// scenarios. For example, ErrForbidden indicates that the current user
// is not authorized to act on a booking owned by someone else, while
// ErrVersionConflict signals that a seat map changed between load and
// save and the caller must reload before retrying.
package repository

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because of
// conflicting state, such as cancelling a booking that is already
// cancelled. Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrVersionConflict is returned by seat map stores when the stored
// version no longer matches the version the caller loaded.
var ErrVersionConflict = errors.New("seat map version conflict")

// ErrBusNotFound is returned when a bus lookup yields no rows.
var ErrBusNotFound = errors.New("bus not found")

// ErrBookingNotFound is returned when a booking lookup yields no rows.
var ErrBookingNotFound = errors.New("booking not found")

// ErrUnavailable wraps database failures of the bus and booking stores,
// so callers can tell an outage from a domain error and try again.
var ErrUnavailable = errors.New("database unavailable")

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
