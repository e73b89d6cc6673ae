package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// AuditLog appends one human readable line per confirmed or cancelled
// booking to a file.  It is fed by consumers of the booking queues.
type AuditLog struct {
	path string
	mu   sync.Mutex
}

// NewAuditLog returns an AuditLog writing to path.  Parent directories
// are created on first write.
func NewAuditLog(path string) *AuditLog { return &AuditLog{path: path} }

// ConfirmedHandler consumes booking.confirmed.
func (a *AuditLog) ConfirmedHandler() Handler {
	return func(_ context.Context, body []byte) error {
		var ev BookingConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		return a.write(fmt.Sprintf("[%s] Booking confirmed | booking_id=%s | ref=%s | user_id=%s | bus=%s \"%s\" | route=%s-%s | date=%s %s | total=%d cents | seats=%s | version=%d\n",
			ev.ConfirmedAt, ev.BookingID, ev.BookingRef, ev.UserID, ev.BusID, ev.BusName, ev.Source, ev.Destination,
			ev.JourneyDate, ev.DepartureTime, ev.TotalAmountCents, seatList(ev.Seats), ev.LedgerVersion))
	}
}

// CancelledHandler consumes booking.cancelled.
func (a *AuditLog) CancelledHandler() Handler {
	return func(_ context.Context, body []byte) error {
		var ev BookingCancelledEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		return a.write(fmt.Sprintf("[%s] Booking cancelled | booking_id=%s | ref=%s | user_id=%s | bus=%s | date=%s | refunded=%t | reason=%s | seats=%s\n",
			ev.CancelledAt, ev.BookingID, ev.BookingRef, ev.UserID, ev.BusID, ev.JourneyDate, ev.Refunded, ev.Reason, seatList(ev.Seats)))
	}
}

func (a *AuditLog) write(line string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

func seatList(seats []string) string {
	return "[" + strings.Join(seats, ",") + "]"
}
