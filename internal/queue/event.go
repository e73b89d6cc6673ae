// Package queue defines message payloads exchanged over the message broker
// and the RabbitMQ publisher and consumers that carry them.
package queue

// Queue names.  Every queue is durable and bound to the default exchange,
// so the routing key is the queue name.
const (
	QueueBookingConfirmed = "booking.confirmed"
	QueueBookingCancelled = "booking.cancelled"
	QueuePaymentSucceeded = "payment.succeeded"
)

// BookingConfirmedEvent is published when a booking's seats are committed
// in the seat ledger and the booking is marked confirmed.  It carries
// enough of the journey for downstream consumers to log or notify without
// querying the primary database.
type BookingConfirmedEvent struct {
	BookingID        string   `json:"booking_id"`
	BookingRef       string   `json:"booking_ref"`
	UserID           string   `json:"user_id"`
	BusID            string   `json:"bus_id"`
	BusName          string   `json:"bus_name"`
	Source           string   `json:"source"`
	Destination      string   `json:"destination"`
	JourneyDate      string   `json:"journey_date"`
	DepartureTime    string   `json:"departure_time"`
	Seats            []string `json:"seats"`
	TotalAmountCents uint64   `json:"total_amount_cents"`
	LedgerVersion    uint64   `json:"ledger_version"`
	ConfirmedAt      string   `json:"confirmed_at"`
}

// BookingCancelledEvent is published after a booking is cancelled and its
// seats were handed back to the ledger.
type BookingCancelledEvent struct {
	BookingID   string   `json:"booking_id"`
	BookingRef  string   `json:"booking_ref"`
	UserID      string   `json:"user_id"`
	BusID       string   `json:"bus_id"`
	JourneyDate string   `json:"journey_date"`
	Seats       []string `json:"seats"`
	Refunded    bool     `json:"refunded"`
	Reason      string   `json:"reason"`
	CancelledAt string   `json:"cancelled_at"`
}

// PaymentSucceededEvent is the payment confirmation signal sent by the
// payment side once a booking has been paid.
type PaymentSucceededEvent struct {
	BookingID   string `json:"booking_id"`
	PaymentID   string `json:"payment_id"`
	AmountCents uint64 `json:"amount_cents"`
	PaidAt      string `json:"paid_at"`
}
