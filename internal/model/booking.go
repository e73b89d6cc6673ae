package model

import "time"

// Booking statuses.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
	BookingCompleted = "completed"
)

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentRefunded  = "refunded"
)

// Payment methods.
const (
	PaymentCard       = "card"
	PaymentUPI        = "upi"
	PaymentNetBanking = "netbanking"
)

// Passenger travelling on one seat of a booking.  Gender is M, F or O.
type Passenger struct {
	Name       string `json:"name"`
	Age        int    `json:"age"`
	Gender     string `json:"gender"`
	SeatNumber string `json:"seat_number"`
}

// Booking records a customer's purchase of one or more seats on a bus
// for a journey date.  The journey details are copied from the bus at
// booking time so later edits to the bus do not rewrite history.  The
// seats themselves are owned by the seat ledger; SelectedSeats is the
// booking's view of them and HolderToken is the hold they came from.
//
// Fields:
//  ID               – primary key (UUID).
//  BookingRef       – human readable reference, "BF-<unix millis>-<XXXX>".
//  UserID           – customer who made the booking.
//  Status           – pending, confirmed, cancelled or completed.
//  PaymentStatus    – pending, completed or refunded.
//  TotalAmountCents – fare × passengers.
type Booking struct {
	ID               string      `json:"id" gorm:"primaryKey;size:64"`
	BookingRef       string      `json:"booking_ref" gorm:"size:32;uniqueIndex"`
	UserID           string      `json:"user_id" gorm:"size:64;index"`
	BusID            string      `json:"bus_id" gorm:"size:64;index:idx_bus_date"`
	JourneyDate      time.Time   `json:"journey_date" gorm:"type:date;index:idx_bus_date"`
	Source           string      `json:"source" gorm:"size:64"`
	Destination      string      `json:"destination" gorm:"size:64"`
	DepartureTime    string      `json:"departure_time" gorm:"size:8"`
	ArrivalTime      string      `json:"arrival_time" gorm:"size:8"`
	BusName          string      `json:"bus_name" gorm:"size:128"`
	BusType          string      `json:"bus_type" gorm:"size:32"`
	Passengers       []Passenger `json:"passengers" gorm:"serializer:json"`
	SelectedSeats    []string    `json:"selected_seats" gorm:"serializer:json"`
	HolderToken      string      `json:"-" gorm:"size:128"`
	TotalAmountCents uint64      `json:"total_amount_cents"`
	PaymentStatus    string      `json:"payment_status" gorm:"size:16"`
	PaymentMethod    string      `json:"payment_method,omitempty" gorm:"size:16"`
	Status           string      `json:"status" gorm:"size:16;index"`
	CreatedAt        time.Time   `json:"created_at" gorm:"index"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// ValidPaymentMethod reports whether m is an accepted payment method.
// The empty string is accepted and means "not chosen yet".
func ValidPaymentMethod(m string) bool {
	switch m {
	case "", PaymentCard, PaymentUPI, PaymentNetBanking:
		return true
	}
	return false
}

// BookingStats aggregates bookings for the admin dashboard.
type BookingStats struct {
	TotalBookings     int64  `json:"total_bookings"`
	ConfirmedBookings int64  `json:"confirmed_bookings"`
	TotalRevenueCents uint64 `json:"total_revenue_cents"`
	TotalBuses        int64  `json:"total_buses"`
}
