package model

import "time"

// Bus types offered by operators.
const (
	BusTypeAC          = "AC"
	BusTypeNonAC       = "Non-AC"
	BusTypeSleeper     = "Sleeper"
	BusTypeSemiSleeper = "Semi-Sleeper"
)

// Bus is a scheduled route served daily by one vehicle.  Seat
// availability is not stored here; it lives in the seat map of each
// journey date.  This struct corresponds to a row in the `buses` table.
//
// Fields:
//  ID            – primary key identifier.
//  BusNumber     – registration / fleet number shown on tickets.
//  Name          – display name.
//  Type          – one of the BusType* constants.
//  Source        – departure city.
//  Destination   – arrival city.
//  DepartureTime – local departure time (HH:MM).
//  ArrivalTime   – local arrival time (HH:MM).
//  PriceCents    – fare per seat in the smallest currency unit.
//  Layout        – seating grid; TotalSeats is derived from it.
type Bus struct {
	ID            string     `json:"id" gorm:"primaryKey;size:64"`
	BusNumber     string     `json:"bus_number" gorm:"size:32;index"`
	Name          string     `json:"name" gorm:"size:128"`
	Type          string     `json:"type" gorm:"size:32"`
	Source        string     `json:"source" gorm:"size:64;index:idx_route"`
	Destination   string     `json:"destination" gorm:"size:64;index:idx_route"`
	DepartureTime string     `json:"departure_time" gorm:"size:8"`
	ArrivalTime   string     `json:"arrival_time" gorm:"size:8"`
	TotalSeats    int        `json:"total_seats"`
	PriceCents    uint32     `json:"price_cents"`
	Rating        float64    `json:"rating"`
	Operator      string     `json:"operator,omitempty" gorm:"size:128"`
	Amenities     []string   `json:"amenities,omitempty" gorm:"serializer:json"`
	Layout        SeatLayout `json:"seat_layout" gorm:"embedded"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ValidBusType reports whether t is a known bus type.
func ValidBusType(t string) bool {
	switch t {
	case BusTypeAC, BusTypeNonAC, BusTypeSleeper, BusTypeSemiSleeper:
		return true
	}
	return false
}
