// Package service holds the application logic that sits between the HTTP
// handlers and the stores: bus catalogue management and the booking
// lifecycle that drives the seat ledger.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/bus-seat-reservation/internal/ledger"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// BusStore is the bus catalogue.
type BusStore interface {
	Create(ctx context.Context, b *model.Bus) error
	GetByID(ctx context.Context, id string) (*model.Bus, error)
	Search(ctx context.Context, source, destination string) ([]model.Bus, error)
	Update(ctx context.Context, b *model.Bus) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// BusInput is the writable part of a bus.
type BusInput struct {
	BusNumber     string           `json:"bus_number"`
	Name          string           `json:"name"`
	Type          string           `json:"type"`
	Source        string           `json:"source"`
	Destination   string           `json:"destination"`
	DepartureTime string           `json:"departure_time"`
	ArrivalTime   string           `json:"arrival_time"`
	PriceCents    uint32           `json:"price_cents"`
	Rating        float64          `json:"rating"`
	Operator      string           `json:"operator"`
	Amenities     []string         `json:"amenities"`
	Layout        model.SeatLayout `json:"seat_layout"`
}

func (in BusInput) validate() error {
	switch {
	case strings.TrimSpace(in.BusNumber) == "":
		return invalid("bus_number is required")
	case strings.TrimSpace(in.Name) == "":
		return invalid("name is required")
	case !model.ValidBusType(in.Type):
		return invalid("type must be one of AC, Non-AC, Sleeper, Semi-Sleeper")
	case strings.TrimSpace(in.Source) == "" || strings.TrimSpace(in.Destination) == "":
		return invalid("source and destination are required")
	case strings.EqualFold(strings.TrimSpace(in.Source), strings.TrimSpace(in.Destination)):
		return invalid("source and destination must differ")
	case in.PriceCents == 0:
		return invalid("price_cents must be positive")
	case in.Rating < 0 || in.Rating > 5:
		return invalid("rating must be between 0 and 5")
	case in.Layout.Rows < 1 || in.Layout.Rows > 26:
		return invalid("seat_layout.rows must be between 1 and 26")
	case in.Layout.SeatsPerRow < 1 || in.Layout.SeatsPerRow > 10:
		return invalid("seat_layout.seats_per_row must be between 1 and 10")
	case in.Layout.AisleAfter < 0 || in.Layout.AisleAfter >= in.Layout.SeatsPerRow:
		return invalid("seat_layout.aisle_after must be below seats_per_row")
	}
	for _, t := range []string{in.DepartureTime, in.ArrivalTime} {
		if _, err := time.Parse("15:04", t); err != nil {
			return invalid("departure_time and arrival_time must be HH:MM")
		}
	}
	return nil
}

func (in BusInput) apply(b *model.Bus) {
	b.BusNumber = strings.TrimSpace(in.BusNumber)
	b.Name = strings.TrimSpace(in.Name)
	b.Type = in.Type
	b.Source = strings.TrimSpace(in.Source)
	b.Destination = strings.TrimSpace(in.Destination)
	b.DepartureTime = in.DepartureTime
	b.ArrivalTime = in.ArrivalTime
	b.PriceCents = in.PriceCents
	b.Rating = in.Rating
	b.Operator = in.Operator
	b.Amenities = in.Amenities
	b.Layout = in.Layout
	b.TotalSeats = in.Layout.Capacity()
}

// SeatView is the seat picker's view of one bus on one date.
type SeatView struct {
	BusID       string           `json:"bus_id"`
	JourneyDate string           `json:"journey_date"`
	Layout      model.SeatLayout `json:"seat_layout"`
	TotalSeats  int              `json:"total_seats"`
	Available   int              `json:"available"`
	Unavailable []string         `json:"unavailable"`
	Version     uint64           `json:"version"`
	PriceCents  uint32           `json:"price_cents"`
}

// BusService manages the bus catalogue and answers seat availability.
type BusService struct {
	buses  BusStore
	ledger *ledger.Ledger
}

func NewBusService(buses BusStore, l *ledger.Ledger) *BusService {
	return &BusService{buses: buses, ledger: l}
}

func (s *BusService) Search(ctx context.Context, source, destination string) ([]model.Bus, error) {
	return s.buses.Search(ctx, source, destination)
}

func (s *BusService) Get(ctx context.Context, id string) (*model.Bus, error) {
	return s.buses.GetByID(ctx, id)
}

func (s *BusService) Create(ctx context.Context, in BusInput) (*model.Bus, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	b := &model.Bus{ID: uuid.NewString()}
	in.apply(b)
	if err := s.buses.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Update replaces a bus.  Layout changes apply to future holds only;
// seats already held or booked outside the new layout stay as they are.
func (s *BusService) Update(ctx context.Context, id string, in BusInput) (*model.Bus, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	b, err := s.buses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(b)
	if err := s.buses.Update(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BusService) Delete(ctx context.Context, id string) error {
	return s.buses.Delete(ctx, id)
}

// Seats returns the layout together with the seats that are taken on
// the journey date, read from one ledger snapshot.
func (s *BusService) Seats(ctx context.Context, busID string, journeyDate time.Time) (SeatView, error) {
	b, err := s.buses.GetByID(ctx, busID)
	if err != nil {
		return SeatView{}, err
	}
	m, err := s.ledger.Snapshot(ctx, busID, journeyDate)
	if err != nil {
		return SeatView{}, err
	}
	taken := m.Unavailable(s.ledger.Now())
	available := b.Layout.Capacity() - len(taken)
	if available < 0 {
		available = 0
	}
	return SeatView{
		BusID:       b.ID,
		JourneyDate: m.Key().Date(),
		Layout:      b.Layout,
		TotalSeats:  b.Layout.Capacity(),
		Available:   available,
		Unavailable: taken,
		Version:     m.Version,
		PriceCents:  b.PriceCents,
	}, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ledger.ErrInvalidRequest, fmt.Sprintf(format, args...))
}
