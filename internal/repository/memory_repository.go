package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// MemoryBusRepo is an in-memory BusRepo used with DB_DRIVER=memory and in
// tests.
type MemoryBusRepo struct {
	mu   sync.RWMutex
	data map[string]model.Bus
}

func NewMemoryBusRepo() *MemoryBusRepo {
	return &MemoryBusRepo{data: make(map[string]model.Bus)}
}

func (r *MemoryBusRepo) Create(_ context.Context, b *model.Bus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[b.ID]; exists {
		return errors.New("bus already exists")
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	r.data[b.ID] = copyBus(*b)
	return nil
}

func (r *MemoryBusRepo) GetByID(_ context.Context, id string) (*model.Bus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.data[id]
	if !ok {
		return nil, ErrBusNotFound
	}
	out := copyBus(b)
	return &out, nil
}

func (r *MemoryBusRepo) Search(_ context.Context, source, destination string) ([]model.Bus, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	destination = strings.ToLower(strings.TrimSpace(destination))
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Bus, 0, len(r.data))
	for _, b := range r.data {
		if source != "" && strings.ToLower(b.Source) != source {
			continue
		}
		if destination != "" && strings.ToLower(b.Destination) != destination {
			continue
		}
		out = append(out, copyBus(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DepartureTime != out[j].DepartureTime {
			return out[i].DepartureTime < out[j].DepartureTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryBusRepo) Update(_ context.Context, b *model.Bus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.data[b.ID]
	if !ok {
		return ErrBusNotFound
	}
	b.CreatedAt = cur.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	r.data[b.ID] = copyBus(*b)
	return nil
}

func (r *MemoryBusRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[id]; !ok {
		return ErrBusNotFound
	}
	delete(r.data, id)
	return nil
}

func (r *MemoryBusRepo) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.data)), nil
}

func (r *MemoryBusRepo) SeatLayout(ctx context.Context, busID string) (model.SeatLayout, error) {
	b, err := r.GetByID(ctx, busID)
	if err != nil {
		return model.SeatLayout{}, err
	}
	return b.Layout, nil
}

func copyBus(b model.Bus) model.Bus {
	b.Amenities = append([]string(nil), b.Amenities...)
	return b
}

// MemoryBookingRepo is an in-memory BookingRepo.
type MemoryBookingRepo struct {
	mu   sync.RWMutex
	data map[string]model.Booking
}

func NewMemoryBookingRepo() *MemoryBookingRepo {
	return &MemoryBookingRepo{data: make(map[string]model.Booking)}
}

func (r *MemoryBookingRepo) Create(_ context.Context, b *model.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[b.ID]; exists {
		return errors.New("booking already exists")
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	b.UpdatedAt = b.CreatedAt
	r.data[b.ID] = copyBooking(*b)
	return nil
}

func (r *MemoryBookingRepo) GetByID(_ context.Context, id string) (*model.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.data[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	out := copyBooking(b)
	return &out, nil
}

func (r *MemoryBookingRepo) ListByUser(_ context.Context, userID string) ([]model.Booking, error) {
	return r.filter(func(b model.Booking) bool { return b.UserID == userID }), nil
}

func (r *MemoryBookingRepo) List(_ context.Context, status string) ([]model.Booking, error) {
	return r.filter(func(b model.Booking) bool { return status == "" || b.Status == status }), nil
}

func (r *MemoryBookingRepo) filter(keep func(model.Booking) bool) []model.Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Booking
	for _, b := range r.data {
		if keep(b) {
			out = append(out, copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *MemoryBookingRepo) UpdateStatus(_ context.Context, id, from, status, paymentStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.data[id]
	if !ok {
		return ErrBookingNotFound
	}
	if b.Status != from {
		return ErrConflict
	}
	b.Status = status
	b.PaymentStatus = paymentStatus
	b.UpdatedAt = time.Now().UTC()
	r.data[id] = b
	return nil
}

func (r *MemoryBookingRepo) Stats(_ context.Context) (model.BookingStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var st model.BookingStats
	for _, b := range r.data {
		st.TotalBookings++
		if b.Status == model.BookingConfirmed {
			st.ConfirmedBookings++
			st.TotalRevenueCents += b.TotalAmountCents
		}
	}
	return st, nil
}

func copyBooking(b model.Booking) model.Booking {
	b.Passengers = append([]model.Passenger(nil), b.Passengers...)
	b.SelectedSeats = append([]string(nil), b.SelectedSeats...)
	return b
}
