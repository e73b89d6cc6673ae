package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// BookingRepo persists bookings through GORM.
type BookingRepo struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewBookingRepo returns a BookingRepo.  Call Migrate once at startup.
func NewBookingRepo(db *gorm.DB, log *zap.Logger) *BookingRepo {
	return &BookingRepo{db: db, log: log}
}

// Migrate creates or updates the bookings table.
func (r *BookingRepo) Migrate() error { return r.db.AutoMigrate(&model.Booking{}) }

// Create inserts a booking.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		r.log.Error("failed to save booking", zap.String("booking_id", b.ID), zap.Error(err))
		return unavailable(err)
	}
	r.log.Info("booking saved",
		zap.String("booking_id", b.ID),
		zap.String("bus_id", b.BusID),
		zap.Strings("seats", b.SelectedSeats),
	)
	return nil
}

// GetByID returns the booking or ErrBookingNotFound.
func (r *BookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &b, nil
}

// ListByUser returns the bookings of userID, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	var out []model.Booking
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Find(&out).Error
	return out, unavailable(err)
}

// List returns all bookings, newest first.  A non-empty status filters
// on booking status.
func (r *BookingRepo) List(ctx context.Context, status string) ([]model.Booking, error) {
	q := r.db.WithContext(ctx).Model(&model.Booking{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []model.Booking
	err := q.Order("created_at DESC").Find(&out).Error
	return out, unavailable(err)
}

// UpdateStatus moves a booking from one status to another.  The update
// only applies while the booking is still in from; otherwise ErrConflict
// (or ErrBookingNotFound) is returned so two concurrent transitions
// cannot both win.
func (r *BookingRepo) UpdateStatus(ctx context.Context, id, from, status, paymentStatus string) error {
	res := r.db.WithContext(ctx).Model(&model.Booking{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": status, "payment_status": paymentStatus})
	if res.Error != nil {
		r.log.Error("failed to update booking", zap.String("booking_id", id), zap.Error(res.Error))
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	r.log.Info("booking updated",
		zap.String("booking_id", id),
		zap.String("status", status),
		zap.String("payment_status", paymentStatus),
	)
	return nil
}

// Stats aggregates the booking table.  TotalBuses is left for the caller.
func (r *BookingRepo) Stats(ctx context.Context) (model.BookingStats, error) {
	var st model.BookingStats
	db := r.db.WithContext(ctx).Model(&model.Booking{})
	if err := db.Count(&st.TotalBookings).Error; err != nil {
		return st, unavailable(err)
	}
	if err := r.db.WithContext(ctx).Model(&model.Booking{}).
		Where("status = ?", model.BookingConfirmed).Count(&st.ConfirmedBookings).Error; err != nil {
		return st, unavailable(err)
	}
	var revenue struct{ Total uint64 }
	if err := r.db.WithContext(ctx).Model(&model.Booking{}).
		Select("COALESCE(SUM(total_amount_cents), 0) AS total").
		Where("status = ?", model.BookingConfirmed).Scan(&revenue).Error; err != nil {
		return st, unavailable(err)
	}
	st.TotalRevenueCents = revenue.Total
	return st, nil
}
