package repository

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// BusRepo persists buses through GORM.  It works on any dialect GORM
// was opened with (MySQL in production, Postgres where DB_DRIVER asks
// for it).
type BusRepo struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewBusRepo returns a BusRepo.  Call Migrate once at startup.
func NewBusRepo(db *gorm.DB, log *zap.Logger) *BusRepo {
	return &BusRepo{db: db, log: log}
}

// Migrate creates or updates the buses table.
func (r *BusRepo) Migrate() error { return r.db.AutoMigrate(&model.Bus{}) }

// Create inserts a new bus.
func (r *BusRepo) Create(ctx context.Context, b *model.Bus) error {
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		r.log.Error("failed to save bus", zap.String("bus_id", b.ID), zap.Error(err))
		return unavailable(err)
	}
	r.log.Info("bus saved", zap.String("bus_id", b.ID), zap.String("route", b.Source+"-"+b.Destination))
	return nil
}

// GetByID returns the bus or ErrBusNotFound.
func (r *BusRepo) GetByID(ctx context.Context, id string) (*model.Bus, error) {
	var b model.Bus
	err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBusNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &b, nil
}

// Search lists buses, optionally filtered by source and destination
// (case-insensitive exact match), ordered by departure time.
func (r *BusRepo) Search(ctx context.Context, source, destination string) ([]model.Bus, error) {
	q := r.db.WithContext(ctx).Model(&model.Bus{})
	if s := strings.TrimSpace(source); s != "" {
		q = q.Where("LOWER(source) = ?", strings.ToLower(s))
	}
	if d := strings.TrimSpace(destination); d != "" {
		q = q.Where("LOWER(destination) = ?", strings.ToLower(d))
	}
	var buses []model.Bus
	if err := q.Order("departure_time ASC").Order("id ASC").Find(&buses).Error; err != nil {
		r.log.Error("failed to search buses", zap.String("source", source), zap.String("destination", destination), zap.Error(err))
		return nil, unavailable(err)
	}
	return buses, nil
}

// Update overwrites every column of an existing bus.
func (r *BusRepo) Update(ctx context.Context, b *model.Bus) error {
	res := r.db.WithContext(ctx).Model(&model.Bus{}).Where("id = ?", b.ID).
		Select("*").Omit("id", "created_at").Updates(b)
	if res.Error != nil {
		r.log.Error("failed to update bus", zap.String("bus_id", b.ID), zap.Error(res.Error))
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrBusNotFound
	}
	r.log.Info("bus updated", zap.String("bus_id", b.ID))
	return nil
}

// Delete removes a bus.
func (r *BusRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&model.Bus{}, "id = ?", id)
	if res.Error != nil {
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrBusNotFound
	}
	r.log.Info("bus deleted", zap.String("bus_id", id))
	return nil
}

// Count returns the number of buses.
func (r *BusRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Bus{}).Count(&n).Error
	return n, unavailable(err)
}

// SeatLayout returns the layout of a bus so the ledger can validate seat
// ids.
func (r *BusRepo) SeatLayout(ctx context.Context, busID string) (model.SeatLayout, error) {
	b, err := r.GetByID(ctx, busID)
	if err != nil {
		return model.SeatLayout{}, err
	}
	return b.Layout, nil
}
