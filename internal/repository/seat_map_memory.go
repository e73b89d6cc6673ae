package repository

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// MemorySeatMapStore keeps seat maps in process memory.  It is used by
// tests and by LEDGER_STORE=memory for local runs.  Maps are copied on
// the way in and out so callers never share state with the store.
type MemorySeatMapStore struct {
	mu   sync.RWMutex
	maps map[model.SeatMapKey]*model.SeatMap
}

// NewMemorySeatMapStore returns an empty store.
func NewMemorySeatMapStore() *MemorySeatMapStore {
	return &MemorySeatMapStore{maps: make(map[model.SeatMapKey]*model.SeatMap)}
}

// Load returns a copy of the stored map, or an empty map at version 0
// when none exists yet.
func (s *MemorySeatMapStore) Load(ctx context.Context, key model.SeatMapKey) (*model.SeatMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.maps[key]; ok {
		return m.Clone(), nil
	}
	return model.NewSeatMap(key), nil
}

// Save stores m if the current version equals expected.
func (s *MemorySeatMapStore) Save(ctx context.Context, m *model.SeatMap, expected uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := m.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	var current uint64
	if cur, ok := s.maps[key]; ok {
		current = cur.Version
	}
	if current != expected {
		return ErrVersionConflict
	}
	s.maps[key] = m.Clone()
	return nil
}

// Keys lists the keys of all maps whose journey date is on or after since.
func (s *MemorySeatMapStore) Keys(ctx context.Context, since time.Time) ([]model.SeatMapKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	since = model.TruncateDate(since)
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]model.SeatMapKey, 0, len(s.maps))
	for k := range s.maps {
		if !k.JourneyDate.Before(since) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
