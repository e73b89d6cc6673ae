package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// SweepExpiredHolds frees expired holds in every seat map that is not
// archived yet and returns how many seats were freed.  Each map is
// swept under the same lock and compare-and-set as any other mutation,
// so a confirm racing the sweep either commits first or sees the seat
// gone.  A failing map does not stop the sweep; the first error is
// returned with the count of the maps that succeeded.
func (l *Ledger) SweepExpiredHolds(ctx context.Context) (int, error) {
	since := l.clock.Now().Add(-l.cfg.ArchiveAfter)
	keys, err := l.store.Keys(ctx, since)
	if err != nil {
		return 0, unavailable(err)
	}
	var (
		total    int
		firstErr error
	)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var freed int
		_, err := l.mutate(ctx, key, func(m *model.SeatMap, now time.Time) (bool, error) {
			freed = purgeExpired(m, now)
			return freed > 0, nil
		})
		if err != nil {
			l.log.Warn("sweep failed", zap.String("seat_map", key.String()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += freed
	}
	if total > 0 {
		l.log.Info("expired holds swept", zap.Int("seats", total), zap.Int("seat_maps", len(keys)))
	}
	return total, firstErr
}

// RunSweeper calls SweepExpiredHolds every interval until ctx is done.
// A non-positive interval returns immediately.
func (l *Ledger) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := l.SweepExpiredHolds(ctx); err != nil && ctx.Err() == nil {
				l.log.Warn("sweep incomplete", zap.Error(err))
			}
		}
	}
}
