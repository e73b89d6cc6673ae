// Package ledger arbitrates seat reservations for every bus and journey
// date.  Each (bus, date) pair owns one seat map; a seat is FREE, HELD by
// a holder token until an expiry, or BOOKED by a booking.  Mutations of
// one map are serialised by an in-process lock and by the store's
// compare-and-set on the map version, so no seat can be granted twice
// even when several processes share a store.  Reads never take the lock.
package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// Store persists seat maps.  Load returns an empty map at version 0 for
// a map that was never saved.  Save must fail with
// repository.ErrVersionConflict when the stored version is not expected.
type Store interface {
	Load(ctx context.Context, key model.SeatMapKey) (*model.SeatMap, error)
	Save(ctx context.Context, m *model.SeatMap, expected uint64) error
	Keys(ctx context.Context, since time.Time) ([]model.SeatMapKey, error)
}

// Catalog resolves the seat layout of a bus.  When set, reserve rejects
// unknown buses and seats outside the layout.
type Catalog interface {
	SeatLayout(ctx context.Context, busID string) (model.SeatLayout, error)
}

// ReleaseReason names why seats are released.  It decides which prior
// state a seat must be in to be freed.
type ReleaseReason string

const (
	ReasonHoldReleased     ReleaseReason = "hold_released"
	ReasonHoldExpired      ReleaseReason = "hold_expired"
	ReasonBookingCancelled ReleaseReason = "booking_cancelled"
)

// ReserveRequest asks for a hold on SeatIDs.  HoldDuration <= 0 uses the
// configured default.  A non-nil ExpectedVersion must match the current
// map version; zero asserts the map was never written.
type ReserveRequest struct {
	BusID           string
	JourneyDate     time.Time
	SeatIDs         []string
	HolderToken     string
	HoldDuration    time.Duration
	ExpectedVersion *uint64
}

// HoldResult describes a granted hold.
type HoldResult struct {
	BusID       string    `json:"bus_id"`
	JourneyDate string    `json:"journey_date"`
	Seats       []string  `json:"seats"`
	HolderToken string    `json:"holder_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Version     uint64    `json:"version"`
}

// ConfirmRequest turns the holder's seats into a booking.
type ConfirmRequest struct {
	BusID           string
	JourneyDate     time.Time
	SeatIDs         []string
	HolderToken     string
	BookingID       string
	ExpectedVersion *uint64
}

// ConfirmResult reports a committed booking.  Replayed is set when the
// seats were already booked by the same request; Version is then the
// version of the original commit.
type ConfirmResult struct {
	BusID       string   `json:"bus_id"`
	JourneyDate string   `json:"journey_date"`
	Seats       []string `json:"seats"`
	BookingID   string   `json:"booking_id"`
	Version     uint64   `json:"version"`
	Replayed    bool     `json:"replayed"`
}

// ReleaseRequest frees seats.  HolderToken and BookingID, when set, limit
// the release to seats held by that token or booked by that booking.
type ReleaseRequest struct {
	BusID       string
	JourneyDate time.Time
	SeatIDs     []string
	Reason      ReleaseReason
	HolderToken string
	BookingID   string
}

// ReleaseResult lists the seats that were actually freed.
type ReleaseResult struct {
	Released []string `json:"released"`
	Version  uint64   `json:"version"`
}

// Ledger is the seat inventory ledger.
type Ledger struct {
	store   Store
	catalog Catalog
	clock   Clock
	log     *zap.Logger
	cfg     config.LedgerConfig
	locks   *keyLocks
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithCatalog validates reserved seats against bus layouts.
func WithCatalog(c Catalog) Option { return func(l *Ledger) { l.catalog = c } }

// WithClock replaces the system clock.
func WithClock(c Clock) Option { return func(l *Ledger) { l.clock = c } }

// WithLogger sets the logger.  The default discards everything.
func WithLogger(log *zap.Logger) Option { return func(l *Ledger) { l.log = log } }

// New returns a ledger over store.  Zero fields of cfg take their
// defaults.
func New(store Store, cfg config.LedgerConfig, opts ...Option) *Ledger {
	def := config.DefaultLedgerConfig()
	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = def.HoldDuration
	}
	if cfg.HoldMax <= 0 {
		cfg.HoldMax = def.HoldMax
	}
	if cfg.MaxSeats <= 0 {
		cfg.MaxSeats = def.MaxSeats
	}
	if cfg.CASAttempts <= 0 {
		cfg.CASAttempts = def.CASAttempts
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = def.ArchiveAfter
	}
	l := &Ledger{
		store: store,
		clock: SystemClock,
		log:   zap.NewNop(),
		cfg:   cfg,
		locks: newKeyLocks(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Config returns the effective configuration.
func (l *Ledger) Config() config.LedgerConfig { return l.cfg }

// Reserve places a hold on every requested seat or on none.  A seat
// qualifies when it is free, its hold has expired, or it is already held
// by the same holder token (the hold is then refreshed).  Otherwise the
// call fails with a *SeatError of kind ErrSeatConflict listing every
// seat that did not qualify.  Expired holds elsewhere in the map are
// cleared in the same write.
func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (HoldResult, error) {
	key, seats, err := l.validate(req.BusID, req.JourneyDate, req.SeatIDs)
	if err != nil {
		return HoldResult{}, err
	}
	if req.HolderToken == "" {
		return HoldResult{}, invalid("holder token is required")
	}
	if len(seats) > l.cfg.MaxSeats {
		return HoldResult{}, invalid("at most %d seats per hold, got %d", l.cfg.MaxSeats, len(seats))
	}
	if key.JourneyDate.Before(model.TruncateDate(l.clock.Now())) {
		return HoldResult{}, invalid("journey date %s is in the past", key.Date())
	}
	if err := l.checkLayout(ctx, key.BusID, seats); err != nil {
		return HoldResult{}, err
	}
	dur := req.HoldDuration
	if dur <= 0 {
		dur = l.cfg.HoldDuration
	}
	if dur > l.cfg.HoldMax {
		dur = l.cfg.HoldMax
	}

	var expiresAt time.Time
	m, err := l.mutate(ctx, key, func(m *model.SeatMap, now time.Time) (bool, error) {
		if staleVersion(m, req.ExpectedVersion) {
			return false, ErrStaleVersion
		}
		var conflicts []string
		for _, id := range seats {
			st := m.State(id)
			switch {
			case st.Status == model.SeatFree, st.Expired(now):
			case st.Status == model.SeatHeld && st.HolderToken == req.HolderToken:
			default:
				conflicts = append(conflicts, id)
			}
		}
		if len(conflicts) > 0 {
			return false, &SeatError{Kind: ErrSeatConflict, Seats: conflicts}
		}
		purgeExpired(m, now)
		expiresAt = now.Add(dur)
		for _, id := range seats {
			m.Seats[id] = model.Held(req.HolderToken, expiresAt)
		}
		return true, nil
	})
	if err != nil {
		l.log.Info("reserve rejected",
			zap.String("seat_map", key.String()),
			zap.Strings("seats", seats),
			zap.Error(err),
		)
		return HoldResult{}, err
	}
	l.log.Info("seats held",
		zap.String("seat_map", key.String()),
		zap.Strings("seats", seats),
		zap.Time("expires_at", expiresAt),
		zap.Uint64("version", m.Version),
	)
	return HoldResult{
		BusID:       key.BusID,
		JourneyDate: key.Date(),
		Seats:       seats,
		HolderToken: req.HolderToken,
		ExpiresAt:   expiresAt.UTC(),
		Version:     m.Version,
	}, nil
}

// Confirm books seats held by req.HolderToken for req.BookingID.  Every
// hold must still be live when the write commits.  Failures carry the
// offending seats: ErrHoldExpired when the caller's hold ran out,
// ErrHoldMismatch when another holder has the seat, ErrNotHeld
// otherwise.  Repeating a successful confirm returns the original result
// without writing.
func (l *Ledger) Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	key, seats, err := l.validate(req.BusID, req.JourneyDate, req.SeatIDs)
	if err != nil {
		return ConfirmResult{}, err
	}
	if req.HolderToken == "" {
		return ConfirmResult{}, invalid("holder token is required")
	}
	if req.BookingID == "" {
		return ConfirmResult{}, invalid("booking id is required")
	}

	var replayed bool
	var version uint64
	_, err = l.mutate(ctx, key, func(m *model.SeatMap, now time.Time) (bool, error) {
		if v, ok := replayOf(m, seats, req.HolderToken, req.BookingID); ok {
			replayed, version = true, v
			return false, nil
		}
		if staleVersion(m, req.ExpectedVersion) {
			return false, ErrStaleVersion
		}
		if err := checkHolds(m, seats, req.HolderToken, now); err != nil {
			return false, err
		}
		version = m.Version + 1
		for _, id := range seats {
			m.Seats[id] = model.Booked(req.BookingID, req.HolderToken, version)
		}
		return true, nil
	})
	if err != nil {
		l.log.Info("confirm rejected",
			zap.String("seat_map", key.String()),
			zap.String("booking_id", req.BookingID),
			zap.Strings("seats", seats),
			zap.Error(err),
		)
		return ConfirmResult{}, err
	}
	l.log.Info("seats booked",
		zap.String("seat_map", key.String()),
		zap.String("booking_id", req.BookingID),
		zap.Strings("seats", seats),
		zap.Uint64("version", version),
		zap.Bool("replayed", replayed),
	)
	return ConfirmResult{
		BusID:       key.BusID,
		JourneyDate: key.Date(),
		Seats:       seats,
		BookingID:   req.BookingID,
		Version:     version,
		Replayed:    replayed,
	}, nil
}

// VerifyHold reports whether holderToken holds every seat right now,
// using a snapshot and no lock.  It fails with the same errors Confirm
// would, but the answer may be stale by the time the caller acts on it.
func (l *Ledger) VerifyHold(ctx context.Context, busID string, journeyDate time.Time, seatIDs []string, holderToken string) error {
	key, seats, err := l.validate(busID, journeyDate, seatIDs)
	if err != nil {
		return err
	}
	m, err := l.store.Load(ctx, key)
	if err != nil {
		return unavailable(err)
	}
	return checkHolds(m, seats, holderToken, l.clock.Now())
}

// checkHolds classifies every seat that holderToken does not hold live.
// Expiry of the caller's own hold is reported first, then seats another
// holder has, then everything else.
func checkHolds(m *model.SeatMap, seats []string, holderToken string, now time.Time) error {
	var expired, mismatch, notHeld []string
	for _, id := range seats {
		st := m.State(id)
		switch {
		case st.Status != model.SeatHeld:
			notHeld = append(notHeld, id)
		case st.HolderToken == holderToken && st.Expired(now):
			expired = append(expired, id)
		case st.HolderToken == holderToken:
		case st.Expired(now):
			notHeld = append(notHeld, id)
		default:
			mismatch = append(mismatch, id)
		}
	}
	switch {
	case len(expired) > 0:
		return &SeatError{Kind: ErrHoldExpired, Seats: expired}
	case len(mismatch) > 0:
		return &SeatError{Kind: ErrHoldMismatch, Seats: mismatch}
	case len(notHeld) > 0:
		return &SeatError{Kind: ErrNotHeld, Seats: notHeld}
	}
	return nil
}

// replayOf reports whether every seat is already booked by bookingID
// through holderToken, and at which version.
func replayOf(m *model.SeatMap, seats []string, holderToken, bookingID string) (uint64, bool) {
	var version uint64
	for _, id := range seats {
		st := m.State(id)
		if st.Status != model.SeatBooked || st.BookingID != bookingID || st.HolderToken != holderToken {
			return 0, false
		}
		if version == 0 || st.BookedVersion < version {
			version = st.BookedVersion
		}
	}
	return version, true
}

// Release frees seats that are in the state implied by the reason: HELD
// for hold_released and hold_expired, BOOKED for booking_cancelled.
// Seats in any other state are skipped, so releasing twice is harmless.
// The only errors are ErrInvalidRequest and ErrStoreUnavailable.
func (l *Ledger) Release(ctx context.Context, req ReleaseRequest) (ReleaseResult, error) {
	key, seats, err := l.validate(req.BusID, req.JourneyDate, req.SeatIDs)
	if err != nil {
		return ReleaseResult{}, err
	}
	var want model.SeatStatus
	switch req.Reason {
	case ReasonHoldReleased, ReasonHoldExpired:
		want = model.SeatHeld
	case ReasonBookingCancelled:
		want = model.SeatBooked
	default:
		return ReleaseResult{}, invalid("unknown release reason %q", req.Reason)
	}

	var released []string
	m, err := l.mutate(ctx, key, func(m *model.SeatMap, now time.Time) (bool, error) {
		released = released[:0]
		for _, id := range seats {
			st := m.State(id)
			if st.Status != want {
				continue
			}
			if req.HolderToken != "" && st.HolderToken != req.HolderToken {
				continue
			}
			if req.BookingID != "" && want == model.SeatBooked && st.BookingID != req.BookingID {
				continue
			}
			delete(m.Seats, id)
			released = append(released, id)
		}
		return len(released) > 0, nil
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	if len(released) > 0 {
		l.log.Info("seats released",
			zap.String("seat_map", key.String()),
			zap.String("reason", string(req.Reason)),
			zap.Strings("seats", released),
			zap.Uint64("version", m.Version),
		)
	}
	return ReleaseResult{Released: append([]string{}, released...), Version: m.Version}, nil
}

// QueryBooked returns the sorted ids of seats that are booked or held by
// an unexpired hold.  It reads a single snapshot and takes no lock.
func (l *Ledger) QueryBooked(ctx context.Context, busID string, journeyDate time.Time) ([]string, error) {
	m, err := l.Snapshot(ctx, busID, journeyDate)
	if err != nil {
		return nil, err
	}
	return m.Unavailable(l.clock.Now()), nil
}

// Snapshot returns a private copy of the seat map.
func (l *Ledger) Snapshot(ctx context.Context, busID string, journeyDate time.Time) (*model.SeatMap, error) {
	if busID == "" || journeyDate.IsZero() {
		return nil, invalid("bus id and journey date are required")
	}
	m, err := l.store.Load(ctx, model.NewSeatMapKey(busID, journeyDate))
	if err != nil {
		return nil, unavailable(err)
	}
	return m, nil
}

func staleVersion(m *model.SeatMap, want *uint64) bool {
	return want != nil && m.Version != *want
}

// Now is the ledger's current time.
func (l *Ledger) Now() time.Time { return l.clock.Now() }

// mutate runs fn against the latest copy of a seat map and saves the
// result with a version bump when fn reports a change.  A lost
// compare-and-set reloads and runs fn again, up to CASAttempts times.
func (l *Ledger) mutate(ctx context.Context, key model.SeatMapKey, fn func(m *model.SeatMap, now time.Time) (bool, error)) (*model.SeatMap, error) {
	unlock, err := l.locks.lock(ctx, key)
	if err != nil {
		return nil, unavailable(err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		m, err := l.store.Load(ctx, key)
		if err != nil {
			return nil, unavailable(err)
		}
		expected := m.Version
		changed, err := fn(m, l.clock.Now())
		if err != nil || !changed {
			return m, err
		}
		m.Version = expected + 1
		err = l.store.Save(ctx, m, expected)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, unavailable(err)
		}
		if attempt >= l.cfg.CASAttempts {
			l.log.Warn("seat map write lost every compare-and-set",
				zap.String("seat_map", key.String()),
				zap.Int("attempts", attempt),
			)
			return nil, unavailable(err)
		}
		l.log.Debug("seat map changed underneath, retrying",
			zap.String("seat_map", key.String()),
			zap.Int("attempt", attempt),
		)
	}
}

// validate normalises seat ids and rejects malformed requests.  Duplicate
// ids are an error rather than being merged.
func (l *Ledger) validate(busID string, journeyDate time.Time, seatIDs []string) (model.SeatMapKey, []string, error) {
	if busID == "" {
		return model.SeatMapKey{}, nil, invalid("bus id is required")
	}
	if journeyDate.IsZero() {
		return model.SeatMapKey{}, nil, invalid("journey date is required")
	}
	if len(seatIDs) == 0 {
		return model.SeatMapKey{}, nil, invalid("at least one seat is required")
	}
	seen := make(map[string]bool, len(seatIDs))
	seats := make([]string, 0, len(seatIDs))
	for _, raw := range seatIDs {
		id := model.NormalizeSeatID(raw)
		if _, _, ok := model.SplitSeatID(id); !ok {
			return model.SeatMapKey{}, nil, invalid("malformed seat id %q", raw)
		}
		if seen[id] {
			return model.SeatMapKey{}, nil, invalid("duplicate seat id %s", id)
		}
		seen[id] = true
		seats = append(seats, id)
	}
	model.SortSeatIDs(seats)
	return model.NewSeatMapKey(busID, journeyDate), seats, nil
}

func (l *Ledger) checkLayout(ctx context.Context, busID string, seats []string) error {
	if l.catalog == nil {
		return nil
	}
	layout, err := l.catalog.SeatLayout(ctx, busID)
	if errors.Is(err, repository.ErrBusNotFound) {
		return invalid("unknown bus %s", busID)
	}
	if err != nil {
		return unavailable(err)
	}
	var outside []string
	for _, id := range seats {
		if !layout.Contains(id) {
			outside = append(outside, id)
		}
	}
	if len(outside) > 0 {
		return &SeatError{Kind: ErrInvalidRequest, Seats: outside}
	}
	return nil
}

// purgeExpired frees every expired hold in m and returns how many.
func purgeExpired(m *model.SeatMap, now time.Time) int {
	n := 0
	for id, st := range m.Seats {
		if st.Expired(now) {
			delete(m.Seats, id)
			n++
		}
	}
	return n
}
