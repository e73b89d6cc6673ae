package ledger

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

var (
	start   = time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	journey = time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
)

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *FakeClock, *repository.MemorySeatMapStore) {
	t.Helper()
	clk := NewFakeClock(start)
	store := repository.NewMemorySeatMapStore()
	opts = append([]Option{WithClock(clk)}, opts...)
	return New(store, config.DefaultLedgerConfig(), opts...), clk, store
}

func reserve(t *testing.T, l *Ledger, token string, d time.Duration, seats ...string) HoldResult {
	t.Helper()
	res, err := l.Reserve(context.Background(), ReserveRequest{
		BusID: "B", JourneyDate: journey, SeatIDs: seats, HolderToken: token, HoldDuration: d,
	})
	if err != nil {
		t.Fatalf("reserve %v for %s: %v", seats, token, err)
	}
	return res
}

func booked(t *testing.T, l *Ledger) []string {
	t.Helper()
	ids, err := l.QueryBooked(context.Background(), "B", journey)
	if err != nil {
		t.Fatalf("query booked: %v", err)
	}
	return ids
}

func TestScenarioHoldConfirmCancel(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	res := reserve(t, l, "T1", 600*time.Second, "A1", "A2")
	if !reflect.DeepEqual(res.Seats, []string{"A1", "A2"}) {
		t.Fatalf("granted = %v", res.Seats)
	}
	if res.Version != 1 {
		t.Fatalf("version = %d, want 1", res.Version)
	}

	_, err := l.Reserve(ctx, ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "T2"})
	if !errors.Is(err, ErrSeatConflict) {
		t.Fatalf("want ErrSeatConflict, got %v", err)
	}
	if got := SeatsOf(err); !reflect.DeepEqual(got, []string{"A1"}) {
		t.Fatalf("conflicts = %v", got)
	}

	if _, err := l.Confirm(ctx, ConfirmRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1", "A2"}, HolderToken: "T1", BookingID: "BK-1"}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := booked(t, l); !reflect.DeepEqual(got, []string{"A1", "A2"}) {
		t.Fatalf("booked = %v", got)
	}

	rel, err := l.Release(ctx, ReleaseRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1", "A2"}, Reason: ReasonBookingCancelled, BookingID: "BK-1"})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(rel.Released) != 2 {
		t.Fatalf("released = %v", rel.Released)
	}
	if got := booked(t, l); len(got) != 0 {
		t.Fatalf("booked after cancel = %v", got)
	}
}

func TestScenarioExpiredHoldIsReusable(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	reserve(t, l, "X", time.Second, "B3")
	clk.Advance(2 * time.Second)
	res := reserve(t, l, "Y", 0, "B3")
	if !reflect.DeepEqual(res.Seats, []string{"B3"}) || res.HolderToken != "Y" {
		t.Fatalf("result = %+v", res)
	}
}

func TestHoldExpiresExactlyAtDeadline(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	reserve(t, l, "X", time.Minute, "A1")
	clk.Advance(time.Minute)
	if got := booked(t, l); len(got) != 0 {
		t.Fatalf("hold at its deadline still counted: %v", got)
	}
	reserve(t, l, "Y", 0, "A1")
}

func TestReserveAllOrNothing(t *testing.T) {
	l, _, store := newTestLedger(t)
	ctx := context.Background()
	reserve(t, l, "T1", 0, "A2")

	_, err := l.Reserve(ctx, ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1", "A2", "A3"}, HolderToken: "T2"})
	if !errors.Is(err, ErrSeatConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
	m, _ := store.Load(ctx, model.NewSeatMapKey("B", journey))
	if m.Version != 1 || len(m.Seats) != 1 {
		t.Fatalf("failed reserve changed the map: version %d seats %v", m.Version, m.Seats)
	}
}

func TestReserveSameTokenRefreshes(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	first := reserve(t, l, "T1", time.Minute, "A1")
	clk.Advance(30 * time.Second)
	second := reserve(t, l, "T1", 0, "A1", "A2")
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Fatalf("hold not refreshed: %s then %s", first.ExpiresAt, second.ExpiresAt)
	}
	if second.Version != first.Version+1 {
		t.Fatalf("version %d -> %d", first.Version, second.Version)
	}
}

func TestReserveHoldDuration(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	res := reserve(t, l, "T1", 0, "A1")
	if want := clk.Now().Add(10 * time.Minute); !res.ExpiresAt.Equal(want) {
		t.Fatalf("default expiry = %s, want %s", res.ExpiresAt, want)
	}
	res = reserve(t, l, "T2", 2*time.Hour, "A2")
	if want := clk.Now().Add(30 * time.Minute); !res.ExpiresAt.Equal(want) {
		t.Fatalf("clamped expiry = %s, want %s", res.ExpiresAt, want)
	}
}

func TestReservePurgesExpiredHolds(t *testing.T) {
	l, clk, store := newTestLedger(t)
	reserve(t, l, "T1", time.Second, "C1")
	clk.Advance(time.Minute)
	reserve(t, l, "T2", 0, "A1")
	m, _ := store.Load(context.Background(), model.NewSeatMapKey("B", journey))
	if _, ok := m.Seats["C1"]; ok {
		t.Fatal("expired hold on C1 survived a later reserve")
	}
}

func TestValidation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	cases := []struct {
		name string
		req  ReserveRequest
	}{
		{"no seats", ReserveRequest{BusID: "B", JourneyDate: journey, HolderToken: "T"}},
		{"duplicate seats", ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"a1", "A1"}, HolderToken: "T"}},
		{"malformed seat", ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"11"}, HolderToken: "T"}},
		{"no token", ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}}},
		{"no bus", ReserveRequest{JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "T"}},
		{"no date", ReserveRequest{BusID: "B", SeatIDs: []string{"A1"}, HolderToken: "T"}},
		{"past date", ReserveRequest{BusID: "B", JourneyDate: start.AddDate(0, 0, -1), SeatIDs: []string{"A1"}, HolderToken: "T"}},
		{"too many seats", ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1", "A2", "A3", "A4", "B1", "B2", "B3"}, HolderToken: "T"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := l.Reserve(ctx, tc.req); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("want ErrInvalidRequest, got %v", err)
			}
		})
	}
	if _, err := l.Release(ctx, ReleaseRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}, Reason: "lost"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unknown reason: want ErrInvalidRequest, got %v", err)
	}
	if _, err := l.Confirm(ctx, ConfirmRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "T"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing booking id: want ErrInvalidRequest, got %v", err)
	}
}

func TestReserveTodayIsAllowed(t *testing.T) {
	l, _, _ := newTestLedger(t)
	_, err := l.Reserve(context.Background(), ReserveRequest{
		BusID: "B", JourneyDate: start, SeatIDs: []string{"A1"}, HolderToken: "T",
	})
	if err != nil {
		t.Fatalf("reserve for today: %v", err)
	}
}

type fakeCatalog map[string]model.SeatLayout

func (c fakeCatalog) SeatLayout(_ context.Context, busID string) (model.SeatLayout, error) {
	l, ok := c[busID]
	if !ok {
		return model.SeatLayout{}, repository.ErrBusNotFound
	}
	return l, nil
}

func TestReserveChecksLayout(t *testing.T) {
	l, _, _ := newTestLedger(t, WithCatalog(fakeCatalog{"B": {Rows: 2, SeatsPerRow: 2}}))
	ctx := context.Background()

	_, err := l.Reserve(ctx, ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1", "C1", "A3"}, HolderToken: "T"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("want ErrInvalidRequest, got %v", err)
	}
	if got := SeatsOf(err); !reflect.DeepEqual(got, []string{"A3", "C1"}) {
		t.Fatalf("seats outside layout = %v", got)
	}
	_, err = l.Reserve(ctx, ReserveRequest{BusID: "nope", JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "T"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unknown bus: want ErrInvalidRequest, got %v", err)
	}
	reserve(t, l, "T", 0, "B2")
}

func TestStaleExpectedVersion(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	res := reserve(t, l, "T1", 0, "A1")
	reserve(t, l, "T2", 0, "A2")
	two := uint64(2)

	_, err := l.Reserve(ctx, ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A3"}, HolderToken: "T1", ExpectedVersion: &res.Version})
	if !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("reserve: want ErrStaleVersion, got %v", err)
	}
	_, err = l.Confirm(ctx, ConfirmRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "T1", BookingID: "BK", ExpectedVersion: &res.Version})
	if !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("confirm: want ErrStaleVersion, got %v", err)
	}
	if _, err := l.Confirm(ctx, ConfirmRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "T1", BookingID: "BK", ExpectedVersion: &two}); err != nil {
		t.Fatalf("confirm at current version: %v", err)
	}

	// Zero is a real expectation: the map must never have been written.
	var zero uint64
	fresh := journey.AddDate(0, 0, 1)
	if _, err := l.Reserve(ctx, ReserveRequest{BusID: "B", JourneyDate: fresh, SeatIDs: []string{"A1"}, HolderToken: "T1", ExpectedVersion: &zero}); err != nil {
		t.Fatalf("reserve on unwritten map: %v", err)
	}
	_, err = l.Reserve(ctx, ReserveRequest{BusID: "B", JourneyDate: fresh, SeatIDs: []string{"A2"}, HolderToken: "T1", ExpectedVersion: &zero})
	if !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("zero expectation on written map: want ErrStaleVersion, got %v", err)
	}
}

func TestConfirmErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("mismatch", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		reserve(t, l, "T1", 0, "A1")
		_, err := l.Confirm(ctx, ConfirmRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "T2", BookingID: "BK"})
		if !errors.Is(err, ErrHoldMismatch) || !reflect.DeepEqual(SeatsOf(err), []string{"A1"}) {
			t.Fatalf("want ErrHoldMismatch on A1, got %v", err)
		}
	})
	t.Run("not held", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		reserve(t, l, "T1", 0, "A1")
		_, err := l.Confirm(ctx, ConfirmRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1", "A2"}, HolderToken: "T1", BookingID: "BK"})
		if !errors.Is(err, ErrNotHeld) || !reflect.DeepEqual(SeatsOf(err), []string{"A2"}) {
			t.Fatalf("want ErrNotHeld on A2, got %v", err)
		}
	})
	t.Run("expired wins over mismatch", func(t *testing.T) {
		l, clk, _ := newTestLedger(t)
		reserve(t, l, "T1", time.Second, "A1")
		reserve(t, l, "T2", 0, "A2")
		clk.Advance(2 * time.Second)
		_, err := l.Confirm(ctx, ConfirmRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1", "A2"}, HolderToken: "T1", BookingID: "BK"})
		if !errors.Is(err, ErrHoldExpired) || !reflect.DeepEqual(SeatsOf(err), []string{"A1"}) {
			t.Fatalf("want ErrHoldExpired on A1, got %v", err)
		}
	})
	t.Run("booked by another booking", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		reserve(t, l, "T1", 0, "A1")
		if _, err := l.Confirm(ctx, ConfirmRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "T1", BookingID: "BK-1"}); err != nil {
			t.Fatal(err)
		}
		_, err := l.Confirm(ctx, ConfirmRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "T1", BookingID: "BK-2"})
		if !errors.Is(err, ErrNotHeld) {
			t.Fatalf("want ErrNotHeld, got %v", err)
		}
	})
}

func TestConfirmIsIdempotent(t *testing.T) {
	l, _, store := newTestLedger(t)
	ctx := context.Background()
	reserve(t, l, "T1", 0, "A1", "A2")
	req := ConfirmRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A2", "A1"}, HolderToken: "T1", BookingID: "BK-1"}

	first, err := l.Confirm(ctx, req)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	second, err := l.Confirm(ctx, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.Version != first.Version || !reflect.DeepEqual(second.Seats, first.Seats) || !second.Replayed {
		t.Fatalf("replay = %+v, first = %+v", second, first)
	}
	m, _ := store.Load(ctx, model.NewSeatMapKey("B", journey))
	if m.Version != first.Version {
		t.Fatalf("replay bumped version to %d", m.Version)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	res := reserve(t, l, "T1", 0, "A1")
	req := ReleaseRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1", "A2"}, Reason: ReasonHoldReleased}

	first, err := l.Release(ctx, req)
	if err != nil || !reflect.DeepEqual(first.Released, []string{"A1"}) {
		t.Fatalf("first release = %+v, %v", first, err)
	}
	second, err := l.Release(ctx, req)
	if err != nil || len(second.Released) != 0 {
		t.Fatalf("second release = %+v, %v", second, err)
	}
	if second.Version != res.Version+1 {
		t.Fatalf("no-op release changed version to %d", second.Version)
	}
}

func TestReleaseRespectsReasonAndOwner(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	reserve(t, l, "T1", 0, "A1")
	reserve(t, l, "T2", 0, "A2")

	rel, err := l.Release(ctx, ReleaseRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1", "A2"}, Reason: ReasonHoldReleased, HolderToken: "T1"})
	if err != nil || !reflect.DeepEqual(rel.Released, []string{"A1"}) {
		t.Fatalf("release by T1 = %+v, %v", rel, err)
	}
	rel, err = l.Release(ctx, ReleaseRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A2"}, Reason: ReasonBookingCancelled})
	if err != nil || len(rel.Released) != 0 {
		t.Fatalf("cancelling a held seat released %v, %v", rel.Released, err)
	}
	if got := booked(t, l); !reflect.DeepEqual(got, []string{"A2"}) {
		t.Fatalf("booked = %v", got)
	}
}

func TestRoundTripRestoresSeatMap(t *testing.T) {
	l, _, store := newTestLedger(t)
	ctx := context.Background()
	key := model.NewSeatMapKey("B", journey)
	reserve(t, l, "T0", 0, "D4")
	before, _ := store.Load(ctx, key)

	seats := []string{"A1", "A2"}
	reserve(t, l, "T1", 0, seats...)
	if _, err := l.Confirm(ctx, ConfirmRequest{BusID: "B", JourneyDate: journey, SeatIDs: seats, HolderToken: "T1", BookingID: "BK"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Release(ctx, ReleaseRequest{BusID: "B", JourneyDate: journey, SeatIDs: seats, Reason: ReasonBookingCancelled}); err != nil {
		t.Fatal(err)
	}
	after, _ := store.Load(ctx, key)
	if !reflect.DeepEqual(before.Seats, after.Seats) {
		t.Fatalf("seats before %v, after %v", before.Seats, after.Seats)
	}
	if after.Version != before.Version+3 {
		t.Fatalf("version %d -> %d", before.Version, after.Version)
	}
}

func TestConcurrentReservesNeverOverlap(t *testing.T) {
	l, _, store := newTestLedger(t)
	ctx := context.Background()
	seats := []string{"A1", "A2", "A3", "A4", "B1", "B2"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted = map[string]string{}
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := fmt.Sprintf("T%d", i)
			want := []string{seats[i%len(seats)], seats[(i+1)%len(seats)]}
			res, err := l.Reserve(ctx, ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: want, HolderToken: token})
			if err != nil {
				if !errors.Is(err, ErrSeatConflict) {
					t.Errorf("reserve: %v", err)
				}
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, s := range res.Seats {
				if other, ok := granted[s]; ok {
					t.Errorf("seat %s granted to %s and %s", s, other, token)
				}
				granted[s] = token
			}
		}(i)
	}
	wg.Wait()

	m, _ := store.Load(ctx, model.NewSeatMapKey("B", journey))
	for s, token := range granted {
		if st := m.State(s); st.HolderToken != token {
			t.Errorf("seat %s stored for %q, granted to %q", s, st.HolderToken, token)
		}
	}
	if n := l.locks.size(); n != 0 {
		t.Fatalf("lock table kept %d entries", n)
	}
}

// racingStore lets a competing writer slip in before the first save.
type racingStore struct {
	*repository.MemorySeatMapStore
	once  sync.Once
	saves int
	race  func()
}

func (s *racingStore) Save(ctx context.Context, m *model.SeatMap, expected uint64) error {
	s.saves++
	s.once.Do(s.race)
	return s.MemorySeatMapStore.Save(ctx, m, expected)
}

func TestCASConflictIsRetried(t *testing.T) {
	clk := NewFakeClock(start)
	mem := repository.NewMemorySeatMapStore()
	key := model.NewSeatMapKey("B", journey)
	store := &racingStore{MemorySeatMapStore: mem}
	store.race = func() {
		m := model.NewSeatMap(key)
		m.Seats["A1"] = model.Held("other", start.Add(time.Hour))
		m.Version = 1
		if err := mem.Save(context.Background(), m, 0); err != nil {
			t.Errorf("competing save: %v", err)
		}
	}
	l := New(store, config.DefaultLedgerConfig(), WithClock(clk))

	_, err := l.Reserve(context.Background(), ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "mine"})
	if !errors.Is(err, ErrSeatConflict) {
		t.Fatalf("retry should see the competing hold, got %v", err)
	}
	res, err := l.Reserve(context.Background(), ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A2"}, HolderToken: "mine"})
	if err != nil {
		t.Fatalf("reserve A2: %v", err)
	}
	if res.Version != 2 {
		t.Fatalf("version = %d, want 2", res.Version)
	}
}

type conflictStore struct {
	*repository.MemorySeatMapStore
	saves int
}

func (s *conflictStore) Save(context.Context, *model.SeatMap, uint64) error {
	s.saves++
	return repository.ErrVersionConflict
}

func TestCASGivesUp(t *testing.T) {
	store := &conflictStore{MemorySeatMapStore: repository.NewMemorySeatMapStore()}
	l := New(store, config.DefaultLedgerConfig(), WithClock(NewFakeClock(start)))
	_, err := l.Reserve(context.Background(), ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "T"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
	if store.saves != 3 {
		t.Fatalf("saves = %d, want 3", store.saves)
	}
}

type brokenStore struct{ *repository.MemorySeatMapStore }

func (brokenStore) Load(context.Context, model.SeatMapKey) (*model.SeatMap, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	l := New(brokenStore{repository.NewMemorySeatMapStore()}, config.DefaultLedgerConfig(), WithClock(NewFakeClock(start)))
	ctx := context.Background()
	if _, err := l.Reserve(ctx, ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "T"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("reserve: want ErrStoreUnavailable, got %v", err)
	}
	if _, err := l.QueryBooked(ctx, "B", journey); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("query: want ErrStoreUnavailable, got %v", err)
	}
}

func TestCancelledContextDoesNotWait(t *testing.T) {
	l, _, _ := newTestLedger(t)
	key := model.NewSeatMapKey("B", journey)
	unlock, err := l.locks.lock(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Reserve(ctx, ReserveRequest{BusID: "B", JourneyDate: journey, SeatIDs: []string{"A1"}, HolderToken: "T"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
}
