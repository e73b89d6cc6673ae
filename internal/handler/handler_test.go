package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/ledger"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/router"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

const secret = "test-secret"

var (
	now     = time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC)
	journey = "2030-03-05"
)

func noop(next echo.HandlerFunc) echo.HandlerFunc { return next }

type server struct {
	e     *echo.Echo
	clock *ledger.FakeClock
	bus   model.Bus
}

func newServer(t *testing.T) *server {
	t.Helper()
	log := zap.NewNop()
	clk := ledger.NewFakeClock(now)
	busRepo := repository.NewMemoryBusRepo()
	l := ledger.New(repository.NewMemorySeatMapStore(), config.DefaultLedgerConfig(),
		ledger.WithClock(clk), ledger.WithCatalog(busRepo))
	busSvc := service.NewBusService(busRepo, l)
	bookingSvc := service.NewBookingService(busRepo, repository.NewMemoryBookingRepo(), l, queue.NewPublisher("", log), log)

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterPublic(e, handler.NewBusHandler(busSvc, log), noop)
	router.RegisterCustomer(e, handler.NewHoldHandler(l, log), handler.NewBookingHandler(bookingSvc, log), secret, noop)
	router.RegisterLedger(e, handler.NewLedgerHandler(l, log), secret)
	router.RegisterAdmin(e, handler.NewAdminHandler(busSvc, bookingSvc, l, log), secret)

	s := &server{e: e, clock: clk}
	rec := s.do(t, http.MethodPost, "/v1/admin/buses", token(t, "ops", middleware.RoleAdmin), echo.Map{
		"bus_number":     "KA-01-1234",
		"name":           "Night Rider",
		"type":           model.BusTypeSleeper,
		"source":         "Bangalore",
		"destination":    "Chennai",
		"departure_time": "22:00",
		"arrival_time":   "05:30",
		"price_cents":    1500,
		"seat_layout":    echo.Map{"rows": 10, "seats_per_row": 4, "aisle_after": 2},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create bus: %d %s", rec.Code, rec.Body)
	}
	decode(t, rec, &s.bus)
	return s
}

func token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, user, role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok.Token
}

func (s *server) do(t *testing.T, method, path, tok string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

type errResp struct {
	Error string   `json:"error"`
	Seats []string `json:"seats"`
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) errResp {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, status, rec.Body)
	}
	var e errResp
	decode(t, rec, &e)
	if e.Error != code {
		t.Fatalf("error = %q, want %q", e.Error, code)
	}
	return e
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body)
	}
}

func TestAuthAndRoles(t *testing.T) {
	s := newServer(t)
	path := "/v1/buses/" + s.bus.ID + "/holds"
	body := echo.Map{"journey_date": journey, "seats": []string{"A1"}}

	expectError(t, s.do(t, http.MethodPost, path, "", body), http.StatusUnauthorized, "unauthorized")
	expectError(t, s.do(t, http.MethodPost, path, "garbage", body), http.StatusUnauthorized, "unauthorized")
	expectError(t, s.do(t, http.MethodPost, path, token(t, "svc", middleware.RoleService), body), http.StatusForbidden, "forbidden")
	expectError(t, s.do(t, http.MethodGet, "/v1/admin/stats", token(t, "u1", middleware.RoleUser), nil), http.StatusForbidden, "forbidden")
	expectError(t, s.do(t, http.MethodGet, "/v1/ledger/booked?bus_id=x&date="+journey, token(t, "u1", middleware.RoleUser), nil), http.StatusForbidden, "forbidden")
}

func TestHoldConflictThenExpiry(t *testing.T) {
	s := newServer(t)
	path := "/v1/buses/" + s.bus.ID + "/holds"

	rec := s.do(t, http.MethodPost, path, token(t, "u1", middleware.RoleUser), echo.Map{
		"journey_date": journey, "seats": []string{"a1", "A2"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("hold: %d %s", rec.Code, rec.Body)
	}
	var hold ledger.HoldResult
	decode(t, rec, &hold)
	if len(hold.HolderToken) != 32 || hold.Version != 1 {
		t.Fatalf("hold = %+v", hold)
	}
	if !hold.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("expires_at = %v", hold.ExpiresAt)
	}

	rec = s.do(t, http.MethodPost, path, token(t, "u2", middleware.RoleUser), echo.Map{
		"journey_date": journey, "seats": []string{"A2", "A3"},
	})
	e := expectError(t, rec, http.StatusConflict, "seat_conflict")
	if len(e.Seats) != 1 || e.Seats[0] != "A2" {
		t.Fatalf("conflict seats = %v", e.Seats)
	}

	s.clock.Advance(10 * time.Minute)
	rec = s.do(t, http.MethodPost, "/v1/ledger/confirm", token(t, "booking-svc", middleware.RoleService), echo.Map{
		"bus_id": s.bus.ID, "journey_date": journey, "seat_ids": []string{"A1", "A2"},
		"holder_token": hold.HolderToken, "booking_id": "b-1",
	})
	e = expectError(t, rec, http.StatusGone, "hold_expired")
	if len(e.Seats) != 2 {
		t.Fatalf("expired seats = %v", e.Seats)
	}

	// The expired seats are free again for the second customer.
	rec = s.do(t, http.MethodPost, path, token(t, "u2", middleware.RoleUser), echo.Map{
		"journey_date": journey, "seats": []string{"A2", "A3"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("rehold: %d %s", rec.Code, rec.Body)
	}
}

func TestHoldValidation(t *testing.T) {
	s := newServer(t)
	path := "/v1/buses/" + s.bus.ID + "/holds"
	tok := token(t, "u1", middleware.RoleUser)

	cases := []struct {
		name   string
		path   string
		body   echo.Map
		status int
		code   string
	}{
		{"bad date", path, echo.Map{"journey_date": "05/03/2030", "seats": []string{"A1"}}, http.StatusBadRequest, "invalid_request"},
		{"no seats", path, echo.Map{"journey_date": journey}, http.StatusBadRequest, "invalid_request"},
		{"off layout", path, echo.Map{"journey_date": journey, "seats": []string{"Z9"}}, http.StatusBadRequest, "invalid_request"},
		{"unknown bus", "/v1/buses/nope/holds", echo.Map{"journey_date": journey, "seats": []string{"A1"}}, http.StatusBadRequest, "invalid_request"},
		{"past date", path, echo.Map{"journey_date": "2030-02-01", "seats": []string{"A1"}}, http.StatusBadRequest, "invalid_request"},
		{"stale version", path, echo.Map{"journey_date": journey, "seats": []string{"A1"}, "expected_version": 7}, http.StatusPreconditionFailed, "stale_version"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectError(t, s.do(t, http.MethodPost, tc.path, tok, tc.body), tc.status, tc.code)
		})
	}
}

func TestReleaseHold(t *testing.T) {
	s := newServer(t)
	path := "/v1/buses/" + s.bus.ID + "/holds"
	tok := token(t, "u1", middleware.RoleUser)

	rec := s.do(t, http.MethodPost, path, tok, echo.Map{"journey_date": journey, "seats": []string{"B1"}, "holder_token": "mine"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("hold: %d %s", rec.Code, rec.Body)
	}
	rec = s.do(t, http.MethodDelete, path, tok, echo.Map{"journey_date": journey, "seats": []string{"B1"}, "holder_token": "someone-else"})
	var res ledger.ReleaseResult
	decode(t, rec, &res)
	if rec.Code != http.StatusOK || len(res.Released) != 0 {
		t.Fatalf("foreign release = %d %+v", rec.Code, res)
	}
	rec = s.do(t, http.MethodDelete, path, tok, echo.Map{"journey_date": journey, "seats": []string{"B1"}, "holder_token": "mine"})
	decode(t, rec, &res)
	if len(res.Released) != 1 || res.Released[0] != "B1" {
		t.Fatalf("release = %+v", res)
	}
}

func TestBookingLifecycle(t *testing.T) {
	s := newServer(t)
	user := token(t, "u1", middleware.RoleUser)

	rec := s.do(t, http.MethodPost, "/v1/buses/"+s.bus.ID+"/holds", user, echo.Map{
		"journey_date": journey, "seats": []string{"C1", "C2"}, "holder_token": "checkout-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("hold: %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodPost, "/v1/bookings", user, echo.Map{
		"bus_id":         s.bus.ID,
		"journey_date":   journey,
		"holder_token":   "checkout-1",
		"payment_method": model.PaymentUPI,
		"passengers": []echo.Map{
			{"name": "Asha", "age": 31, "gender": "F", "seat_number": "C1"},
			{"name": "Ravi", "age": 33, "gender": "M", "seat_number": "C2"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create booking: %d %s", rec.Code, rec.Body)
	}
	var b model.Booking
	decode(t, rec, &b)
	if b.Status != model.BookingPending || b.TotalAmountCents != 3000 {
		t.Fatalf("booking = %+v", b)
	}

	expectError(t, s.do(t, http.MethodGet, "/v1/bookings/"+b.ID, token(t, "u2", middleware.RoleUser), nil), http.StatusForbidden, "forbidden")

	rec = s.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/pay", user, nil)
	decode(t, rec, &b)
	if rec.Code != http.StatusOK || b.Status != model.BookingConfirmed {
		t.Fatalf("pay = %d %+v", rec.Code, b)
	}

	var view service.SeatView
	decode(t, s.do(t, http.MethodGet, "/v1/buses/"+s.bus.ID+"/seats?date="+journey, "", nil), &view)
	if view.Available != 38 || len(view.Unavailable) != 2 {
		t.Fatalf("seat view = %+v", view)
	}

	// Booked seats stay taken after the hold window.
	s.clock.Advance(time.Hour)
	var booked struct {
		Seats []string `json:"seats"`
	}
	decode(t, s.do(t, http.MethodGet, "/v1/ledger/booked?bus_id="+s.bus.ID+"&date="+journey, token(t, "svc", middleware.RoleService), nil), &booked)
	if len(booked.Seats) != 2 {
		t.Fatalf("booked = %v", booked.Seats)
	}

	var list struct {
		Count int `json:"count"`
	}
	decode(t, s.do(t, http.MethodGet, "/v1/bookings", user, nil), &list)
	if list.Count != 1 {
		t.Fatalf("list count = %d", list.Count)
	}

	rec = s.do(t, http.MethodDelete, "/v1/bookings/"+b.ID, user, nil)
	decode(t, rec, &b)
	if rec.Code != http.StatusOK || b.Status != model.BookingCancelled || b.PaymentStatus != model.PaymentRefunded {
		t.Fatalf("cancel = %d %+v", rec.Code, b)
	}
	decode(t, s.do(t, http.MethodGet, "/v1/buses/"+s.bus.ID+"/seats?date="+journey, "", nil), &view)
	if view.Available != 40 {
		t.Fatalf("seats after cancel = %+v", view)
	}
	expectError(t, s.do(t, http.MethodDelete, "/v1/bookings/"+b.ID, user, nil), http.StatusConflict, "conflict")
}

func TestPayAfterHoldExpired(t *testing.T) {
	s := newServer(t)
	user := token(t, "u1", middleware.RoleUser)
	s.do(t, http.MethodPost, "/v1/buses/"+s.bus.ID+"/holds", user, echo.Map{
		"journey_date": journey, "seats": []string{"D4"}, "holder_token": "slow",
	})
	rec := s.do(t, http.MethodPost, "/v1/bookings", user, echo.Map{
		"bus_id": s.bus.ID, "journey_date": journey, "holder_token": "slow", "payment_method": model.PaymentCard,
		"passengers": []echo.Map{{"name": "Meera", "age": 40, "gender": "F", "seat_number": "D4"}},
	})
	var b model.Booking
	decode(t, rec, &b)

	s.clock.Advance(11 * time.Minute)
	expectError(t, s.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/pay", user, nil), http.StatusGone, "hold_expired")

	decode(t, s.do(t, http.MethodGet, "/v1/bookings/"+b.ID, user, nil), &b)
	if b.Status != model.BookingCancelled {
		t.Fatalf("status after failed payment = %s", b.Status)
	}
}

func TestLedgerContract(t *testing.T) {
	s := newServer(t)
	svc := token(t, "booking-svc", middleware.RoleService)
	req := func(extra echo.Map) echo.Map {
		m := echo.Map{"bus_id": s.bus.ID, "journey_date": journey, "seat_ids": []string{"E1"}}
		for k, v := range extra {
			m[k] = v
		}
		return m
	}

	rec := s.do(t, http.MethodPost, "/v1/ledger/reserve", svc, req(echo.Map{"holder_token": "h1", "hold_seconds": 60}))
	var hold ledger.HoldResult
	decode(t, rec, &hold)
	if rec.Code != http.StatusOK || !hold.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("reserve = %d %+v", rec.Code, hold)
	}

	expectError(t, s.do(t, http.MethodPost, "/v1/ledger/confirm", svc, req(echo.Map{"holder_token": "h2", "booking_id": "b1"})), http.StatusForbidden, "hold_mismatch")
	expectError(t, s.do(t, http.MethodPost, "/v1/ledger/confirm", svc, echo.Map{
		"bus_id": s.bus.ID, "journey_date": journey, "seat_ids": []string{"E2"}, "holder_token": "h1", "booking_id": "b1",
	}), http.StatusConflict, "not_held")

	var conf ledger.ConfirmResult
	decode(t, s.do(t, http.MethodPost, "/v1/ledger/confirm", svc, req(echo.Map{"holder_token": "h1", "booking_id": "b1"})), &conf)
	if conf.BookingID != "b1" || conf.Replayed {
		t.Fatalf("confirm = %+v", conf)
	}
	decode(t, s.do(t, http.MethodPost, "/v1/ledger/confirm", svc, req(echo.Map{"holder_token": "h1", "booking_id": "b1"})), &conf)
	if !conf.Replayed {
		t.Fatalf("second confirm not replayed: %+v", conf)
	}

	expectError(t, s.do(t, http.MethodPost, "/v1/ledger/release", svc, req(echo.Map{"reason": "lost"})), http.StatusBadRequest, "invalid_request")

	var rel ledger.ReleaseResult
	decode(t, s.do(t, http.MethodPost, "/v1/ledger/release", svc, req(echo.Map{"reason": "booking_cancelled", "booking_id": "b1"})), &rel)
	if len(rel.Released) != 1 {
		t.Fatalf("release = %+v", rel)
	}
	expectError(t, s.do(t, http.MethodGet, "/v1/ledger/booked?bus_id="+s.bus.ID, svc, nil), http.StatusBadRequest, "invalid_request")
}

func TestAdminEndpoints(t *testing.T) {
	s := newServer(t)
	admin := token(t, "ops", middleware.RoleAdmin)

	var st model.BookingStats
	decode(t, s.do(t, http.MethodGet, "/v1/admin/stats", admin, nil), &st)
	if st.TotalBuses != 1 || st.TotalBookings != 0 {
		t.Fatalf("stats = %+v", st)
	}
	expectError(t, s.do(t, http.MethodGet, "/v1/admin/bookings?status=lost", admin, nil), http.StatusBadRequest, "invalid_request")

	s.do(t, http.MethodPost, "/v1/buses/"+s.bus.ID+"/holds", admin, echo.Map{"journey_date": journey, "seats": []string{"F1", "F2"}})
	s.clock.Advance(15 * time.Minute)
	var sweep struct {
		Released int `json:"released"`
	}
	decode(t, s.do(t, http.MethodPost, "/v1/admin/sweep", admin, nil), &sweep)
	if sweep.Released != 2 {
		t.Fatalf("swept = %d", sweep.Released)
	}

	expectError(t, s.do(t, http.MethodPut, "/v1/admin/buses/"+s.bus.ID, admin, echo.Map{"name": "x"}), http.StatusBadRequest, "invalid_request")
	if rec := s.do(t, http.MethodDelete, "/v1/admin/buses/"+s.bus.ID, admin, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete bus = %d", rec.Code)
	}
	expectError(t, s.do(t, http.MethodGet, "/v1/buses/"+s.bus.ID, "", nil), http.StatusNotFound, "not_found")
}
