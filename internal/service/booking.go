package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/bus-seat-reservation/internal/ledger"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// BookingStore persists bookings.  UpdateStatus only applies while the
// booking is still in status from.
type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	ListByUser(ctx context.Context, userID string) ([]model.Booking, error)
	List(ctx context.Context, status string) ([]model.Booking, error)
	UpdateStatus(ctx context.Context, id, from, status, paymentStatus string) error
	Stats(ctx context.Context) (model.BookingStats, error)
}

// EventPublisher announces booking lifecycle events.
type EventPublisher interface {
	PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
	PublishBookingCancelled(ctx context.Context, ev queue.BookingCancelledEvent) error
}

// CreateBookingInput describes a booking for seats the caller holds.
type CreateBookingInput struct {
	UserID        string
	BusID         string
	JourneyDate   time.Time
	HolderToken   string
	Passengers    []model.Passenger
	PaymentMethod string
}

// BookingService runs the booking lifecycle.  Seats are never written
// here directly: holds come from the ledger, payment confirms them and
// cancellation releases them, always through the ledger.
type BookingService struct {
	buses    BusStore
	bookings BookingStore
	ledger   *ledger.Ledger
	events   EventPublisher
	log      *zap.Logger
}

func NewBookingService(buses BusStore, bookings BookingStore, l *ledger.Ledger, events EventPublisher, log *zap.Logger) *BookingService {
	return &BookingService{buses: buses, bookings: bookings, ledger: l, events: events, log: log}
}

// CreateBooking stores a pending booking for the passengers' seats.
// Every seat must be held by in.HolderToken right now; the hold is not
// extended, so payment has to arrive before it expires.
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (*model.Booking, error) {
	if in.UserID == "" {
		return nil, invalid("user is required")
	}
	if in.HolderToken == "" {
		return nil, invalid("holder_token is required")
	}
	if !model.ValidPaymentMethod(in.PaymentMethod) {
		return nil, invalid("payment_method must be card, upi or netbanking")
	}
	maxSeats := s.ledger.Config().MaxSeats
	if len(in.Passengers) == 0 || len(in.Passengers) > maxSeats {
		return nil, invalid("between 1 and %d passengers are required", maxSeats)
	}
	if in.JourneyDate.IsZero() {
		return nil, invalid("journey_date is required")
	}
	bus, err := s.buses.GetByID(ctx, in.BusID)
	if err != nil {
		return nil, err
	}

	passengers := make([]model.Passenger, len(in.Passengers))
	seats := make([]string, len(in.Passengers))
	seen := map[string]bool{}
	for i, p := range in.Passengers {
		p.Name = strings.TrimSpace(p.Name)
		p.Gender = strings.ToUpper(strings.TrimSpace(p.Gender))
		p.SeatNumber = model.NormalizeSeatID(p.SeatNumber)
		switch {
		case p.Name == "":
			return nil, invalid("passenger %d: name is required", i+1)
		case p.Age < 1 || p.Age > 120:
			return nil, invalid("passenger %d: age must be between 1 and 120", i+1)
		case p.Gender != "M" && p.Gender != "F" && p.Gender != "O":
			return nil, invalid("passenger %d: gender must be M, F or O", i+1)
		case !bus.Layout.Contains(p.SeatNumber):
			return nil, invalid("passenger %d: seat %q is not on this bus", i+1, p.SeatNumber)
		case seen[p.SeatNumber]:
			return nil, invalid("seat %s is assigned to more than one passenger", p.SeatNumber)
		}
		seen[p.SeatNumber] = true
		passengers[i] = p
		seats[i] = p.SeatNumber
	}
	model.SortSeatIDs(seats)

	if err := s.ledger.VerifyHold(ctx, bus.ID, in.JourneyDate, seats, in.HolderToken); err != nil {
		return nil, err
	}

	now := s.ledger.Now()
	id := uuid.NewString()
	b := &model.Booking{
		ID:               id,
		BookingRef:       fmt.Sprintf("BF-%d-%s", now.UnixMilli(), strings.ToUpper(id[:4])),
		UserID:           in.UserID,
		BusID:            bus.ID,
		JourneyDate:      model.TruncateDate(in.JourneyDate),
		Source:           bus.Source,
		Destination:      bus.Destination,
		DepartureTime:    bus.DepartureTime,
		ArrivalTime:      bus.ArrivalTime,
		BusName:          bus.Name,
		BusType:          bus.Type,
		Passengers:       passengers,
		SelectedSeats:    seats,
		HolderToken:      in.HolderToken,
		TotalAmountCents: uint64(bus.PriceCents) * uint64(len(passengers)),
		PaymentStatus:    model.PaymentPending,
		PaymentMethod:    in.PaymentMethod,
		Status:           model.BookingPending,
		CreatedAt:        now,
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ConfirmPayment applies a successful payment: the held seats are booked
// in the ledger and the booking becomes confirmed.  A confirmed booking
// is returned as is.  When the ledger refuses the seats (hold expired,
// taken or gone) the booking is cancelled and refunded and the ledger
// error returned; a store outage leaves it pending so the payment can be
// applied again.  An empty userID skips the ownership check.
func (s *BookingService) ConfirmPayment(ctx context.Context, bookingID, userID string) (*model.Booking, error) {
	b, err := s.owned(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case model.BookingConfirmed, model.BookingCompleted:
		return b, nil
	case model.BookingCancelled:
		return nil, fmt.Errorf("%w: booking %s is cancelled", repository.ErrConflict, b.ID)
	}

	res, err := s.ledger.Confirm(ctx, ledger.ConfirmRequest{
		BusID:       b.BusID,
		JourneyDate: b.JourneyDate,
		SeatIDs:     b.SelectedSeats,
		HolderToken: b.HolderToken,
		BookingID:   b.ID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrHoldExpired) || errors.Is(err, ledger.ErrHoldMismatch) || errors.Is(err, ledger.ErrNotHeld) {
			if uerr := s.bookings.UpdateStatus(ctx, b.ID, model.BookingPending, model.BookingCancelled, model.PaymentRefunded); uerr != nil {
				s.log.Warn("could not cancel unconfirmable booking", zap.String("booking_id", b.ID), zap.Error(uerr))
			} else {
				s.publishCancelled(ctx, b, true, "seats_unavailable")
			}
		}
		return nil, err
	}

	err = s.bookings.UpdateStatus(ctx, b.ID, model.BookingPending, model.BookingConfirmed, model.PaymentCompleted)
	if errors.Is(err, repository.ErrConflict) {
		// Someone moved the booking first; either a concurrent confirm
		// (fine) or a cancel, whose seats we just booked and must free.
		cur, gerr := s.bookings.GetByID(ctx, b.ID)
		if gerr != nil {
			return nil, gerr
		}
		if cur.Status == model.BookingConfirmed {
			return cur, nil
		}
		s.releaseSeats(ctx, cur, model.BookingConfirmed)
		return nil, fmt.Errorf("%w: booking %s was cancelled during payment", repository.ErrConflict, b.ID)
	}
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingConfirmed
	b.PaymentStatus = model.PaymentCompleted

	if perr := s.events.PublishBookingConfirmed(ctx, queue.BookingConfirmedEvent{
		BookingID:        b.ID,
		BookingRef:       b.BookingRef,
		UserID:           b.UserID,
		BusID:            b.BusID,
		BusName:          b.BusName,
		Source:           b.Source,
		Destination:      b.Destination,
		JourneyDate:      b.JourneyDate.Format(model.DateLayout),
		DepartureTime:    b.DepartureTime,
		Seats:            b.SelectedSeats,
		TotalAmountCents: b.TotalAmountCents,
		LedgerVersion:    res.Version,
		ConfirmedAt:      s.ledger.Now().Format(time.RFC3339),
	}); perr != nil {
		s.log.Warn("booking.confirmed not published", zap.String("booking_id", b.ID), zap.Error(perr))
	}
	return b, nil
}

// CancelBooking cancels a booking and gives its seats back: booked seats
// of a confirmed booking, held seats of a pending one.  Cancelling twice
// is a conflict; the second call still retries the seat release so a
// release lost to a store outage is not stuck forever.  An empty userID
// skips the ownership check.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, userID string) (*model.Booking, error) {
	b, err := s.owned(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case model.BookingCancelled:
		s.releaseSeats(ctx, b, model.BookingConfirmed)
		return nil, fmt.Errorf("%w: booking %s is already cancelled", repository.ErrConflict, b.ID)
	case model.BookingCompleted:
		return nil, fmt.Errorf("%w: booking %s is completed", repository.ErrConflict, b.ID)
	}

	prior := b.Status
	payment := b.PaymentStatus
	if payment == model.PaymentCompleted {
		payment = model.PaymentRefunded
	}
	if err := s.bookings.UpdateStatus(ctx, b.ID, prior, model.BookingCancelled, payment); err != nil {
		return nil, err
	}
	b.Status = model.BookingCancelled
	b.PaymentStatus = payment

	if err := s.releaseSeats(ctx, b, prior); err != nil {
		return nil, err
	}
	s.publishCancelled(ctx, b, payment == model.PaymentRefunded, "customer_cancelled")
	return b, nil
}

// releaseSeats frees the seats of b.  A booking that was confirmed owns
// BOOKED seats.  A pending one owns holds, and may also own BOOKED seats
// when a payment reached the ledger but not the booking row.
func (s *BookingService) releaseSeats(ctx context.Context, b *model.Booking, prior string) error {
	reqs := []ledger.ReleaseRequest{{
		BusID:       b.BusID,
		JourneyDate: b.JourneyDate,
		SeatIDs:     b.SelectedSeats,
		Reason:      ledger.ReasonBookingCancelled,
		BookingID:   b.ID,
	}}
	if prior != model.BookingConfirmed {
		reqs = append(reqs, ledger.ReleaseRequest{
			BusID:       b.BusID,
			JourneyDate: b.JourneyDate,
			SeatIDs:     b.SelectedSeats,
			Reason:      ledger.ReasonHoldReleased,
			HolderToken: b.HolderToken,
		})
	}
	for _, req := range reqs {
		if _, err := s.ledger.Release(ctx, req); err != nil {
			s.log.Error("seat release failed", zap.String("booking_id", b.ID), zap.String("reason", string(req.Reason)), zap.Error(err))
			return err
		}
	}
	return nil
}

func (s *BookingService) publishCancelled(ctx context.Context, b *model.Booking, refunded bool, reason string) {
	err := s.events.PublishBookingCancelled(ctx, queue.BookingCancelledEvent{
		BookingID:   b.ID,
		BookingRef:  b.BookingRef,
		UserID:      b.UserID,
		BusID:       b.BusID,
		JourneyDate: b.JourneyDate.Format(model.DateLayout),
		Seats:       b.SelectedSeats,
		Refunded:    refunded,
		Reason:      reason,
		CancelledAt: s.ledger.Now().Format(time.RFC3339),
	})
	if err != nil {
		s.log.Warn("booking.cancelled not published", zap.String("booking_id", b.ID), zap.Error(err))
	}
}

// GetBooking returns one booking.  An empty userID skips the ownership
// check.
func (s *BookingService) GetBooking(ctx context.Context, bookingID, userID string) (*model.Booking, error) {
	return s.owned(ctx, bookingID, userID)
}

// ListUserBookings returns the user's bookings, newest first.
func (s *BookingService) ListUserBookings(ctx context.Context, userID string) ([]model.Booking, error) {
	return s.bookings.ListByUser(ctx, userID)
}

// ListBookings returns every booking, optionally filtered by status.
func (s *BookingService) ListBookings(ctx context.Context, status string) ([]model.Booking, error) {
	switch status {
	case "", model.BookingPending, model.BookingConfirmed, model.BookingCancelled, model.BookingCompleted:
	default:
		return nil, invalid("unknown status %q", status)
	}
	return s.bookings.List(ctx, status)
}

// Stats returns the admin dashboard figures.
func (s *BookingService) Stats(ctx context.Context) (model.BookingStats, error) {
	st, err := s.bookings.Stats(ctx)
	if err != nil {
		return st, err
	}
	st.TotalBuses, err = s.buses.Count(ctx)
	return st, err
}

func (s *BookingService) owned(ctx context.Context, bookingID, userID string) (*model.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if userID != "" && b.UserID != userID {
		return nil, repository.ErrForbidden
	}
	return b, nil
}
