package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/bus-seat-reservation/internal/ledger"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// PaymentConfirmer commits a paid booking.  An empty userID skips the
// ownership check.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, bookingID, userID string) (*model.Booking, error)
}

// NewPaymentHandler returns the payment.succeeded handler.  Only an
// outage of the seat store or the booking database is retried; a booking
// that cannot be confirmed for any other reason will not become
// confirmable by redelivery.
func NewPaymentHandler(svc PaymentConfirmer, log *zap.Logger) Handler {
	return func(ctx context.Context, body []byte) error {
		var ev PaymentSucceededEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		if ev.BookingID == "" {
			return errors.New("payment event without booking_id")
		}
		b, err := svc.ConfirmPayment(ctx, ev.BookingID, "")
		if errors.Is(err, ledger.ErrStoreUnavailable) || errors.Is(err, repository.ErrUnavailable) {
			return Retry(err)
		}
		if err != nil {
			return fmt.Errorf("booking %s: %w", ev.BookingID, err)
		}
		log.Info("payment applied",
			zap.String("booking_id", b.ID),
			zap.String("payment_id", ev.PaymentID),
			zap.String("status", b.Status),
		)
		return nil
	}
}
