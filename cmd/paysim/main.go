// paysim publishes a payment.succeeded event for a booking, standing in
// for the payment gateway callback in local and staging setups.
//
//	paysim -booking <id> [-amount 120000] [-payment-id pay_123]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/logger"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
)

func main() {
	var (
		bookingID string
		paymentID string
		amount    uint
	)
	flag.StringVar(&bookingID, "booking", "", "booking id to mark as paid (required)")
	flag.StringVar(&paymentID, "payment-id", "", "gateway payment id (default: random)")
	flag.UintVar(&amount, "amount", 0, "amount paid in cents")
	flag.Parse()

	if bookingID == "" {
		flag.Usage()
		os.Exit(2)
	}
	if paymentID == "" {
		paymentID = "pay_" + uuid.NewString()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Queue.URL == "" {
		fmt.Fprintln(os.Stderr, "RABBITMQ_URL is not set")
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ev := queue.PaymentSucceededEvent{
		BookingID:   bookingID,
		PaymentID:   paymentID,
		AmountCents: uint64(amount),
		PaidAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := queue.NewPublisher(cfg.Queue.URL, log).PublishPaymentSucceeded(ctx, ev); err != nil {
		fmt.Fprintln(os.Stderr, "publish:", err)
		os.Exit(1)
	}
	fmt.Printf("payment %s published for booking %s\n", paymentID, bookingID)
}
