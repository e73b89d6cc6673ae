package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one message body.  Returning an error marked with
// Retry requeues the message; any other error rejects it.
type Handler func(ctx context.Context, body []byte) error

type retryError struct{ err error }

func (e retryError) Error() string { return e.err.Error() }
func (e retryError) Unwrap() error { return e.err }

// Retry marks err as transient so the message is delivered again.
func Retry(err error) error {
	if err == nil {
		return nil
	}
	return retryError{err: err}
}

func isRetry(err error) bool {
	var r retryError
	return errors.As(err, &r)
}

// Consumer reads one durable queue and hands each delivery to Handler.
// It reconnects with exponential backoff until its context is done.
type Consumer struct {
	URL     string
	Queue   string
	Handler Handler
	Log     *zap.Logger

	// Prefetch bounds unacknowledged deliveries; 0 means 50.
	Prefetch int
	// RetryDelay is waited before requeueing a transient failure.
	RetryDelay time.Duration
}

// Run consumes until ctx is cancelled and then returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	log := c.Log.With(zap.String("queue", c.Queue))
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			log.Warn("failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection, log *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	prefetch := c.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		log.Warn("set QoS failed", zap.Error(err))
	}
	if err := declare(ch, c.Queue); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info("consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d, log)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery, log *zap.Logger) {
	err := c.Handler(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case isRetry(err):
		log.Warn("handle message failed, requeueing", zap.Error(err))
		sleep(ctx, c.RetryDelay)
		_ = d.Nack(false, true)
	default:
		log.Error("handle message failed, rejecting", zap.Error(err))
		_ = d.Nack(false, false)
	}
}

// sleep waits for d or until ctx is done; it reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
