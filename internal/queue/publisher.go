package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends booking events to RabbitMQ.  Each publish dials,
// declares the durable queue and sends a persistent message; events are
// rare enough that a pooled connection is not worth its reconnect logic.
// With an empty URL the publisher only logs the events it would send.
type Publisher struct {
	url string
	log *zap.Logger
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	return &Publisher{url: url, log: log}
}

// PublishBookingConfirmed publishes to booking.confirmed.
func (p *Publisher) PublishBookingConfirmed(ctx context.Context, ev BookingConfirmedEvent) error {
	return p.publish(ctx, QueueBookingConfirmed, ev)
}

// PublishBookingCancelled publishes to booking.cancelled.
func (p *Publisher) PublishBookingCancelled(ctx context.Context, ev BookingCancelledEvent) error {
	return p.publish(ctx, QueueBookingCancelled, ev)
}

// PublishPaymentSucceeded publishes to payment.succeeded.  Used by
// cmd/paysim.
func (p *Publisher) PublishPaymentSucceeded(ctx context.Context, ev PaymentSucceededEvent) error {
	return p.publish(ctx, QueuePaymentSucceeded, ev)
}

func (p *Publisher) publish(ctx context.Context, queue string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		p.log.Error("marshal event failed", zap.String("queue", queue), zap.Error(err))
		return err
	}
	if p.url == "" {
		p.log.Info("event not sent, no broker configured", zap.String("queue", queue), zap.ByteString("body", body))
		return nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Error("rabbitmq dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Error("rabbitmq channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := declare(ch, queue); err != nil {
		p.log.Error("rabbitmq queue declare failed", zap.String("queue", queue), zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.log.Error("rabbitmq publish failed", zap.String("queue", queue), zap.Error(err))
		return err
	}
	p.log.Debug("event published", zap.String("queue", queue))
	return nil
}

// declare makes sure queue exists.  Durable so messages survive broker
// restarts.
func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	return err
}
