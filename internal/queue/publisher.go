package queue

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultQueueName is the durable queue reservation events are routed to.
const DefaultQueueName = "reservation.events"

// dialTimeout bounds the TCP connect of every broker dial.
const dialTimeout = 2 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func dial(url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
}

// Publisher sends ReservationEvents to RabbitMQ.  Each call dials, declares
// the queue and publishes one persistent message, so a broker outage only
// affects the calls made while it lasts.
type Publisher struct {
	url    string
	queue  string
	logger *zap.Logger
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url, queue string, logger *zap.Logger) *Publisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Publisher{url: url, queue: queue, logger: logger}
}

// Publish sends ev to the configured queue.  Errors are logged and
// returned so the caller can choose to ignore them.
func (p *Publisher) Publish(ctx context.Context, ev ReservationEvent) error {
	conn, err := dial(p.url)
	if err != nil {
		p.logger.Warn("rabbitmq: dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Warn("rabbitmq: channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := declare(ch, p.queue); err != nil {
		p.logger.Warn("rabbitmq: queue declare failed", zap.String("queue", p.queue), zap.Error(err))
		return err
	}

	pub, err := newPublishing(ev)
	if err != nil {
		p.logger.Warn("rabbitmq: marshal event failed", zap.Error(err))
		return err
	}

	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		p.logger.Warn("rabbitmq: publish failed", zap.String("event_id", ev.EventID), zap.Error(err))
		return err
	}
	return nil
}

// newPublishing encodes ev as a persistent JSON message whose MessageId is
// the event ID.
func newPublishing(ev ReservationEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Type:         string(ev.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

// declare makes sure the durable queue exists.
func declare(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
}

// NopPublisher drops every event.  It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ReservationEvent) error { return nil }

// Sink receives reservation events.
type Sink interface {
	Publish(ctx context.Context, ev ReservationEvent) error
}

// Fanout hands every event to each sink in order and joins their errors.
// A failing sink does not stop the others.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev ReservationEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
