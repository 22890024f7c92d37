package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"storefront/pkg/domain/service"
)

const DefaultExchange = "storefront.events"

// Publisher forwards domain events to a RabbitMQ topic exchange, routed by
// event type.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "connect to rabbitmq")
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open rabbitmq channel")
	}
	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	log.WithField("exchange", exchange).Info("publishing domain events to rabbitmq")
	return &Publisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// Publish matches the event dispatcher handler signature.
func (p *Publisher) Publish(ctx context.Context, event service.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, p.exchange, event.Type(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         event.Type(),
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
