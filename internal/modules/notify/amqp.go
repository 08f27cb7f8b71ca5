package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Exchange       = "trip.events"
	publishTimeout = 5 * time.Second
)

// RoutingKey is trip.<status>, lower case, e.g. trip.accepted.
func RoutingKey(status string) string {
	return "trip." + strings.ToLower(status)
}

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	GetNextPublishSeqNo() uint64
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// confirmBuffer holds confirms that arrive after their publish timed out.
const confirmBuffer = 64

// AMQPPublisher emits changes to a RabbitMQ topic exchange for external
// collaborators (push/SMS delivery, earnings). Publishes wait for the broker
// confirm carrying their own delivery tag.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       amqpChannel
	confirms <-chan amqp.Confirmation
}

func NewAMQPPublisher(conn *amqp.Connection) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("notify: declare exchange %s: %w", Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("notify: enable confirms: %w", err)
	}
	return &AMQPPublisher{
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer)),
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, c Change) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("notify.AMQPPublisher.Publish: %w", err)
	}
	if p.ch.IsClosed() {
		return errors.New("notify: amqp channel is closed")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	tag := p.ch.GetNextPublishSeqNo()
	err = p.ch.PublishWithContext(ctx, Exchange, RoutingKey(c.Status), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    fmt.Sprintf("%s:%d", c.TripID, c.Version),
		Timestamp:    c.At,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notify.AMQPPublisher.Publish: %w", err)
	}

	for {
		select {
		case conf, ok := <-p.confirms:
			if !ok {
				return errors.New("notify: amqp confirm channel closed")
			}
			if conf.DeliveryTag < tag {
				// Late confirm for an earlier publish that already timed out.
				continue
			}
			if !conf.Ack {
				return fmt.Errorf("notify: publish of %s not acknowledged", c.TripID)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}
