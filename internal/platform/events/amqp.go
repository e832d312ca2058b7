package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes persistent JSON messages to a durable topic
// exchange, routed by event type, and waits for the broker's confirm.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	confirms chan amqp.Confirmation
	mu       sync.Mutex
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return &AMQPPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    evt.ID,
		Type:         evt.Type,
		Timestamp:    evt.OccurredAt,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, evt.Type, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}

	select {
	case confirmed := <-p.confirms:
		if !confirmed.Ack {
			return fmt.Errorf("publish %s: broker nacked message", evt.Type)
		}
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", evt.Type, ctx.Err())
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
