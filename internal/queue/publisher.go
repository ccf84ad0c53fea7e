package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher delivers domain events to RabbitMQ.  It keeps one connection
// and channel, dialing lazily on first use and redialing after a failure.
// Messages are persistent so they survive a broker restart; the outbox
// relay is the only caller and retries failed publishes on its own
// schedule, so a publish error here is returned as-is rather than retried.
type Publisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	// queues already declared on the current channel
	declared map[string]bool
}

// NewPublisher returns a Publisher for the given broker URL.  No
// connection is made until the first Publish.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url, declared: make(map[string]bool)}
}

// Publish marshals payload as JSON and sends it to the queue named by
// eventType, declaring the queue (durable, idempotent) on first use.  On
// any broker error the cached connection is dropped so the next call
// redials.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	if !p.declared[eventType] {
		if _, err := ch.QueueDeclare(
			eventType, // name
			true,      // durable
			false,     // autoDelete
			false,     // exclusive
			false,     // noWait
			nil,       // args
		); err != nil {
			p.reset()
			return fmt.Errorf("queue declare %s: %w", eventType, err)
		}
		p.declared[eventType] = true
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",        // default exchange
		eventType, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		pub,
	); err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// Close tears down the broker connection.  Safe to call without a live
// connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}

// channel returns a live channel, dialing if needed.  Caller holds p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	p.conn = conn
	p.ch = ch
	p.declared = make(map[string]bool)
	return ch, nil
}

// reset drops the cached connection so the next Publish redials.  Caller
// holds p.mu.
func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.declared = make(map[string]bool)
}
