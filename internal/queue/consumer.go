package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/showgrid/seat-reservation/internal/cache"
)

// MarkerStore persists dedup markers.  Satisfied by cache.Redis.
type MarkerStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetIfAbsent(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
}

// SnapshotCache invalidates derived availability snapshots.  Satisfied by
// cache.Redis.
type SnapshotCache interface {
	Delete(ctx context.Context, key string) error
}

// Consumer drains the two reservation event queues.  The broker delivers
// at least once, so every message passes a dedup marker first: a duplicate
// is acknowledged and otherwise ignored.  Fresh messages invalidate the
// session's availability snapshot and append an audit record, then the
// marker is written and the message acknowledged.  A processing failure is
// rejected without requeue so the broker routes it to a dead-letter
// destination instead of redelivering it in a tight loop.
type Consumer struct {
	url       string
	markers   MarkerStore
	snapshots SnapshotCache
	dedupTTL  time.Duration
	auditPath string
}

// NewConsumer builds a Consumer.  dedupTTL must be comfortably longer than
// the broker's maximum redelivery window.
func NewConsumer(url string, markers MarkerStore, snapshots SnapshotCache, dedupTTL time.Duration) *Consumer {
	return &Consumer{
		url:       url,
		markers:   markers,
		snapshots: snapshots,
		dedupTTL:  dedupTTL,
		auditPath: filepath.Join("logs", "reservation-audit.log"),
	}
}

// Run connects to RabbitMQ, declares queueName (durable) and consumes it
// until ctx is cancelled.  Connection failures trigger a reconnect loop
// with doubling sleep, capped at 30s.
func (c *Consumer) Run(ctx context.Context, queueName string) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			log.Printf("consumer[%s]: failed to dial broker: %v; retrying in %s", queueName, err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := c.consumeLoop(ctx, conn, queueName); err != nil {
			log.Printf("consumer[%s]: consume loop ended: %v; reconnecting", queueName, err)
			_ = conn.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		}
		_ = conn.Close()
		return nil
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection, queueName string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("consumer[%s]: set QoS failed: %v", queueName, err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(ctx, queueName, d.Body); err != nil {
				log.Printf("consumer[%s]: handle message failed: %v", queueName, err)
				_ = d.Nack(false, false) // reject, no requeue: dead-letter instead of a hot loop
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle processes one delivery body for the given event type.  It is the
// whole consumer minus the AMQP plumbing: dedup check, side effect, marker
// write.  A nil return means the message may be acknowledged.
func (c *Consumer) Handle(ctx context.Context, eventType string, body []byte) error {
	switch eventType {
	case EventReservationCreated:
		var ev ReservationCreatedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		return c.process(ctx, eventType, ev.ReservationID, ev.SessionID,
			fmt.Sprintf("reservation created | reservation_id=%d | session_id=%d | seat_id=%d | user_id=%d | expires_at=%s",
				ev.ReservationID, ev.SessionID, ev.SeatID, ev.UserID, ev.ExpiresAt.UTC().Format(time.RFC3339)))
	case EventReservationClosed:
		var ev ReservationClosedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		return c.process(ctx, eventType, ev.ReservationID, ev.SessionID,
			fmt.Sprintf("reservation closed | reservation_id=%d | session_id=%d | seat_id=%d | reason=%s | seat_released=%t",
				ev.ReservationID, ev.SessionID, ev.SeatID, ev.Reason, ev.SeatReleased))
	default:
		return fmt.Errorf("unknown event type %q", eventType)
	}
}

// process runs the dedup protocol around the side effect.  The marker is
// written only after the side effect succeeds: if we crash in between, the
// redelivery repeats an idempotent operation, which is the cheap side of
// the trade.
func (c *Consumer) process(ctx context.Context, eventType string, reservationID, sessionID uint64, auditLine string) error {
	key := cache.KeyDedup(eventType, reservationID)
	if _, seen, err := c.markers.Get(ctx, key); err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	} else if seen {
		// already processed; ack without reprocessing
		return nil
	}
	if err := c.snapshots.Delete(ctx, cache.KeyAvailability(sessionID)); err != nil {
		return fmt.Errorf("invalidate availability: %w", err)
	}
	if err := c.audit(auditLine); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if _, err := c.markers.SetIfAbsent(ctx, key, []byte("1"), c.dedupTTL); err != nil {
		return fmt.Errorf("dedup marker: %w", err)
	}
	return nil
}

// audit appends a single human-readable line to the audit log, creating
// the logs directory on first use.
func (c *Consumer) audit(line string) error {
	if err := os.MkdirAll(filepath.Dir(c.auditPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), line); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}
