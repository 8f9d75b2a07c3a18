package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
)

// AMQPChannel is the subset of *amqp.Channel used by AMQPPublisher.
type AMQPChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a durable queue. Routing key is
// "<queue>.<event_type>" on the configured exchange, or the queue name on
// the default exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       AMQPChannel
	exchange string
	queue    string
}

// DialAMQP connects to url and declares queue as durable.
func DialAMQP(url, exchange, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	p := NewAMQPPublisher(ch, exchange, queue)
	p.conn = conn
	return p, nil
}

// NewAMQPPublisher wraps an open channel.
func NewAMQPPublisher(ch AMQPChannel, exchange, queue string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, queue: queue}
}

// Publish implements Publisher. AMQP channels are not safe for concurrent
// publishing, so calls are serialized.
func (p *AMQPPublisher) Publish(_ context.Context, evt domain.AnalyticsEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		logger.Error("marshal analytics event", "error", err.Error())
		return
	}

	key := p.queue
	if p.exchange != "" {
		key = p.queue + "." + string(evt.Type)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish(p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    time.Now().UTC(),
		Type:         string(evt.Type),
		Body:         body,
	})
	if err != nil {
		logger.Error("publish analytics event to AMQP", "event_id", evt.ID, "error", err.Error())
	}
}

// Close closes the channel and, when dialed here, the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
