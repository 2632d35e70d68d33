package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"booking/internal/service"
)

// DefaultExchange is the topic exchange notifications are published to.
const DefaultExchange = "booking_notifications"

// ErrNotConnected is returned when the broker connection is down.
var ErrNotConnected = errors.New("rabbitmq connection is closed")

// message is the wire form of a notification.
type message struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	RecipientID string         `json:"recipient_id"`
	BookingID   string         `json:"booking_id"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func encode(n service.Notification) ([]byte, error) {
	return json.Marshal(message{
		ID:          n.ID,
		Type:        string(n.Type),
		RecipientID: n.RecipientID,
		BookingID:   n.BookingID,
		Title:       n.Title,
		Message:     n.Message,
		Data:        n.Data,
		CreatedAt:   n.CreatedAt,
	})
}

// routingKey is "notification.<type>.<recipient>" in lower case.
func routingKey(n service.Notification) string {
	return fmt.Sprintf("notification.%s.%s", strings.ToLower(string(n.Type)), n.RecipientID)
}

// Publisher sends notifications to a RabbitMQ topic exchange.
type Publisher struct {
	url      string
	exchange string
	log      *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher connects to the broker and declares the exchange.
func NewPublisher(url, exchange string, log *slog.Logger) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	p := &Publisher{url: url, exchange: exchange, log: log}
	if err := p.connect(); err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return err
	}
	p.conn = conn
	p.ch = ch
	return nil
}

// Publish sends a persistent JSON message. A closed connection is redialed once.
func (p *Publisher) Publish(ctx context.Context, n service.Notification) error {
	body, err := encode(n)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.ch == nil || p.ch.IsClosed() {
		p.log.Warn("rabbitmq connection closed, reconnecting")
		if err := p.connect(); err != nil {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
	}

	return p.ch.PublishWithContext(ctx, p.exchange, routingKey(n), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID,
		Timestamp:    n.CreatedAt,
		Body:         body,
	})
}

// IsAlive reports whether the connection and channel are open.
func (p *Publisher) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed()
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		if err := p.ch.Close(); err != nil {
			return fmt.Errorf("close rabbitmq channel: %w", err)
		}
	}
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}

var _ service.NotificationPublisher = (*Publisher)(nil)
