// Package queue publishes confirmed bookings to RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const BookingConfirmedQueue = "booking.confirmed"

var errPublisherClosed = errors.New("queue publisher is closed")

// BookingConfirmedEvent is the message body sent to the booking.confirmed
// queue.
type BookingConfirmedEvent struct {
	BookingID   int       `json:"booking_id"`
	Reference   string    `json:"reference"`
	ShowtimeID  int       `json:"showtime_id"`
	UnitIDs     []string  `json:"unit_ids"`
	TotalPrice  string    `json:"total_price"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func NewBookingConfirmedEvent(receipt domain.BookingReceipt) BookingConfirmedEvent {
	return BookingConfirmedEvent{
		BookingID:   receipt.BookingID,
		Reference:   receipt.Reference,
		ShowtimeID:  receipt.ShowtimeID,
		UnitIDs:     receipt.UnitIDs,
		TotalPrice:  receipt.TotalPrice.StringFixed(2),
		ConfirmedAt: receipt.CreatedAt.UTC(),
	}
}

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (channel, func() error, error)

// Publisher keeps one broker connection open and redials after any failed
// publish.
type Publisher struct {
	url    string
	logger *slog.Logger
	dial   dialFunc

	mu        sync.Mutex
	ch        channel
	closeConn func() error
	closed    bool
}

func NewPublisher(url string, logger *slog.Logger) *Publisher {
	return &Publisher{
		url:    url,
		logger: logger,
		dial:   dialAMQP,
	}
}

func dialAMQP(url string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	return ch, conn.Close, nil
}

// BookingConfirmed publishes a persistent message for the receipt.
func (p *Publisher) BookingConfirmed(ctx context.Context, receipt domain.BookingReceipt) error {
	body, err := json.Marshal(NewBookingConfirmedEvent(receipt))
	if err != nil {
		return fmt.Errorf("marshal booking event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		"",                    // default exchange
		BookingConfirmedQueue, // routing key = queue name
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    receipt.Reference,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("publish booking event: %w", err)
	}

	p.logger.Debug("published booking confirmation", "reference", receipt.Reference)

	return nil
}

func (p *Publisher) channelLocked() (channel, error) {
	if p.closed {
		return nil, errPublisherClosed
	}

	if p.ch != nil {
		return p.ch, nil
	}

	ch, closeConn, err := p.dial(p.url)
	if err != nil {
		return nil, err
	}

	_, err = ch.QueueDeclare(BookingConfirmedQueue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = closeConn()
		return nil, fmt.Errorf("declare %s: %w", BookingConfirmedQueue, err)
	}

	p.ch = ch
	p.closeConn = closeConn

	return ch, nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeConn != nil {
		_ = p.closeConn()
	}

	p.ch = nil
	p.closeConn = nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked()
	p.closed = true

	return nil
}
