// Package eventbus publishes outbox events to Kafka for downstream
// consumers.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fundlane/fundlane-backend/internal/domain"
)

const (
	defaultConnAttempts = 10
	defaultConnTimeout  = time.Second
)

// Publisher writes domain events to a single topic. Messages are keyed by
// aggregate ID so one aggregate's events land on one partition in order.
type Publisher struct {
	connAttempts int
	connTimeout  time.Duration

	logger *slog.Logger
	Writer *kafka.Writer
}

// New verifies the brokers are reachable before returning a publisher,
// retrying the probe so the process survives a broker that is still
// starting.
func New(ctx context.Context, brokers []string, topic string, logger *slog.Logger, opts ...Option) (*Publisher, error) {
	p := &Publisher{
		connAttempts: defaultConnAttempts,
		connTimeout:  defaultConnTimeout,
		logger:       logger,
	}

	for _, opt := range opts {
		opt(p)
	}

	p.Writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	var err error
	for attempt := 1; attempt <= p.connAttempts; attempt++ {
		if err = ping(ctx, brokers[0]); err == nil {
			return p, nil
		}

		p.logger.Warn("kafka broker not reachable yet",
			slog.Int("attempt", attempt),
			slog.Int("attempts_left", p.connAttempts-attempt),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("Publisher - New - ctx.Done: %w", ctx.Err())
		case <-time.After(p.connTimeout):
		}
	}

	return nil, fmt.Errorf("Publisher - New - broker unreachable: %w", err)
}

func ping(ctx context.Context, broker string) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("kafka.DialContext: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("conn.Brokers: %w", err)
	}

	return nil
}

// Handle is an outbox handler. A write error is returned to the outbox so
// the event is retried with backoff.
func (p *Publisher) Handle(ctx context.Context, event *domain.EventLog) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID.String()),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "aggregate_type", Value: []byte(event.AggregateType)},
		},
	}

	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("Publisher - Handle - p.Writer.WriteMessages: %w", err)
	}

	return nil
}

func (p *Publisher) Close() error {
	if p.Writer != nil {
		return p.Writer.Close()
	}

	return nil
}
