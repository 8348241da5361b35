package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
	"wisppos-backend/lib/telemetry"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("wisppos.lib.events")

// Publisher sends json events to whoever listens, routing keys look like
// "access_code.created".
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

// Nop drops every event, it is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, routingKey string, body any) error {
	return nil
}

type Config struct {
	Url      string `json:"url" env:"URL"`
	Exchange string `json:"exchange"`
}

const DefaultExchange = "wisppos"

// Open returns a publisher for config and a function closing it, an empty
// url gives a Nop publisher.
func Open(config Config) (Publisher, func() error, error) {
	if config.Url == "" {
		return Nop{}, func() error { return nil }, nil
	}
	p, err := DialAmqp(config.Url, config.Exchange)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

func sanitizeAmqpUrl(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("amqp url must start with amqp:// or amqps://")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// AmqpPublisher publishes persistent json messages to a durable topic
// exchange.
type AmqpPublisher struct {
	exchange string
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	lock     sync.Mutex
}

func DialAmqp(rawUrl, exchange string) (*AmqpPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	clean, err := sanitizeAmqpUrl(rawUrl)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(clean)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	err = channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	return &AmqpPublisher{
		exchange: exchange,
		conn:     conn,
		channel:  channel,
	}, nil
}

func (p *AmqpPublisher) Publish(ctx context.Context, routingKey string, body any) error {
	ctx, span := tracer.Start(ctx, "amqp:Publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("exchange", p.exchange),
		attribute.String("routing_key", routingKey),
	)

	serialized, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", routingKey, err)
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         serialized,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		return err
	}
	slog.DebugContext(ctx, "published event", "exchange", p.exchange, "routing_key", routingKey)
	return nil
}

func (p *AmqpPublisher) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	return p.conn.Close()
}
