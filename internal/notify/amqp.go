package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// AMQPConfig configures the event publisher.
type AMQPConfig struct {
	URL      string
	Exchange string
	// RoutingPrefix is prepended to the event type to form the routing key.
	RoutingPrefix string
}

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes every pipeline event as JSON to a topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	prefix   string
	logger   *slog.Logger
}

// DialAMQP connects and declares the durable topic exchange.
func DialAMQP(cfg AMQPConfig, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: 30 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("notify: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("notify: declare exchange %s: %w", cfg.Exchange, err)
	}
	p := newAMQPPublisher(ch, cfg, logger)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, cfg AMQPConfig, logger *slog.Logger) *AMQPPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.RoutingPrefix
	if prefix == "" {
		prefix = "retropick"
	}
	return &AMQPPublisher{
		ch:       ch,
		exchange: cfg.Exchange,
		prefix:   prefix,
		logger:   logger.With(slog.String("component", "amqp_publisher")),
	}
}

// Emit publishes ev with routing key <prefix>.<type>. Failures are logged.
func (p *AMQPPublisher) Emit(ctx context.Context, ev domain.PipelineEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.TriggerID + "/" + ev.Type + "/" + ev.Key,
		Timestamp:    ev.At,
		Type:         ev.Type,
		Body:         body,
	}
	if err := p.ch.Publish(p.exchange, p.prefix+"."+ev.Type, false, false, msg); err != nil {
		p.logger.WarnContext(ctx, "amqp publish failed",
			slog.String("event", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
