package event

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpPub publishes to a durable topic exchange with publisher confirms.
// The routing key is the event type.
type amqpPub struct {
	conn     *amqp.Connection
	exchange string
	dedup    *dedup

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
	ch *amqp.Channel
}

// NewAMQP dials url and declares exchange.
func NewAMQP(url, exchange string) (Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}

	return &amqpPub{conn: conn, ch: ch, exchange: exchange, dedup: newDedup()}, nil
}

func (p *amqpPub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn.Close()
	}
	return nil
}

func (p *amqpPub) PublishVconCreated(ctx context.Context, rec model.VconRecord) error {
	if p.dedup.recent(rec.UUID) {
		return nil
	}
	if err := p.publish(ctx, NewEnvelope(ctx, model.OpVconCreated, rec)); err != nil {
		return err
	}
	p.dedup.mark(rec.UUID)
	return nil
}

func (p *amqpPub) PublishVconUpdated(ctx context.Context, rec model.VconRecord) error {
	return p.publish(ctx, NewEnvelope(ctx, model.OpVconUpdated, rec))
}

var errNacked = errors.New("broker did not confirm publish")

func (p *amqpPub) publish(ctx context.Context, env EventEnvelope) error {
	body, err := env.marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, env.Type, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID,
		CorrelationId: env.CorrelationID,
		Type:          env.Type,
		Timestamp:     env.OccurredAt,
		AppId:         "vcon-registry",
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: %w", env.Type, errNacked)
	}
	return nil
}
