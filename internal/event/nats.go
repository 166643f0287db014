package event

import (
	"context"
	"fmt"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
	"github.com/nats-io/nats.go"
)

// Stream and subjects used on NATS.
const (
	StreamName    = "VCON_EVENTS"
	streamSubject = "vcon.*"
)

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc    *nats.Conn            // NATS connection
	js    nats.JetStreamContext // JetStream context for stream operations
	dedup *dedup
}

// NewNATS connects to url and makes sure the event stream exists.
func NewNATS(url string) (Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("vcon-registry"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats jetstream context: %w", err)
	}

	if err := initStream(js); err != nil {
		nc.Close()
		return nil, err
	}

	return &natsPub{nc: nc, js: js, dedup: newDedup()}, nil
}

// initStream creates the stream on first start. The duplicate window
// lets JetStream drop repeated created events across registry instances.
func initStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamName); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{streamSubject},
		Retention:  nats.LimitsPolicy,
		MaxAge:     24 * time.Hour,
		Discard:    nats.DiscardOld,
		Storage:    nats.FileStorage,
		Duplicates: dedupWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s stream: %w", StreamName, err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func (p *natsPub) PublishVconCreated(ctx context.Context, rec model.VconRecord) error {
	if p.dedup.recent(rec.UUID) {
		return nil
	}
	env := NewEnvelope(ctx, model.OpVconCreated, rec)
	if err := p.publish(ctx, env, model.OpVconCreated+":"+rec.UUID); err != nil {
		return err
	}
	p.dedup.mark(rec.UUID)
	return nil
}

func (p *natsPub) PublishVconUpdated(ctx context.Context, rec model.VconRecord) error {
	env := NewEnvelope(ctx, model.OpVconUpdated, rec)
	return p.publish(ctx, env, env.ID)
}

func (p *natsPub) publish(ctx context.Context, env EventEnvelope, msgID string) error {
	b, err := env.marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := p.js.Publish(env.Type, b, nats.Context(ctx), nats.MsgId(msgID)); err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	return nil
}
