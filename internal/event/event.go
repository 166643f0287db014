// Package event announces registry changes to downstream consumers.
// Events go to NATS JetStream or a RabbitMQ topic exchange; with neither
// configured the registry runs with a no-op publisher.
package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
	"github.com/google/uuid"
)

// Publisher defines the event publishing operations required by the registry.
type Publisher interface {
	PublishVconCreated(ctx context.Context, rec model.VconRecord) error
	PublishVconUpdated(ctx context.Context, rec model.VconRecord) error

	// Close closes the publisher connection
	Close() error
}

// EnvelopeVersion is the schema version of EventEnvelope.
const EnvelopeVersion = "1.0.0"

// EventEnvelope represents the standard event envelope structure.
type EventEnvelope struct {
	ID            string    `json:"id"`            // Unique per publish
	Type          string    `json:"type"`          // vcon.created, vcon.updated
	Version       string    `json:"version"`       // Envelope schema version
	OccurredAt    time.Time `json:"occurredAt"`    // When the event occurred
	CorrelationID string    `json:"correlationId"` // Request that caused the event
	Payload       VconEvent `json:"payload"`
}

// VconEvent is the payload of every vCon event. It carries identity and
// bookkeeping only; consumers fetch the document by uuid.
type VconEvent struct {
	UUID       string     `json:"uuid"`
	RKey       string     `json:"rkey"`
	Submitter  string     `json:"submitter"`
	Version    string     `json:"vcon"`
	Subject    string     `json:"subject,omitempty"`
	IndexedAt  time.Time  `json:"indexedAt"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
	ArchiveKey string     `json:"archiveKey,omitempty"`
}

// NewEnvelope wraps rec in an envelope of the given type. The correlation
// id is taken from ctx, or generated when ctx carries none.
func NewEnvelope(ctx context.Context, eventType string, rec model.VconRecord) EventEnvelope {
	id := uuid.NewString()
	corr := CorrelationID(ctx)
	if corr == "" {
		corr = id
	}
	return EventEnvelope{
		ID:            id,
		Type:          eventType,
		Version:       EnvelopeVersion,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: corr,
		Payload: VconEvent{
			UUID:       rec.UUID,
			RKey:       rec.RKey,
			Submitter:  rec.Submitter,
			Version:    rec.Version,
			Subject:    rec.Subject,
			IndexedAt:  rec.IndexedAt,
			UpdatedAt:  rec.UpdatedAt,
			ArchiveKey: rec.ArchiveKey,
		},
	}
}

func (e EventEnvelope) marshal() ([]byte, error) { return json.Marshal(e) }

type correlationKey struct{}

// WithCorrelationID returns a context whose events carry id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Options selects and configures a backend.
type Options struct {
	Backend      string // "nats", "amqp" or "none"
	NATSURL      string
	AMQPURL      string
	AMQPExchange string
}

// NewPublisher connects the configured backend. When the backend is not
// configured or cannot be reached it logs a warning and returns a no-op
// publisher, so the registry keeps serving without eventing.
func NewPublisher(opts Options) Publisher {
	var (
		pub Publisher
		err error
	)
	switch opts.Backend {
	case "nats":
		if opts.NATSURL == "" {
			return Instrument(&noop{})
		}
		pub, err = NewNATS(opts.NATSURL)
	case "amqp":
		if opts.AMQPURL == "" {
			return Instrument(&noop{})
		}
		pub, err = NewAMQP(opts.AMQPURL, opts.AMQPExchange)
	default:
		return Instrument(&noop{})
	}
	if err != nil {
		slog.Warn("event backend unavailable, using noop publisher", "backend", opts.Backend, "error", err)
		return Instrument(&noop{})
	}
	return Instrument(pub)
}

// noop is a no-op implementation of Publisher for when no broker is configured.
type noop struct{}

// NewNoop returns a Publisher that drops every event.
func NewNoop() Publisher { return &noop{} }

func (n *noop) Close() error { return nil }

func (n *noop) PublishVconCreated(ctx context.Context, rec model.VconRecord) error { return nil }

func (n *noop) PublishVconUpdated(ctx context.Context, rec model.VconRecord) error { return nil }

// instrumented records publish counts and latency for any Publisher.
type instrumented struct {
	Publisher
	metrics *metrics.Metrics
}

// Instrument wraps pub with Prometheus publish metrics.
func Instrument(pub Publisher) Publisher {
	return &instrumented{Publisher: pub, metrics: metrics.NewMetrics()}
}

func (i *instrumented) PublishVconCreated(ctx context.Context, rec model.VconRecord) error {
	start := time.Now()
	err := i.Publisher.PublishVconCreated(ctx, rec)
	i.metrics.ObserveEvent(model.OpVconCreated, err, time.Since(start))
	return err
}

func (i *instrumented) PublishVconUpdated(ctx context.Context, rec model.VconRecord) error {
	start := time.Now()
	err := i.Publisher.PublishVconUpdated(ctx, rec)
	i.metrics.ObserveEvent(model.OpVconUpdated, err, time.Since(start))
	return err
}

// dedupWindow is how long a created event for the same uuid is suppressed.
const dedupWindow = 2 * time.Minute

// dedup suppresses repeated created events for one uuid, for example when a
// client retries an ingest whose response was lost.
type dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func newDedup() *dedup {
	return &dedup{seen: make(map[string]time.Time), now: time.Now}
}

// recent reports whether key was marked within the window.
func (d *dedup) recent(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.seen[key]
	return ok && d.now().Sub(last) < dedupWindow
}

// mark records key as published and drops entries well past the window.
func (d *dedup) mark(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	cutoff := now.Add(-5 * time.Minute)
	for k, t := range d.seen {
		if t.Before(cutoff) {
			delete(d.seen, k)
		}
	}
	d.seen[key] = now
}
