package storage

import (
	"context"
	"errors"
	"time"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
)

// instrumented records the outcome and latency of every store call.
type instrumented struct {
	store   Store
	metrics *metrics.Metrics
}

// Instrument wraps store with storage metrics. Lookups that find nothing
// count as successful calls.
func Instrument(store Store) Store {
	return &instrumented{store: store, metrics: metrics.NewMetrics()}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	i.metrics.ObserveStorage(op, err, time.Since(start))
}

func (i *instrumented) CreateVcon(ctx context.Context, rec model.VconRecord) error {
	start := time.Now()
	err := i.store.CreateVcon(ctx, rec)
	i.observe("create_vcon", start, err)
	return err
}

func (i *instrumented) GetVcon(ctx context.Context, uuid string) (*model.VconRecord, error) {
	start := time.Now()
	rec, err := i.store.GetVcon(ctx, uuid)
	i.observe("get_vcon", start, err)
	return rec, err
}

func (i *instrumented) UpdateVcon(ctx context.Context, rec model.VconRecord) error {
	start := time.Now()
	err := i.store.UpdateVcon(ctx, rec)
	i.observe("update_vcon", start, err)
	return err
}

func (i *instrumented) ListVcons(ctx context.Context, q model.ListVconsQuery) (*model.ListVconsResult, error) {
	start := time.Now()
	res, err := i.store.ListVcons(ctx, q)
	i.observe("list_vcons", start, err)
	return res, err
}

func (i *instrumented) CreateSubmitter(ctx context.Context, id string) error {
	start := time.Now()
	err := i.store.CreateSubmitter(ctx, id)
	i.observe("create_submitter", start, err)
	return err
}

func (i *instrumented) GetSubmitter(ctx context.Context, id string) (*model.Submitter, error) {
	start := time.Now()
	s, err := i.store.GetSubmitter(ctx, id)
	i.observe("get_submitter", start, err)
	return s, err
}

func (i *instrumented) AppendOperation(ctx context.Context, entry model.OperationLogEntry) error {
	start := time.Now()
	err := i.store.AppendOperation(ctx, entry)
	i.observe("append_operation", start, err)
	return err
}

func (i *instrumented) StoreIdempotentResponse(ctx context.Context, keyHash, requestHash string, responseBody []byte, statusCode int, expiresAt time.Time) error {
	start := time.Now()
	err := i.store.StoreIdempotentResponse(ctx, keyHash, requestHash, responseBody, statusCode, expiresAt)
	i.observe("store_idempotent_response", start, err)
	return err
}

func (i *instrumented) GetIdempotentResponse(ctx context.Context, keyHash, requestHash string) ([]byte, int, error) {
	start := time.Now()
	body, status, err := i.store.GetIdempotentResponse(ctx, keyHash, requestHash)
	i.observe("get_idempotent_response", start, err)
	return body, status, err
}

// Close closes the wrapped store when it has a Close method.
func (i *instrumented) Close() {
	if closer, ok := i.store.(interface{ Close() }); ok {
		closer.Close()
	}
}
