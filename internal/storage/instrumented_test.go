package storage

import (
	"context"
	"testing"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-vcon-go/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentCountsCalls(t *testing.T) {
	m := metrics.NewMetrics()
	s := Instrument(NewMemory())
	ctx := context.Background()

	okGets := testutil.ToFloat64(m.StorageOperationTotal.WithLabelValues("get_vcon", "ok"))
	failedCreates := testutil.ToFloat64(m.StorageOperationTotal.WithLabelValues("create_vcon", "error"))

	_, err := s.GetVcon(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, okGets+1, testutil.ToFloat64(m.StorageOperationTotal.WithLabelValues("get_vcon", "ok")),
		"a miss is a successful call")

	err = s.CreateVcon(ctx, record("u1", "r1", "nobody", base))
	require.Error(t, err)
	assert.Equal(t, failedCreates+1, testutil.ToFloat64(m.StorageOperationTotal.WithLabelValues("create_vcon", "error")))
}

func TestInstrumentPassesThrough(t *testing.T) {
	s := Instrument(NewMemory())
	ctx := context.Background()

	require.NoError(t, s.CreateSubmitter(ctx, "alice"))
	require.NoError(t, s.CreateVcon(ctx, record("u1", "r1", "alice", base)))

	got, err := s.GetVcon(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Submitter)

	page, err := s.ListVcons(ctx, model.ListVconsQuery{})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
}
