package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.InboundMessages.WithLabelValues("reminder").Inc()
	m.DeliveriesSent.Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.InboundMessages.WithLabelValues("reminder")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DeliveriesSent))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// Each call gets its own registry, so repeated construction never panics.
	assert.NotPanics(t, func() { NewNop(); NewNop() })
}
