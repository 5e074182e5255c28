package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.Tick(true)
	c.Tick(false)
	c.Tick(false)
	c.Stop("deadline")
	c.Negotiation("extended")
	c.Settlement("paid")
	c.GuardRedirect()
	c.SessionAttached(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ticks.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ticks.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stops.WithLabelValues("deadline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.redirects))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.active))
}

func TestCollectorReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.GuardRedirect()
	assert.Equal(t, 1.0, testutil.ToFloat64(second.redirects))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.Tick(true)
	c.Stop("user")
	c.SessionAttached(-1)
}
