package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizlink/service/conn"
)

var _ conn.Observer = (*Collector)(nil)

func TestCollectorCountsConnectionTelemetry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(Conf{Registry: reg})

	c.StateChanged(conn.Connecting)
	c.StateChanged(conn.Authenticated)
	c.Reconnecting(1)
	c.Reconnecting(2)
	c.Sent("matchmaking.find")
	c.Sent("matchmaking.cancel")
	c.Received("chat:global:message")
	c.SubscriberDropped()
	c.Handoff("lobby.leave", true)
	c.Handoff("chat:typing", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.state))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("authenticated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.reconnects))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sent.WithLabelValues("matchmaking")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.received.WithLabelValues("chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.handoff.WithLabelValues("lobby", "queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.handoff.WithLabelValues("chat", "dropped")))
}

func TestQueueGaugesReadOnScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(Conf{Registry: reg, Namespace: "t"})
	size, evicted := 3, 0
	c.QueueGauges(func() int { return size }, func() int { return evicted })
	c.SubscriberGauge(func() int { return 2 })

	size, evicted = 7, 1
	expected := `
# HELP t_offline_queue_size Actions waiting in the offline queue
# TYPE t_offline_queue_size gauge
t_offline_queue_size 7
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "t_offline_queue_size"))

	n, err := testutil.GatherAndCount(reg, "t_offline_queue_evicted_total", "t_subscribers")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNamespaceLabel(t *testing.T) {
	assert.Equal(t, "game", namespace("game.over"))
	assert.Equal(t, "chat", namespace("chat:typing"))
	assert.Equal(t, "unknown", namespace(""))
}
