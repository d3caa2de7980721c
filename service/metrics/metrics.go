// Package metrics exports connection, hub and offline queue telemetry to
// Prometheus. A *Collector is a conn.Observer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"quizlink/service/conn"
	"quizlink/tools/decode"
)

type Conf struct {
	Namespace   string // 默认 quizlink
	ConstLabels prometheus.Labels
	Registry    prometheus.Registerer // 默认 prometheus.DefaultRegisterer
}

func (c *Conf) norm() {
	if c.Namespace == "" {
		c.Namespace = "quizlink"
	}
	if c.Registry == nil {
		c.Registry = prometheus.DefaultRegisterer
	}
}

type Collector struct {
	factory promauto.Factory
	conf    Conf

	state       prometheus.Gauge
	transitions *prometheus.CounterVec
	reconnects  prometheus.Counter
	sent        *prometheus.CounterVec
	received    *prometheus.CounterVec
	dropped     prometheus.Counter
	handoff     *prometheus.CounterVec
}

func New(conf Conf) *Collector {
	conf.norm()
	f := promauto.With(conf.Registry)
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: conf.Namespace, Name: name, Help: help, ConstLabels: conf.ConstLabels}
	}
	return &Collector{
		factory: f,
		conf:    conf,
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   conf.Namespace,
			Name:        "connection_state",
			Help:        "0 disconnected, 1 connecting, 2 authenticated",
			ConstLabels: conf.ConstLabels,
		}),
		transitions: f.NewCounterVec(opts("connection_transitions_total", "Connection state transitions"), []string{"state"}),
		reconnects:  f.NewCounter(opts("reconnect_attempts_total", "Reconnect attempts after a lost session")),
		sent:        f.NewCounterVec(opts("envelopes_sent_total", "Envelopes written to the socket by namespace"), []string{"namespace"}),
		received:    f.NewCounterVec(opts("envelopes_received_total", "Envelopes read from the socket by namespace"), []string{"namespace"}),
		dropped:     f.NewCounter(opts("subscriber_dropped_total", "Envelopes dropped because a subscriber buffer was full")),
		handoff: f.NewCounterVec(opts("offline_handoff_total", "Sends made while not authenticated"),
			[]string{"namespace", "result"}),
	}
}

func (c *Collector) StateChanged(s conn.State) {
	c.state.Set(float64(s))
	c.transitions.WithLabelValues(s.String()).Inc()
}

func (c *Collector) Reconnecting(int) { c.reconnects.Inc() }

func (c *Collector) Sent(typ string)     { c.sent.WithLabelValues(namespace(typ)).Inc() }
func (c *Collector) Received(typ string) { c.received.WithLabelValues(namespace(typ)).Inc() }
func (c *Collector) SubscriberDropped()  { c.dropped.Inc() }

func (c *Collector) Handoff(typ string, queued bool) {
	result := "dropped"
	if queued {
		result = "queued"
	}
	c.handoff.WithLabelValues(namespace(typ), result).Inc()
}

// QueueGauges reports the offline queue size and eviction count on scrape.
func (c *Collector) QueueGauges(size, evicted func() int) {
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.conf.Namespace,
		Name:        "offline_queue_size",
		Help:        "Actions waiting in the offline queue",
		ConstLabels: c.conf.ConstLabels,
	}, func() float64 { return float64(size()) })
	c.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   c.conf.Namespace,
		Name:        "offline_queue_evicted_total",
		Help:        "Actions evicted because the queue was full",
		ConstLabels: c.conf.ConstLabels,
	}, func() float64 { return float64(evicted()) })
}

// SubscriberGauge reports the live subscriber count on scrape.
func (c *Collector) SubscriberGauge(n func() int) {
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.conf.Namespace,
		Name:        "subscribers",
		Help:        "Live hub subscriptions",
		ConstLabels: c.conf.ConstLabels,
	}, func() float64 { return float64(n()) })
}

// namespace keeps label cardinality bounded to the type prefix.
func namespace(typ string) string {
	ns := decode.Namespace(typ)
	if ns == "" {
		return "unknown"
	}
	return ns
}
