package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ustreamer"

// Drop reasons used as the "reason" label of MessagesDropped.
const (
	ReasonNoSubscribers = "no_subscribers"
	ReasonLoop          = "loop"
	ReasonEcho          = "echo"
	ReasonExpired       = "expired"
	ReasonBackpressure  = "backpressure"
	ReasonSendFailed    = "send_failed"
	ReasonInvalid       = "invalid"
	ReasonRemoved       = "rule_removed"
)

// Metrics contains the streamer-level metrics shared by every forwarding rule
type Metrics struct {
	// Forwarding
	RulesActive       prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	MessagesForwarded *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	SendRetries       *prometheus.CounterVec
	ForwardDuration   *prometheus.HistogramVec

	// Subscription cache
	CacheTopics    prometheus.Gauge
	CacheRecords   prometheus.Gauge
	CacheRefreshes *prometheus.CounterVec
	CacheUpdates   *prometheus.CounterVec

	// Transports
	TransportConnected *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		RulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "rules_active",
			Help:      "Number of active forwarding rules",
		}),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "messages_received_total",
			Help:      "Messages accepted from a source endpoint",
		}, []string{"rule", "kind"}),

		MessagesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "messages_forwarded_total",
			Help:      "Messages sent on a destination endpoint",
		}, []string{"rule", "kind"}),

		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "messages_dropped_total",
			Help:      "Messages not forwarded, by reason",
		}, []string{"rule", "reason"}),

		SendRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "send_retries_total",
			Help:      "Send attempts that failed and were retried",
		}, []string{"rule"}),

		ForwardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "forward_duration_seconds",
			Help:      "Time from dequeue to successful send",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"rule"}),

		CacheTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "topics",
			Help:      "Topics with at least one subscription record",
		}),

		CacheRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "records",
			Help:      "Subscription records held in the cache",
		}),

		CacheRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "refreshes_total",
			Help:      "Cache refreshes by outcome",
		}, []string{"source", "outcome"}),

		CacheUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "updates_total",
			Help:      "Live cache updates by operation",
		}, []string{"op"}),

		TransportConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connected",
			Help:      "Transport connection status (0=disconnected, 1=connected)",
		}, []string{"transport"}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.RulesActive,
		c.MessagesReceived,
		c.MessagesForwarded,
		c.MessagesDropped,
		c.SendRetries,
		c.ForwardDuration,
		c.CacheTopics,
		c.CacheRecords,
		c.CacheRefreshes,
		c.CacheUpdates,
		c.TransportConnected,
	}
}

// RecordReceived increments the received counter
func (c *Metrics) RecordReceived(rule, kind string) {
	c.MessagesReceived.WithLabelValues(rule, kind).Inc()
}

// RecordForwarded increments the forwarded counter and observes latency
func (c *Metrics) RecordForwarded(rule, kind string, d time.Duration) {
	c.MessagesForwarded.WithLabelValues(rule, kind).Inc()
	c.ForwardDuration.WithLabelValues(rule).Observe(d.Seconds())
}

// RecordDropped increments the dropped counter for reason
func (c *Metrics) RecordDropped(rule, reason string) {
	c.MessagesDropped.WithLabelValues(rule, reason).Inc()
}

// RecordRetry increments the retry counter
func (c *Metrics) RecordRetry(rule string) {
	c.SendRetries.WithLabelValues(rule).Inc()
}

// RecordCacheSize updates the cache gauges
func (c *Metrics) RecordCacheSize(topics, records int) {
	c.CacheTopics.Set(float64(topics))
	c.CacheRecords.Set(float64(records))
}

// RecordRefresh increments the refresh counter
func (c *Metrics) RecordRefresh(source string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.CacheRefreshes.WithLabelValues(source, outcome).Inc()
}

// RecordCacheUpdate increments the live update counter
func (c *Metrics) RecordCacheUpdate(op string) {
	c.CacheUpdates.WithLabelValues(op).Inc()
}

// RecordTransportStatus updates a transport's connection gauge
func (c *Metrics) RecordTransportStatus(transport string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.TransportConnected.WithLabelValues(transport).Set(value)
}
