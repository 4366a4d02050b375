package streamer

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/ustreamer/metric"
)

// LogObserver is the default observer: structured logs plus Prometheus
// metrics. Backpressure warnings are rate limited since a full queue produces
// one per arriving message.
type LogObserver struct {
	logger  *slog.Logger
	metrics *metric.Metrics
	limiter *rate.Limiter
}

// NewLogObserver returns an observer writing to logger and, when metrics is
// non-nil, recording to metrics. At most one backpressure warning per
// interval is logged, with a burst of 5.
func NewLogObserver(logger *slog.Logger, metrics *metric.Metrics, interval time.Duration) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &LogObserver{
		logger:  logger,
		metrics: metrics,
		limiter: rate.NewLimiter(rate.Every(interval), 5),
	}
}

// Observe implements Observer.
func (o *LogObserver) Observe(e Event) {
	o.record(e)

	switch e.Kind {
	case EventRuleAdded:
		o.logger.Info("Forwarding rule added", "rule", e.Rule)
	case EventRuleRemoved:
		o.logger.Info("Forwarding rule removed", "rule", e.Rule)
	case EventReceived:
		// counted only
	case EventForwarded:
		o.logger.Debug("Message forwarded",
			"rule", e.Rule, "id", e.MessageID.String(), "kind", e.MessageKind.String(), "duration", e.Duration)
	case EventDropped:
		o.logDropped(e)
	case EventSendRetry:
		o.logger.Debug("Retrying send",
			"rule", e.Rule, "id", e.MessageID.String(), "attempt", e.Attempt, "error", e.Err)
	case EventBackpressure:
		if o.limiter.Allow() {
			o.logger.Warn("Forwarding queue full, dropping newest message",
				"rule", e.Rule, "id", e.MessageID.String())
		}
	}
}

func (o *LogObserver) logDropped(e Event) {
	attrs := []any{"rule", e.Rule, "id", e.MessageID.String(), "kind", e.MessageKind.String(), "reason", e.Reason}
	switch e.Reason {
	case metric.ReasonSendFailed:
		o.logger.Warn("Message dropped after send failure", append(attrs, "error", e.Err)...)
	case metric.ReasonInvalid:
		o.logger.Warn("Message dropped", attrs...)
	default:
		o.logger.Debug("Message dropped", attrs...)
	}
}

func (o *LogObserver) record(e Event) {
	if o.metrics == nil {
		return
	}
	switch e.Kind {
	case EventRuleAdded:
		o.metrics.RulesActive.Inc()
	case EventRuleRemoved:
		o.metrics.RulesActive.Dec()
	case EventReceived:
		o.metrics.RecordReceived(e.Rule, e.MessageKind.String())
	case EventForwarded:
		o.metrics.RecordForwarded(e.Rule, e.MessageKind.String(), e.Duration)
	case EventDropped:
		o.metrics.RecordDropped(e.Rule, e.Reason)
	case EventSendRetry:
		o.metrics.RecordRetry(e.Rule)
	case EventBackpressure:
		o.metrics.RecordDropped(e.Rule, metric.ReasonBackpressure)
	}
}
