// Package metric provides Prometheus-based metrics for the streamer.
//
// MetricsRegistry owns a private prometheus.Registry pre-loaded with the Go and
// process collectors and the streamer core metrics (Metrics): forwarding rule
// counts, per-rule message counters by kind and drop reason, send retries,
// forward latency, subscription cache size and refresh outcomes, and transport
// connection status.
//
// Components that own additional metrics (for example a rule's queue) register
// them through the MetricsRegistrar methods, keyed by component and metric name
// so duplicate registration is reported as ALREADY_EXISTS instead of panicking.
//
// Server exposes the registry over HTTP:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(":9090", "/metrics", registry)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(ctx)
package metric
