// Package prometheus exposes engine counters through prometheus/client_golang.
//
// [Collector] implements prometheus.Collector and builds const metrics from
// [tokengate.Engine.MetricsSnapshot] on every scrape. Counter names are prefixed
// tokengate_*_total; the single histogram is tokengate_login_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers register the
//     Collector or mount [Collector.Handler].
//   - Mutate engine state.
package prometheus
