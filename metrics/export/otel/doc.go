// Package otel publishes the engine's counters as OpenTelemetry observable
// instruments read by one callback from [authn.Engine.MetricsSnapshot].
// Login outcomes are also folded into authn_login_attempts_total with an
// "outcome" attribute, and the latency histogram is one gauge keyed by "le".
//
// [LogExporter] is an sdk exporter that writes collections to zap for
// deployments without a collector. Callers own the MeterProvider.
package otel
