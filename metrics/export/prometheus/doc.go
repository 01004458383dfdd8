// Package prometheus renders the engine's login counters in Prometheus text
// exposition format. Counters are named authn_*_total and the login latency
// histogram is authn_login_latency_seconds. Nothing is registered globally;
// callers mount [Exporter.Handler].
package prometheus
