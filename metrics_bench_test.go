package authn

import (
	"testing"
	"time"
)

// loginOutcomeMix approximates the counters one login touches under a
// credential-stuffing burst: mostly failures, some throttling, few successes.
var loginOutcomeMix = [...]MetricID{
	MetricLoginFailure,
	MetricLoginFailure,
	MetricLoginFailure,
	MetricLoginRateLimited,
	MetricLoginFailure,
	MetricLoginRateLimited,
	MetricLoginSuccess,
	MetricSessionCreated,
}

func BenchmarkMetricsInc(b *testing.B) {
	for _, enabled := range []bool{true, false} {
		name := "enabled"
		if !enabled {
			name = "disabled"
		}
		b.Run(name, func(b *testing.B) {
			m := NewMetrics(MetricsConfig{Enabled: enabled})
			b.ReportAllocs()
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					m.Inc(MetricLoginSuccess)
				}
			})
		})
	}
}

func BenchmarkMetricsLoginOutcomeMixParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Inc(loginOutcomeMix[i%len(loginOutcomeMix)])
			i++
		}
	})
}

func BenchmarkMetricsObserveLoginLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	// argon2id verification dominates login latency
	samples := [...]time.Duration{
		3 * time.Millisecond,
		40 * time.Millisecond,
		90 * time.Millisecond,
		250 * time.Millisecond,
	}
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Observe(MetricLoginLatency, samples[i%len(samples)])
			i++
		}
	})
}

func BenchmarkMetricsSnapshot(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for _, id := range loginOutcomeMix {
		m.Inc(id)
	}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}
}
