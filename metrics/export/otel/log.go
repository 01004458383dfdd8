package otel

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

// LogExporter is an sdk metric exporter that writes each collection as one
// zap line. It suits deployments without a collector; pair it with a
// PeriodicReader.
type LogExporter struct {
	logger *zap.Logger
}

func NewLogExporter(logger *zap.Logger) *LogExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogExporter{logger: logger}
}

func (e *LogExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (e *LogExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

// Export logs every non-zero int64 data point. Points carrying attributes
// are keyed as name{key=value,...}.
func (e *LogExporter) Export(_ context.Context, rm *metricdata.ResourceMetrics) error {
	values := flatten(rm)
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Int64(k, values[k]))
	}
	e.logger.Info("metrics", fields...)
	return nil
}

func (e *LogExporter) ForceFlush(context.Context) error { return nil }

func (e *LogExporter) Shutdown(context.Context) error { return nil }

func flatten(rm *metricdata.ResourceMetrics) map[string]int64 {
	out := make(map[string]int64)
	if rm == nil {
		return out
	}
	add := func(name string, attrs []string, v int64) {
		if v == 0 {
			return
		}
		key := name
		if len(attrs) > 0 {
			key = name + "{" + strings.Join(attrs, ",") + "}"
		}
		out[key] = v
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					add(m.Name, attrStrings(dp.Attributes), dp.Value)
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					add(m.Name, attrStrings(dp.Attributes), dp.Value)
				}
			}
		}
	}
	return out
}

func attrStrings(set attribute.Set) []string {
	out := make([]string, 0, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out = append(out, string(kv.Key)+"="+kv.Value.Emit())
	}
	return out
}
