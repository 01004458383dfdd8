package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/learnkit/authn"
	"github.com/learnkit/authn/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authn.MetricsSnapshot
	AuditDropped() uint64
}

// loginOutcomes folds the per-outcome login counters into one instrument
// dimensioned by "outcome".
var loginOutcomes = []struct {
	id      authn.MetricID
	outcome string
}{
	{authn.MetricLoginSuccess, "success"},
	{authn.MetricLoginFailure, "invalid_credentials"},
	{authn.MetricLoginRateLimited, "rate_limited"},
	{authn.MetricLoginInactive, "inactive"},
	{authn.MetricComplianceException, "noncompliant"},
}

// observation reports one instrument from a snapshot.
type observation func(o metric.Observer, snap authn.MetricsSnapshot, dropped uint64)

// Exporter keeps the instrument registration alive until Close.
type Exporter struct {
	registration metric.Registration
}

func New(meter metric.Meter, engine *authn.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewFromSource(meter, engine)
}

// NewFromSource registers the instruments on meter and reads source on
// every collection.
func NewFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	var (
		observables  []metric.Observable
		observations []observation
	)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		id := def.ID
		observables = append(observables, ins)
		observations = append(observations, func(o metric.Observer, snap authn.MetricsSnapshot, _ uint64) {
			o.ObserveInt64(ins, int64(snap.Counters[id]))
		})
	}

	attempts, err := meter.Int64ObservableCounter("authn_login_attempts_total",
		metric.WithDescription("Login attempts by outcome."))
	if err != nil {
		return nil, fmt.Errorf("create login attempts counter: %w", err)
	}
	observables = append(observables, attempts)
	for _, lo := range loginOutcomes {
		id := lo.id
		attrs := metric.WithAttributeSet(attribute.NewSet(attribute.String("outcome", lo.outcome)))
		observations = append(observations, func(o metric.Observer, snap authn.MetricsSnapshot, _ uint64) {
			o.ObserveInt64(attempts, int64(snap.Counters[id]), attrs)
		})
	}

	for _, def := range internaldefs.HistogramDefs {
		name := def.Name + "_bucket"
		buckets, err := meter.Int64ObservableGauge(name,
			metric.WithDescription(def.Help+" Cumulative count per upper bound \"le\"."))
		if err != nil {
			return nil, fmt.Errorf("create bucket gauge %s: %w", name, err)
		}
		observables = append(observables, buckets)
		id := def.ID
		sets := make([]metric.ObserveOption, len(internaldefs.HistogramBounds))
		for i, le := range internaldefs.HistogramBounds {
			sets[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
		}
		observations = append(observations, func(o metric.Observer, snap authn.MetricsSnapshot, _ uint64) {
			raw, ok := snap.Histograms[id]
			if !ok {
				return
			}
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
			for i, v := range cumulative {
				o.ObserveInt64(buckets, int64(v), sets[i])
			}
		})
	}

	auditDropped, err := meter.Int64ObservableCounter("authn_audit_dropped_total",
		metric.WithDescription("Audit events dropped by a full dispatcher buffer."))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	observables = append(observables, auditDropped)
	observations = append(observations, func(o metric.Observer, _ authn.MetricsSnapshot, dropped uint64) {
		o.ObserveInt64(auditDropped, int64(dropped))
	})

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := source.MetricsSnapshot()
		dropped := source.AuditDropped()
		for _, observe := range observations {
			observe(o, snap, dropped)
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return &Exporter{registration: registration}, nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
