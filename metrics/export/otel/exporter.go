package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	monarch "github.com/mmkit/monarch"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// metricsSource is the read surface the exporter needs; *monarch.Client
// satisfies it.
type metricsSource interface {
	MetricsSnapshot() monarch.MetricsSnapshot
}

type counterDef struct {
	id   monarch.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{monarch.MetricLoginSuccess, "monarch_login_success_total", "Completed logins."},
	{monarch.MetricLoginFailure, "monarch_login_failure_total", "Rejected logins."},
	{monarch.MetricMFARequired, "monarch_mfa_required_total", "Logins that demanded a second factor."},
	{monarch.MetricMFAFailure, "monarch_mfa_failure_total", "Rejected MFA completions."},
	{monarch.MetricRefreshSuccess, "monarch_refresh_success_total", "Session refresh units that succeeded."},
	{monarch.MetricRefreshFailure, "monarch_refresh_failure_total", "Session refresh units that failed."},
	{monarch.MetricRefreshCoalesced, "monarch_refresh_coalesced_total", "Callers served by another caller's in-flight refresh."},
	{monarch.MetricRequestSuccess, "monarch_request_success_total", "Operations that returned data."},
	{monarch.MetricRequestFailure, "monarch_request_failure_total", "Operations surfaced as failures."},
	{monarch.MetricRequestRetry, "monarch_request_retry_total", "Individual retried sends."},
	{monarch.MetricRequestRateLimited, "monarch_request_rate_limited_total", "Rate-limit signals observed."},
	{monarch.MetricSessionLoaded, "monarch_session_loaded_total", "Sessions restored from the store."},
	{monarch.MetricSessionPersisted, "monarch_session_persisted_total", "Sessions written to the store."},
	{monarch.MetricPollTimeout, "monarch_poll_timeout_total", "Poller waits that exhausted their budget."},
}

type observedCounter struct {
	id         monarch.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter bridges the client's counters into an OpenTelemetry Meter. One
// callback reads a MetricsSnapshot per collection cycle.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
}

// NewExporter registers an Int64ObservableCounter per client metric on the
// supplied meter. The caller owns the MeterProvider.
func NewExporter(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(counterDefs)),
	}

	observables := make([]metric.Observable, 0, len(counterDefs))
	for _, def := range counterDefs {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.id, instrument: ins})
		observables = append(observables, ins)
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
