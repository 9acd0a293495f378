// Package otel provides OpenTelemetry metric exporter bindings for the
// monarch client counters.
//
// [NewExporter] registers an Int64ObservableCounter per client metric. A
// single callback reads [monarch.Client.MetricsSnapshot] on each collection
// cycle, so the client's hot paths never touch OTel instruments directly.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider — callers supply the Meter.
//   - Mutate client state.
package otel
