// Package telemetry sets up OpenTelemetry tracing and metrics for signald.
//
// Telemetry never fails the daemon: exporter errors mark the instance
// degraded and the global no-op providers stay in place. Tracer and Meter
// are nil-safe so components can hold a *Telemetry that was never started.
package telemetry
