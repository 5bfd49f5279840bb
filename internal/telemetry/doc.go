// Package telemetry wires OpenTelemetry tracing and metrics for assistd.
//
// Components obtain tracers through otel.Tracer at package scope; New
// installs the global providers so those tracers export. When disabled,
// the global no-op providers stay in place.
package telemetry
