// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server core.
//
// Instrumentation is optional. When disabled (or when no instance is supplied
// at all) the no-op providers are used, so the hot paths pay nothing beyond a
// nil check. Callers that want real telemetry supply their own Resource and
// read from the MeterProvider and TracerProvider with the exporter of their
// choice.
package instrumentation
