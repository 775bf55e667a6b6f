// Package observability provides an OpenTelemetry metrics extension that
// counts scheduling lifecycle events. Register [MetricsExtension] with the
// engine's extension registry to record dispatches, completions, retries,
// failures, cancellations, timeouts, workflow run outcomes, bucket
// ownership changes and applied broadcasts.
package observability
