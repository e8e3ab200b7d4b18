// Package observe provides application-wide observability primitives for
// gameweaver: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed in
// Prometheus format by [Telemetry.Handler]. Tests use [NewMetrics] with a
// manual reader instead.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all gameweaver metrics.
const meterName = "github.com/MrWong99/gameweaver"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// LLMDuration tracks narration latency.
	LLMDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// EventsHandled counts inbound boundary events. Use with attributes:
	//   attribute.String("event", ...), attribute.String("status", ...)
	EventsHandled metric.Int64Counter

	// BattleMutations counts successful battle operations by "op".
	BattleMutations metric.Int64Counter

	// RelayChunks counts audio chunks by "direction" (in, out, dropped).
	RelayChunks metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by "provider" and "kind".
	ProviderErrors metric.Int64Counter

	// DroppedMessages counts broadcasts dropped for slow clients.
	DroppedMessages metric.Int64Counter

	// ActiveRelays is 1 while a voice relay session runs.
	ActiveRelays metric.Int64UpDownCounter

	// ConnectedClients tracks open websocket connections.
	ConnectedClients metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("gameweaver.llm.duration",
		metric.WithDescription("Latency of Game Master narration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("gameweaver.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.EventsHandled, err = m.Int64Counter("gameweaver.events.handled",
		metric.WithDescription("Inbound boundary events by name and status."),
	); err != nil {
		return nil, err
	}
	if met.BattleMutations, err = m.Int64Counter("gameweaver.battle.mutations",
		metric.WithDescription("Successful battle operations by op."),
	); err != nil {
		return nil, err
	}
	if met.RelayChunks, err = m.Int64Counter("gameweaver.relay.chunks",
		metric.WithDescription("Voice relay audio chunks by direction."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("gameweaver.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("gameweaver.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.DroppedMessages, err = m.Int64Counter("gameweaver.hub.dropped",
		metric.WithDescription("Broadcast messages dropped for slow clients."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRelays, err = m.Int64UpDownCounter("gameweaver.relay.active",
		metric.WithDescription("Number of running voice relay sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedClients, err = m.Int64UpDownCounter("gameweaver.clients.connected",
		metric.WithDescription("Number of connected websocket clients."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordEvent counts one handled boundary event.
func (m *Metrics) RecordEvent(ctx context.Context, event, status string) {
	m.EventsHandled.Add(ctx, 1, metric.WithAttributes(Attr("event", event), Attr("status", status)))
}

// RecordBattleMutation counts one successful battle operation.
func (m *Metrics) RecordBattleMutation(ctx context.Context, op string) {
	m.BattleMutations.Add(ctx, 1, metric.WithAttributes(Attr("op", op)))
}

// RecordRelayChunk counts one audio chunk moving through the relay.
func (m *Metrics) RecordRelayChunk(ctx context.Context, direction string) {
	m.RelayChunks.Add(ctx, 1, metric.WithAttributes(Attr("direction", direction)))
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			Attr("provider", provider),
			Attr("kind", kind),
			Attr("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			Attr("provider", provider),
			Attr("kind", kind),
		),
	)
}
