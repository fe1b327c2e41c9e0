package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsPublished counts envelopes pushed through the event buffer,
	// labelled by event type.
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_published_total",
		Help: "Envelopes published to the realtime fan-out.",
	}, []string{"type"})

	// StreamConnections tracks currently open event streams.
	StreamConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_stream_connections",
		Help: "Open long-lived event stream connections.",
	})

	// StreamReconnects counts reconnect attempts made by managed client
	// stream connections.
	StreamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_stream_reconnects_total",
		Help: "Reconnect attempts by stream connections.",
	})

	// SendFailures counts message sends rejected by the persistence layer.
	SendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_send_failures_total",
		Help: "Message sends that failed to persist.",
	})

	// CatchUpEmpty counts catch-up reads that found no buffered events,
	// forcing the client back to a full page fetch.
	CatchUpEmpty = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_buffer_catchup_empty_total",
		Help: "Buffer catch-up reads that returned nothing.",
	})

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(EventsPublished, StreamConnections, StreamReconnects, SendFailures, CatchUpEmpty)
}

// Handler exposes the chat metrics registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
