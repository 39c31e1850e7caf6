// Package observability renders daemon metrics in Prometheus text format.
package observability

import (
	"bytes"
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"

	"github.com/lumina-panel/lumina/internal/conn"
	"github.com/lumina-panel/lumina/internal/eventhub"
)

// connStates is the fixed label set for the one-hot connection state gauge.
var connStates = []conn.State{
	conn.StateDisconnected,
	conn.StateConnecting,
	conn.StateConnected,
	conn.StateDisconnecting,
	conn.StateError,
}

// StatusProvider exposes the current connection status.
type StatusProvider interface {
	Status(ctx context.Context) conn.Status
}

// HubMetricsProvider exposes event hub counters.
type HubMetricsProvider interface {
	MetricsSnapshot() eventhub.Metrics
}

// Exporter gathers daemon metrics into Prometheus' text exposition format.
// Providers are optional; an unset provider simply omits its family.
type Exporter struct {
	registry *prometheus.Registry

	status    StatusProvider
	hub       HubMetricsProvider
	wsClients func() int

	connState  *prometheus.GaugeVec
	connSince  prometheus.Gauge
	hubEvents  prometheus.Gauge
	hubEvicted prometheus.Gauge
	hubDropped prometheus.Gauge
	hubSubs    prometheus.Gauge
	wsGauge    prometheus.Gauge
}

// NewExporter constructs an exporter with Go runtime and process collectors
// pre-registered.
func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e := &Exporter{
		registry: registry,
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lumina_connection_state",
			Help: "Connection state machine position, one-hot per state.",
		}, []string{"state"}),
		connSince: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumina_connection_since_seconds",
			Help: "Seconds since the connection entered its current state.",
		}),
		hubEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumina_events_published_total",
			Help: "Total number of events published on the hub.",
		}),
		hubEvicted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumina_events_evicted_total",
			Help: "Total number of events evicted from the ring buffer.",
		}),
		hubDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumina_event_subscribers_dropped_total",
			Help: "Total number of subscribers dropped for falling behind.",
		}),
		hubSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumina_event_subscribers",
			Help: "Current number of event hub subscribers.",
		}),
		wsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumina_websocket_clients",
			Help: "Current number of connected WebSocket clients.",
		}),
	}
	registry.MustRegister(e.connState, e.connSince, e.hubEvents, e.hubEvicted, e.hubDropped, e.hubSubs, e.wsGauge)
	return e
}

// WithStatus enables exporting connection state metrics.
func (e *Exporter) WithStatus(provider StatusProvider) {
	e.status = provider
}

// WithHub enables exporting event hub counters.
func (e *Exporter) WithHub(provider HubMetricsProvider) {
	e.hub = provider
}

// WithWSClients enables exporting the WebSocket client gauge.
func (e *Exporter) WithWSClients(provider func() int) {
	e.wsClients = provider
}

// Export refreshes all gauges from their providers and renders the registry.
func (e *Exporter) Export() []byte {
	e.refresh()

	families, err := e.registry.Gather()
	if err != nil {
		log.Printf("[Observability] gather metrics: %v", err)
		return nil
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			log.Printf("[Observability] encode %s: %v", family.GetName(), err)
			return nil
		}
	}
	return buf.Bytes()
}

func (e *Exporter) refresh() {
	if e.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		status := e.status.Status(ctx)
		cancel()

		for _, state := range connStates {
			value := 0.0
			if status.State == state {
				value = 1.0
			}
			e.connState.WithLabelValues(string(state)).Set(value)
		}
		if status.Since.IsZero() {
			e.connSince.Set(0)
		} else {
			e.connSince.Set(time.Since(status.Since).Seconds())
		}
	}

	if e.hub != nil {
		snapshot := e.hub.MetricsSnapshot()
		e.hubEvents.Set(float64(snapshot.Published))
		e.hubEvicted.Set(float64(snapshot.Evicted))
		e.hubDropped.Set(float64(snapshot.DroppedSubscribers))
		e.hubSubs.Set(float64(snapshot.Subscribers))
	}

	if e.wsClients != nil {
		e.wsGauge.Set(float64(e.wsClients()))
	}
}
