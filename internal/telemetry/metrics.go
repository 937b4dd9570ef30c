package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feedfilter"

// Metrics holds the agent's collectors on a private registry, so tests
// can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived     *prometheus.CounterVec
	framesDropped      *prometheus.CounterVec
	classifyDuration   *prometheus.HistogramVec
	classifyFailures   *prometheus.CounterVec
	detections         *prometheus.CounterVec
	decisions          *prometheus.CounterVec
	commands           *prometheus.CounterVec
	activeTracks       prometheus.Gauge
	activeParticipants prometheus.Gauge
}

// NewMetrics creates and registers every collector. Go runtime and process
// collectors are included when withRuntime is set.
func NewMetrics(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames received per outcome",
		}, []string{"outcome"}), // sampled, dropped
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_discarded_total",
			Help:      "Frames discarded before classification",
		}, []string{"reason"}), // malformed, overwritten, encode
		classifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_duration_seconds",
			Help:      "Duration of vision classification calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2, 3, 5, 10, 30},
		}, []string{"provider", "mode"}),
		classifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classify_failures_total",
			Help:      "Classification calls that degraded to a non-detection",
		}, []string{"provider"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Triggers detected per prompt mode",
		}, []string{"mode"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Navigation decisions per kind",
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Outbound commands per type and outcome",
		}, []string{"type", "outcome"}), // delivered, skipped, failed
		activeTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracks_active",
			Help:      "Number of track loops running",
		}),
		activeParticipants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants_active",
			Help:      "Number of connected participants",
		}),
	}

	m.registry.MustRegister(
		m.framesReceived, m.framesDropped, m.classifyDuration, m.classifyFailures,
		m.detections, m.decisions, m.commands, m.activeTracks, m.activeParticipants,
	)
	if withRuntime {
		m.registry.MustRegister(collectors.NewGoCollector())
		m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) FrameSampled() { m.framesReceived.WithLabelValues("sampled").Inc() }
func (m *Metrics) FrameThrottled() { m.framesReceived.WithLabelValues("dropped").Inc() }

func (m *Metrics) FrameDiscarded(reason string) { m.framesDropped.WithLabelValues(reason).Inc() }

func (m *Metrics) Classified(provider, mode string, d time.Duration, failed bool) {
	m.classifyDuration.WithLabelValues(provider, mode).Observe(d.Seconds())
	if failed {
		m.classifyFailures.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) Detected(mode string) { m.detections.WithLabelValues(mode).Inc() }

func (m *Metrics) Decided(kind string) { m.decisions.WithLabelValues(kind).Inc() }

func (m *Metrics) CommandSent(typ, outcome string) { m.commands.WithLabelValues(typ, outcome).Inc() }

func (m *Metrics) TrackStarted() { m.activeTracks.Inc() }
func (m *Metrics) TrackEnded()   { m.activeTracks.Dec() }

func (m *Metrics) ParticipantJoined() { m.activeParticipants.Inc() }
func (m *Metrics) ParticipantLeft()   { m.activeParticipants.Dec() }
