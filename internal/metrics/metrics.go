package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all dashboard metrics
type Metrics struct {
	// Poll counters
	PollsIssued      atomic.Uint64
	PollsFailed      atomic.Uint64
	PollsStale       atomic.Uint64
	SnapshotsApplied atomic.Uint64

	// User action counters
	UploadsSucceeded      atomic.Uint64
	UploadsFailed         atomic.Uint64
	SettingForwardsFailed atomic.Uint64

	// Dashboard state (0 = false, 1 = true)
	CameraActive atomic.Uint64
	HazardActive atomic.Uint64

	// Subscriber tracking
	SSEClients       atomic.Int64
	WebSocketClients atomic.Int64
	WebRTCClients    atomic.Int64

	// Persistence
	ArchivedEvents     atomic.Uint64
	ArchiveErrors      atomic.Uint64
	RecordingActive    atomic.Uint64
	RecordingSnapshots atomic.Uint64
	RecordingBytes     atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.counter("dashboard_polls_total", "Stats polls issued to the backend", &m.PollsIssued)
	m.counter("dashboard_poll_failures_total", "Stats polls that failed or returned a non-2xx status", &m.PollsFailed)
	m.counter("dashboard_poll_stale_total", "Stats responses discarded because a newer one was already applied", &m.PollsStale)
	m.counter("dashboard_snapshots_applied_total", "Stats snapshots applied to the dashboard state", &m.SnapshotsApplied)

	m.counter("dashboard_uploads_total", "Image uploads analysed by the backend", &m.UploadsSucceeded)
	m.counter("dashboard_upload_failures_total", "Image uploads that failed", &m.UploadsFailed)
	m.counter("dashboard_setting_forward_failures_total", "Setting changes the backend did not accept", &m.SettingForwardsFailed)

	m.gauge("dashboard_camera_active", "Camera active (0=standby, 1=live)",
		func() float64 { return float64(m.CameraActive.Load()) })
	m.gauge("dashboard_hazard_active", "Hazard indicator (0=clear, 1=hazard)",
		func() float64 { return float64(m.HazardActive.Load()) })

	m.gauge("dashboard_sse_clients", "Connected SSE state subscribers",
		func() float64 { return float64(m.SSEClients.Load()) })
	m.gauge("dashboard_websocket_clients", "Connected WebSocket state subscribers",
		func() float64 { return float64(m.WebSocketClients.Load()) })
	m.gauge("dashboard_webrtc_clients", "Connected WebRTC data channel peers",
		func() float64 { return float64(m.WebRTCClients.Load()) })

	m.counter("dashboard_archived_events_total", "Hazard events written to the archive", &m.ArchivedEvents)
	m.counter("dashboard_archive_errors_total", "Hazard archive write failures", &m.ArchiveErrors)
	m.gauge("dashboard_recording_active", "Snapshot recording active (0=inactive, 1=active)",
		func() float64 { return float64(m.RecordingActive.Load()) })
	m.counter("dashboard_recording_snapshots_total", "Snapshots written to recordings", &m.RecordingSnapshots)
	m.counter("dashboard_recording_bytes_total", "Bytes written to recordings", &m.RecordingBytes)
}

// SetBool stores a boolean as 0/1 into an atomic gauge.
func SetBool(v *atomic.Uint64, b bool) {
	if b {
		v.Store(1)
		return
	}
	v.Store(0)
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
