package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Coordinator metrics
	ReportsTotal         *prometheus.CounterVec
	HeartbeatsTotal      *prometheus.CounterVec
	StatusChecksTotal    *prometheus.CounterVec
	DirectivesTotal      *prometheus.CounterVec
	TabsWithCamera       prometheus.Gauge
	KnownTabs            prometheus.Gauge
	GlobalTrackingActive prometheus.Gauge
	PersistenceMode      prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Agent metrics
	AcquisitionsTotal   *prometheus.CounterVec
	AcquisitionDuration prometheus.Histogram

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector registered with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazetech_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gazetech_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		ReportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazetech_coordinator_reports_total",
				Help: "Camera status reports received",
			},
			[]string{"active", "debounced"},
		),
		HeartbeatsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazetech_coordinator_heartbeats_total",
				Help: "Heartbeats received by reconciliation outcome",
			},
			[]string{"outcome"},
		),
		StatusChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazetech_coordinator_status_checks_total",
				Help: "Status checks answered",
			},
			[]string{"should_activate"},
		),
		DirectivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazetech_coordinator_directives_total",
				Help: "Directives sent to tab agents",
			},
			[]string{"action", "status"},
		),
		TabsWithCamera: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gazetech_coordinator_tabs_with_camera",
				Help: "Tabs currently reporting a live camera",
			},
		),
		KnownTabs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gazetech_coordinator_known_tabs",
				Help: "Tabs registered with the coordinator",
			},
		),
		GlobalTrackingActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gazetech_coordinator_global_tracking_active",
				Help: "1 when eye tracking should be active",
			},
		),
		PersistenceMode: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gazetech_coordinator_persistence_mode",
				Help: "1 once any tab requested extreme persistence",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gazetech_ws_connections",
				Help: "Number of active agent WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazetech_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		AcquisitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazetech_agent_acquisitions_total",
				Help: "Camera acquisition attempts by result",
			},
			[]string{"result"},
		),
		AcquisitionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gazetech_agent_acquisition_duration_seconds",
				Help:    "Camera acquisition latency in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gazetech_uptime_seconds",
				Help: "Coordinator uptime in seconds",
			},
		),
	}
}

// RunUptime updates the uptime gauge every second until ctx is done.
func (m *Metrics) RunUptime(ctx context.Context) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		}
	}
}

// UptimeSeconds returns seconds since the collector was created.
func (m *Metrics) UptimeSeconds() float64 {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime).Seconds()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordReport records a camera status report
func (m *Metrics) RecordReport(active, debounced bool) {
	if m == nil {
		return
	}
	m.ReportsTotal.WithLabelValues(boolLabel(active), boolLabel(debounced)).Inc()
}

// RecordHeartbeat records a heartbeat outcome ("ok", "adopted", "force_restore")
func (m *Metrics) RecordHeartbeat(outcome string) {
	if m == nil {
		return
	}
	m.HeartbeatsTotal.WithLabelValues(outcome).Inc()
}

// RecordStatusCheck records a checkStatus decision
func (m *Metrics) RecordStatusCheck(shouldActivate bool) {
	if m == nil {
		return
	}
	m.StatusChecksTotal.WithLabelValues(boolLabel(shouldActivate)).Inc()
}

// RecordDirective records a directive send ("sent", "failed", "skipped")
func (m *Metrics) RecordDirective(action, status string) {
	if m == nil {
		return
	}
	m.DirectivesTotal.WithLabelValues(action, status).Inc()
}

// SetRegistryState publishes the coordinator's aggregate state
func (m *Metrics) SetRegistryState(tabsWithCamera, knownTabs int, globalActive, persistence bool) {
	if m == nil {
		return
	}
	m.TabsWithCamera.Set(float64(tabsWithCamera))
	m.KnownTabs.Set(float64(knownTabs))
	m.GlobalTrackingActive.Set(boolGauge(globalActive))
	m.PersistenceMode.Set(boolGauge(persistence))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// RecordAcquisition records a camera acquisition result ("success", "permission", "transient")
func (m *Metrics) RecordAcquisition(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AcquisitionsTotal.WithLabelValues(result).Inc()
	m.AcquisitionDuration.Observe(duration.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
