package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/api/ws"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/coordinator"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/monitoring"
)

// Metric families read back for the summary.
const (
	familyHTTPRequests = "gazetech_http_requests_total"
	familyHTTPDuration = "gazetech_http_request_duration_seconds"
	familyDirectives   = "gazetech_coordinator_directives_total"
	familyWSMessages   = "gazetech_ws_messages_total"
)

// MetricsAggregator serves Prometheus metrics and a JSON summary of them
type MetricsAggregator struct {
	gatherer prometheus.Gatherer
	metrics  *monitoring.Metrics
	registry *coordinator.Registry
	hub      *ws.Hub
}

// NewMetricsAggregator reads from gatherer. hub may be nil.
func NewMetricsAggregator(gatherer prometheus.Gatherer, metrics *monitoring.Metrics, registry *coordinator.Registry, hub *ws.Hub) *MetricsAggregator {
	return &MetricsAggregator{
		gatherer: gatherer,
		metrics:  metrics,
		registry: registry,
		hub:      hub,
	}
}

// MetricsSnapshot is the JSON summary
type MetricsSnapshot struct {
	Timestamp   time.Time            `json:"timestamp"`
	Coordinator coordinator.Snapshot `json:"coordinator"`
	Summary     MetricsSummary       `json:"summary"`
}

// MetricsSummary provides high-level metrics
type MetricsSummary struct {
	TotalRequests     int64   `json:"total_requests"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
	ErrorRate         float64 `json:"error_rate"`
	DirectivesSent    int64   `json:"directives_sent"`
	DirectivesFailed  int64   `json:"directives_failed"`
	WSMessages        int64   `json:"ws_messages"`
	ActiveConnections int     `json:"active_connections"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Prometheus serves the text exposition format
func (ma *MetricsAggregator) Prometheus() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(ma.gatherer, promhttp.HandlerOpts{}))
}

// GetAggregatedMetrics returns the JSON summary
func (ma *MetricsAggregator) GetAggregatedMetrics(c *gin.Context) {
	summary, err := ma.calculateSummary()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, MetricsSnapshot{
		Timestamp:   time.Now(),
		Coordinator: ma.registry.Snapshot(),
		Summary:     summary,
	})
}

// calculateSummary computes high-level summary metrics
func (ma *MetricsAggregator) calculateSummary() (MetricsSummary, error) {
	summary := MetricsSummary{UptimeSeconds: ma.metrics.UptimeSeconds()}
	if ma.hub != nil {
		summary.ActiveConnections = ma.hub.Connections()
	}

	families, err := ma.gatherer.Gather()
	if err != nil {
		return summary, err
	}

	var (
		failures     int64
		latencySum   float64
		latencyCount uint64
	)
	for _, mf := range families {
		switch mf.GetName() {
		case familyHTTPRequests:
			for _, m := range mf.GetMetric() {
				n := int64(m.GetCounter().GetValue())
				summary.TotalRequests += n
				if strings.HasPrefix(label(m, "status"), "5") {
					failures += n
				}
			}
		case familyHTTPDuration:
			for _, m := range mf.GetMetric() {
				latencySum += m.GetHistogram().GetSampleSum()
				latencyCount += m.GetHistogram().GetSampleCount()
			}
		case familyDirectives:
			for _, m := range mf.GetMetric() {
				n := int64(m.GetCounter().GetValue())
				switch label(m, "status") {
				case "sent":
					summary.DirectivesSent += n
				case "failed":
					summary.DirectivesFailed += n
				}
			}
		case familyWSMessages:
			for _, m := range mf.GetMetric() {
				summary.WSMessages += int64(m.GetCounter().GetValue())
			}
		}
	}

	if latencyCount > 0 {
		summary.AverageLatencyMs = latencySum / float64(latencyCount) * 1000
	}
	if summary.TotalRequests > 0 {
		summary.ErrorRate = float64(failures) / float64(summary.TotalRequests)
	}
	return summary, nil
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
