/*
Package monitoring provides Prometheus metrics for the coordinator and agents.

# Overview

Metrics cover the HTTP surface, the coordinator's camera registry, the agent
WebSocket hub, and agent-side camera acquisition. Every recorder method is
safe on a nil *Metrics, so components run unchanged without monitoring.

# Usage

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	router.Use(monitoring.Middleware(metrics))

	metrics.RecordReport(true, false)
	metrics.RecordDirective("tabFocus", "sent")
	metrics.SetRegistryState(tabs, known, active, persistence)

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
