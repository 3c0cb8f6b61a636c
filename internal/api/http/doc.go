// Package http serves the coordinator's REST surface.
//
// Endpoints:
//   - Health: / and /health
//   - State: /status, /tabs
//   - Tabs: /tabs/:id/focus, /tabs/:id/blur, DELETE /tabs/:id
//   - Settings: GET and PUT /settings
//   - Logs: POST /logs (agent log ingestion)
//   - Metrics: /metrics (Prometheus), /metrics/json
//
// Example Usage:
//
//	handlers := http.NewHandlers(registry, hub, store).WithLogger(logger)
//	router.GET("/status", handlers.Status)
//	router.PUT("/settings", handlers.UpdateSettings)
package http
