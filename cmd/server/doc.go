// Package main is the entry point for the camera session coordinator.
//
// The coordinator keeps one eye-tracking camera session alive across browser
// tabs. Tab agents connect over WebSocket at /agent; the REST API exposes
// state, tab focus, settings and metrics.
//
// Architecture:
//
//	Tab Agent ─┐
//	Tab Agent ─┼─ WebSocket ─→ Coordinator (registry, broadcast loop)
//	Tab Agent ─┘                    │
//	                                └─→ settings file (json/yaml/toml)
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode
//	./server --port 8000 --settings /var/lib/gazetech/settings.yaml
//
//	# Development mode (colored logs, debug level)
//	./server --dev --log-level debug
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
//   - SIGHUP: Reload the settings file and notify agents
package main
