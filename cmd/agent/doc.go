// Package main runs one headless tab agent against a coordinator.
//
// The agent drives a simulated camera that emits synthetic frames, so the
// whole protocol (acquire, heartbeat, restore, release) can be exercised
// without a browser.
//
// The first agent presses start (--start, on by default) so tracking begins
// on a fresh coordinator; later tabs pick the camera up through the protocol.
// Warnings are forwarded to the coordinator's /logs endpoint.
//
// Usage:
//
//	# Two tabs sharing one session
//	./agent --tab tab_a --url https://example.com/a
//	./agent --tab tab_b --url https://example.com/b --start=false
//
//	# Flaky camera: busy twice, then the track dies after 10s
//	./agent --fail-first 2 --revoke-after 10s
//
// Signals:
//   - SIGINT, SIGTERM: release the camera and disconnect
package main
