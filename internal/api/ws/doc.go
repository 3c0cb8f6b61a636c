// Package ws carries the camera session protocol between tab agents and the
// coordinator over WebSocket.
//
// Every frame is a types.Envelope encoded with sonic. Requests carry an ID
// that the reply reuses; directives are pushed without one.
//
// Features:
//   - hello handshake registers the tab before any request is served
//   - per-connection inbound rate limiting
//   - non-blocking directive queue with write deadlines and pings
//   - per-tab circuit breaker on directive sends
//   - disconnect notifies the registry that the tab closed
//
// Message Types (Agent → Coordinator):
//   - hello: announce tab, session and URL
//   - reportCameraStatus, checkStatus, heartbeat, notifyFocusChange
//   - getSettings: read user settings
//
// Message Types (Coordinator → Agent):
//   - reply: result of a request
//   - error: request failed
//   - directive: fire-and-forget camera directive
//
// Example Usage:
//
//	hub := ws.NewHub(registry, store).WithLogger(logger)
//	registry.SetDispatcher(hub)
//	router.GET("/agent", hub.HandleConnection)
//
//	client, err := ws.Dial(ctx, "ws://localhost:8000/agent", hello, ws.ClientOptions{})
package ws
