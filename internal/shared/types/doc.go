// Package types provides the message shapes exchanged between tab agents and
// the coordinator.
//
// Requests (Agent → Coordinator):
//   - CameraStatusReport → CameraStatusReply
//   - StatusQuery → StatusReply
//   - Heartbeat → HeartbeatReply
//   - FocusChange → Ack
//
// Directives (Coordinator → Agent, fire-and-forget):
//   - forceActivateCamera, syncCameraState, maintainCamera
//   - tabFocus, tabBlur, settingsUpdated
//
// Transport:
//   - Envelope frames each message with an ID and type
//   - Hello registers a page load with the coordinator
package types
