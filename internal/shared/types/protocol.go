package types

import (
	"encoding/json"
	"time"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
)

// ============================================================================
// Agent → Coordinator requests
// ============================================================================

// CameraStatusReport tells the coordinator a tab acquired or released its camera.
type CameraStatusReport struct {
	TabID               id.TabID     `json:"tabId"`
	SessionID           id.SessionID `json:"sessionId,omitempty"`
	IsActive            bool         `json:"isActive"`
	RequiresPersistence bool         `json:"requiresPersistence,omitempty"`
}

// CameraStatusReply acknowledges a CameraStatusReport.
type CameraStatusReply struct {
	Success   bool `json:"success"`
	Debounced bool `json:"debounced,omitempty"`
}

// StatusQuery asks whether this tab should hold a camera.
type StatusQuery struct {
	TabID      id.TabID `json:"tabId"`
	ForceCheck bool     `json:"forceCheck"`
}

// StatusReply answers a StatusQuery.
type StatusReply struct {
	GlobalTrackingActive  bool `json:"globalTrackingActive"`
	ShouldActivateThisTab bool `json:"shouldActivateThisTab"`
	WasTabFocused         bool `json:"wasTabFocused"`
	ForceRestore          bool `json:"forceRestore"`
}

// Heartbeat reports what a tab believes about its own camera.
type Heartbeat struct {
	TabID           id.TabID `json:"tabId"`
	HasCameraActive bool     `json:"hasCameraActive"`
}

// HeartbeatReply carries the coordinator's reconciliation verdict.
type HeartbeatReply struct {
	ShouldHaveCamera     bool `json:"shouldHaveCamera"`
	GlobalTrackingActive bool `json:"globalTrackingActive"`
	ForceRestore         bool `json:"forceRestore"`
}

// FocusChange reports window focus gained or lost by a tab.
type FocusChange struct {
	TabID   id.TabID `json:"tabId"`
	Focused bool     `json:"focused"`
}

// Ack is the minimal reply.
type Ack struct {
	Success bool `json:"success"`
}

// ============================================================================
// Coordinator → Agent directives
// ============================================================================

// Action names a directive.
type Action string

const (
	ActionForceActivateCamera Action = "forceActivateCamera"
	ActionSyncCameraState     Action = "syncCameraState"
	ActionMaintainCamera      Action = "maintainCamera"
	ActionTabFocus            Action = "tabFocus"
	ActionTabBlur             Action = "tabBlur"
	ActionSettingsUpdated     Action = "settingsUpdated"
)

// Directive is a fire-and-forget instruction. Every directive asks the agent
// to converge on an absolute target, so duplicates and reordering are harmless.
type Directive struct {
	Action              Action `json:"action"`
	ShouldBeActive      bool   `json:"shouldBeActive,omitempty"`
	AfterCalibration    bool   `json:"afterCalibration,omitempty"`
	ShouldRestoreCamera bool   `json:"shouldRestoreCamera,omitempty"`
	ForceActivate       bool   `json:"forceActivate,omitempty"`
	KeepCameraAlive     bool   `json:"keepCameraAlive,omitempty"`
}

// WantsCamera reports whether the directive asks the agent to hold a camera.
func (d Directive) WantsCamera() bool {
	switch d.Action {
	case ActionForceActivateCamera, ActionMaintainCamera:
		return true
	case ActionSyncCameraState:
		return d.ShouldBeActive
	case ActionTabFocus:
		return d.ShouldRestoreCamera || d.ForceActivate
	default:
		return false
	}
}

// ForceSyncDirective is the periodic broadcast payload.
func ForceSyncDirective() Directive {
	return Directive{Action: ActionSyncCameraState, ShouldBeActive: true}
}

// ============================================================================
// Tabs
// ============================================================================

// TabInfo describes a tab known to the coordinator.
type TabInfo struct {
	TabID       id.TabID     `json:"tabId"`
	SessionID   id.SessionID `json:"sessionId,omitempty"`
	URL         string       `json:"url"`
	Title       string       `json:"title,omitempty"`
	ConnectedAt time.Time    `json:"connectedAt"`
}

// ============================================================================
// Transport envelope
// ============================================================================

// Message types carried by Envelope.
const (
	MsgHello              = "hello"
	MsgReportCameraStatus = "reportCameraStatus"
	MsgCheckStatus        = "checkStatus"
	MsgHeartbeat          = "heartbeat"
	MsgNotifyFocusChange  = "notifyFocusChange"
	MsgGetSettings        = "getSettings"
	MsgDirective          = "directive"
	MsgReply              = "reply"
	MsgError              = "error"
)

// Envelope frames every transport message. Replies reuse the request ID.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Hello is the first message an agent sends after connecting.
type Hello struct {
	TabID     id.TabID     `json:"tabId"`
	SessionID id.SessionID `json:"sessionId"`
	URL       string       `json:"url"`
	Title     string       `json:"title,omitempty"`
}
