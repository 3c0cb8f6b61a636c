package agent

import (
	"context"
	"time"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/camera"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
)

// State is the agent lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateAcquiring
	StateActive
	// StateDegraded means the camera is off and a restore is pending or paused.
	StateDegraded
	// StateUnfocusedActive keeps the camera while the tab is blurred.
	StateUnfocusedActive
	StateReleasing
	StateReleased
	// StatePermissionBlocked stops automatic retries until RetryPermission.
	StatePermissionBlocked
)

// String returns a human-readable string representation of the state
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAcquiring:
		return "acquiring"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateUnfocusedActive:
		return "unfocused-active"
	case StateReleasing:
		return "releasing"
	case StateReleased:
		return "released"
	case StatePermissionBlocked:
		return "permission-blocked"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Coordinator is the agent's view of the coordinator. Every call may fail or
// hang; the agent always bounds it and treats errors as non-fatal.
type Coordinator interface {
	ReportCameraStatus(ctx context.Context, req types.CameraStatusReport) (types.CameraStatusReply, error)
	CheckStatus(ctx context.Context, req types.StatusQuery) (types.StatusReply, error)
	Heartbeat(ctx context.Context, req types.Heartbeat) (types.HeartbeatReply, error)
	NotifyFocusChange(ctx context.Context, req types.FocusChange) (types.Ack, error)
}

// Status is a point-in-time view of an agent.
type Status struct {
	TabID                 id.TabID            `json:"tabId"`
	SessionID             id.SessionID        `json:"sessionId"`
	State                 State               `json:"state"`
	CameraInitialized     bool                `json:"cameraInitialized"`
	RestorationInProgress bool                `json:"restorationInProgress"`
	RestorationAttempts   int                 `json:"restorationAttempts"`
	ForcePersistence      bool                `json:"forcePersistence"`
	Focused               bool                `json:"focused"`
	Visible               bool                `json:"visible"`
	TrackingEnabled       bool                `json:"trackingEnabled"`
	Acquisitions          int                 `json:"acquisitions"`
	LastHeartbeat         time.Time           `json:"lastHeartbeat"`
	LastError             string              `json:"lastError,omitempty"`
	Latency               camera.LatencyStats `json:"latency"`
}
