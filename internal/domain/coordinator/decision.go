package coordinator

import "github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"

// DecisionContext carries the per-request inputs of ShouldTabHaveCamera.
type DecisionContext struct {
	// ForceCheck is set by agents that were explicitly told to restore.
	ForceCheck bool
	// HoldsCamera is set when the tab already owns a camera, either by the
	// coordinator's record or by the tab's own claim.
	HoldsCamera bool
}

// ShouldTabHaveCamera is the single policy deciding whether tab should hold
// a camera. Every entry point that answers that question calls it.
//
// Nothing is wanted while global tracking is off. Otherwise a tab should
// track when it is focused, when the caller forces the check, when
// persistence mode is on, or when it already holds the camera.
func ShouldTabHaveCamera(s *State, tab id.TabID, dc DecisionContext) bool {
	if s == nil || !s.GlobalTrackingActive {
		return false
	}
	return s.Focused(tab) || dc.ForceCheck || s.PersistenceMode || dc.HoldsCamera
}
