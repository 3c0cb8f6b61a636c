package coordinator

import (
	"sort"
	"time"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
)

// State is the coordinator's canonical belief about camera ownership.
//
// Invariant: GlobalTrackingActive is false whenever TabsWithCamera is empty.
// PrimaryTabID is advisory and may point at a tab that has since left.
type State struct {
	GlobalTrackingActive bool
	TabsWithCamera       map[id.TabID]struct{}
	PrimaryTabID         id.TabID
	TabFocusState        map[id.TabID]bool
	LastActivation       time.Time
	PersistenceMode      bool
}

func newState() *State {
	return &State{
		TabsWithCamera: make(map[id.TabID]struct{}),
		TabFocusState:  make(map[id.TabID]bool),
	}
}

// HasCamera reports whether tab is recorded as holding a live camera.
func (s *State) HasCamera(tab id.TabID) bool {
	_, ok := s.TabsWithCamera[tab]
	return ok
}

// Focused reports the last known focus of tab.
func (s *State) Focused(tab id.TabID) bool {
	return s.TabFocusState[tab]
}

func (s *State) addCamera(tab id.TabID) {
	s.TabsWithCamera[tab] = struct{}{}
	s.GlobalTrackingActive = true
}

// removeCamera drops tab and re-asserts the empty-implies-inactive invariant.
func (s *State) removeCamera(tab id.TabID) {
	delete(s.TabsWithCamera, tab)
	s.enforceInvariant()
}

func (s *State) enforceInvariant() {
	if len(s.TabsWithCamera) == 0 {
		s.GlobalTrackingActive = false
	}
}

// Snapshot is a serializable copy of State.
type Snapshot struct {
	GlobalTrackingActive bool              `json:"globalTrackingActive"`
	TabsWithCamera       []id.TabID        `json:"tabsWithCamera"`
	PrimaryTabID         id.TabID          `json:"primaryTabId,omitempty"`
	TabFocusState        map[id.TabID]bool `json:"tabFocusState"`
	LastActivation       time.Time         `json:"lastActivationTimestamp"`
	PersistenceMode      bool              `json:"persistenceMode"`
	KnownTabs            int               `json:"knownTabs"`
}

func (s *State) snapshot() Snapshot {
	tabs := make([]id.TabID, 0, len(s.TabsWithCamera))
	for tab := range s.TabsWithCamera {
		tabs = append(tabs, tab)
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i] < tabs[j] })

	focus := make(map[id.TabID]bool, len(s.TabFocusState))
	for tab, f := range s.TabFocusState {
		focus[tab] = f
	}

	return Snapshot{
		GlobalTrackingActive: s.GlobalTrackingActive,
		TabsWithCamera:       tabs,
		PrimaryTabID:         s.PrimaryTabID,
		TabFocusState:        focus,
		LastActivation:       s.LastActivation,
		PersistenceMode:      s.PersistenceMode,
	}
}
