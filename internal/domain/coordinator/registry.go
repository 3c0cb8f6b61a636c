package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/logging"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/monitoring"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/clock"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/debounce"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
)

// ErrMissingTabID is returned for requests that do not name a tab.
var ErrMissingTabID = errors.New("tab id is required")

const (
	defaultDebounceWindow    = 500 * time.Millisecond
	defaultBroadcastInterval = 3 * time.Second
)

// Dispatcher delivers a directive to one tab agent without waiting for it
// to act. Implementations must not block on a slow or missing agent.
type Dispatcher interface {
	Send(ctx context.Context, tab id.TabID, d types.Directive) error
}

// SendFailureHook observes every swallowed directive failure.
type SendFailureHook func(tab id.TabID, d types.Directive, err error)

// Options tunes timing of the registry and its broadcast loop.
type Options struct {
	DebounceWindow    time.Duration
	BroadcastInterval time.Duration
	RestrictedURLs    []string
}

// Registry owns the coordinator state and answers agent queries.
//
// One Registry is built at startup and shared by every transport. Its
// handlers run one at a time under mu; directive sends happen after the
// lock is released.
type Registry struct {
	mu    sync.Mutex
	state *State                     // Protected by mu
	tabs  map[id.TabID]types.TabInfo // Protected by mu

	debouncer         *debounce.Debouncer
	broadcastInterval time.Duration
	restricted        *URLMatcher

	dispatcher Dispatcher
	onFailure  SendFailureHook
	clock      clock.Clock
	logger     *logging.Logger
	metrics    *monitoring.Metrics
}

// NewRegistry creates a registry that sends directives through dispatcher.
// A nil dispatcher drops every directive.
func NewRegistry(dispatcher Dispatcher, opts Options) (*Registry, error) {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = defaultDebounceWindow
	}
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = defaultBroadcastInterval
	}

	matcher, err := NewURLMatcher(opts.RestrictedURLs)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		state:             newState(),
		tabs:              make(map[id.TabID]types.TabInfo),
		debouncer:         debounce.New(opts.DebounceWindow),
		broadcastInterval: opts.BroadcastInterval,
		restricted:        matcher,
		dispatcher:        dispatcher,
		clock:             clock.Real{},
		logger:            logging.NewNop(),
	}
	r.onFailure = r.logSendFailure
	return r, nil
}

// WithMetrics adds metrics tracking to the registry
func (r *Registry) WithMetrics(metrics *monitoring.Metrics) *Registry {
	r.metrics = metrics
	return r
}

// WithLogger sets the registry logger
func (r *Registry) WithLogger(logger *logging.Logger) *Registry {
	r.logger = logger.Named("coordinator")
	return r
}

// WithClock replaces the wall clock, for tests.
func (r *Registry) WithClock(c clock.Clock) *Registry {
	r.clock = c
	return r
}

// WithSendFailureHook replaces the default log-only failure hook. The hook
// runs in addition to the failure metric.
func (r *Registry) WithSendFailureHook(hook SendFailureHook) *Registry {
	if hook != nil {
		r.onFailure = hook
	}
	return r
}

// SetDispatcher swaps the directive transport. Used when the transport is
// built after the registry.
func (r *Registry) SetDispatcher(d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatcher = d
}

// ReportCameraStatus records that a tab acquired or released its camera.
//
// A repeat of the same report from the same session within the debounce
// window is acknowledged as debounced and leaves state untouched.
func (r *Registry) ReportCameraStatus(ctx context.Context, req types.CameraStatusReport) (types.CameraStatusReply, error) {
	if req.TabID == "" {
		return types.CameraStatusReply{}, ErrMissingTabID
	}

	now := r.clock.Now()

	r.mu.Lock()
	window := r.debouncer.Window()
	if r.state.PersistenceMode {
		window /= 2
	}
	if !r.debouncer.AllowWithin(reportKey(req), now, window) {
		r.mu.Unlock()
		r.metrics.RecordReport(req.IsActive, true)
		r.logger.Debug("Camera status report debounced",
			zap.String("tab_id", req.TabID.String()),
			zap.Bool("is_active", req.IsActive))
		return types.CameraStatusReply{Success: true, Debounced: true}, nil
	}
	// A state change reopens the window for the opposite report.
	opposite := req
	opposite.IsActive = !req.IsActive
	r.debouncer.Forget(reportKey(opposite))

	if req.IsActive {
		r.state.addCamera(req.TabID)
		r.state.PrimaryTabID = req.TabID
		r.state.LastActivation = now
		if req.RequiresPersistence {
			r.state.PersistenceMode = true
		}
	} else {
		r.state.removeCamera(req.TabID)
	}
	r.publishLocked()
	global := r.state.GlobalTrackingActive
	r.mu.Unlock()

	r.metrics.RecordReport(req.IsActive, false)
	r.logger.Info("Camera status reported",
		zap.String("tab_id", req.TabID.String()),
		zap.Bool("is_active", req.IsActive),
		zap.Bool("requires_persistence", req.RequiresPersistence),
		zap.Bool("global_tracking_active", global))

	return types.CameraStatusReply{Success: true}, nil
}

// CheckStatus tells a new or reawakened agent whether to acquire the camera.
func (r *Registry) CheckStatus(ctx context.Context, req types.StatusQuery) (types.StatusReply, error) {
	if req.TabID == "" {
		return types.StatusReply{}, ErrMissingTabID
	}

	r.mu.Lock()
	should := ShouldTabHaveCamera(r.state, req.TabID, DecisionContext{ForceCheck: req.ForceCheck})
	reply := types.StatusReply{
		GlobalTrackingActive:  r.state.GlobalTrackingActive,
		ShouldActivateThisTab: should,
		WasTabFocused:         r.state.Focused(req.TabID),
		ForceRestore:          should && r.state.PersistenceMode,
	}
	r.mu.Unlock()

	r.metrics.RecordStatusCheck(should)
	return reply, nil
}

// Heartbeat reconciles what a tab believes against the registry.
//
// A tab claiming a camera the registry does not know about is adopted. A tab
// denying a camera the registry records is told to restore, but keeps its
// membership: one missed beat must not flip global state.
func (r *Registry) Heartbeat(ctx context.Context, req types.Heartbeat) (types.HeartbeatReply, error) {
	if req.TabID == "" {
		return types.HeartbeatReply{}, ErrMissingTabID
	}

	outcome := "ok"

	r.mu.Lock()
	recorded := r.state.HasCamera(req.TabID)
	var forceRestore bool
	switch {
	case req.HasCameraActive && !recorded:
		r.state.addCamera(req.TabID)
		r.publishLocked()
		outcome = "adopted"
	case !req.HasCameraActive && recorded && r.state.GlobalTrackingActive:
		forceRestore = true
		outcome = "force_restore"
	}

	reply := types.HeartbeatReply{
		ShouldHaveCamera: ShouldTabHaveCamera(r.state, req.TabID, DecisionContext{
			HoldsCamera: req.HasCameraActive || r.state.HasCamera(req.TabID),
		}),
		GlobalTrackingActive: r.state.GlobalTrackingActive,
		ForceRestore:         forceRestore,
	}
	r.mu.Unlock()

	r.metrics.RecordHeartbeat(outcome)
	if outcome != "ok" {
		r.logger.Debug("Heartbeat reconciled drift",
			zap.String("tab_id", req.TabID.String()),
			zap.String("outcome", outcome))
	}
	return reply, nil
}

// NotifyFocusChange records a tab's focus. Gaining focus while tracking is
// active sends the tab a directed restore; losing it tells the tab to keep
// its camera alive.
func (r *Registry) NotifyFocusChange(ctx context.Context, req types.FocusChange) (types.Ack, error) {
	if req.TabID == "" {
		return types.Ack{}, ErrMissingTabID
	}

	r.mu.Lock()
	r.state.TabFocusState[req.TabID] = req.Focused
	global := r.state.GlobalTrackingActive
	holds := r.state.HasCamera(req.TabID)
	r.mu.Unlock()

	switch {
	case req.Focused && global:
		r.send(ctx, req.TabID, types.Directive{
			Action:              types.ActionTabFocus,
			ShouldRestoreCamera: true,
			ForceActivate:       true,
		})
	case !req.Focused && holds:
		r.send(ctx, req.TabID, types.Directive{
			Action:          types.ActionTabBlur,
			KeepCameraAlive: true,
		})
	}

	return types.Ack{Success: true}, nil
}

// NotifyTabClosed forgets a tab entirely.
func (r *Registry) NotifyTabClosed(tab id.TabID) {
	r.mu.Lock()
	r.state.removeCamera(tab)
	delete(r.state.TabFocusState, tab)
	delete(r.tabs, tab)
	if r.state.PrimaryTabID == tab {
		r.state.PrimaryTabID = ""
	}
	r.publishLocked()
	global := r.state.GlobalTrackingActive
	r.mu.Unlock()

	r.debouncer.Forget(tab.String() + "/")
	r.logger.Info("Tab closed",
		zap.String("tab_id", tab.String()),
		zap.Bool("global_tracking_active", global))
}

// RegisterTab adds or refreshes a tab the broadcast loop can reach.
func (r *Registry) RegisterTab(info types.TabInfo) error {
	if info.TabID == "" {
		return ErrMissingTabID
	}
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = r.clock.Now()
	}

	r.mu.Lock()
	r.tabs[info.TabID] = info
	r.publishLocked()
	r.mu.Unlock()
	return nil
}

// Tabs lists known tabs ordered by connection time.
func (r *Registry) Tabs() []types.TabInfo {
	r.mu.Lock()
	tabs := make([]types.TabInfo, 0, len(r.tabs))
	for _, t := range r.tabs {
		tabs = append(tabs, t)
	}
	r.mu.Unlock()

	sort.Slice(tabs, func(i, j int) bool {
		if tabs[i].ConnectedAt.Equal(tabs[j].ConnectedAt) {
			return tabs[i].TabID < tabs[j].TabID
		}
		return tabs[i].ConnectedAt.Before(tabs[j].ConnectedAt)
	})
	return tabs
}

// Tab returns one known tab.
func (r *Registry) Tab(tab id.TabID) (types.TabInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.tabs[tab]
	return info, ok
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.state.snapshot()
	snap.KnownTabs = len(r.tabs)
	return snap
}

// GlobalTrackingActive reports the global belief.
func (r *Registry) GlobalTrackingActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.GlobalTrackingActive
}

// BroadcastInterval is the current fan-out period, halved in persistence mode.
func (r *Registry) BroadcastInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.PersistenceMode {
		return r.broadcastInterval / 2
	}
	return r.broadcastInterval
}

// PruneDebounce drops debounce entries older than maxAge.
func (r *Registry) PruneDebounce(maxAge time.Duration) int {
	return r.debouncer.Prune(r.clock.Now(), maxAge)
}

// send delivers d fire-and-forget. Failures go to the failure hook only.
func (r *Registry) send(ctx context.Context, tab id.TabID, d types.Directive) bool {
	r.mu.Lock()
	dispatcher := r.dispatcher
	r.mu.Unlock()

	if dispatcher == nil {
		r.metrics.RecordDirective(string(d.Action), "skipped")
		return false
	}

	if err := dispatcher.Send(ctx, tab, d); err != nil {
		r.metrics.RecordDirective(string(d.Action), "failed")
		r.onFailure(tab, d, err)
		return false
	}
	r.metrics.RecordDirective(string(d.Action), "sent")
	return true
}

func (r *Registry) logSendFailure(tab id.TabID, d types.Directive, err error) {
	r.logger.Debug("Directive not delivered",
		zap.String("tab_id", tab.String()),
		zap.String("action", string(d.Action)),
		zap.Error(err))
}

// publishLocked pushes registry gauges. Caller holds mu.
func (r *Registry) publishLocked() {
	r.metrics.SetRegistryState(
		len(r.state.TabsWithCamera),
		len(r.tabs),
		r.state.GlobalTrackingActive,
		r.state.PersistenceMode,
	)
}

func reportKey(req types.CameraStatusReport) string {
	key := req.TabID.String() + "/" + string(req.SessionID)
	if req.IsActive {
		return key + "/active"
	}
	return key + "/inactive"
}
