package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/camera"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/settings"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/tracking"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/logging"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/monitoring"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/backoff"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/clock"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
)

var (
	ErrClosed         = errors.New("agent closed")
	ErrAlreadyStarted = errors.New("agent already started")
	errAcquirePanic   = errors.New("camera acquisition panicked")
)

// Config tunes one agent.
type Config struct {
	TabID             id.TabID
	SessionID         id.SessionID
	Constraints       camera.Constraints
	AcquireTimeout    time.Duration
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	LivenessInterval  time.Duration
	Backoff           backoff.Policy
}

// DefaultConfig returns the standard timings for tab.
func DefaultConfig(tab id.TabID) Config {
	return Config{
		TabID:             tab,
		SessionID:         id.NewSessionID(),
		Constraints:       camera.DefaultConstraints(),
		AcquireTimeout:    5 * time.Second,
		RequestTimeout:    2 * time.Second,
		HeartbeatInterval: time.Second,
		LivenessInterval:  2 * time.Second,
		Backoff:           backoff.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.TabID)
	if c.SessionID == "" {
		c.SessionID = d.SessionID
	}
	if c.Constraints == (camera.Constraints{}) {
		c.Constraints = d.Constraints
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = d.AcquireTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = d.LivenessInterval
	}
	if c.Backoff == (backoff.Policy{}) {
		c.Backoff = d.Backoff
	}
	return c
}

// acquireMode decides which guards an acquisition request may bypass.
type acquireMode int

const (
	// modeAuto respects the retry cap.
	modeAuto acquireMode = iota
	// modeForced resets the retry counter; used for coordinator directives.
	modeForced
	// modeUser also leaves PermissionBlocked; only the explicit user retry uses it.
	modeUser
)

// Agent owns one tab's camera and keeps it in step with the coordinator.
//
// Trigger methods never block on the camera: acquisition runs on its own
// goroutine, at most one at a time. Periodic work is scheduled on the
// injected clock so tests can drive it deterministically.
type Agent struct {
	cfg      Config
	coord    Coordinator
	device   camera.Acquirer
	settings settings.Reader
	tracker  *tracking.Loop
	notifier Notifier
	clock    clock.Clock
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	latency  *camera.LatencyRecorder
	flight   singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// sendMu is held shared by every coordinator send and exclusively by
	// Close before its release report, so nothing lands after the release.
	sendMu sync.RWMutex

	mu                      sync.Mutex
	state                   State              // Protected by mu
	started                 bool               // Protected by mu
	closed                  bool               // Protected by mu
	focused                 bool               // Protected by mu
	visible                 bool               // Protected by mu
	trackingEnabled         bool               // Protected by mu
	cameraInitialized       bool               // Protected by mu
	resource                *camera.Resource   // Protected by mu
	restorationInProgress   bool               // Protected by mu
	restorationAttemptCount int                // Protected by mu
	forcePersistence        bool               // Protected by mu
	requirePersistence      bool               // Protected by mu
	acquisitions            int                // Protected by mu
	lastHeartbeat           time.Time          // Protected by mu
	lastErr                 error              // Protected by mu
	retryTimer              clock.Timer        // Protected by mu
	heartbeatTimer          clock.Timer        // Protected by mu
	livenessTimer           clock.Timer        // Protected by mu
	trackCancel             context.CancelFunc // Protected by mu
}

// New creates an agent for one page load.
func New(cfg Config, coord Coordinator, device camera.Acquirer) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.NewNop()
	return &Agent{
		cfg:             cfg.withDefaults(),
		coord:           coord,
		device:          device,
		notifier:        NewLogNotifier(logger),
		clock:           clock.Real{},
		logger:          logger,
		latency:         camera.NewLatencyRecorder(0),
		ctx:             ctx,
		cancel:          cancel,
		state:           StateUninitialized,
		focused:         true,
		visible:         true,
		trackingEnabled: true,
	}
}

// WithSettings reads user settings from r at start and on settingsUpdated.
func (a *Agent) WithSettings(r settings.Reader) *Agent {
	a.settings = r
	return a
}

// WithTracker runs loop over the frames of every acquired camera.
func (a *Agent) WithTracker(loop *tracking.Loop) *Agent {
	a.tracker = loop
	return a
}

// WithNotifier sets the user-visible notice sink.
func (a *Agent) WithNotifier(n Notifier) *Agent {
	if n != nil {
		a.notifier = n
	}
	return a
}

// WithClock replaces the wall clock, for tests.
func (a *Agent) WithClock(c clock.Clock) *Agent {
	a.clock = c
	return a
}

// WithLogger sets the agent logger
func (a *Agent) WithLogger(logger *logging.Logger) *Agent {
	a.logger = logger.Named("agent").With(zap.String("tab_id", a.cfg.TabID.String()))
	if _, ok := a.notifier.(*LogNotifier); ok {
		a.notifier = NewLogNotifier(a.logger)
	}
	return a
}

// WithMetrics adds metrics tracking to the agent
func (a *Agent) WithMetrics(metrics *monitoring.Metrics) *Agent {
	a.metrics = metrics
	return a
}

// TabID returns the tab this agent runs in.
func (a *Agent) TabID() id.TabID {
	return a.cfg.TabID
}

// Start runs the page-load trigger: it reads settings, starts the heartbeat
// and liveness loops, and asks the coordinator whether to acquire.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	switch {
	case a.closed:
		a.mu.Unlock()
		return ErrClosed
	case a.started:
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	a.loadSettings(ctx)
	a.scheduleHeartbeat()
	a.scheduleLiveness()

	reply, err := a.checkStatus(ctx, false)
	if err != nil {
		// The heartbeat loop will pick the coordinator's verdict up later.
		a.logger.Debug("Initial status check failed", zap.Error(err))
		return nil
	}
	if reply.ShouldActivateThisTab {
		a.requestAcquire("page load", modeAuto)
	}
	return nil
}

// StartTracking is the user's explicit start. Like a directive it resets the
// retry counter, and like RetryPermission it also leaves PermissionBlocked.
func (a *Agent) StartTracking() bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.forcePersistence = true
	a.mu.Unlock()

	return a.requestAcquire("user start", modeUser)
}

// VisibilityChanged handles the page becoming visible or hidden.
func (a *Agent) VisibilityChanged(visible bool) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.visible = visible
	initialized := a.cameraInitialized
	a.mu.Unlock()

	if visible && !initialized {
		a.requestAcquire("visible", modeAuto)
	}
}

// WindowFocusChanged handles window focus. Losing focus never releases the
// camera.
func (a *Agent) WindowFocusChanged(focused bool) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.focused = focused
	if a.cameraInitialized {
		a.setStateLocked(a.activeStateLocked())
	}
	initialized := a.cameraInitialized
	persist := a.forcePersistence
	a.mu.Unlock()

	a.whileOpen(func() {
		ctx, cancel := context.WithTimeout(a.ctx, a.cfg.RequestTimeout)
		defer cancel()
		if _, err := a.coord.NotifyFocusChange(ctx, types.FocusChange{TabID: a.cfg.TabID, Focused: focused}); err != nil {
			a.logger.Debug("Focus notification failed", zap.Error(err))
		}
	})

	if focused && !initialized && persist {
		a.requestAcquire("window focus", modeAuto)
	}
}

// HandleDirective applies a coordinator directive. Directives converge on an
// absolute target, so repeats are no-ops.
func (a *Agent) HandleDirective(d types.Directive) {
	switch d.Action {
	case types.ActionSettingsUpdated:
		a.goTracked(a.reloadSettings)
		return
	case types.ActionTabBlur:
		a.mu.Lock()
		a.focused = false
		if a.cameraInitialized {
			a.setStateLocked(StateUnfocusedActive)
		}
		a.mu.Unlock()
		return
	}

	if !d.WantsCamera() {
		return
	}

	a.mu.Lock()
	a.forcePersistence = true
	if d.Action == types.ActionMaintainCamera && d.AfterCalibration {
		a.requirePersistence = true
	}
	a.mu.Unlock()

	a.requestAcquire(string(d.Action), modeForced)
}

// RetryPermission is the explicit user retry after a permission denial. It
// reports whether an acquisition started.
func (a *Agent) RetryPermission() bool {
	a.mu.Lock()
	blocked := a.state == StatePermissionBlocked
	a.mu.Unlock()

	if !blocked {
		return false
	}
	return a.requestAcquire("user retry", modeUser)
}

// Close is page teardown: loops stop, the camera is released, and the
// coordinator is told on a best-effort basis. The release is the agent's
// last message.
func (a *Agent) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.setStateLocked(StateReleasing)
	a.stopTimersLocked()
	a.stopTrackingLocked()
	res := a.resource
	a.resource = nil
	a.cameraInitialized = false
	a.mu.Unlock()

	res.Stop()
	a.cancel()

	// Acquisitions finish and in-flight sends land before the release.
	a.wg.Wait()
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	_, err := a.coord.ReportCameraStatus(rctx, types.CameraStatusReport{
		TabID:     a.cfg.TabID,
		SessionID: a.cfg.SessionID,
		IsActive:  false,
	})
	cancel()
	if err != nil {
		a.logger.Debug("Release report failed", zap.Error(err))
	}

	a.mu.Lock()
	a.setStateLocked(StateReleased)
	a.mu.Unlock()
	a.notifier.StatusIndicator(false)
	return nil
}

// Status returns a snapshot of the agent.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Status{
		TabID:                 a.cfg.TabID,
		SessionID:             a.cfg.SessionID,
		State:                 a.state,
		CameraInitialized:     a.cameraInitialized,
		RestorationInProgress: a.restorationInProgress,
		RestorationAttempts:   a.restorationAttemptCount,
		ForcePersistence:      a.forcePersistence,
		Focused:               a.focused,
		Visible:               a.visible,
		TrackingEnabled:       a.trackingEnabled,
		Acquisitions:          a.acquisitions,
		LastHeartbeat:         a.lastHeartbeat,
		Latency:               a.latency.Snapshot(),
	}
	if a.lastErr != nil {
		s.LastError = a.lastErr.Error()
	}
	return s
}

// requestAcquire moves to Acquiring unless a guard refuses. It reports
// whether an acquisition started.
func (a *Agent) requestAcquire(reason string, mode acquireMode) bool {
	a.mu.Lock()
	if !a.canAcquireLocked(mode) {
		a.mu.Unlock()
		return false
	}
	if mode != modeAuto {
		a.restorationAttemptCount = 0
	}
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}
	a.restorationInProgress = true
	a.acquisitions++
	stale := a.resource
	a.resource = nil
	a.cameraInitialized = false
	a.stopTrackingLocked()
	a.setStateLocked(StateAcquiring)
	attempt := a.restorationAttemptCount
	a.wg.Add(1)
	a.mu.Unlock()

	stale.Stop()
	a.logger.Debug("Acquiring camera", zap.String("reason", reason), zap.Int("attempt", attempt))

	go a.acquire()
	return true
}

func (a *Agent) canAcquireLocked(mode acquireMode) bool {
	switch {
	case a.closed, !a.trackingEnabled, a.restorationInProgress:
		return false
	case a.cameraInitialized && a.resource.Live():
		return false
	case a.state == StatePermissionBlocked && mode != modeUser:
		return false
	case mode == modeAuto && a.cfg.Backoff.Exhausted(a.restorationAttemptCount):
		return false
	}
	return true
}

func (a *Agent) acquire() {
	defer a.wg.Done()

	start := time.Now()
	v, err, _ := a.flight.Do("acquire", func() (interface{}, error) {
		return a.acquireOnce()
	})
	res, _ := v.(*camera.Resource)
	a.finishAcquire(res, err, time.Since(start))
}

func (a *Agent) acquireOnce() (res *camera.Resource, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", errAcquirePanic, r)
		}
	}()
	return camera.Acquire(a.ctx, a.device, a.cfg.Constraints, a.cfg.AcquireTimeout)
}

func (a *Agent) finishAcquire(res *camera.Resource, err error, took time.Duration) {
	a.mu.Lock()
	a.restorationInProgress = false
	if a.closed {
		a.mu.Unlock()
		res.Stop()
		return
	}

	if err == nil {
		a.resource = res
		a.cameraInitialized = true
		a.restorationAttemptCount = 0
		a.lastErr = nil
		a.setStateLocked(a.activeStateLocked())
		a.startTrackingLocked(res)
		persist := a.requirePersistence
		a.wg.Add(1)
		a.mu.Unlock()

		go a.watch(res)

		a.latency.Record(took)
		a.metrics.RecordAcquisition("success", took)
		a.notifier.StatusIndicator(true)
		a.logger.Info("Camera acquired", zap.Duration("took", took))
		a.report(true, persist)
		return
	}

	a.lastErr = err
	if camera.Classify(err) == camera.ClassPermission {
		a.setStateLocked(StatePermissionBlocked)
		a.mu.Unlock()

		a.metrics.RecordAcquisition("permission", took)
		a.logger.Warn("Camera permission denied, automatic retries stopped", zap.Error(err))
		a.notifier.PermissionHelp(err)
		// A blocked tab cannot hold a camera; stop the coordinator counting it.
		a.report(false, false)
		return
	}

	a.restorationAttemptCount++
	attempts := a.restorationAttemptCount
	a.setStateLocked(StateDegraded)
	exhausted := a.cfg.Backoff.Exhausted(attempts)
	var delay time.Duration
	if !exhausted {
		delay = a.cfg.Backoff.Delay(attempts)
		a.retryTimer = a.clock.AfterFunc(delay, func() {
			a.requestAcquire("retry", modeAuto)
		})
	}
	a.mu.Unlock()

	a.metrics.RecordAcquisition("transient", took)
	if exhausted {
		a.logger.Warn("Camera restore paused after repeated failures",
			zap.Int("attempts", attempts), zap.Error(err))
		return
	}
	a.logger.Debug("Camera acquisition failed, retrying",
		zap.Int("attempt", attempts), zap.Duration("delay", delay), zap.Error(err))
	a.notifier.Restoring(attempts)
}

// watch turns an external track end into a restore.
func (a *Agent) watch(res *camera.Resource) {
	defer a.wg.Done()
	select {
	case <-res.Ended():
		a.resourceLost(res, "track ended")
	case <-res.Done():
	case <-a.ctx.Done():
	}
}

// resourceLost drops res if it is still current and restores immediately.
func (a *Agent) resourceLost(res *camera.Resource, reason string) {
	a.mu.Lock()
	if a.closed || a.resource != res {
		a.mu.Unlock()
		return
	}
	a.resource = nil
	a.cameraInitialized = false
	a.stopTrackingLocked()
	a.setStateLocked(StateDegraded)
	a.mu.Unlock()

	res.Stop()
	a.notifier.StatusIndicator(false)
	a.logger.Info("Camera lost", zap.String("reason", reason))
	a.requestAcquire(reason, modeAuto)
}

func (a *Agent) scheduleLiveness() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.livenessTimer = a.clock.AfterFunc(a.cfg.LivenessInterval, a.checkLiveness)
}

func (a *Agent) checkLiveness() {
	a.mu.Lock()
	res := a.resource
	initialized := a.cameraInitialized
	a.mu.Unlock()

	if initialized && !res.Live() {
		a.resourceLost(res, "liveness check failed")
	}
	a.scheduleLiveness()
}

func (a *Agent) scheduleHeartbeat() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.heartbeatTimer = a.clock.AfterFunc(a.cfg.HeartbeatInterval, a.heartbeat)
}

func (a *Agent) heartbeat() {
	var (
		has   bool
		reply types.HeartbeatReply
		err   error
	)
	sent := a.whileOpen(func() {
		a.mu.Lock()
		has = a.cameraInitialized
		a.mu.Unlock()

		ctx, cancel := context.WithTimeout(a.ctx, a.cfg.RequestTimeout)
		defer cancel()
		reply, err = a.coord.Heartbeat(ctx, types.Heartbeat{TabID: a.cfg.TabID, HasCameraActive: has})
	})
	if !sent {
		return
	}

	if err != nil {
		a.logger.Debug("Heartbeat failed", zap.Error(err))
	} else {
		a.mu.Lock()
		a.lastHeartbeat = a.clock.Now()
		a.mu.Unlock()

		if reply.ForceRestore || (reply.ShouldHaveCamera && !has) {
			a.requestAcquire("heartbeat", modeAuto)
		}
	}
	a.scheduleHeartbeat()
}

func (a *Agent) checkStatus(ctx context.Context, force bool) (types.StatusReply, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()
	return a.coord.CheckStatus(ctx, types.StatusQuery{TabID: a.cfg.TabID, ForceCheck: force})
}

func (a *Agent) report(active, persist bool) {
	a.whileOpen(func() {
		ctx, cancel := context.WithTimeout(a.ctx, a.cfg.RequestTimeout)
		defer cancel()

		reply, err := a.coord.ReportCameraStatus(ctx, types.CameraStatusReport{
			TabID:               a.cfg.TabID,
			SessionID:           a.cfg.SessionID,
			IsActive:            active,
			RequiresPersistence: persist,
		})
		switch {
		case err != nil:
			a.logger.Debug("Camera status report failed", zap.Error(err))
		case reply.Debounced:
			a.logger.Debug("Camera status report debounced")
		}
	})
}

// whileOpen runs send unless the agent is closed. It reports whether send ran.
func (a *Agent) whileOpen(send func()) bool {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()

	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return false
	}
	send()
	return true
}

// loadSettings refreshes trackingEnabled. Errors keep the previous value.
func (a *Agent) loadSettings(ctx context.Context) {
	if a.settings == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	s, err := settings.Load(ctx, a.settings)
	if err != nil {
		a.logger.Debug("Settings unavailable", zap.Error(err))
		return
	}

	a.mu.Lock()
	a.trackingEnabled = s.IsActive
	a.mu.Unlock()
}

// reloadSettings applies a settingsUpdated notification.
func (a *Agent) reloadSettings() {
	a.loadSettings(a.ctx)

	a.mu.Lock()
	enabled := a.trackingEnabled
	initialized := a.cameraInitialized
	a.mu.Unlock()

	switch {
	case !enabled && initialized:
		a.release("tracking disabled")
	case enabled && !initialized:
		reply, err := a.checkStatus(a.ctx, false)
		if err == nil && reply.ShouldActivateThisTab {
			a.requestAcquire("settings updated", modeAuto)
		}
	}
}

// release stops the camera without closing the agent.
func (a *Agent) release(reason string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	res := a.resource
	a.resource = nil
	a.cameraInitialized = false
	a.stopTrackingLocked()
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}
	a.setStateLocked(StateUninitialized)
	a.mu.Unlock()

	res.Stop()
	a.notifier.StatusIndicator(false)
	a.logger.Info("Camera released", zap.String("reason", reason))
	a.report(false, false)
}

// goTracked runs fn on a goroutine that Close waits for.
func (a *Agent) goTracked(fn func()) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *Agent) startTrackingLocked(res *camera.Resource) {
	if a.tracker == nil {
		return
	}
	frames := res.Frames()
	if frames == nil {
		return
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.trackCancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.tracker.Run(ctx, frames); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Debug("Tracking loop stopped", zap.Error(err))
		}
	}()
}

func (a *Agent) stopTrackingLocked() {
	if a.trackCancel != nil {
		a.trackCancel()
		a.trackCancel = nil
	}
}

func (a *Agent) stopTimersLocked() {
	for _, t := range []clock.Timer{a.retryTimer, a.heartbeatTimer, a.livenessTimer} {
		if t != nil {
			t.Stop()
		}
	}
	a.retryTimer, a.heartbeatTimer, a.livenessTimer = nil, nil, nil
}

func (a *Agent) activeStateLocked() State {
	if a.focused {
		return StateActive
	}
	return StateUnfocusedActive
}

func (a *Agent) setStateLocked(s State) {
	if a.state == s {
		return
	}
	a.logger.Debug("State transition",
		zap.Stringer("from", a.state),
		zap.Stringer("to", s))
	a.state = s
}
