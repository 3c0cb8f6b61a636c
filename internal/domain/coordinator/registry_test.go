package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/monitoring"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/clock"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
)

const (
	tabA id.TabID = "tab_A"
	tabB id.TabID = "tab_B"
	tabC id.TabID = "tab_C"
)

type sent struct {
	tab       id.TabID
	directive types.Directive
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sent
	fail map[id.TabID]error
}

func (d *recordingDispatcher) Send(ctx context.Context, tab id.TabID, dir types.Directive) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail[tab]; err != nil {
		return err
	}
	d.sent = append(d.sent, sent{tab: tab, directive: dir})
	return nil
}

func (d *recordingDispatcher) Sent() []sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sent(nil), d.sent...)
}

func newTestRegistry(t *testing.T) (*Registry, *recordingDispatcher, *clock.Fake) {
	t.Helper()
	disp := &recordingDispatcher{}
	clk := clock.NewFake(time.Unix(1700000000, 0))
	r, err := NewRegistry(disp, Options{DebounceWindow: 500 * time.Millisecond, BroadcastInterval: 3 * time.Second})
	require.NoError(t, err)
	return r.WithClock(clk), disp, clk
}

func report(tab id.TabID, active bool) types.CameraStatusReport {
	return types.CameraStatusReport{TabID: tab, SessionID: id.SessionID("sess_" + string(tab)), IsActive: active}
}

func assertInvariant(t *testing.T, r *Registry) {
	t.Helper()
	snap := r.Snapshot()
	if len(snap.TabsWithCamera) == 0 {
		assert.False(t, snap.GlobalTrackingActive, "global tracking active with no camera tabs")
	}
}

func TestReportCameraStatusActivate(t *testing.T) {
	r, _, clk := newTestRegistry(t)
	ctx := context.Background()

	reply, err := r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.False(t, reply.Debounced)

	snap := r.Snapshot()
	assert.True(t, snap.GlobalTrackingActive)
	assert.Equal(t, []id.TabID{tabA}, snap.TabsWithCamera)
	assert.Equal(t, tabA, snap.PrimaryTabID)
	assert.Equal(t, clk.Now(), snap.LastActivation)
	assert.False(t, snap.PersistenceMode)
}

func TestReportCameraStatusPersistence(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	req := report(tabA, true)
	req.RequiresPersistence = true
	_, err := r.ReportCameraStatus(ctx, req)
	require.NoError(t, err)

	assert.True(t, r.Snapshot().PersistenceMode)
	assert.Equal(t, 1500*time.Millisecond, r.BroadcastInterval())

	// Persistence mode is sticky.
	_, err = r.ReportCameraStatus(ctx, report(tabA, false))
	require.NoError(t, err)
	assert.True(t, r.Snapshot().PersistenceMode)
}

func TestReportCameraStatusDebounce(t *testing.T) {
	r, _, clk := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)
	first := r.Snapshot().LastActivation

	clk.Advance(100 * time.Millisecond)
	reply, err := r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.True(t, reply.Debounced)
	assert.Equal(t, first, r.Snapshot().LastActivation)

	clk.Advance(500 * time.Millisecond)
	reply, err = r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)
	assert.False(t, reply.Debounced)
	assert.Equal(t, clk.Now(), r.Snapshot().LastActivation)
}

func TestReportCameraStatusDebounceIsPerSession(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)

	reloaded := report(tabA, true)
	reloaded.SessionID = "sess_reloaded"
	reply, err := r.ReportCameraStatus(ctx, reloaded)
	require.NoError(t, err)
	assert.False(t, reply.Debounced)

	reply, err = r.ReportCameraStatus(ctx, report(tabB, true))
	require.NoError(t, err)
	assert.False(t, reply.Debounced)
}

func TestReportCameraStatusReactivateAfterRelease(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	for i, active := range []bool{true, false, true} {
		reply, err := r.ReportCameraStatus(ctx, report(tabA, active))
		require.NoError(t, err)
		assert.False(t, reply.Debounced, "report %d", i)
	}
	assert.True(t, r.GlobalTrackingActive())
	assert.Equal(t, []id.TabID{tabA}, r.Snapshot().TabsWithCamera)

	reply, err := r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)
	assert.True(t, reply.Debounced)
	assertInvariant(t, r)
}

func TestReportCameraStatusReleaseNotSwallowedAfterActivate(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)

	reply, err := r.ReportCameraStatus(ctx, report(tabA, false))
	require.NoError(t, err)
	assert.False(t, reply.Debounced)
	assert.False(t, r.GlobalTrackingActive())
	assertInvariant(t, r)
}

func TestDebounceWindowHalvedInPersistenceMode(t *testing.T) {
	r, _, clk := newTestRegistry(t)
	ctx := context.Background()

	req := report(tabA, true)
	req.RequiresPersistence = true
	_, err := r.ReportCameraStatus(ctx, req)
	require.NoError(t, err)

	clk.Advance(300 * time.Millisecond)
	reply, err := r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)
	assert.False(t, reply.Debounced)
}

func TestReportCameraStatusRequiresTab(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.ReportCameraStatus(context.Background(), types.CameraStatusReport{IsActive: true})
	assert.ErrorIs(t, err, ErrMissingTabID)
}

func TestInvariantHoldsAcrossOperations(t *testing.T) {
	r, _, clk := newTestRegistry(t)
	ctx := context.Background()

	steps := []func(){
		func() { _, _ = r.ReportCameraStatus(ctx, report(tabA, true)) },
		func() { _, _ = r.ReportCameraStatus(ctx, report(tabB, true)) },
		func() { _, _ = r.Heartbeat(ctx, types.Heartbeat{TabID: tabC, HasCameraActive: true}) },
		func() { _, _ = r.ReportCameraStatus(ctx, report(tabA, false)) },
		func() { r.NotifyTabClosed(tabB) },
		func() { _, _ = r.Heartbeat(ctx, types.Heartbeat{TabID: tabC, HasCameraActive: false}) },
		func() { r.NotifyTabClosed(tabC) },
		func() { _, _ = r.ReportCameraStatus(ctx, report(tabA, false)) },
	}
	for _, step := range steps {
		step()
		clk.Advance(time.Second)
		assertInvariant(t, r)
	}
	assert.False(t, r.GlobalTrackingActive())
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(r *Registry)
		query       types.StatusQuery
		wantGlobal  bool
		wantActive  bool
		wantFocused bool
		wantForce   bool
	}{
		{
			name:  "inactive coordinator",
			setup: func(r *Registry) {},
			query: types.StatusQuery{TabID: tabB, ForceCheck: true},
		},
		{
			name: "unfocused tab without force",
			setup: func(r *Registry) {
				_, _ = r.ReportCameraStatus(context.Background(), report(tabA, true))
			},
			query:      types.StatusQuery{TabID: tabB},
			wantGlobal: true,
		},
		{
			name: "focused tab",
			setup: func(r *Registry) {
				_, _ = r.ReportCameraStatus(context.Background(), report(tabA, true))
				_, _ = r.NotifyFocusChange(context.Background(), types.FocusChange{TabID: tabB, Focused: true})
			},
			query:       types.StatusQuery{TabID: tabB},
			wantGlobal:  true,
			wantActive:  true,
			wantFocused: true,
		},
		{
			name: "force check",
			setup: func(r *Registry) {
				_, _ = r.ReportCameraStatus(context.Background(), report(tabA, true))
			},
			query:      types.StatusQuery{TabID: tabB, ForceCheck: true},
			wantGlobal: true,
			wantActive: true,
		},
		{
			name: "persistence mode",
			setup: func(r *Registry) {
				req := report(tabA, true)
				req.RequiresPersistence = true
				_, _ = r.ReportCameraStatus(context.Background(), req)
			},
			query:      types.StatusQuery{TabID: tabB},
			wantGlobal: true,
			wantActive: true,
			wantForce:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newTestRegistry(t)
			tt.setup(r)

			reply, err := r.CheckStatus(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantGlobal, reply.GlobalTrackingActive)
			assert.Equal(t, tt.wantActive, reply.ShouldActivateThisTab)
			assert.Equal(t, tt.wantFocused, reply.WasTabFocused)
			assert.Equal(t, tt.wantForce, reply.ForceRestore)
		})
	}
}

func TestHeartbeatAdoptsUnknownCamera(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	reply, err := r.Heartbeat(context.Background(), types.Heartbeat{TabID: tabC, HasCameraActive: true})
	require.NoError(t, err)

	assert.True(t, reply.ShouldHaveCamera)
	assert.True(t, reply.GlobalTrackingActive)
	assert.False(t, reply.ForceRestore)

	snap := r.Snapshot()
	assert.Equal(t, []id.TabID{tabC}, snap.TabsWithCamera)
	assert.True(t, snap.GlobalTrackingActive)
}

func TestHeartbeatDenialForcesRestoreWithoutRemoval(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.ReportCameraStatus(ctx, report(tabC, true))
	require.NoError(t, err)

	reply, err := r.Heartbeat(ctx, types.Heartbeat{TabID: tabC, HasCameraActive: false})
	require.NoError(t, err)

	assert.True(t, reply.ForceRestore)
	assert.True(t, reply.ShouldHaveCamera)
	assert.True(t, reply.GlobalTrackingActive)
	assert.Equal(t, []id.TabID{tabC}, r.Snapshot().TabsWithCamera)

	// Only an explicit release removes membership.
	_, err = r.ReportCameraStatus(ctx, report(tabC, false))
	require.NoError(t, err)
	assert.Empty(t, r.Snapshot().TabsWithCamera)
	assert.False(t, r.GlobalTrackingActive())
}

func TestHeartbeatInSync(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	reply, err := r.Heartbeat(context.Background(), types.Heartbeat{TabID: tabA})
	require.NoError(t, err)
	assert.Equal(t, types.HeartbeatReply{}, reply)
}

func TestNotifyFocusChangeSendsDirectives(t *testing.T) {
	r, disp, _ := newTestRegistry(t)
	ctx := context.Background()

	// Nothing to restore while tracking is off.
	_, err := r.NotifyFocusChange(ctx, types.FocusChange{TabID: tabB, Focused: true})
	require.NoError(t, err)
	assert.Empty(t, disp.Sent())

	_, err = r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)

	ack, err := r.NotifyFocusChange(ctx, types.FocusChange{TabID: tabB, Focused: true})
	require.NoError(t, err)
	assert.True(t, ack.Success)

	ack, err = r.NotifyFocusChange(ctx, types.FocusChange{TabID: tabA, Focused: false})
	require.NoError(t, err)
	assert.True(t, ack.Success)

	sends := disp.Sent()
	require.Len(t, sends, 2)
	assert.Equal(t, tabB, sends[0].tab)
	assert.Equal(t, types.Directive{Action: types.ActionTabFocus, ShouldRestoreCamera: true, ForceActivate: true}, sends[0].directive)
	assert.Equal(t, tabA, sends[1].tab)
	assert.Equal(t, types.Directive{Action: types.ActionTabBlur, KeepCameraAlive: true}, sends[1].directive)

	snap := r.Snapshot()
	assert.True(t, snap.TabFocusState[tabB])
	assert.False(t, snap.TabFocusState[tabA])
}

func TestSendFailuresAreSwallowedAndObserved(t *testing.T) {
	disp := &recordingDispatcher{fail: map[id.TabID]error{tabB: errors.New("no receiving end")}}
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	var hooked []id.TabID
	r, err := NewRegistry(disp, Options{})
	require.NoError(t, err)
	r.WithMetrics(metrics).WithSendFailureHook(func(tab id.TabID, d types.Directive, err error) {
		hooked = append(hooked, tab)
	})

	ctx := context.Background()
	_, err = r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)

	ack, err := r.NotifyFocusChange(ctx, types.FocusChange{TabID: tabB, Focused: true})
	require.NoError(t, err)
	assert.True(t, ack.Success)

	assert.Equal(t, []id.TabID{tabB}, hooked)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DirectivesTotal.WithLabelValues(string(types.ActionTabFocus), "failed")))
}

func TestNilDispatcherSkipsSends(t *testing.T) {
	r, err := NewRegistry(nil, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)
	ack, err := r.NotifyFocusChange(ctx, types.FocusChange{TabID: tabB, Focused: true})
	require.NoError(t, err)
	assert.True(t, ack.Success)
}

func TestNotifyTabClosed(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.RegisterTab(types.TabInfo{TabID: tabA, URL: "https://example.com"}))
	_, err := r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)
	_, err = r.NotifyFocusChange(ctx, types.FocusChange{TabID: tabA, Focused: true})
	require.NoError(t, err)

	r.NotifyTabClosed(tabA)

	snap := r.Snapshot()
	assert.Empty(t, snap.TabsWithCamera)
	assert.False(t, snap.GlobalTrackingActive)
	assert.Empty(t, snap.TabFocusState)
	assert.Empty(t, snap.PrimaryTabID)
	assert.Equal(t, 0, snap.KnownTabs)
	assert.Empty(t, r.Tabs())

	// A fresh report right after close is not debounced.
	reply, err := r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)
	assert.False(t, reply.Debounced)
}

func TestRegisterTabAndTabs(t *testing.T) {
	r, _, clk := newTestRegistry(t)

	assert.ErrorIs(t, r.RegisterTab(types.TabInfo{}), ErrMissingTabID)

	require.NoError(t, r.RegisterTab(types.TabInfo{TabID: tabB, URL: "https://b.example"}))
	clk.Advance(time.Second)
	require.NoError(t, r.RegisterTab(types.TabInfo{TabID: tabA, URL: "https://a.example"}))

	tabs := r.Tabs()
	require.Len(t, tabs, 2)
	assert.Equal(t, tabB, tabs[0].TabID)
	assert.Equal(t, tabA, tabs[1].TabID)

	info, ok := r.Tab(tabA)
	require.True(t, ok)
	assert.Equal(t, clk.Now(), info.ConnectedAt)
}

// Tab A activates, unfocused tab B is told to wait, focus moves to B, the
// coordinator restores B, and B reports in.
func TestScenarioFocusMovesCameraToNewTab(t *testing.T) {
	r, disp, clk := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)
	snap := r.Snapshot()
	assert.True(t, snap.GlobalTrackingActive)
	assert.Equal(t, []id.TabID{tabA}, snap.TabsWithCamera)

	status, err := r.CheckStatus(ctx, types.StatusQuery{TabID: tabB})
	require.NoError(t, err)
	assert.False(t, status.ShouldActivateThisTab)

	_, err = r.NotifyFocusChange(ctx, types.FocusChange{TabID: tabB, Focused: true})
	require.NoError(t, err)

	sends := disp.Sent()
	require.Len(t, sends, 1)
	assert.Equal(t, tabB, sends[0].tab)
	assert.True(t, sends[0].directive.WantsCamera())

	clk.Advance(50 * time.Millisecond)
	_, err = r.ReportCameraStatus(ctx, report(tabB, true))
	require.NoError(t, err)
	assert.Equal(t, []id.TabID{tabA, tabB}, r.Snapshot().TabsWithCamera)
}

func TestScenarioLastCameraTabCloses(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)

	r.NotifyTabClosed(tabA)

	assert.Empty(t, r.Snapshot().TabsWithCamera)
	assert.False(t, r.GlobalTrackingActive())
}

func TestPruneDebounce(t *testing.T) {
	r, _, clk := newTestRegistry(t)
	_, err := r.ReportCameraStatus(context.Background(), report(tabA, true))
	require.NoError(t, err)

	clk.Advance(time.Minute)
	assert.Equal(t, 1, r.PruneDebounce(30*time.Second))
}
