package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/agent"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/camera"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/coordinator"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/settings"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/tracing"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type testServer struct {
	registry *coordinator.Registry
	hub      *Hub
	url      string
}

func newTestServer(t *testing.T, mut func(*Hub)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := coordinator.NewRegistry(nil, coordinator.Options{})
	require.NoError(t, err)
	hub := NewHub(registry, settings.NewMemoryStore(settings.Defaults()))
	if mut != nil {
		mut(hub)
	}
	registry.SetDispatcher(hub)

	router := gin.New()
	router.GET("/agent", hub.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return &testServer{
		registry: registry,
		hub:      hub,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent",
	}
}

func (s *testServer) dial(t *testing.T, tab id.TabID) *Client {
	t.Helper()
	c, err := Dial(context.Background(), s.url, types.Hello{
		TabID:     tab,
		SessionID: id.SessionID("sess_" + string(tab)),
		URL:       "https://example.com/" + string(tab),
	}, ClientOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestHelloRegistersTab(t *testing.T) {
	s := newTestServer(t, nil)
	s.dial(t, "tab_A")

	info, ok := s.registry.Tab("tab_A")
	require.True(t, ok)
	assert.Equal(t, id.SessionID("sess_tab_A"), info.SessionID)
	assert.Equal(t, "https://example.com/tab_A", info.URL)
	assert.Equal(t, 1, s.hub.Connections())
}

func TestRequestRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.dial(t, "tab_A")
	ctx := context.Background()

	report, err := c.ReportCameraStatus(ctx, types.CameraStatusReport{IsActive: true})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.False(t, report.Debounced)

	snap := s.registry.Snapshot()
	assert.True(t, snap.GlobalTrackingActive)
	assert.Equal(t, []id.TabID{"tab_A"}, snap.TabsWithCamera)

	status, err := c.CheckStatus(ctx, types.StatusQuery{ForceCheck: true})
	require.NoError(t, err)
	assert.True(t, status.GlobalTrackingActive)
	assert.True(t, status.ShouldActivateThisTab)

	hb, err := c.Heartbeat(ctx, types.Heartbeat{HasCameraActive: true})
	require.NoError(t, err)
	assert.True(t, hb.ShouldHaveCamera)
	assert.False(t, hb.ForceRestore)

	ack, err := c.NotifyFocusChange(ctx, types.FocusChange{Focused: true})
	require.NoError(t, err)
	assert.True(t, ack.Success)
}

func TestConnectionTabOverridesPayload(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.dial(t, "tab_A")

	_, err := c.ReportCameraStatus(context.Background(), types.CameraStatusReport{TabID: "tab_Z", IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, []id.TabID{"tab_A"}, s.registry.Snapshot().TabsWithCamera)
}

func TestFocusGainPushesDirective(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.dial(t, "tab_A")
	b := s.dial(t, "tab_B")
	ctx := context.Background()

	_, err := a.ReportCameraStatus(ctx, types.CameraStatusReport{IsActive: true})
	require.NoError(t, err)
	_, err = b.NotifyFocusChange(ctx, types.FocusChange{Focused: true})
	require.NoError(t, err)

	select {
	case d := <-b.Directives():
		assert.Equal(t, types.ActionTabFocus, d.Action)
		assert.True(t, d.ShouldRestoreCamera)
		assert.True(t, d.ForceActivate)
	case <-time.After(waitFor):
		t.Fatal("no directive delivered")
	}
}

func TestDisconnectClosesTab(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.dial(t, "tab_A")

	_, err := c.ReportCameraStatus(context.Background(), types.CameraStatusReport{IsActive: true})
	require.NoError(t, err)
	require.True(t, s.registry.GlobalTrackingActive())

	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		_, known := s.registry.Tab("tab_A")
		return !known && s.hub.Connections() == 0
	}, waitFor, tick)
	assert.False(t, s.registry.GlobalTrackingActive())
	assert.Empty(t, s.registry.Snapshot().TabsWithCamera)

	_, err = c.CheckStatus(context.Background(), types.StatusQuery{})
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestReconnectKeepsTab(t *testing.T) {
	s := newTestServer(t, nil)
	first := s.dial(t, "tab_A")

	_, err := first.ReportCameraStatus(context.Background(), types.CameraStatusReport{IsActive: true})
	require.NoError(t, err)

	second := s.dial(t, "tab_A")

	select {
	case <-first.Done():
	case <-time.After(waitFor):
		t.Fatal("previous connection not dropped")
	}

	// The replaced connection going away must not close the tab.
	assert.Equal(t, 1, s.hub.Connections())
	assert.Equal(t, []id.TabID{"tab_A"}, s.registry.Snapshot().TabsWithCamera)

	hb, err := second.Heartbeat(context.Background(), types.Heartbeat{HasCameraActive: false})
	require.NoError(t, err)
	assert.True(t, hb.ForceRestore)
}

func TestSendToUnknownTab(t *testing.T) {
	s := newTestServer(t, nil)
	err := s.hub.Send(context.Background(), "tab_missing", types.ForceSyncDirective())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestBroadcastReachesConnectedTabs(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.dial(t, "tab_A")
	b := s.dial(t, "tab_B")

	sent := s.registry.Broadcast(context.Background(), types.ForceSyncDirective())
	assert.Equal(t, 2, sent)

	for _, c := range []*Client{a, b} {
		select {
		case d := <-c.Directives():
			assert.Equal(t, types.ActionSyncCameraState, d.Action)
			assert.True(t, d.ShouldBeActive)
		case <-time.After(waitFor):
			t.Fatal("broadcast not delivered")
		}
	}
}

func TestInboundRateLimit(t *testing.T) {
	s := newTestServer(t, func(h *Hub) { h.WithRateLimit(1) })
	c := s.dial(t, "tab_A")
	ctx := context.Background()

	_, err := c.CheckStatus(ctx, types.StatusQuery{})
	require.NoError(t, err)

	_, err = c.CheckStatus(ctx, types.StatusQuery{})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, ErrRateLimited.Error())
}

func TestGetSettings(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.dial(t, "tab_A")

	values, err := c.Get(context.Background(), "isActive", "gazeSensitivity")
	require.NoError(t, err)
	assert.Len(t, values, 2)
	assert.Equal(t, true, values["isActive"])

	loaded, err := settings.Load(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, settings.Defaults(), loaded)
}

func TestAgentOverWebSocket(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	client := s.dial(t, "tab_A")
	device := camera.NewSimDevice()
	a := agent.New(agent.DefaultConfig("tab_A"), client, device).WithSettings(client)
	go func() {
		for d := range client.Directives() {
			a.HandleDirective(d)
		}
	}()
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.Equal(t, agent.StateUninitialized, a.Status().State)

	s.registry.Broadcast(ctx, types.Directive{Action: types.ActionForceActivateCamera})

	require.Eventually(t, func() bool {
		return a.Status().State == agent.StateActive
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return s.registry.GlobalTrackingActive()
	}, waitFor, tick)
	assert.Equal(t, []id.TabID{"tab_A"}, s.registry.Snapshot().TabsWithCamera)
	assert.Equal(t, 1, device.Requests())
}

func TestAgentStartsTrackingOnIdleCoordinator(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	client := s.dial(t, "tab_A")
	a := agent.New(agent.DefaultConfig("tab_A"), client, camera.NewSimDevice())
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	require.False(t, s.registry.GlobalTrackingActive())

	require.True(t, a.StartTracking())
	require.Eventually(t, func() bool {
		return s.registry.GlobalTrackingActive()
	}, waitFor, tick)

	require.NoError(t, a.Close(ctx))
	require.Eventually(t, func() bool {
		return !s.registry.GlobalTrackingActive()
	}, waitFor, tick)
	assert.Empty(t, s.registry.Snapshot().TabsWithCamera)
}

func TestAgentTraceContinues(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tracer := tracing.New("test", zap.New(core))
	s := newTestServer(t, func(h *Hub) { h.WithTracer(tracer) })

	header := http.Header{}
	header.Set(tracing.HeaderTraceID, "trace_agent")
	ctx := tracing.ContextFromHeader(context.Background(), header)

	c, err := Dial(ctx, s.url, types.Hello{TabID: "tab_A"}, ClientOptions{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.CheckStatus(context.Background(), types.StatusQuery{})
	require.NoError(t, err)
	tracer.Close()

	entries := logs.FilterMessage("span completed").FilterField(zap.String("operation", "ws.checkStatus")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "trace_agent", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, "tab_A", entries[0].ContextMap()["tab_id"])
}
