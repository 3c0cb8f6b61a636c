package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
)

func TestURLMatcher(t *testing.T) {
	m, err := NewURLMatcher(nil)
	require.NoError(t, err)

	tests := []struct {
		url        string
		restricted bool
	}{
		{"chrome://settings", true},
		{"chrome://extensions/details", true},
		{"chrome-extension://abcdef/popup.html", true},
		{"file:///home/user/index.html", true},
		{"edge://newtab", true},
		{"about:blank", true},
		{"https://example.com/page", false},
		{"http://localhost:3000/", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.restricted, m.Restricted(tt.url))
		})
	}
}

func TestURLMatcherRejectsBadPattern(t *testing.T) {
	_, err := NewURLMatcher([]string{"chrome://[**"})
	assert.Error(t, err)

	_, err = NewRegistry(nil, Options{RestrictedURLs: []string{"chrome://[**"}})
	assert.Error(t, err)
}

func TestBroadcastSkipsRestrictedTabs(t *testing.T) {
	r, disp, _ := newTestRegistry(t)

	require.NoError(t, r.RegisterTab(types.TabInfo{TabID: tabA, URL: "https://a.example"}))
	require.NoError(t, r.RegisterTab(types.TabInfo{TabID: tabB, URL: "chrome://settings"}))
	require.NoError(t, r.RegisterTab(types.TabInfo{TabID: tabC, URL: "https://c.example"}))

	n := r.Broadcast(context.Background(), types.ForceSyncDirective())
	assert.Equal(t, 2, n)

	var tabs []id.TabID
	for _, s := range disp.Sent() {
		tabs = append(tabs, s.tab)
		assert.Equal(t, types.ForceSyncDirective(), s.directive)
	}
	assert.ElementsMatch(t, []id.TabID{tabA, tabC}, tabs)
}

func TestBroadcasterTickOnlyWhileActive(t *testing.T) {
	r, disp, _ := newTestRegistry(t)
	b := NewBroadcaster(r)
	ctx := context.Background()

	require.NoError(t, r.RegisterTab(types.TabInfo{TabID: tabA, URL: "https://a.example"}))
	require.NoError(t, r.RegisterTab(types.TabInfo{TabID: tabB, URL: "https://b.example"}))

	assert.Equal(t, 0, b.Tick(ctx))
	assert.Empty(t, disp.Sent())

	_, err := r.ReportCameraStatus(ctx, report(tabA, true))
	require.NoError(t, err)
	assert.Equal(t, 2, b.Tick(ctx))
}

func TestBroadcasterRunUsesInterval(t *testing.T) {
	r, disp, clk := newTestRegistry(t)
	b := NewBroadcaster(r)

	require.NoError(t, r.RegisterTab(types.TabInfo{TabID: tabB, URL: "https://b.example"}))
	_, err := r.ReportCameraStatus(context.Background(), report(tabA, true))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)

	clk.Advance(2 * time.Second)
	assert.Empty(t, disp.Sent())

	clk.Advance(time.Second)
	assert.Len(t, disp.Sent(), 1)

	clk.Advance(6 * time.Second)
	assert.Len(t, disp.Sent(), 3)

	cancel()
	<-done
	assert.Equal(t, 0, clk.Pending())
}

func TestBroadcasterFasterInPersistenceMode(t *testing.T) {
	r, disp, clk := newTestRegistry(t)
	b := NewBroadcaster(r)

	require.NoError(t, r.RegisterTab(types.TabInfo{TabID: tabB, URL: "https://b.example"}))
	req := report(tabA, true)
	req.RequiresPersistence = true
	_, err := r.ReportCameraStatus(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)

	clk.Advance(3 * time.Second)
	assert.Len(t, disp.Sent(), 2)
}
