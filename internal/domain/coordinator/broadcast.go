package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/clock"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
)

// DefaultRestrictedURLs are browser-internal pages no agent can run in.
var DefaultRestrictedURLs = []string{
	"chrome://**",
	"chrome-extension://**",
	"file://**",
	"edge://**",
	"about:**",
}

// URLMatcher reports whether a tab URL is off-limits for directives.
type URLMatcher struct {
	patterns []string
}

// NewURLMatcher validates patterns. A nil slice selects DefaultRestrictedURLs.
func NewURLMatcher(patterns []string) (*URLMatcher, error) {
	if patterns == nil {
		patterns = DefaultRestrictedURLs
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid restricted url pattern %q", p)
		}
	}
	return &URLMatcher{patterns: append([]string(nil), patterns...)}, nil
}

// Restricted reports whether url matches any pattern. Unknown URLs are allowed.
func (m *URLMatcher) Restricted(url string) bool {
	if url == "" {
		return false
	}
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, url); ok {
			return true
		}
	}
	return false
}

// Broadcast sends d to every known tab on a non-restricted URL and returns
// how many sends succeeded.
func (r *Registry) Broadcast(ctx context.Context, d types.Directive) int {
	delivered := 0
	for _, tab := range r.Tabs() {
		if r.restricted.Restricted(tab.URL) {
			r.metrics.RecordDirective(string(d.Action), "skipped")
			continue
		}
		if r.send(ctx, tab.TabID, d) {
			delivered++
		}
	}
	return delivered
}

// Broadcaster periodically tells every tab to converge on active tracking
// while global tracking is on, so tabs that missed a directive self-correct.
type Broadcaster struct {
	registry *Registry
	clock    clock.Clock

	mu    sync.Mutex
	timer clock.Timer // Protected by mu
}

// NewBroadcaster creates a broadcaster over registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry, clock: registry.clock}
}

// Run ticks until ctx is cancelled. The interval is re-read after every
// tick so entering persistence mode speeds the loop up.
func (b *Broadcaster) Run(ctx context.Context) {
	b.schedule(ctx)
	<-ctx.Done()

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
}

func (b *Broadcaster) schedule(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	b.timer = b.clock.AfterFunc(b.registry.BroadcastInterval(), func() {
		b.Tick(ctx)
		b.schedule(ctx)
	})
}

// Tick performs one fan-out and returns the number of delivered directives.
func (b *Broadcaster) Tick(ctx context.Context) int {
	if !b.registry.GlobalTrackingActive() {
		return 0
	}
	n := b.registry.Broadcast(ctx, types.ForceSyncDirective())
	b.registry.logger.Debug("Broadcast camera sync", zap.Int("delivered", n))
	return n
}
