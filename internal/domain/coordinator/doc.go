/*
Package coordinator holds the process-wide camera session registry.

# Overview

The Registry is the single source of truth for whether eye tracking should
be on. Tab agents report camera changes, ask whether to acquire, and send
heartbeats. The registry answers from one pure policy (ShouldTabHaveCamera)
and pushes fire-and-forget directives back through a Dispatcher.

# Features

  - Per-session debounce of camera status reports
  - Heartbeat drift reconciliation (adopt or force restore, never evict)
  - Directed restore on focus gain, keep-alive on focus loss
  - Periodic broadcast to every non-restricted tab while tracking is on
  - Persistence mode halves the debounce window and broadcast interval

# Usage

	registry, err := coordinator.NewRegistry(hub, coordinator.Options{
		DebounceWindow:    500 * time.Millisecond,
		BroadcastInterval: 3 * time.Second,
	})
	if err != nil {
		return err
	}
	registry.WithLogger(logger).WithMetrics(metrics)

	go coordinator.NewBroadcaster(registry).Run(ctx)
*/
package coordinator
