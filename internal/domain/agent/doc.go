/*
Package agent implements the per-tab camera state machine.

An Agent owns at most one camera.Resource for one page load. It asks the
coordinator whether to acquire, reports every acquisition and release,
heartbeats its view of the camera, and obeys coordinator directives.

# States

	Uninitialized ─► Acquiring ─► Active ◄──► UnfocusedActive
	                    │  ▲         │
	                    ▼  │         ▼
	     PermissionBlocked Degraded ◄─┘ (track ended, liveness failure)
	                              any ─► Releasing ─► Released

Losing window focus never releases the camera. A permission denial stops
automatic retries until RetryPermission or StartTracking. Transient failures
retry on the backoff schedule; once it is exhausted only a coordinator
directive or a user action restarts acquisition. On a fresh system nothing is tracking,
so the first camera comes from StartTracking, the user's start button.

After Close reports the release, the agent sends nothing more.

# Usage

	a := agent.New(agent.DefaultConfig(tabID), client, device).
		WithSettings(settingsClient).
		WithTracker(loop).
		WithLogger(logger)
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Close(context.Background())
*/
package agent
