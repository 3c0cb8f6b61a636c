/*
Package camera wraps the platform capture primitive behind a small resource type.

# Features

  - Acquire bounds a stream request with a timeout and releases late arrivals
  - Resource reports liveness, exposes an external-end signal and stops idempotently
  - Classify separates permission denials from transient failures
  - SimDevice stands in for real hardware in headless agents and tests
  - LatencyRecorder summarizes acquisition latency

# Usage

	res, err := camera.Acquire(ctx, device, camera.DefaultConstraints(), 5*time.Second)
	if err != nil {
		if camera.Classify(err) == camera.ClassPermission {
			// wait for the user
		}
		return err
	}
	defer res.Stop()

	select {
	case <-res.Ended():
		// device revoked
	case <-ctx.Done():
	}
*/
package camera
