/*
Package resilience provides a circuit breaker for coordinator-to-agent sends.

# Overview

Directive sends are fire-and-forget, but a tab whose agent is gone keeps
failing. The breaker group keeps one breaker per tab so repeated failures
stop further sends to that tab until the open timeout elapses, while the
agent's own heartbeat loop compensates for whatever it missed.

# Usage

	breakers := resilience.NewGroup(resilience.Settings{
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	err := breakers.Execute(string(tabID), func() error {
		return conn.Enqueue(directive)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           v
	                                         Open
*/
package resilience
