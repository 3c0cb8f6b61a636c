package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSend = errors.New("send failed")

type manualTime struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func fail() error    { return errSend }
func succeed() error { return nil }

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     time.Minute,
				ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 3 },
			},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name: "success resets consecutive failures",
			settings: Settings{
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     time.Minute,
				ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 2 },
			},
			requests:      []bool{false, true, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", tt.settings)

			for _, success := range tt.requests {
				if success {
					_ = breaker.Execute(succeed)
				} else {
					_ = breaker.Execute(fail)
				}
			}

			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute})

	require.NoError(t, breaker.Execute(succeed))

	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)

	assert.ErrorIs(t, breaker.Execute(fail), errSend)

	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerOpenRejectsWithoutRunning(t *testing.T) {
	breaker := New("test", Settings{
		Timeout:     time.Minute,
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 2 },
	})

	_ = breaker.Execute(fail)
	_ = breaker.Execute(fail)
	require.Equal(t, StateOpen, breaker.State())

	ran := false
	err := breaker.Execute(func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	clk := &manualTime{now: time.Unix(0, 0)}
	var transitions []string

	breaker := New("tab-1", Settings{
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 2 },
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
		Now: clk.Now,
	})

	_ = breaker.Execute(fail)
	_ = breaker.Execute(fail)
	assert.Equal(t, StateOpen, breaker.State())

	clk.Advance(6 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())

	require.NoError(t, breaker.Execute(succeed))
	require.NoError(t, breaker.Execute(succeed))
	assert.Equal(t, StateClosed, breaker.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clk := &manualTime{now: time.Unix(0, 0)}
	breaker := New("tab-1", Settings{
		Timeout:     time.Second,
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
		Now:         clk.Now,
	})

	_ = breaker.Execute(fail)
	clk.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	_ = breaker.Execute(fail)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	breaker := New("test", Settings{})

	assert.Panics(t, func() {
		_ = breaker.Execute(func() error { panic("boom") })
	})
	assert.Equal(t, uint32(1), breaker.Counts().TotalFailures)
}

func TestGroup(t *testing.T) {
	g := NewGroup(Settings{
		Timeout:     time.Minute,
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})

	_ = g.Execute("tab-a", fail)
	require.NoError(t, g.Execute("tab-b", succeed))

	states := g.States()
	assert.Equal(t, StateOpen, states["tab-a"])
	assert.Equal(t, StateClosed, states["tab-b"])
	assert.ErrorIs(t, g.Execute("tab-a", succeed), ErrCircuitOpen)

	g.Forget("tab-a")
	assert.NoError(t, g.Execute("tab-a", succeed))
}
