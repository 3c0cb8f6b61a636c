package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Resource is an acquired capture handle owned by exactly one agent.
//
// Stop is idempotent. Ended fires only when a track ends on its own
// (device revoked, permission withdrawn), never because of Stop.
type Resource struct {
	stream     Stream
	acquiredAt time.Time

	stopped   atomic.Bool
	stopOnce  sync.Once
	endedOnce sync.Once
	ended     chan struct{}
	done      chan struct{}
}

func newResource(stream Stream, now time.Time) *Resource {
	r := &Resource{
		stream:     stream,
		acquiredAt: now,
		ended:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, t := range stream.Tracks() {
		go r.watch(t)
	}
	return r
}

func (r *Resource) watch(t Track) {
	<-t.Ended()
	if r.stopped.Load() {
		return
	}
	r.endedOnce.Do(func() { close(r.ended) })
}

// Acquire requests a stream and bounds the request by timeout. A stream that
// arrives after the deadline is stopped so the device is not left open.
func Acquire(ctx context.Context, acq Acquirer, c Constraints, timeout time.Duration) (*Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		stream Stream
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := acq.RequestVideoStream(ctx, c)
		ch <- result{stream: s, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, ErrAcquireTimeout
			}
			return nil, fmt.Errorf("request video stream: %w", res.err)
		}
		if res.stream == nil || !anyLive(res.stream.Tracks()) {
			if res.stream != nil {
				stopTracks(res.stream)
			}
			return nil, ErrNoLiveTracks
		}
		return newResource(res.stream, time.Now()), nil

	case <-ctx.Done():
		go func() {
			if res := <-ch; res.stream != nil {
				stopTracks(res.stream)
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrAcquireTimeout
		}
		return nil, ctx.Err()
	}
}

// Live reports whether the resource is unstopped and every track is live.
func (r *Resource) Live() bool {
	if r == nil || r.stopped.Load() {
		return false
	}
	tracks := r.stream.Tracks()
	if len(tracks) == 0 {
		return false
	}
	for _, t := range tracks {
		if !t.Live() {
			return false
		}
	}
	return true
}

// Ended is closed when a track ends externally.
func (r *Resource) Ended() <-chan struct{} {
	return r.ended
}

// Done is closed by Stop.
func (r *Resource) Done() <-chan struct{} {
	return r.done
}

// Stopped reports whether Stop has been called.
func (r *Resource) Stopped() bool {
	return r.stopped.Load()
}

// Stop releases every track. Safe to call more than once.
func (r *Resource) Stop() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		stopTracks(r.stream)
		close(r.done)
	})
}

// Frames exposes the stream's frames, or nil.
func (r *Resource) Frames() <-chan Frame {
	return r.stream.Frames()
}

// AcquiredAt returns when the resource was created.
func (r *Resource) AcquiredAt() time.Time {
	return r.acquiredAt
}

// TrackIDs lists the underlying track IDs.
func (r *Resource) TrackIDs() []string {
	tracks := r.stream.Tracks()
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID()
	}
	return ids
}

func stopTracks(s Stream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

func anyLive(tracks []Track) bool {
	for _, t := range tracks {
		if t.Live() {
			return true
		}
	}
	return false
}
