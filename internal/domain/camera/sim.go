package camera

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimDevice is an in-memory Acquirer for headless agents and tests.
//
// It can deny permission, fail a number of requests, add latency, block
// until released, and revoke live tracks to mimic the device going away.
type SimDevice struct {
	mu            sync.Mutex
	deny          bool
	failNext      int
	failErr       error
	latency       time.Duration
	gate          chan struct{}
	frameInterval time.Duration
	requests      int
	seq           int
	streams       []*simStream
}

// NewSimDevice creates a device that grants every request immediately.
func NewSimDevice() *SimDevice {
	return &SimDevice{}
}

// DenyPermission makes requests fail with a NotAllowedError until reset.
func (d *SimDevice) DenyPermission(deny bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deny = deny
}

// FailNext fails the next n requests with err (ErrDeviceBusy when nil).
func (d *SimDevice) FailNext(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		err = ErrDeviceBusy
	}
	d.failNext = n
	d.failErr = err
}

// SetLatency delays each request by lat.
func (d *SimDevice) SetLatency(lat time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latency = lat
}

// EmitFrames makes new streams produce synthetic frames every interval.
func (d *SimDevice) EmitFrames(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frameInterval = interval
}

// Block holds all requests until the returned release func is called.
func (d *SimDevice) Block() (release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gate := make(chan struct{})
	d.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.gate == gate {
				d.gate = nil
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

// Requests returns how many times RequestVideoStream was called.
func (d *SimDevice) Requests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

// LiveStreams counts streams with at least one live track.
func (d *SimDevice) LiveStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		if s.track.Live() {
			n++
		}
	}
	return n
}

// Revoke ends every live track externally.
func (d *SimDevice) Revoke() {
	d.mu.Lock()
	streams := append([]*simStream(nil), d.streams...)
	d.mu.Unlock()

	for _, s := range streams {
		s.track.end()
	}
}

// RequestVideoStream implements Acquirer.
func (d *SimDevice) RequestVideoStream(ctx context.Context, c Constraints) (Stream, error) {
	d.mu.Lock()
	d.requests++
	gate := d.gate
	latency := d.latency
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.deny {
		return nil, &NamedError{Name: "NotAllowedError", Message: "Permission denied"}
	}
	if d.failNext > 0 {
		d.failNext--
		return nil, d.failErr
	}

	d.seq++
	s := newSimStream(fmt.Sprintf("sim-video-%d", d.seq), c, d.frameInterval)
	d.streams = append(d.streams, s)
	return s, nil
}

type simStream struct {
	track  *simTrack
	frames chan Frame
}

func newSimStream(id string, c Constraints, frameInterval time.Duration) *simStream {
	s := &simStream{track: newSimTrack(id)}
	if frameInterval > 0 {
		s.frames = make(chan Frame, 1)
		go s.produce(c, frameInterval)
	}
	return s
}

func (s *simStream) Tracks() []Track {
	return []Track{s.track}
}

func (s *simStream) Frames() <-chan Frame {
	if s.frames == nil {
		return nil
	}
	return s.frames
}

func (s *simStream) produce(c Constraints, interval time.Duration) {
	defer close(s.frames)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-s.track.Ended():
			return
		case now := <-ticker.C:
			seq++
			frame := Frame{Seq: seq, Width: c.Width, Height: c.Height, Timestamp: now}
			// Drop the frame if the consumer is behind.
			select {
			case s.frames <- frame:
			default:
			}
		}
	}
}

type simTrack struct {
	id    string
	mu    sync.Mutex
	live  bool
	ended chan struct{}
}

func newSimTrack(id string) *simTrack {
	return &simTrack{id: id, live: true, ended: make(chan struct{})}
}

func (t *simTrack) ID() string   { return t.id }
func (t *simTrack) Kind() string { return "video" }

func (t *simTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *simTrack) Stop() { t.end() }

func (t *simTrack) Ended() <-chan struct{} { return t.ended }

func (t *simTrack) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live {
		return
	}
	t.live = false
	close(t.ended)
}
