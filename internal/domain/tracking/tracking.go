package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/camera"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/logging"
)

// ErrNotReady is returned by a Loader whose model has not finished loading.
var ErrNotReady = errors.New("face detector not ready")

const defaultPollInterval = 200 * time.Millisecond

// Point is one landmark in frame pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Box is an axis-aligned bounding box.
type Box struct {
	XMin   float64 `json:"xMin"`
	YMin   float64 `json:"yMin"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the middle of the box.
func (b Box) Center() Point {
	return Point{X: b.XMin + b.Width/2, Y: b.YMin + b.Height/2}
}

// Face is one detection with a fixed-layout landmark set.
type Face struct {
	Points []Point `json:"points"`
	Box    Box     `json:"box"`
}

// Detector estimates faces in a frame. Zero faces is a valid result.
type Detector interface {
	EstimateFaces(ctx context.Context, frame camera.Frame) ([]Face, error)
}

// Loader produces a Detector once the model is available.
type Loader interface {
	Load(ctx context.Context) (Detector, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Detector, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) (Detector, error) { return f(ctx) }

// Sample is the per-frame output of the loop.
type Sample struct {
	Seq      uint64    `json:"seq"`
	Face     bool      `json:"face"`
	Center   Point     `json:"center"`
	Captured time.Time `json:"captured"`
}

// Loop feeds frames to the detector and reports face presence.
type Loop struct {
	loader       Loader
	pollInterval time.Duration
	indicator    func(active bool)
	onSample     func(Sample)
	logger       *logging.Logger

	mu       sync.Mutex
	detector Detector // Protected by mu
	frames   uint64   // Protected by mu
	faces    uint64   // Protected by mu
}

// NewLoop creates a loop over loader.
func NewLoop(loader Loader) *Loop {
	return &Loop{
		loader:       loader,
		pollInterval: defaultPollInterval,
		indicator:    func(bool) {},
		onSample:     func(Sample) {},
		logger:       logging.NewNop(),
	}
}

// WithPollInterval sets how often an unavailable detector is retried.
func (l *Loop) WithPollInterval(d time.Duration) *Loop {
	if d > 0 {
		l.pollInterval = d
	}
	return l
}

// WithIndicator receives face presence changes.
func (l *Loop) WithIndicator(fn func(active bool)) *Loop {
	if fn != nil {
		l.indicator = fn
	}
	return l
}

// WithSampleHandler receives every processed frame.
func (l *Loop) WithSampleHandler(fn func(Sample)) *Loop {
	if fn != nil {
		l.onSample = fn
	}
	return l
}

// WithLogger sets the loop logger.
func (l *Loop) WithLogger(logger *logging.Logger) *Loop {
	l.logger = logger.Named("tracking")
	return l
}

// Stats returns processed frame and face counts.
func (l *Loop) Stats() (frames, faces uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames, l.faces
}

// Run processes frames until the channel closes or ctx is done. Frames that
// arrive before the detector loads are dropped.
func (l *Loop) Run(ctx context.Context, frames <-chan camera.Frame) error {
	if frames == nil {
		return nil
	}

	ready := make(chan Detector, 1)
	go l.awaitDetector(ctx, ready)

	var (
		det     Detector
		showing bool
	)
	l.indicator(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-ready:
			det = d
		case frame, ok := <-frames:
			if !ok {
				if showing {
					l.indicator(false)
				}
				return nil
			}
			if det == nil {
				select {
				case det = <-ready:
				default:
					continue
				}
			}

			faces, err := det.EstimateFaces(ctx, frame)
			if err != nil {
				l.logger.Debug("Face estimation failed", zap.Uint64("seq", frame.Seq), zap.Error(err))
				continue
			}

			sample := Sample{Seq: frame.Seq, Captured: frame.Timestamp, Face: len(faces) > 0}
			if sample.Face {
				sample.Center = faces[0].Box.Center()
			}

			l.mu.Lock()
			l.frames++
			if sample.Face {
				l.faces++
			}
			l.mu.Unlock()

			if sample.Face != showing {
				showing = sample.Face
				l.indicator(showing)
			}
			l.onSample(sample)
		}
	}
}

// awaitDetector polls the loader until it yields a detector.
func (l *Loop) awaitDetector(ctx context.Context, ready chan<- Detector) {
	l.mu.Lock()
	cached := l.detector
	l.mu.Unlock()
	if cached != nil {
		ready <- cached
		return
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		det, err := l.loader.Load(ctx)
		if err == nil && det != nil {
			ready <- det
			l.mu.Lock()
			l.detector = det
			l.mu.Unlock()
			return
		}
		if err != nil && !errors.Is(err, ErrNotReady) {
			l.logger.Warn("Face detector load failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
