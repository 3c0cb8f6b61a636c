package camera

import (
	"context"
	"time"
)

// Constraints describe the requested capture. Zero values mean "no preference".
type Constraints struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	MinWidth     int     `json:"minWidth"`
	MinHeight    int     `json:"minHeight"`
	FrameRate    float64 `json:"frameRate"`
	MinFrameRate float64 `json:"minFrameRate"`
	FacingMode   string  `json:"facingMode"`
	Audio        bool    `json:"audio"`
}

// DefaultConstraints asks for a front-facing VGA stream at 30fps.
func DefaultConstraints() Constraints {
	return Constraints{
		Width:        640,
		Height:       480,
		MinWidth:     320,
		MinHeight:    240,
		FrameRate:    30,
		MinFrameRate: 20,
		FacingMode:   "user",
		Audio:        false,
	}
}

// Acquirer is the platform capture primitive.
//
// RequestVideoStream may block on a permission prompt or device start-up.
// Callers bound it with Acquire rather than relying on ctx alone.
type Acquirer interface {
	RequestVideoStream(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live capture handle.
type Stream interface {
	Tracks() []Track
	// Frames delivers captured frames, or nil when the stream does not expose them.
	Frames() <-chan Frame
}

// Track is one media track of a stream. Each is stoppable and observable.
type Track interface {
	ID() string
	Kind() string
	// Live reports whether the track is still producing media.
	Live() bool
	Stop()
	// Ended is closed once the track stops, whether by Stop or externally
	// (device revoked, permission withdrawn).
	Ended() <-chan struct{}
}

// Frame is a single captured video frame.
type Frame struct {
	Seq       uint64
	Width     int
	Height    int
	Timestamp time.Time
	Data      []byte
}
