package tracking

import (
	"context"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/camera"
)

// CenteredDetector reports one face in the middle of every frame whose
// sequence number is not a multiple of MissEvery.
type CenteredDetector struct {
	MissEvery uint64
}

// EstimateFaces implements Detector.
func (d CenteredDetector) EstimateFaces(ctx context.Context, frame camera.Frame) ([]Face, error) {
	if d.MissEvery > 0 && frame.Seq%d.MissEvery == 0 {
		return nil, nil
	}
	w, h := float64(frame.Width), float64(frame.Height)
	box := Box{XMin: w / 4, YMin: h / 4, Width: w / 2, Height: h / 2}
	return []Face{{Box: box, Points: []Point{box.Center()}}}, nil
}

// ReadyLoader returns det immediately.
func ReadyLoader(det Detector) Loader {
	return LoaderFunc(func(context.Context) (Detector, error) { return det, nil })
}
