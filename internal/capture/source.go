// Frame sources for the slit-scan pipeline
package capture

import (
	"errors"
	"time"

	"gocv.io/x/gocv"
)

// ErrNotOpen is returned by Read when no capture session is active.
var ErrNotOpen = errors.New("capture source is not open")

// Frame is a single captured image. The stage currently holding a Frame owns
// it and is responsible for closing it; nothing writes to Mat after capture.
type Frame struct {
	Mat        gocv.Mat
	CapturedAt time.Time
}

// Close releases the underlying Mat.
func (f Frame) Close() {
	f.Mat.Close()
}

// FrameSource is a video acquisition handle with a scoped capture session.
//
// Read returns ok=false with a nil error when no frame was produced. On a
// file-backed source that means the stream has ended, on a live source it
// means no frame is ready yet and the caller may retry. A non-nil error is a
// source failure.
type FrameSource interface {
	Open() error
	Read() (Frame, bool, error)
	Close() error
	// Elapsed returns the duration of the last completed session.
	Elapsed() time.Duration
	IsFile() bool
}
