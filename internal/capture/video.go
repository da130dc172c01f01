package capture

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// VideoSource reads frames through an OpenCV VideoCapture, either from a
// device index (live) or from a video file (finite).
type VideoSource struct {
	device int
	path   string
	isFile bool

	width  int
	height int

	mu      sync.Mutex
	capture *gocv.VideoCapture
	start   time.Time
	elapsed time.Duration
	logger  logrus.FieldLogger
}

// Option configures a VideoSource.
type Option func(*VideoSource)

// WithResolution requests a capture size from live devices. Zero values leave
// the device default untouched.
func WithResolution(width, height int) Option {
	return func(v *VideoSource) {
		v.width = width
		v.height = height
	}
}

// WithLogger sets the logger used for session events.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(v *VideoSource) {
		v.logger = logger
	}
}

// NewDeviceSource creates a live source for /dev/video<device>.
func NewDeviceSource(device int, opts ...Option) *VideoSource {
	return newVideoSource(&VideoSource{device: device}, opts)
}

// NewFileSource creates a finite source for a video file.
func NewFileSource(path string, opts ...Option) *VideoSource {
	return newVideoSource(&VideoSource{path: path, isFile: true}, opts)
}

// ParseSource returns a file source when arg names an existing file and a
// device source when it is a device index.
func ParseSource(arg string, opts ...Option) (*VideoSource, error) {
	if _, err := os.Stat(arg); err == nil {
		return NewFileSource(arg, opts...), nil
	}
	device, err := strconv.Atoi(arg)
	if err != nil {
		return nil, fmt.Errorf("source %q is neither a file nor a device index", arg)
	}
	if device < 0 {
		return nil, fmt.Errorf("invalid device index: %d", device)
	}
	return NewDeviceSource(device, opts...), nil
}

func newVideoSource(v *VideoSource, opts []Option) *VideoSource {
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = logrus.StandardLogger()
	}
	return v
}

// IsFile reports whether the source is file-backed.
func (v *VideoSource) IsFile() bool {
	return v.isFile
}

// String describes the source for logs.
func (v *VideoSource) String() string {
	if v.isFile {
		return v.path
	}
	return fmt.Sprintf("/dev/video%d", v.device)
}

// Open starts a capture session.
func (v *VideoSource) Open() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture != nil {
		return fmt.Errorf("source %s already open", v)
	}

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if v.isFile {
		vc, err = gocv.VideoCaptureFile(v.path)
	} else {
		vc, err = gocv.VideoCaptureDevice(v.device)
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", v, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("failed to open %s", v)
	}

	if !v.isFile {
		if v.width > 0 {
			vc.Set(gocv.VideoCaptureFrameWidth, float64(v.width))
		}
		if v.height > 0 {
			vc.Set(gocv.VideoCaptureFrameHeight, float64(v.height))
		}
	}

	v.capture = vc
	v.start = time.Now()
	v.logger.WithFields(logrus.Fields{
		"source":  v.String(),
		"is_file": v.isFile,
	}).Debug("Capture session opened")
	return nil
}

// Read grabs the next frame. A panic inside OpenCV is returned as an error.
func (v *VideoSource) Read() (frame Frame, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic reading %s: %v", v, r)
			ok = false
		}
	}()

	v.mu.Lock()
	vc := v.capture
	v.mu.Unlock()
	if vc == nil {
		return Frame{}, false, ErrNotOpen
	}

	mat := gocv.NewMat()
	if !vc.Read(&mat) || mat.Empty() {
		mat.Close()
		return Frame{}, false, nil
	}
	return Frame{Mat: mat, CapturedAt: time.Now()}, true, nil
}

// Close ends the capture session and records its duration. Closing an
// already closed source is a no-op.
func (v *VideoSource) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture == nil {
		return nil
	}
	v.elapsed = time.Since(v.start)
	err := v.capture.Close()
	v.capture = nil

	v.logger.WithFields(logrus.Fields{
		"source":  v.String(),
		"elapsed": v.elapsed.Seconds(),
	}).Debug("Capture session closed")

	if err != nil {
		return errors.Join(fmt.Errorf("failed to release %s", v), err)
	}
	return nil
}

// Elapsed returns the duration of the last completed session.
func (v *VideoSource) Elapsed() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.elapsed
}
