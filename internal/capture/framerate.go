package capture

import (
	"errors"
	"fmt"
)

// DefaultFramerateSamples is the number of reads used to estimate framerate.
const DefaultFramerateSamples = 100

// ErrNoFrames is returned when a file source ends before its first frame.
var ErrNoFrames = errors.New("framerate estimation: no frames read")

// EstimateFramerate opens src, performs samples reads, closes it and returns
// samples divided by the session duration in seconds. Failed reads on a live
// device still count, so a stalled device reports a low rate rather than
// hanging. A file that ends early is measured over the frames it had.
func EstimateFramerate(src FrameSource, samples int) (fps float64, err error) {
	if samples <= 0 {
		samples = DefaultFramerateSamples
	}
	if err := src.Open(); err != nil {
		return 0, fmt.Errorf("framerate estimation: %w", err)
	}
	reads := samples
	defer func() {
		if cerr := src.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		if err == nil {
			seconds := src.Elapsed().Seconds()
			if seconds <= 0 {
				err = fmt.Errorf("framerate estimation: session too short to measure")
				return
			}
			fps = float64(reads) / seconds
		}
	}()

	for i := 0; i < samples; i++ {
		frame, ok, rerr := src.Read()
		if rerr != nil {
			return 0, fmt.Errorf("framerate estimation: %w", rerr)
		}
		if ok {
			frame.Close()
		} else if src.IsFile() {
			reads = i
			break
		}
	}
	if reads == 0 {
		return 0, ErrNoFrames
	}
	return 0, nil
}
