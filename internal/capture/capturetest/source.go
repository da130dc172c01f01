// Package capturetest provides deterministic frame sources for tests.
package capturetest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"slitscan/internal/capture"
)

// ErrInjected is returned by Source.Read at FailAt.
var ErrInjected = errors.New("injected read failure")

// Source produces solid-colour frames whose pixel value is the 1-based index
// of the successful read (mod 256), so any line cut from frame n encodes n.
type Source struct {
	Width  int
	Height int
	// Frames is the number of frames produced before the source runs dry.
	// Zero means unlimited.
	Frames int
	File   bool
	// MissEvery makes every Nth read attempt return ok=false.
	MissEvery int
	// FailAt returns ErrInjected on the given read attempt (1-based).
	FailAt int
	// Delay is slept before every read.
	Delay time.Duration
	// Pixel overrides the frame generator.
	Pixel func(seq, row, col int) uint8

	mu       sync.Mutex
	open     bool
	start    time.Time
	elapsed  time.Duration
	attempts int
	produced int

	Opens  atomic.Int32
	Closes atomic.Int32
}

var _ capture.FrameSource = (*Source)(nil)

func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return errors.New("already open")
	}
	s.open = true
	s.start = time.Now()
	s.Opens.Add(1)
	return nil
}

func (s *Source) Read() (capture.Frame, bool, error) {
	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return capture.Frame{}, false, capture.ErrNotOpen
	}

	s.attempts++
	if s.FailAt > 0 && s.attempts == s.FailAt {
		return capture.Frame{}, false, ErrInjected
	}
	if s.MissEvery > 0 && s.attempts%s.MissEvery == 0 {
		return capture.Frame{}, false, nil
	}
	if s.Frames > 0 && s.produced >= s.Frames {
		return capture.Frame{}, false, nil
	}

	s.produced++
	return capture.Frame{Mat: s.frame(s.produced), CapturedAt: time.Now()}, true, nil
}

func (s *Source) frame(seq int) gocv.Mat {
	w, h := s.Width, s.Height
	if w == 0 {
		w = 8
	}
	if h == 0 {
		h = 6
	}
	if s.Pixel == nil {
		v := float64(seq % 256)
		return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), h, w, gocv.MatTypeCV8UC3)
	}
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			v := s.Pixel(seq, row, col)
			for c := 0; c < 3; c++ {
				mat.SetUCharAt(row, col*3+c, v)
			}
		}
	}
	return mat
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	s.elapsed = time.Since(s.start)
	s.Closes.Add(1)
	return nil
}

func (s *Source) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

func (s *Source) IsFile() bool { return s.File }

// Produced returns the number of frames handed out so far.
func (s *Source) Produced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.produced
}
