package pipeline

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"slitscan/internal/capture/capturetest"
	"slitscan/internal/seam"
)

var fixedNow = time.Unix(1712345678, 0)

func testProcessOptions(frames int) ProcessOptions {
	return ProcessOptions{FrameCount: frames, DisplayFPS: 1000, MaxQueueSize: 4}
}

func newTestScanner(t *testing.T, src *capturetest.Source, settings Settings) *Scanner {
	t.Helper()
	cropper, err := seam.NewCropper(seam.Options{BorderWidth: 20, EdgeMargin: 5, MinScore: 0.5, MinStdDev: 2}, nil)
	require.NoError(t, err)
	if settings.OutputDir == "" {
		settings.OutputDir = filepath.Join(t.TempDir(), "raw")
	}
	s := NewScanner(src, nil, cropper, settings, nil)
	s.now = func() time.Time { return fixedNow }
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestProcessFileSource(t *testing.T) {
	src := &capturetest.Source{Frames: 12, File: true}
	s := newTestScanner(t, src, Settings{})

	res, err := s.Process(context.Background(), testProcessOptions(0))
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 12, res.Frames)
	assert.Equal(t, 12, res.LastSeq)
	assert.Equal(t, ReaderExhausted, res.ReaderState)
	assert.NoError(t, res.ReaderErr)
	assert.False(t, res.Cancelled)
	assert.EqualValues(t, 1, src.Opens.Load())
	assert.EqualValues(t, 1, src.Closes.Load())
	assert.Equal(t, "1712345678.png", filepath.Base(res.Path))

	written := gocv.IMRead(res.Path, gocv.IMReadColor)
	defer written.Close()
	assert.Equal(t, 12, written.Cols(), "one column per frame")
	assert.Equal(t, 8, written.Rows())

	state := s.State()
	assert.True(t, state.Done)
	assert.Equal(t, 12, state.FrameCount)

	img, err := s.Image()
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, 12, img.Cols())
}

func TestProcessFrameLimitOnLiveSource(t *testing.T) {
	src := &capturetest.Source{MissEvery: 3}
	s := newTestScanner(t, src, Settings{RetryDelay: time.Microsecond, Rotation: 90})

	res, err := s.Process(context.Background(), testProcessOptions(7))
	require.NoError(t, err)
	assert.Equal(t, 7, res.Frames)

	img, err := s.Image()
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, 7, img.Rows(), "rotation is undone")
	assert.Equal(t, 8, img.Cols())
}

func TestProcessRejectsUnboundedLiveSource(t *testing.T) {
	src := &capturetest.Source{}
	s := newTestScanner(t, src, Settings{})

	_, err := s.Process(context.Background(), testProcessOptions(0))
	assert.ErrorIs(t, err, ErrUnboundedLiveSource)
	assert.Zero(t, src.Opens.Load(), "nothing is opened for a rejected run")
}

func TestProcessRejectsInvalidOptions(t *testing.T) {
	src := &capturetest.Source{File: true}
	s := newTestScanner(t, src, Settings{})

	for _, opts := range []ProcessOptions{
		{FrameCount: -1, DisplayFPS: 30, MaxQueueSize: 10},
		{DisplayFPS: 0, MaxQueueSize: 10},
		{DisplayFPS: 30, MaxQueueSize: 0},
	} {
		_, err := s.Process(context.Background(), opts)
		assert.ErrorIs(t, err, ErrInvalidOptions)
	}
	assert.Zero(t, src.Opens.Load())
}

func TestProcessSourceErrorKeepsPartialComposite(t *testing.T) {
	src := &capturetest.Source{Frames: 10, File: true, FailAt: 4}
	s := newTestScanner(t, src, Settings{})

	res, err := s.Process(context.Background(), testProcessOptions(0))
	require.NoError(t, err)
	assert.ErrorIs(t, res.ReaderErr, capturetest.ErrInjected)
	assert.Equal(t, ReaderFailed, res.ReaderState)
	assert.Equal(t, 3, res.Frames)
	assert.EqualValues(t, 1, src.Closes.Load())

	_, err = os.Stat(res.Path)
	assert.NoError(t, err)
}

func TestProcessNoFrames(t *testing.T) {
	src := &capturetest.Source{Frames: 0, File: true, FailAt: 1}
	s := newTestScanner(t, src, Settings{})

	_, err := s.Process(context.Background(), testProcessOptions(0))
	assert.ErrorIs(t, err, ErrEmptyComposite)
	assert.EqualValues(t, 1, src.Closes.Load())
}

func TestProcessCancelledByContext(t *testing.T) {
	src := &capturetest.Source{Delay: time.Millisecond}
	s := newTestScanner(t, src, Settings{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res, err := s.Process(ctx, testProcessOptions(100000))
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, ReaderStopped, res.ReaderState)
	assert.Greater(t, res.Frames, 0)
	assert.Less(t, res.Frames, 100000)
}

func TestCropBeforeProcess(t *testing.T) {
	s := newTestScanner(t, &capturetest.Source{File: true}, Settings{})
	_, err := s.Crop(t.TempDir())
	assert.ErrorIs(t, err, ErrNotProcessed)

	_, err = s.Image()
	assert.ErrorIs(t, err, ErrNotProcessed)
}

func TestProcessThenCrop(t *testing.T) {
	const (
		frames = 100
		period = 60
		width  = 32
	)
	rng := rand.New(rand.NewSource(5))
	pattern := make([][]uint8, period)
	for i := range pattern {
		pattern[i] = make([]uint8, width)
		for j := range pattern[i] {
			pattern[i][j] = uint8(rng.Intn(256))
		}
	}

	// The subject repeats after period frames, as if it turned 100/60 times.
	src := &capturetest.Source{
		Frames: frames,
		File:   true,
		Width:  width,
		Height: 4,
		Pixel: func(seq, row, col int) uint8 {
			return pattern[seq%period][col]
		},
	}
	s := newTestScanner(t, src, Settings{})

	res, err := s.Process(context.Background(), testProcessOptions(0))
	require.NoError(t, err)
	require.Equal(t, frames, res.Frames)

	croppedDir := filepath.Join(t.TempDir(), "cropped")
	path, err := s.Crop(croppedDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(croppedDir, "1712345678.png"), path)

	cropped := gocv.IMRead(path, gocv.IMReadColor)
	defer cropped.Close()
	assert.Equal(t, period, cropped.Cols(), "one full turn")
	assert.Equal(t, width, cropped.Rows())
}

type countingMetric struct {
	calls atomic.Int32
}

func (m *countingMetric) Calculate(img gocv.Mat) (float64, error) {
	m.calls.Add(1)
	return 1, nil
}

func (m *countingMetric) GetName() string        { return "Calls" }
func (m *countingMetric) GetDescription() string { return "Counts evaluations" }

func TestProcessEvaluatesCompositeOnlyWhenDebugging(t *testing.T) {
	for _, debug := range []bool{false, true} {
		src := &capturetest.Source{Frames: 3, File: true}
		s := newTestScanner(t, src, Settings{Debug: debug})
		m := &countingMetric{}
		s.evaluate.Register("calls", m)

		_, err := s.Process(context.Background(), testProcessOptions(0))
		require.NoError(t, err)
		if debug {
			assert.EqualValues(t, 1, m.calls.Load())
		} else {
			assert.Zero(t, m.calls.Load(), "metrics are skipped without debug")
		}
	}
}
