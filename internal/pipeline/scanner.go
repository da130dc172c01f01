package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"gocv.io/x/gocv"

	"slitscan/internal/capture"
	"slitscan/internal/imageio"
	"slitscan/internal/metrics"
	"slitscan/internal/seam"
)

// ProcessOptions controls a single capture run.
type ProcessOptions struct {
	// FrameCount limits the number of frames accepted. Zero reads a file
	// until it ends and is rejected for live sources.
	FrameCount   int
	DisplayFPS   int
	MaxQueueSize int
}

// DefaultProcessOptions returns the documented defaults.
func DefaultProcessOptions() ProcessOptions {
	return ProcessOptions{
		DisplayFPS:   DefaultDisplayFPS,
		MaxQueueSize: DefaultQueueSize,
	}
}

func (o ProcessOptions) validate(source capture.FrameSource) error {
	if o.FrameCount < 0 {
		return fmt.Errorf("%w: frame count %d", ErrInvalidOptions, o.FrameCount)
	}
	if o.FrameCount == 0 && !source.IsFile() {
		return ErrUnboundedLiveSource
	}
	if o.DisplayFPS <= 0 {
		return fmt.Errorf("%w: display fps %d", ErrInvalidOptions, o.DisplayFPS)
	}
	if o.MaxQueueSize <= 0 {
		return fmt.Errorf("%w: max queue size %d", ErrInvalidOptions, o.MaxQueueSize)
	}
	return nil
}

// Settings configures a Scanner.
type Settings struct {
	Midline    Midline
	Rotation   int
	RetryDelay time.Duration
	CancelKey  int
	OutputDir  string
	Debug      bool
}

// Result describes a finished run.
type Result struct {
	RunID       string
	Path        string
	Frames      int
	LastSeq     int
	Skipped     int
	Elapsed     time.Duration
	FPS         float64
	Cancelled   bool
	ReaderState ReaderState
	ReaderErr   error
}

// PipelineState is the externally visible progress of the current run.
type PipelineState struct {
	FrameCount     int
	Done           bool
	ElapsedSeconds float64
}

// Scanner runs the capture pipeline for one FrameSource and keeps the last
// composite for cropping.
type Scanner struct {
	source   capture.FrameSource
	display  Display
	cropper  *seam.Cropper
	store    *imageio.ImageStore
	settings Settings
	logger   logrus.FieldLogger
	debug    *DebugPipeline
	evaluate *metrics.Evaluator
	now      func() time.Time

	mu        sync.Mutex
	running   bool
	assembler *FrameAssembler
	image     gocv.Mat
	hasImage  bool
	elapsed   time.Duration
}

// NewScanner wires a scanner. display may be nil for headless runs.
func NewScanner(source capture.FrameSource, display Display, cropper *seam.Cropper, settings Settings, logger logrus.FieldLogger) *Scanner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if display == nil {
		display = NewHeadlessDisplay()
	}
	if settings.CancelKey == 0 {
		settings.CancelKey = KeyEscape
	}
	if settings.RetryDelay == 0 {
		settings.RetryDelay = DefaultRetryDelay
	}
	return &Scanner{
		source:   source,
		display:  display,
		cropper:  cropper,
		store:    imageio.NewImageStore(logger),
		settings: settings,
		logger:   logger,
		debug:    NewDebugPipeline(settings.Debug, logger),
		evaluate: metrics.NewEvaluator(),
		now:      time.Now,
		image:    gocv.NewMat(),
	}
}

// Process captures frames until the source is exhausted, the frame limit is
// reached or the operator cancels, then writes the composite to
// <OutputDir>/<unix>.png. Configuration errors are returned before the
// source is opened or any goroutine is started.
func (s *Scanner) Process(ctx context.Context, opts ProcessOptions) (res Result, err error) {
	if err := opts.validate(s.source); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Result{}, errors.New("scanner is already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	res.RunID = uuid.NewString()
	log := s.logger.WithField("run_id", res.RunID)
	s.debug.StartTimer("process")
	defer s.debug.EndTimer("process")

	if err := s.source.Open(); err != nil {
		return res, fmt.Errorf("open source: %w", err)
	}
	composite := NewComposite(s.settings.Midline)
	queue := NewFrameQueue(opts.MaxQueueSize)
	reader := NewFrameReader(s.source, queue, opts.FrameCount, log.WithField("stage", "reader"))
	reader.SetRetryDelay(s.settings.RetryDelay)
	assembler := NewFrameAssembler(queue, composite, log.WithField("stage", "assembler"))

	s.mu.Lock()
	s.assembler = assembler
	s.elapsed = 0
	s.mu.Unlock()

	res.Cancelled, err = s.capture(ctx, log, opts, reader, assembler, queue)
	if err != nil {
		return res, err
	}

	res.Frames = assembler.Frames()
	res.LastSeq = assembler.LastSeq()
	res.Skipped = assembler.Skipped()
	res.Elapsed = s.source.Elapsed()
	res.ReaderState = reader.State()
	res.ReaderErr = reader.Err()
	if secs := res.Elapsed.Seconds(); secs > 0 {
		res.FPS = float64(res.Frames) / secs
	}
	metrics.RunsTotal.WithLabelValues(res.ReaderState.String()).Inc()

	s.mu.Lock()
	s.elapsed = res.Elapsed
	s.mu.Unlock()

	fields := logrus.Fields{
		"frames":    res.Frames,
		"elapsed":   res.Elapsed.Seconds(),
		"fps":       fmt.Sprintf("%.1f", res.FPS),
		"state":     res.ReaderState.String(),
		"cancelled": res.Cancelled,
	}
	if res.ReaderErr != nil {
		log.WithFields(fields).WithError(res.ReaderErr).Error("Capture ended with a source error")
	} else {
		log.WithFields(fields).Infof("Processed in %.2f seconds (%.1f fps)", res.Elapsed.Seconds(), res.FPS)
	}

	path, err := s.persist(composite)
	if err != nil {
		return res, err
	}
	res.Path = path
	return res, nil
}

// capture runs the reader and assembler goroutines plus the preview loop on
// the calling goroutine. The source is closed on every path before it
// returns.
func (s *Scanner) capture(ctx context.Context, log logrus.FieldLogger, opts ProcessOptions,
	reader *FrameReader, assembler *FrameAssembler, queue *FrameQueue) (cancelled bool, err error) {
	defer func() {
		if cerr := s.source.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close source")
		}
	}()

	preview := NewPreviewLoop(s.display, assembler.composite, reader, assembler, queue,
		opts.DisplayFPS, s.settings.CancelKey, log.WithField("stage", "preview"))

	var wg conc.WaitGroup
	wg.Go(func() {
		// The error is kept on the reader and surfaced through the result.
		_ = reader.Run(ctx)
	})
	wg.Go(assembler.Run)

	s.debug.StartTimer("capture")
	cancelled = preview.Run(ctx)
	// No-op after a normal finish; releases a reader blocked on a full queue
	// if the assembler died.
	reader.Stop()
	if recovered := wg.WaitAndRecover(); recovered != nil {
		queue.PushEnd()
		queue.Drain()
		return cancelled, fmt.Errorf("pipeline worker panicked: %w", recovered.AsError())
	}
	s.debug.EndTimer("capture")
	metrics.QueueBlockedTotal.Add(float64(queue.Blocked()))

	return cancelled, nil
}

func (s *Scanner) persist(composite *Composite) (string, error) {
	s.debug.StartTimer("persist")
	defer s.debug.EndTimer("persist")

	img, err := composite.Image(s.settings.Rotation)
	if err != nil {
		return "", err
	}

	if s.debug.Enabled() {
		s.debug.LogImageStats("composite", img)
		s.debug.LogImageMetrics("composite", s.evaluate.CalculateAll(img))
		s.debug.LogMemoryUsage()
	}

	path := imageio.TimestampedPath(s.settings.OutputDir, s.now())
	if err := s.store.SaveImage(img, path); err != nil {
		img.Close()
		return "", err
	}

	s.mu.Lock()
	s.image.Close()
	s.image = img
	s.hasImage = true
	s.mu.Unlock()
	return path, nil
}

// Crop finds the seam in the last processed composite and writes the cropped
// image to <outputDir>/<unix>.png.
func (s *Scanner) Crop(outputDir string) (string, error) {
	if s.cropper == nil {
		return "", errors.New("no seam cropper configured")
	}

	s.mu.Lock()
	if !s.hasImage {
		s.mu.Unlock()
		return "", ErrNotProcessed
	}
	img := s.image.Clone()
	s.mu.Unlock()
	defer img.Close()

	s.debug.StartTimer("crop")
	defer s.debug.EndTimer("crop")

	path, found, err := s.cropper.CropToFile(img, outputDir, s.now())
	if err != nil {
		return "", err
	}
	s.logger.WithFields(logrus.Fields{
		"path":  path,
		"seam":  found.X,
		"score": found.Score,
		"width": found.Width,
	}).Info("Composite cropped at seam")
	return path, nil
}

// Image returns a copy of the last processed composite.
func (s *Scanner) Image() (gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasImage {
		return gocv.NewMat(), ErrNotProcessed
	}
	return s.image.Clone(), nil
}

// State reports the progress of the current or last run.
func (s *Scanner) State() PipelineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assembler == nil {
		return PipelineState{}
	}
	return PipelineState{
		FrameCount:     s.assembler.Frames(),
		Done:           s.assembler.IsDone(),
		ElapsedSeconds: s.elapsed.Seconds(),
	}
}

// Close releases the stored composite.
func (s *Scanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.image.Close()
	s.image = gocv.NewMat()
	s.hasImage = false
	return s.display.Close()
}
