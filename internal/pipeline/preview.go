package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"

	"slitscan/internal/metrics"
)

// DefaultDisplayFPS is the default preview refresh rate.
const DefaultDisplayFPS = 30

// PreviewLoop renders the composite while it is being built and turns the
// cancel key into a reader stop. It runs on the calling goroutine.
type PreviewLoop struct {
	display   Display
	composite *Composite
	reader    *FrameReader
	assembler *FrameAssembler
	queue     *FrameQueue
	interval  int
	cancelKey int
	logger    logrus.FieldLogger
}

// NewPreviewLoop creates a loop refreshing displayFPS times per second.
func NewPreviewLoop(display Display, composite *Composite, reader *FrameReader, assembler *FrameAssembler,
	queue *FrameQueue, displayFPS, cancelKey int, logger logrus.FieldLogger) *PreviewLoop {
	if displayFPS <= 0 {
		displayFPS = DefaultDisplayFPS
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	interval := 1000 / displayFPS
	if interval < 1 {
		interval = 1
	}
	return &PreviewLoop{
		display:   display,
		composite: composite,
		reader:    reader,
		assembler: assembler,
		queue:     queue,
		interval:  interval,
		cancelKey: cancelKey,
		logger:    logger,
	}
}

// Interval returns the wait per cycle in milliseconds.
func (p *PreviewLoop) Interval() int {
	return p.interval
}

// Run loops until the assembler is done or the operator cancels. Cancelling
// ctx counts as an operator cancel. It returns true if the run was cancelled.
func (p *PreviewLoop) Run(ctx context.Context) (cancelled bool) {
	shown := -1
	for !p.assembler.IsDone() {
		if ctx.Err() != nil {
			p.logger.Info("Capture interrupted")
			p.reader.Stop()
			return true
		}

		if p.queue != nil {
			metrics.QueueDepth.Set(float64(p.queue.Len()))
		}

		if lines := p.composite.Lines(); lines != shown {
			p.render()
			shown = lines
		}

		key := p.display.WaitKey(p.interval)
		if key >= 0 && key == p.cancelKey {
			p.logger.WithField("frames", p.assembler.Frames()).Info("Capture cancelled by operator")
			p.reader.Stop()
			return true
		}
	}

	p.render()
	return false
}

func (p *PreviewLoop) render() {
	snapshot, err := p.composite.Snapshot()
	if err != nil {
		p.logger.WithError(err).Warn("Preview snapshot failed")
		return
	}
	defer snapshot.Close()
	if !snapshot.Empty() {
		p.display.Show(snapshot)
	}
}
