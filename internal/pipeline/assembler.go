package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"slitscan/internal/metrics"
)

// FrameAssembler drains a FrameQueue into a Composite until it sees
// EndOfStream. It never fails: frames it cannot use are logged and skipped.
type FrameAssembler struct {
	queue     *FrameQueue
	composite *Composite
	logger    logrus.FieldLogger

	frames  atomic.Int64
	skipped atomic.Int64
	lastSeq atomic.Int64

	doneOnce sync.Once
	done     chan struct{}
}

func NewFrameAssembler(queue *FrameQueue, composite *Composite, logger logrus.FieldLogger) *FrameAssembler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FrameAssembler{
		queue:     queue,
		composite: composite,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Run consumes the queue until EndOfStream, then marks the assembler done.
func (a *FrameAssembler) Run() {
	defer a.markDone()

	for {
		switch item := a.queue.Pop().(type) {
		case EndOfStream:
			a.logger.WithFields(logrus.Fields{
				"frames":   a.Frames(),
				"skipped":  a.Skipped(),
				"last_seq": a.LastSeq(),
			}).Debug("Frame assembler reached end of stream")
			return
		case FrameItem:
			a.assemble(item)
		}
	}
}

func (a *FrameAssembler) assemble(item FrameItem) {
	defer item.Frame.Close()
	defer func() {
		if r := recover(); r != nil {
			a.skip(item.Seq, "panic while extracting midline", r)
		}
	}()

	if err := a.composite.AppendFrame(item.Frame.Mat); err != nil {
		a.skip(item.Seq, "frame rejected", err)
		return
	}
	a.frames.Add(1)
	a.lastSeq.Store(int64(item.Seq))
	metrics.FramesAssembledTotal.Inc()
}

func (a *FrameAssembler) skip(seq int, msg string, cause any) {
	a.skipped.Add(1)
	metrics.FramesSkippedTotal.Inc()
	a.logger.WithFields(logrus.Fields{
		"seq":   seq,
		"cause": cause,
	}).Warn(msg)
}

func (a *FrameAssembler) markDone() {
	a.doneOnce.Do(func() { close(a.done) })
}

// Done is closed once the assembler has consumed EndOfStream.
func (a *FrameAssembler) Done() <-chan struct{} {
	return a.done
}

// IsDone reports whether the assembler has finished.
func (a *FrameAssembler) IsDone() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Frames returns the number of frames incorporated into the composite.
func (a *FrameAssembler) Frames() int {
	return int(a.frames.Load())
}

// Skipped returns the number of frames that could not be used.
func (a *FrameAssembler) Skipped() int {
	return int(a.skipped.Load())
}

// LastSeq returns the highest sequence number incorporated so far.
func (a *FrameAssembler) LastSeq() int {
	return int(a.lastSeq.Load())
}
