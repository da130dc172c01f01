package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"slitscan/internal/capture"
	"slitscan/internal/metrics"
)

// DefaultRetryDelay is the pause between failed reads on a live source.
const DefaultRetryDelay = 5 * time.Millisecond

// ReaderState is the lifecycle state of a FrameReader.
type ReaderState int32

const (
	ReaderIdle ReaderState = iota
	ReaderRunning
	// ReaderStopped: Stop was called.
	ReaderStopped
	// ReaderExhausted: the file ended or the frame limit was reached.
	ReaderExhausted
	// ReaderFailed: the source returned an error.
	ReaderFailed
)

func (s ReaderState) String() string {
	switch s {
	case ReaderIdle:
		return "idle"
	case ReaderRunning:
		return "running"
	case ReaderStopped:
		return "stopped"
	case ReaderExhausted:
		return "exhausted"
	case ReaderFailed:
		return "failed"
	default:
		return fmt.Sprintf("ReaderState(%d)", int32(s))
	}
}

// Terminal reports whether the reader has finished.
func (s ReaderState) Terminal() bool {
	return s >= ReaderStopped
}

// FrameReader pulls frames from an opened FrameSource and pushes them onto a
// FrameQueue. Whatever way Run ends, it pushes EndOfStream exactly once.
type FrameReader struct {
	source     capture.FrameSource
	queue      *FrameQueue
	limit      int
	retryDelay time.Duration
	logger     logrus.FieldLogger

	halt     context.Context
	haltStop context.CancelFunc

	state   atomic.Int32
	frames  atomic.Int64
	retries atomic.Int64
	err     error
	errMu   sync.Mutex
}

// NewFrameReader creates a reader. limit is the number of frames to accept;
// zero means read until the source is exhausted.
func NewFrameReader(source capture.FrameSource, queue *FrameQueue, limit int, logger logrus.FieldLogger) *FrameReader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	halt, stop := context.WithCancel(context.Background())
	return &FrameReader{
		source:     source,
		queue:      queue,
		limit:      limit,
		retryDelay: DefaultRetryDelay,
		logger:     logger,
		halt:       halt,
		haltStop:   stop,
	}
}

// SetRetryDelay changes the pause between failed live reads. Call before Run.
func (r *FrameReader) SetRetryDelay(d time.Duration) {
	if d >= 0 {
		r.retryDelay = d
	}
}

// Stop asks the reader to exit before its next read. It may be called any
// number of times from any goroutine, before, during or after Run.
func (r *FrameReader) Stop() {
	r.haltStop()
}

// Run reads until stopped, exhausted or failed and returns the source error,
// if any. A panic in the source is converted into a failure.
func (r *FrameReader) Run(ctx context.Context) (err error) {
	r.state.Store(int32(ReaderRunning))

	// Stop also releases a push blocked on a full queue.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(r.halt, cancel)()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in frame reader: %v", p)
		}
		if err != nil {
			r.setErr(err)
			r.state.Store(int32(ReaderFailed))
		}
		r.queue.PushEnd()
		r.logger.WithFields(logrus.Fields{
			"state":   r.State().String(),
			"frames":  r.Frames(),
			"retries": r.Retries(),
		}).Debug("Frame reader finished")
	}()

	seq := 0
	for {
		if r.stopped(ctx) {
			r.state.Store(int32(ReaderStopped))
			return nil
		}
		if r.limit > 0 && seq >= r.limit {
			r.state.Store(int32(ReaderExhausted))
			return nil
		}

		frame, ok, rerr := r.source.Read()
		if rerr != nil {
			return fmt.Errorf("read frame %d: %w", seq+1, rerr)
		}
		if !ok {
			if r.source.IsFile() {
				r.state.Store(int32(ReaderExhausted))
				return nil
			}
			r.retries.Add(1)
			metrics.ReadRetriesTotal.Inc()
			r.pause(ctx)
			continue
		}

		seq++
		if perr := r.queue.Push(ctx, FrameItem{Seq: seq, Frame: frame}); perr != nil {
			frame.Close()
			r.state.Store(int32(ReaderStopped))
			return nil
		}
		r.frames.Add(1)
		metrics.FramesReadTotal.Inc()
	}
}

func (r *FrameReader) stopped(ctx context.Context) bool {
	select {
	case <-r.halt.Done():
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (r *FrameReader) pause(ctx context.Context) {
	if r.retryDelay <= 0 {
		return
	}
	t := time.NewTimer(r.retryDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-r.halt.Done():
	case <-ctx.Done():
	}
}

func (r *FrameReader) setErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.err = err
}

// State returns the current reader state.
func (r *FrameReader) State() ReaderState {
	return ReaderState(r.state.Load())
}

// Frames returns the number of frames pushed onto the queue.
func (r *FrameReader) Frames() int {
	return int(r.frames.Load())
}

// Retries returns the number of empty live reads.
func (r *FrameReader) Retries() int {
	return int(r.retries.Load())
}

// Err returns the error that failed the reader, if any.
func (r *FrameReader) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}
