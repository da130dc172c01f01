package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"slitscan/internal/capture"
)

func solidFrame(v int) capture.Frame {
	f := float64(v % 256)
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(f, f, f, 0), 6, 8, gocv.MatTypeCV8UC3)
	return capture.Frame{Mat: mat, CapturedAt: time.Now()}
}

func TestQueueFIFOAndEndOfStream(t *testing.T) {
	q := NewFrameQueue(4)
	ctx := context.Background()

	for seq := 1; seq <= 3; seq++ {
		require.NoError(t, q.Push(ctx, FrameItem{Seq: seq, Frame: solidFrame(seq)}))
	}
	assert.True(t, q.PushEnd())
	assert.False(t, q.PushEnd(), "sentinel is queued only once")
	assert.True(t, q.Ended())

	for want := 1; want <= 3; want++ {
		item, ok := q.Pop().(FrameItem)
		require.True(t, ok)
		assert.Equal(t, want, item.Seq)
		item.Frame.Close()
	}
	assert.IsType(t, EndOfStream{}, q.Pop())
	assert.IsType(t, EndOfStream{}, q.Pop(), "end of stream is sticky")
	assert.EqualValues(t, 3, q.Pushed())
}

func TestQueuePushAfterEnd(t *testing.T) {
	q := NewFrameQueue(2)
	q.PushEnd()

	f := solidFrame(1)
	defer f.Close()
	assert.ErrorIs(t, q.Push(context.Background(), FrameItem{Seq: 1, Frame: f}), ErrQueueClosed)
}

func TestQueueDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultQueueSize, NewFrameQueue(0).Cap())
	assert.Equal(t, 7, NewFrameQueue(7).Cap())
}

func TestQueueBackpressure(t *testing.T) {
	q := NewFrameQueue(2)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, FrameItem{Seq: 1, Frame: solidFrame(1)}))
	require.NoError(t, q.Push(ctx, FrameItem{Seq: 2, Frame: solidFrame(2)}))
	assert.Zero(t, q.Blocked())

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.Push(ctx, FrameItem{Seq: 3, Frame: solidFrame(3)})
	}()

	require.Eventually(t, func() bool { return q.Blocked() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, q.Len(), "queue never exceeds its capacity")
	select {
	case <-pushed:
		t.Fatal("push returned while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	first := q.Pop().(FrameItem)
	first.Frame.Close()
	require.NoError(t, <-pushed)
	assert.EqualValues(t, 3, q.Pushed())
	assert.Equal(t, 2, q.Drain())
}

func TestQueuePushCancelled(t *testing.T) {
	q := NewFrameQueue(1)
	require.NoError(t, q.Push(context.Background(), FrameItem{Seq: 1, Frame: solidFrame(1)}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	f := solidFrame(2)
	defer f.Close()
	assert.ErrorIs(t, q.Push(ctx, FrameItem{Seq: 2, Frame: f}), context.DeadlineExceeded)
	assert.Equal(t, 1, q.Drain())
	assert.Zero(t, q.Len())
}
