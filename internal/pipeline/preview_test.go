package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slitscan/internal/capture/capturetest"
)

type previewRig struct {
	display   *HeadlessDisplay
	reader    *FrameReader
	assembler *FrameAssembler
	loop      *PreviewLoop
	readerErr chan error
}

func newPreviewRig(t *testing.T, src *capturetest.Source, limit int) *previewRig {
	t.Helper()
	openSource(t, src)
	q := NewFrameQueue(4)
	c := NewComposite(MidlineHorizontal)
	rig := &previewRig{
		display:   NewHeadlessDisplay(),
		reader:    NewFrameReader(src, q, limit, nil),
		assembler: NewFrameAssembler(q, c, nil),
		readerErr: make(chan error, 1),
	}
	rig.loop = NewPreviewLoop(rig.display, c, rig.reader, rig.assembler, q, 500, KeyEscape, nil)
	return rig
}

func (r *previewRig) start() {
	go func() { r.readerErr <- r.reader.Run(context.Background()) }()
	go r.assembler.Run()
}

func (r *previewRig) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-r.readerErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not finish")
	}
	select {
	case <-r.assembler.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("assembler did not finish")
	}
}

func TestPreviewRunsToCompletion(t *testing.T) {
	rig := newPreviewRig(t, &capturetest.Source{Frames: 10, File: true}, 0)
	assert.Equal(t, 2, rig.loop.Interval())

	rig.start()
	cancelled := rig.loop.Run(context.Background())
	rig.wait(t)

	assert.False(t, cancelled)
	assert.Equal(t, 10, rig.assembler.Frames())
	assert.GreaterOrEqual(t, rig.display.Shown(), 1)
}

func TestPreviewCancelKeyStopsReader(t *testing.T) {
	rig := newPreviewRig(t, &capturetest.Source{Delay: time.Millisecond}, 0)
	rig.display.Press(KeyEscape)

	rig.start()
	cancelled := rig.loop.Run(context.Background())
	rig.wait(t)

	assert.True(t, cancelled)
	assert.Equal(t, ReaderStopped, rig.reader.State())
	assert.Equal(t, rig.reader.Frames(), rig.assembler.Frames(), "every pushed frame is assembled")
}

func TestPreviewIgnoresOtherKeys(t *testing.T) {
	rig := newPreviewRig(t, &capturetest.Source{Frames: 5, File: true, Delay: time.Millisecond}, 0)
	rig.display.Press('q')

	rig.start()
	cancelled := rig.loop.Run(context.Background())
	rig.wait(t)

	assert.False(t, cancelled)
	assert.Equal(t, 5, rig.assembler.Frames())
}

func TestPreviewContextCancel(t *testing.T) {
	rig := newPreviewRig(t, &capturetest.Source{Delay: time.Millisecond}, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rig.start()
	cancelled := rig.loop.Run(ctx)
	rig.wait(t)

	assert.True(t, cancelled)
	assert.Equal(t, ReaderStopped, rig.reader.State())
}
