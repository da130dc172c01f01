package pipeline

import (
	"time"

	"gocv.io/x/gocv"
)

// KeyEscape is the default operator cancel key.
const KeyEscape = 27

// Display renders preview images and reports operator key presses.
type Display interface {
	Show(img gocv.Mat)
	// WaitKey waits up to ms milliseconds for a key and returns its code, or
	// -1 if none was pressed.
	WaitKey(ms int) int
	Close() error
}

// WindowDisplay shows the preview in an OpenCV HighGUI window.
type WindowDisplay struct {
	window *gocv.Window
}

// NewWindowDisplay opens a window titled name. It must be used from the
// goroutine that runs the preview loop.
func NewWindowDisplay(name string) *WindowDisplay {
	return &WindowDisplay{window: gocv.NewWindow(name)}
}

func (d *WindowDisplay) Show(img gocv.Mat) {
	if img.Empty() {
		return
	}
	d.window.IMShow(img)
}

func (d *WindowDisplay) WaitKey(ms int) int {
	if ms < 1 {
		ms = 1
	}
	key := d.window.WaitKey(ms)
	if key < 0 {
		return -1
	}
	return key & 0xff
}

func (d *WindowDisplay) Close() error {
	return d.window.Close()
}

// HeadlessDisplay renders nothing and never reports a key. Keys pushed with
// Press are returned by the next WaitKey, which lets tests and remote
// triggers emulate the operator.
type HeadlessDisplay struct {
	keys  chan int
	shown int
}

func NewHeadlessDisplay() *HeadlessDisplay {
	return &HeadlessDisplay{keys: make(chan int, 1)}
}

// Press queues a key press. It never blocks; extra presses are dropped.
func (d *HeadlessDisplay) Press(key int) {
	select {
	case d.keys <- key:
	default:
	}
}

func (d *HeadlessDisplay) Show(img gocv.Mat) {
	d.shown++
}

func (d *HeadlessDisplay) WaitKey(ms int) int {
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case key := <-d.keys:
		return key
	case <-t.C:
		return -1
	}
}

// Shown returns the number of frames rendered. Only read it after the
// preview loop returned.
func (d *HeadlessDisplay) Shown() int {
	return d.shown
}

func (d *HeadlessDisplay) Close() error { return nil }
