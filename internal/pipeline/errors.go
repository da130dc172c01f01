package pipeline

import "errors"

var (
	// ErrUnboundedLiveSource is returned when Process is asked to stream a
	// live source without a frame limit. Nothing is opened or started.
	ErrUnboundedLiveSource = errors.New("live source needs a frame limit: streaming forever is not supported")

	// ErrInvalidOptions is returned for out-of-range process options.
	ErrInvalidOptions = errors.New("invalid process options")

	// ErrEmptyComposite is returned when a run produced no lines.
	ErrEmptyComposite = errors.New("composite image is empty")

	// ErrNotProcessed is returned by Crop before a successful Process.
	ErrNotProcessed = errors.New("nothing processed yet")
)
