// Package estimate sizes a capture run for one full turn of the subject.
package estimate

import (
	"errors"
	"fmt"
	"math"
)

// Rig defaults for a 100mm lens on a full-frame sensor filming 720px
// across the axis of rotation.
const (
	DefaultFocalLength = 100.0
	DefaultFrameX      = 720
	DefaultSensorX     = 24.0
	DefaultPPMM        = 21.0
	DefaultFPS         = 60.0
)

// ErrOutOfRange is returned when the subject is too wide for the lens to
// resolve a full turn.
var ErrOutOfRange = errors.New("subject diameter out of range for this optical setup")

// Optics describes the camera looking at the rotating subject.
type Optics struct {
	// FocalLength in mm.
	FocalLength float64
	// FrameX is the frame size in pixels across the axis of rotation.
	FrameX int
	// SensorX is the sensor size in mm across the axis of rotation.
	SensorX float64
	// PPMM is the approximate number of pixels per mm at the centre of
	// rotation.
	PPMM float64
}

func DefaultOptics() Optics {
	return Optics{
		FocalLength: DefaultFocalLength,
		FrameX:      DefaultFrameX,
		SensorX:     DefaultSensorX,
		PPMM:        DefaultPPMM,
	}
}

// Frames returns the number of frames for one turn of a subject of the
// given diameter in mm:
//
//	ceil(2π·d·f·X·p / (2·f·X − d·s·p))
func (o Optics) Frames(diameter float64) (int, error) {
	if diameter <= 0 {
		return 0, fmt.Errorf("diameter must be positive, got %g", diameter)
	}
	if o.FocalLength <= 0 || o.FrameX <= 0 || o.SensorX <= 0 || o.PPMM <= 0 {
		return 0, fmt.Errorf("invalid optics: %+v", o)
	}

	fx := o.FocalLength * float64(o.FrameX)
	den := 2*fx - diameter*o.SensorX*o.PPMM
	if den <= 0 {
		return 0, fmt.Errorf("%w: diameter %g mm, limit %.1f mm", ErrOutOfRange, diameter, o.MaxDiameter())
	}
	return int(math.Ceil(2 * math.Pi * diameter * fx * o.PPMM / den)), nil
}

// MaxDiameter is the diameter at which Frames diverges.
func (o Optics) MaxDiameter() float64 {
	return 2 * o.FocalLength * float64(o.FrameX) / (o.SensorX * o.PPMM)
}

// Seconds converts a frame count to a duration in seconds at fps, rounded
// to one decimal.
func Seconds(frames int, fps float64) (float64, error) {
	if fps <= 0 {
		return 0, fmt.Errorf("fps must be positive, got %g", fps)
	}
	return math.Round(float64(frames)/fps*10) / 10, nil
}
