package estimate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrames(t *testing.T) {
	tests := []struct {
		diameter float64
		frames   int
		seconds  float64
	}{
		{10, 684, 11.4},
		{25.5, 1848, 30.8},
	}

	o := DefaultOptics()
	for _, tt := range tests {
		frames, err := o.Frames(tt.diameter)
		require.NoError(t, err)
		assert.Equal(t, tt.frames, frames, "diameter %g", tt.diameter)

		secs, err := Seconds(frames, DefaultFPS)
		require.NoError(t, err)
		assert.InDelta(t, tt.seconds, secs, 1e-9)
	}
}

func TestFramesOutOfRange(t *testing.T) {
	o := DefaultOptics()
	assert.InDelta(t, 285.714, o.MaxDiameter(), 1e-3)

	_, err := o.Frames(300)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = o.Frames(0)
	assert.Error(t, err)

	o.PPMM = 0
	_, err = o.Frames(10)
	assert.Error(t, err)
}

func TestSecondsRejectsZeroFPS(t *testing.T) {
	_, err := Seconds(100, 0)
	assert.Error(t, err)
}
