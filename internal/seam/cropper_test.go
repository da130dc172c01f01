package seam

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// tiled builds a width×height image whose columns repeat with the given
// period, from a fixed-seed noise pattern.
func tiled(t *testing.T, width, height, period int, seed int64) gocv.Mat {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	pattern := make([][]uint8, period)
	for x := range pattern {
		pattern[x] = make([]uint8, height)
		for y := range pattern[x] {
			pattern[x][y] = uint8(rng.Intn(256))
		}
	}

	img := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := pattern[x%period][y]
			for c := 0; c < 3; c++ {
				img.SetUCharAt(y, x*3+c, v)
			}
		}
	}
	return img
}

func testOptions() Options {
	return Options{BorderWidth: 20, EdgeMargin: 5, MinScore: DefaultMinScore, MinStdDev: DefaultMinStdDev}
}

func TestFindKnownOffset(t *testing.T) {
	img := tiled(t, 100, 40, 60, 7)
	defer img.Close()

	c, err := NewCropper(testOptions(), nil)
	require.NoError(t, err)

	s, err := c.Find(img)
	require.NoError(t, err)
	assert.Equal(t, 40, s.X)
	assert.Equal(t, 5, s.Y)
	assert.Equal(t, 60, s.Width)
	assert.InDelta(t, 1.0, s.Score, 1e-3)
}

func TestCropWidthAndDeterminism(t *testing.T) {
	img := tiled(t, 110, 32, 70, 42)
	defer img.Close()

	c, err := NewCropper(testOptions(), nil)
	require.NoError(t, err)

	first, s1, err := c.Crop(img)
	require.NoError(t, err)
	defer first.Close()
	second, s2, err := c.Crop(img)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, 70, first.Cols(), "K + B")
	assert.Equal(t, 32, first.Rows())
	assert.Equal(t, s1, s2)
	assert.Equal(t, first.ToBytes(), second.ToBytes())
}

func TestFindRejectsFlatImage(t *testing.T) {
	flat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), 40, 100, gocv.MatTypeCV8UC3)
	defer flat.Close()

	c, err := NewCropper(testOptions(), nil)
	require.NoError(t, err)

	_, err = c.Find(flat)
	assert.True(t, errors.Is(err, ErrSeamNotFound))
}

func TestFindRejectsSmallImages(t *testing.T) {
	c, err := NewCropper(testOptions(), nil)
	require.NoError(t, err)

	narrow := tiled(t, 40, 40, 13, 1)
	defer narrow.Close()
	_, err = c.Find(narrow)
	assert.ErrorIs(t, err, ErrSeamNotFound)

	short := tiled(t, 100, 10, 60, 1)
	defer short.Close()
	_, err = c.Find(short)
	assert.ErrorIs(t, err, ErrSeamNotFound)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = c.Find(empty)
	assert.ErrorIs(t, err, ErrSeamNotFound)
}

func TestFindRejectsWeakPeak(t *testing.T) {
	// Noise that never repeats has no strong correlation peak.
	rng := rand.New(rand.NewSource(3))
	img := gocv.NewMatWithSize(40, 100, gocv.MatTypeCV8U)
	defer img.Close()
	for y := 0; y < 40; y++ {
		for x := 0; x < 100; x++ {
			img.SetUCharAt(y, x, uint8(rng.Intn(256)))
		}
	}

	opts := testOptions()
	opts.MinScore = 0.9
	c, err := NewCropper(opts, nil)
	require.NoError(t, err)

	_, err = c.Find(img)
	assert.ErrorIs(t, err, ErrSeamNotFound)
}

func TestNewCropperValidation(t *testing.T) {
	_, err := NewCropper(Options{BorderWidth: 0}, nil)
	assert.Error(t, err)
	_, err = NewCropper(Options{BorderWidth: 5, EdgeMargin: -1}, nil)
	assert.Error(t, err)
}

func TestCropToFile(t *testing.T) {
	img := tiled(t, 100, 40, 60, 11)
	defer img.Close()

	c, err := NewCropper(testOptions(), nil)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "cropped")
	now := time.Unix(1712345678, 0)
	path, s, err := c.CropToFile(img, dir, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "1712345678.png"), path)
	assert.Equal(t, 60, s.Width)

	_, err = os.Stat(path)
	require.NoError(t, err)

	out := gocv.IMRead(path, gocv.IMReadColor)
	defer out.Close()
	assert.Equal(t, 60, out.Cols())

	// A single period has nothing left to match against.
	_, _, err = c.CropFile(path, filepath.Join(t.TempDir(), "again"), now)
	assert.ErrorIs(t, err, ErrSeamNotFound)
}
