// Package seam finds where one full rotation of a slit-scan composite ends
// and crops the image there.
package seam

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"slitscan/internal/imageio"
	"slitscan/internal/metrics"
)

// ErrSeamNotFound is returned when no reliable correlation peak exists.
var ErrSeamNotFound = errors.New("seam not found")

const (
	DefaultBorderWidth = 50
	DefaultEdgeMargin  = 10
	DefaultMinScore    = 0.5
	DefaultMinStdDev   = 2.0
)

// Options tunes the seam search.
type Options struct {
	// BorderWidth is the width in columns of the template strip taken from
	// the left edge.
	BorderWidth int
	// EdgeMargin rows are trimmed from the top and bottom of the template so
	// it can slide vertically by up to that amount.
	EdgeMargin int
	// MinScore is the lowest normalized correlation accepted as a seam.
	MinScore float64
	// MinStdDev is the lowest template contrast accepted.
	MinStdDev float64
}

// DefaultOptions returns the defaults used by the rig.
func DefaultOptions() Options {
	return Options{
		BorderWidth: DefaultBorderWidth,
		EdgeMargin:  DefaultEdgeMargin,
		MinScore:    DefaultMinScore,
		MinStdDev:   DefaultMinStdDev,
	}
}

// Seam is the result of a seam search.
type Seam struct {
	// X is the match position relative to the search region, which starts
	// at BorderWidth.
	X int
	// Y is the vertical offset of the best match.
	Y     int
	Score float64
	// Width of the cropped image, X + BorderWidth.
	Width int
}

// Cropper aligns and crops finished composites.
type Cropper struct {
	opts     Options
	contrast *metrics.Contrast
	store    *imageio.ImageStore
	logger   logrus.FieldLogger
}

func NewCropper(opts Options, logger logrus.FieldLogger) (*Cropper, error) {
	if opts.BorderWidth <= 0 {
		return nil, fmt.Errorf("border width must be positive, got %d", opts.BorderWidth)
	}
	if opts.EdgeMargin < 0 {
		return nil, fmt.Errorf("edge margin must not be negative, got %d", opts.EdgeMargin)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cropper{
		opts:     opts,
		contrast: metrics.NewContrast(),
		store:    imageio.NewImageStore(logger),
		logger:   logger,
	}, nil
}

// Options returns the cropper configuration.
func (c *Cropper) Options() Options {
	return c.opts
}

// Find matches the left border strip against the rest of img with
// normalized cross-correlation and returns the best match.
func (c *Cropper) Find(img gocv.Mat) (Seam, error) {
	b, m := c.opts.BorderWidth, c.opts.EdgeMargin
	w, h := img.Cols(), img.Rows()

	if img.Empty() {
		return Seam{}, fmt.Errorf("%w: empty image", ErrSeamNotFound)
	}
	if w < 2*b+1 {
		return Seam{}, fmt.Errorf("%w: image width %d too small for border %d", ErrSeamNotFound, w, b)
	}
	if h <= 2*m {
		return Seam{}, fmt.Errorf("%w: image height %d too small for margin %d", ErrSeamNotFound, h, m)
	}

	gray, owned := metrics.Grayscale(img)
	if owned {
		defer gray.Close()
	}

	template := gray.Region(image.Rect(0, m, b, h-m))
	defer template.Close()

	stddev, err := c.contrast.Calculate(template)
	if err != nil {
		return Seam{}, fmt.Errorf("%w: %v", ErrSeamNotFound, err)
	}
	if stddev < c.opts.MinStdDev {
		return Seam{}, fmt.Errorf("%w: border strip contrast %.2f below %.2f", ErrSeamNotFound, stddev, c.opts.MinStdDev)
	}

	search := gray.Region(image.Rect(b, 0, w, h))
	defer search.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(search, template, &result, gocv.TmCcoeffNormed, mask)
	if result.Empty() {
		return Seam{}, fmt.Errorf("%w: template matching produced no scores", ErrSeamNotFound)
	}

	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)
	score := float64(maxVal)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return Seam{}, fmt.Errorf("%w: degenerate correlation", ErrSeamNotFound)
	}
	if score < c.opts.MinScore {
		return Seam{}, fmt.Errorf("%w: best score %.3f below %.3f", ErrSeamNotFound, score, c.opts.MinScore)
	}

	s := Seam{X: maxLoc.X, Y: maxLoc.Y, Score: score, Width: maxLoc.X + b}
	c.logger.WithFields(logrus.Fields{
		"seam_x": s.X,
		"seam_y": s.Y,
		"score":  s.Score,
		"width":  s.Width,
	}).Debug("Seam found")
	return s, nil
}

// Crop returns columns [0, seam.X+BorderWidth) of img. The caller owns the
// result.
func (c *Cropper) Crop(img gocv.Mat) (gocv.Mat, Seam, error) {
	s, err := c.Find(img)
	if err != nil {
		return gocv.NewMat(), Seam{}, err
	}
	region := img.Region(image.Rect(0, 0, s.Width, img.Rows()))
	defer region.Close()
	return region.Clone(), s, nil
}

// CropToFile crops img and writes the result to <outputDir>/<unix>.png.
func (c *Cropper) CropToFile(img gocv.Mat, outputDir string, now time.Time) (string, Seam, error) {
	cropped, s, err := c.Crop(img)
	if err != nil {
		return "", Seam{}, err
	}
	defer cropped.Close()

	path := imageio.TimestampedPath(outputDir, now)
	if err := c.store.SaveImage(cropped, path); err != nil {
		return "", Seam{}, fmt.Errorf("write cropped image: %w", err)
	}
	return path, s, nil
}

// CropFile loads an existing composite from disk and crops it.
func (c *Cropper) CropFile(input, outputDir string, now time.Time) (string, Seam, error) {
	img, err := c.store.LoadImage(input)
	if err != nil {
		return "", Seam{}, err
	}
	defer img.Close()
	return c.CropToFile(img, outputDir, now)
}
