// Image statistics used to judge whether a composite is usable
package metrics

import (
	"fmt"
	"sort"

	"gocv.io/x/gocv"
)

// Metric computes a single statistic over one image.
type Metric interface {
	Calculate(img gocv.Mat) (float64, error)
	GetName() string
	GetDescription() string
}

// Evaluator manages and calculates multiple metrics
type Evaluator struct {
	metrics map[string]Metric
}

// NewEvaluator creates an evaluator with the default metrics registered.
func NewEvaluator() *Evaluator {
	e := &Evaluator{
		metrics: make(map[string]Metric),
	}
	e.Register("contrast", NewContrast())
	e.Register("sharpness", NewSharpness())
	return e
}

// Register registers a metric
func (e *Evaluator) Register(name string, metric Metric) {
	e.metrics[name] = metric
}

// Calculate calculates a specific metric
func (e *Evaluator) Calculate(name string, img gocv.Mat) (float64, error) {
	metric, exists := e.metrics[name]
	if !exists {
		return 0, fmt.Errorf("metric not found: %s", name)
	}
	return metric.Calculate(img)
}

// CalculateAll calculates every registered metric, skipping the ones that
// fail.
func (e *Evaluator) CalculateAll(img gocv.Mat) map[string]float64 {
	results := make(map[string]float64)
	for name, metric := range e.metrics {
		if value, err := metric.Calculate(img); err == nil {
			results[name] = value
		}
	}
	return results
}

// Names returns the registered metric names in sorted order.
func (e *Evaluator) Names() []string {
	names := make([]string, 0, len(e.metrics))
	for name := range e.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Contrast is the standard deviation of grayscale intensity.
type Contrast struct{}

func NewContrast() *Contrast { return &Contrast{} }

func (c *Contrast) Calculate(img gocv.Mat) (float64, error) {
	if img.Empty() {
		return 0, fmt.Errorf("empty image")
	}
	gray, owned := Grayscale(img)
	if owned {
		defer gray.Close()
	}
	return stdDev(gray)
}

func (c *Contrast) GetName() string { return "Contrast" }

func (c *Contrast) GetDescription() string {
	return "Standard deviation of grayscale intensity"
}

// Sharpness is the variance of the Laplacian.
type Sharpness struct{}

func NewSharpness() *Sharpness { return &Sharpness{} }

func (s *Sharpness) Calculate(img gocv.Mat) (float64, error) {
	if img.Empty() {
		return 0, fmt.Errorf("empty image")
	}
	gray, owned := Grayscale(img)
	if owned {
		defer gray.Close()
	}

	laplacian := gocv.NewMat()
	defer laplacian.Close()
	gocv.Laplacian(gray, &laplacian, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	sd, err := stdDev(laplacian)
	if err != nil {
		return 0, err
	}
	return sd * sd, nil
}

func (s *Sharpness) GetName() string { return "Sharpness" }

func (s *Sharpness) GetDescription() string {
	return "Variance of the Laplacian"
}

// stdDev returns the standard deviation of a single-channel Mat.
func stdDev(mat gocv.Mat) (float64, error) {
	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(mat, &mean, &stddev)
	if stddev.Empty() {
		return 0, fmt.Errorf("standard deviation not computed")
	}
	return stddev.GetDoubleAt(0, 0), nil
}

// Grayscale returns a single-channel view of img. When owned is true the
// caller must close the returned Mat.
func Grayscale(img gocv.Mat) (gray gocv.Mat, owned bool) {
	switch img.Channels() {
	case 1:
		return img, false
	case 4:
		gray = gocv.NewMat()
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		gray = gocv.NewMat()
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}
	return gray, true
}
