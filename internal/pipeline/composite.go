package pipeline

import (
	"fmt"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// Midline selects which line of each frame contributes to the composite.
type Midline int

const (
	// MidlineHorizontal takes the centre row.
	MidlineHorizontal Midline = iota
	// MidlineVertical takes the centre column.
	MidlineVertical
)

// ParseMidline converts "horizontal" or "vertical".
func ParseMidline(s string) (Midline, error) {
	switch s {
	case "", "horizontal", "row":
		return MidlineHorizontal, nil
	case "vertical", "column":
		return MidlineVertical, nil
	default:
		return 0, fmt.Errorf("unknown midline orientation: %q", s)
	}
}

func (m Midline) String() string {
	if m == MidlineVertical {
		return "vertical"
	}
	return "horizontal"
}

// Composite is the growing slit-scan image. Lines are stored one after the
// other in arrival order. There is one writer (the assembler); any number of
// readers may take snapshots concurrently and never see a partial line.
type Composite struct {
	mu       sync.RWMutex
	midline  Midline
	matType  gocv.MatType
	lineLen  int
	lineSize int
	lines    int
	data     []byte
}

// NewComposite creates an empty composite.
func NewComposite(midline Midline) *Composite {
	return &Composite{midline: midline}
}

// Midline returns the configured line orientation.
func (c *Composite) Midline() Midline {
	return c.midline
}

// ExtractLine cuts the midline out of frame as a contiguous 1×n Mat. The
// centre index is rows/2 (or cols/2), rounding down. The caller owns the
// result.
func ExtractLine(frame gocv.Mat, midline Midline) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty frame")
	}

	if midline == MidlineVertical {
		mid := frame.Cols() / 2
		col := frame.ColRange(mid, mid+1)
		defer col.Close()
		// n×1 -> 1×n so that every line is stored as a row
		line := gocv.NewMat()
		gocv.Transpose(col, &line)
		return line, nil
	}

	mid := frame.Rows() / 2
	row := frame.RowRange(mid, mid+1)
	defer row.Close()
	return row.Clone(), nil
}

// AppendFrame extracts the midline of frame and appends it.
func (c *Composite) AppendFrame(frame gocv.Mat) error {
	line, err := ExtractLine(frame, c.midline)
	if err != nil {
		return err
	}
	defer line.Close()
	return c.AppendLine(line)
}

// AppendLine appends a 1×n line. Every line must match the length and type
// of the first one.
func (c *Composite) AppendLine(line gocv.Mat) error {
	if line.Empty() || line.Rows() != 1 {
		return fmt.Errorf("invalid line: %dx%d", line.Cols(), line.Rows())
	}
	buf := line.ToBytes()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lines == 0 {
		c.matType = line.Type()
		c.lineLen = line.Cols()
		c.lineSize = len(buf)
	} else if line.Cols() != c.lineLen || line.Type() != c.matType || len(buf) != c.lineSize {
		return fmt.Errorf("line %dpx type %d does not match composite %dpx type %d",
			line.Cols(), int(line.Type()), c.lineLen, int(c.matType))
	}

	c.data = append(c.data, buf...)
	c.lines++
	return nil
}

// Lines returns the number of appended lines.
func (c *Composite) Lines() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lines
}

// Empty reports whether nothing has been appended yet.
func (c *Composite) Empty() bool {
	return c.Lines() == 0
}

// Snapshot returns an independent copy of the stacked lines (one row per
// line). The caller owns the result; it is empty if no line was appended.
func (c *Composite) Snapshot() (gocv.Mat, error) {
	c.mu.RLock()
	if c.lines == 0 {
		c.mu.RUnlock()
		return gocv.NewMat(), nil
	}
	rows, cols, mt := c.lines, c.lineLen, c.matType
	buf := make([]byte, len(c.data))
	copy(buf, c.data)
	c.mu.RUnlock()

	view, err := gocv.NewMatFromBytes(rows, cols, mt, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to build snapshot: %w", err)
	}
	defer view.Close()
	snapshot := view.Clone()
	runtime.KeepAlive(buf)
	return snapshot, nil
}

// Image returns the finished composite with the growth axis horizontal, one
// column per frame with the first frame rightmost, then rotated back by the camera rotation (degrees
// clockwise, rounded to the nearest multiple of 90). The caller owns the
// result.
func (c *Composite) Image(rotation int) (gocv.Mat, error) {
	stacked, err := c.Snapshot()
	if err != nil {
		return gocv.NewMat(), err
	}
	defer stacked.Close()
	if stacked.Empty() {
		return gocv.NewMat(), ErrEmptyComposite
	}

	// Both orientations end up with the newest frame in column 0.
	oriented := gocv.NewMat()
	if c.midline == MidlineVertical {
		transposed := gocv.NewMat()
		defer transposed.Close()
		gocv.Transpose(stacked, &transposed)
		gocv.Flip(transposed, &oriented, 1)
	} else {
		gocv.Rotate(stacked, &oriented, gocv.Rotate90Clockwise)
	}

	return Rotate(oriented, rotation), nil
}

// Rotate undoes a camera rotation of degrees clockwise, rounded to the
// nearest multiple of 90. It takes ownership of img.
func Rotate(img gocv.Mat, degrees int) gocv.Mat {
	var code gocv.RotateFlag
	switch NormalizeRotation(degrees) {
	case 90:
		code = gocv.Rotate90CounterClockwise
	case 180:
		code = gocv.Rotate180Clockwise
	case 270:
		code = gocv.Rotate90Clockwise
	default:
		return img
	}
	defer img.Close()
	out := gocv.NewMat()
	gocv.Rotate(img, &out, code)
	return out
}

// NormalizeRotation rounds degrees to the nearest multiple of 90 in [0, 360).
func NormalizeRotation(degrees int) int {
	q := (degrees%360 + 360) % 360
	r := ((q + 45) / 90 * 90) % 360
	return r
}
