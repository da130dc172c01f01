// Image file loading and saving
package imageio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

var supportedFormats = []string{".jpg", ".jpeg", ".png", ".tiff", ".tif", ".bmp"}

// ImageStore handles image file operations
type ImageStore struct {
	logger logrus.FieldLogger
}

func NewImageStore(logger logrus.FieldLogger) *ImageStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ImageStore{
		logger: logger,
	}
}

// LoadImage reads a colour image from disk. The caller owns the result.
func (s *ImageStore) LoadImage(path string) (gocv.Mat, error) {
	s.logger.WithField("filepath", path).Debug("Loading image")

	if !IsSupportedFormat(path) {
		return gocv.NewMat(), fmt.Errorf("unsupported image format: %s", path)
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("failed to load image: %s", path)
	}

	s.logger.WithFields(logrus.Fields{
		"filepath": path,
		"width":    mat.Cols(),
		"height":   mat.Rows(),
		"channels": mat.Channels(),
	}).Info("Image loaded successfully")

	return mat, nil
}

// SaveImage writes mat to path, creating the parent directory if needed.
func (s *ImageStore) SaveImage(mat gocv.Mat, path string) error {
	s.logger.WithField("filepath", path).Debug("Saving image")

	if mat.Empty() {
		return fmt.Errorf("cannot save empty image")
	}
	if !IsSupportedFormat(path) {
		return fmt.Errorf("unsupported image format: %s", path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("failed to save image: %s", path)
	}

	s.logger.WithFields(logrus.Fields{
		"filepath": path,
		"width":    mat.Cols(),
		"height":   mat.Rows(),
		"channels": mat.Channels(),
	}).Info("Image saved successfully")

	return nil
}

// TimestampedPath returns <dir>/<unix-seconds>.png.
func TimestampedPath(dir string, now time.Time) string {
	return filepath.Join(dir, strconv.FormatInt(now.Unix(), 10)+".png")
}

// IsSupportedFormat reports whether the extension of path is writable.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// LatestImage returns the most recently modified supported image in dir.
func LatestImage(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var (
		latest  string
		modTime time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || !IsSupportedFormat(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(modTime) {
			latest = filepath.Join(dir, entry.Name())
			modTime = info.ModTime()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no images in %s", dir)
	}
	return latest, nil
}
