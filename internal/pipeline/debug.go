package pipeline

import (
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"slitscan/internal/metrics"
)

// DebugPipeline records stage timings and image statistics. Timings always
// feed the stage histogram; log output is only produced when enabled.
type DebugPipeline struct {
	enabled bool
	logger  logrus.FieldLogger

	mu      sync.Mutex
	timings map[string]time.Time
	stages  []StageTiming
}

// StageTiming is one completed timer.
type StageTiming struct {
	Name     string
	Duration time.Duration
}

func NewDebugPipeline(enabled bool, logger logrus.FieldLogger) *DebugPipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DebugPipeline{
		enabled: enabled,
		logger:  logger,
		timings: make(map[string]time.Time),
	}
}

// Enabled reports whether debug output is produced.
func (d *DebugPipeline) Enabled() bool {
	return d.enabled
}

func (d *DebugPipeline) StartTimer(stage string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timings[stage] = time.Now()
}

func (d *DebugPipeline) EndTimer(stage string) time.Duration {
	d.mu.Lock()
	startTime, exists := d.timings[stage]
	if !exists {
		d.mu.Unlock()
		return 0
	}
	delete(d.timings, stage)
	duration := time.Since(startTime)
	d.stages = append(d.stages, StageTiming{Name: stage, Duration: duration})
	d.mu.Unlock()

	metrics.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if d.enabled {
		d.logger.WithFields(logrus.Fields{
			"stage":    stage,
			"duration": duration.String(),
		}).Debug("Stage finished")
	}
	return duration
}

// Stages returns the completed timings in order.
func (d *DebugPipeline) Stages() []StageTiming {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]StageTiming, len(d.stages))
	copy(out, d.stages)
	return out
}

func (d *DebugPipeline) LogImageStats(name string, mat gocv.Mat) {
	if !d.enabled || mat.Empty() {
		return
	}
	d.logger.WithFields(logrus.Fields{
		"image":    name,
		"width":    mat.Cols(),
		"height":   mat.Rows(),
		"channels": mat.Channels(),
		"type":     int(mat.Type()),
		"bytes":    mat.Total() * mat.ElemSize(),
	}).Debug("Image stats")
}

func (d *DebugPipeline) LogImageMetrics(name string, values map[string]float64) {
	if !d.enabled || len(values) == 0 {
		return
	}
	fields := logrus.Fields{"image": name}
	for k, v := range values {
		fields[k] = v
	}
	d.logger.WithFields(fields).Debug("Image metrics")
}

func (d *DebugPipeline) LogMemoryUsage() {
	if !d.enabled {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	d.logger.WithFields(logrus.Fields{
		"alloc_mb":       float64(m.Alloc) / 1024 / 1024,
		"total_alloc_mb": float64(m.TotalAlloc) / 1024 / 1024,
		"sys_mb":         float64(m.Sys) / 1024 / 1024,
		"num_gc":         m.NumGC,
	}).Debug("Memory usage")
}
