package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"slitscan/internal/capture"
	"slitscan/internal/metrics"
	"slitscan/internal/pipeline"
	"slitscan/internal/seam"
)

const windowName = "slitscan"

var noCrop bool

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Capture frames and build the slit-scan composite",
	Long: `Read frames from the source until the file ends, the frame limit is
reached or ESC is pressed in the preview window, then write the composite
to the raw directory and its one-turn crop to the cropped directory.

A live camera needs --frames; only a video file may be read to its end.`,
	Example: `  # Build from a recorded video
  slitscan process --source spin.mp4

  # Stream 1848 frames from /dev/video2 without a preview window
  slitscan process --source 2 --frames 1848 --headless

  # Camera mounted portrait, expose Prometheus metrics
  slitscan process --source spin.mp4 --rotation 90 --metrics-addr :9090`,
	RunE: runProcess,
}

func init() {
	f := processCmd.Flags()
	f.Int("frames", 0, "number of frames to capture (0 reads a video file to its end)")
	f.Int("display-fps", pipeline.DefaultDisplayFPS, "preview refresh rate")
	f.Int("max-queue-size", pipeline.DefaultQueueSize, "frames buffered between reader and assembler")
	f.String("midline", pipeline.MidlineHorizontal.String(), "line taken from each frame (horizontal, vertical)")
	f.Int("rotation", 0, "camera rotation in degrees clockwise, rounded to a multiple of 90")
	f.Bool("headless", false, "run without a preview window")
	f.String("raw-dir", "raw", "directory for uncropped composites")
	f.String("cropped-dir", "cropped", "directory for cropped composites")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVar(&noCrop, "no-crop", false, "skip seam cropping")

	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := metrics.StartServer(cfg.Metrics.Addr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	source, err := capture.ParseSource(cfg.Source,
		capture.WithResolution(cfg.Capture.Width, cfg.Capture.Height),
		capture.WithLogger(logger.WithField("source", cfg.Source)))
	if err != nil {
		return err
	}

	var display pipeline.Display
	if cfg.Pipeline.Headless {
		display = pipeline.NewHeadlessDisplay()
	} else {
		display = pipeline.NewWindowDisplay(windowName)
	}

	cropper, err := seam.NewCropper(cfg.SeamOptions(), logger)
	if err != nil {
		display.Close()
		return err
	}

	scanner := pipeline.NewScanner(source, display, cropper, cfg.ScannerSettings(), logger)
	defer scanner.Close()

	logger.WithFields(logrus.Fields{
		"source":  source.String(),
		"frames":  cfg.Pipeline.FrameCount,
		"midline": cfg.Pipeline.Midline,
		"version": AppVersion,
	}).Info("Starting capture")

	res, err := scanner.Process(ctx, cfg.ProcessOptions())
	if err != nil {
		return fmt.Errorf("process failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Path)

	if noCrop {
		return nil
	}
	cropped, err := scanner.Crop(cfg.Output.CroppedDir)
	if errors.Is(err, seam.ErrSeamNotFound) {
		logger.WithError(err).Warn("Composite left uncropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("crop failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), cropped)
	return nil
}
