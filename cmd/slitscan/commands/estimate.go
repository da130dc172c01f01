package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"slitscan/internal/estimate"
)

var (
	optics      = estimate.DefaultOptics()
	estimateFPS float64
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <diameter>",
	Short: "Estimate the capture length for one turn",
	Long: `Estimate how many frames (and seconds at the given frame rate) one full
turn of a subject of the given diameter in mm takes to capture.`,
	Example: `  slitscan estimate 25.5
  slitscan estimate 12 --focal-length 60 --fps 30`,
	Args: cobra.ExactArgs(1),
	RunE: runEstimate,
}

func init() {
	f := estimateCmd.Flags()
	f.Float64VarP(&optics.FocalLength, "focal-length", "l", estimate.DefaultFocalLength, "focal length in mm")
	f.IntVarP(&optics.FrameX, "frame-x", "x", estimate.DefaultFrameX, "frame size in pixels across the axis of rotation")
	f.Float64VarP(&optics.SensorX, "sensor-x", "s", estimate.DefaultSensorX, "sensor size in mm across the axis of rotation")
	f.Float64VarP(&optics.PPMM, "ppmm", "w", estimate.DefaultPPMM, "approximate pixels per mm at the centre of rotation")
	f.Float64VarP(&estimateFPS, "fps", "r", estimate.DefaultFPS, "stream or video frame rate")
	rootCmd.AddCommand(estimateCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	diameter, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid diameter %q: %w", args[0], err)
	}

	frames, err := optics.Frames(diameter)
	if err != nil {
		return err
	}
	seconds, err := estimate.Seconds(frames, estimateFPS)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Try %.1f seconds or %d frames:\n\n", seconds, frames)
	fmt.Fprintf(out, "  record %.1f seconds of video, then slitscan process --source <video>\n", seconds)
	fmt.Fprintf(out, "  slitscan process --source <device> --frames %d\n", frames)
	return nil
}
