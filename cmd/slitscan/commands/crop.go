package commands

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"slitscan/internal/imageio"
	"slitscan/internal/seam"
)

var cropCmd = &cobra.Command{
	Use:   "crop [image]",
	Short: "Crop a composite to one full turn",
	Long: `Find the seam where the composite starts repeating and write the
cropped image to the cropped directory. Without an argument the newest
image in the raw directory is used.`,
	Example: `  slitscan crop raw/1712345678.png
  slitscan crop --border-width 80`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCrop,
}

func init() {
	f := cropCmd.Flags()
	f.String("raw-dir", "raw", "directory searched when no image is given")
	f.String("cropped-dir", "cropped", "directory for cropped composites")
	f.Int("border-width", seam.DefaultBorderWidth, "template strip width in columns")
	f.Int("edge-margin", seam.DefaultEdgeMargin, "rows trimmed from the template edges")
	f.Float64("min-score", seam.DefaultMinScore, "lowest correlation accepted as a seam")

	rootCmd.AddCommand(cropCmd)
}

func runCrop(cmd *cobra.Command, args []string) error {
	var input string
	if len(args) == 1 {
		input = args[0]
	} else {
		latest, err := imageio.LatestImage(cfg.Output.RawDir)
		if err != nil {
			return err
		}
		input = latest
	}

	cropper, err := seam.NewCropper(cfg.SeamOptions(), logger)
	if err != nil {
		return err
	}
	path, found, err := cropper.CropFile(input, cfg.Output.CroppedDir, time.Now())
	if err != nil {
		return fmt.Errorf("crop %s: %w", input, err)
	}

	logger.WithFields(logrus.Fields{
		"input": input,
		"seam":  found.X,
		"score": found.Score,
		"width": found.Width,
	}).Info("Composite cropped at seam")
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
