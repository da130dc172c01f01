package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"slitscan/internal/capture"
)

var framerateSamples int

var framerateCmd = &cobra.Command{
	Use:   "framerate",
	Short: "Measure the frame rate of the source",
	Long: `Read a number of frames from the source and report how many frames per
second it delivers. Use the result with "slitscan estimate --fps".`,
	Example: `  slitscan framerate --source 2 --samples 200`,
	Args:    cobra.NoArgs,
	RunE:    runFramerate,
}

func init() {
	framerateCmd.Flags().IntVar(&framerateSamples, "samples", capture.DefaultFramerateSamples, "frames to read")
	rootCmd.AddCommand(framerateCmd)
}

func runFramerate(cmd *cobra.Command, args []string) error {
	source, err := capture.ParseSource(cfg.Source,
		capture.WithResolution(cfg.Capture.Width, cfg.Capture.Height),
		capture.WithLogger(logger))
	if err != nil {
		return err
	}

	fps, err := capture.EstimateFramerate(source, framerateSamples)
	if err != nil {
		return err
	}
	logger.WithField("source", source.String()).Infof("Estimated %.1f fps", fps)
	fmt.Fprintf(cmd.OutOrStdout(), "%.1f\n", fps)
	return nil
}
