package commands

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"slitscan/internal/config"
)

const AppVersion = "1.0.0"

var (
	cfgFile string
	cfg     *config.Config
	logger  *logrus.Logger

	rootCmd = &cobra.Command{
		Use:   "slitscan",
		Short: "slitscan - slit-scan composites of a rotating subject",
		Long: `slitscan reads frames from a camera or a video file while the subject
turns, stacks the centre line of every frame into one composite image and
crops the composite to exactly one turn.

Settings are read from slitscan.yaml (working directory or
$HOME/.config/slitscan), SLITSCAN_* environment variables and flags.`,
		Version:           AppVersion,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./slitscan.yaml or $HOME/.config/slitscan/slitscan.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable stage timings and image statistics")
	rootCmd.PersistentFlags().String("source", "", "video file path or /dev/video device index")
}

// flagKeys maps command-line flags to config keys. Several commands share a
// flag name, so only the flags of the running command are bound.
var flagKeys = map[string]string{
	"log-level":      "log_level",
	"debug":          "debug",
	"source":         "source",
	"frames":         "pipeline.frame_count",
	"display-fps":    "pipeline.display_fps",
	"max-queue-size": "pipeline.max_queue_size",
	"midline":        "pipeline.midline",
	"rotation":       "pipeline.rotation",
	"headless":       "pipeline.headless",
	"raw-dir":        "output.raw_dir",
	"cropped-dir":    "output.cropped_dir",
	"border-width":   "seam.border_width",
	"edge-margin":    "seam.edge_margin",
	"min-score":      "seam.min_score",
	"metrics-addr":   "metrics.addr",
}

func loadConfig(cmd *cobra.Command, args []string) error {
	for name, key := range flagKeys {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			if err := viper.BindPFlag(key, flag); err != nil {
				return err
			}
		}
	}

	loaded, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	logger = initLogger(cfg.LogLevel, cfg.Debug)
	if used := viper.ConfigFileUsed(); used != "" {
		logger.WithField("path", used).Debug("Configuration loaded")
	}
	return nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
