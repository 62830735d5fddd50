// Package cmd implements the streamcache command surface.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/resonantlabs/streamcache/internal/config"
	"github.com/resonantlabs/streamcache/internal/logging"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "streamcache",
	Short: "Streaming cache and prefetch engine",
	Long: `streamcache streams audio files from CDN endpoints through a
size-bounded on-disk cache, exposing an ordinary read/seek byte interface
to a decoder while prefetching ahead of the playback position.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "path to the YAML config file")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		return err
	}
	return nil
}

// loadConfigAndLogger is the shared setup every subcommand starts with.
func loadConfigAndLogger() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config from %s: %w", configFile, err)
	}
	logger := logging.Setup(cfg.Log)
	return cfg, logger, nil
}
