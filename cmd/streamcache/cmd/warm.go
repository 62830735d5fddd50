package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/resonantlabs/streamcache/internal/cdn"
	"github.com/resonantlabs/streamcache/internal/coordinator"
	"github.com/resonantlabs/streamcache/internal/filecache"
	"github.com/resonantlabs/streamcache/internal/ratemeter"
)

var (
	warmBps      float64
	warmParallel int
)

func init() {
	warmCmd := &cobra.Command{
		Use:   "warm [file-id...]",
		Short: "Download files into the on-disk cache ahead of playback",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWarm,
	}
	warmCmd.Flags().Float64Var(&warmBps, "bps", 40*1024, "nominal bytes per second used for range sizing")
	warmCmd.Flags().IntVar(&warmParallel, "parallel", 2, "how many files to warm concurrently")
	rootCmd.AddCommand(warmCmd)
}

func runWarm(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	cache, err := filecache.Open(fs, cfg.Cache.RootPath, cfg.Cache.MaxSizeBytes, logger)
	if err != nil {
		return err
	}

	client := cdn.NewHTTPClient(newHTTPClient(cfg), func(_ context.Context, fileID string) (string, error) {
		return cfg.ResolveURL(fileID)
	})

	opener := coordinator.NewOpener(cache, client, cfg.ToCoordinatorConfig(), fs, cfg.Cache.TempPath, ratemeter.New(), logger)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(warmParallel)
	for _, fileID := range args {
		id := fileID
		g.Go(func() error {
			if err := opener.Warm(ctx, id, warmBps); err != nil {
				return fmt.Errorf("warm %s: %w", id, err)
			}
			logger.Info("file warmed into cache", "file_id", id)
			return nil
		})
	}
	return g.Wait()
}
