package cmd

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/resonantlabs/streamcache/internal/api"
	"github.com/resonantlabs/streamcache/internal/config"
	"github.com/resonantlabs/streamcache/internal/filecache"
	"github.com/resonantlabs/streamcache/internal/ratemeter"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the diagnostics server over a live cache",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	cache, err := filecache.Open(fs, cfg.Cache.RootPath, cfg.Cache.MaxSizeBytes, logger)
	if err != nil {
		return err
	}

	manager := config.NewManager(cfg, configFile, logger)
	manager.Watch()

	server := api.NewServer(cache, ratemeter.New(), manager, logger)
	server.SetReady(true)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(cfg.API.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		return server.Shutdown()
	}
}

// newHTTPClient builds the shared CDN HTTP client used by commands that
// touch the network.
func newHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: cfg.RequestTimeout()}
}
