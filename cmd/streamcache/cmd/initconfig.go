package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/resonantlabs/streamcache/internal/config"
)

func init() {
	initConfigCmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a starter config file with the documented defaults",
		RunE:  runInitConfig,
	}
	rootCmd.AddCommand(initConfigCmd)
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configFile); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", configFile)
	return nil
}
