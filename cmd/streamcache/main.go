package main

import (
	"os"

	"github.com/resonantlabs/streamcache/cmd/streamcache/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
