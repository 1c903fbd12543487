// Command bathy trains, runs and scores the bathymetry ensemble classifier.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/bathy.ensemble/internal/cli"
	"github.com/banshee-data/bathy.ensemble/internal/fsutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(fsutil.OSFileSystem{}).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
