package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/codegrep/internal/cli"
)

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	code := cli.Execute(ctx, cli.BuildInfo{Version: version, BuildTime: buildTime})
	signal.Stop(sigChan)
	cancel()
	os.Exit(code)
}
