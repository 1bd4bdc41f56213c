package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"snapshot-harness/internal/cli"
)

// Set by ldflags
var version = "dev"

func main() {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cli.NewRootCommand(version).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	stop()
	os.Exit(cli.ExitCode(err))
}
