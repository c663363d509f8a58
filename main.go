// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/wanderlust-sh/wander/cmd"
)

// main is the entry point for the wander CLI.
func main() {
	// Listen for interrupt signals so sessions can wind down gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.ExecuteContext(ctx)
}
