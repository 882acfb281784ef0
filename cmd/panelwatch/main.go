package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/law-makers/panelwatch/internal/cli"
)

func main() {
	// Cancelled on the first interrupt so workers and the server can drain
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
