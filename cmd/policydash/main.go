package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tossie79/tmhcc-insurance/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := cli.NewRootCmd()
	err := cmd.ExecuteContext(ctx)
	cli.HandleError(os.Stderr, err)
	if err != nil {
		cancel()
		os.Exit(1)
	}
}
