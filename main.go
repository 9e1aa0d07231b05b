package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/frontier-framework/fmf/cmd/root"
	"github.com/frontier-framework/fmf/pkg/errdefs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.NewRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(errdefs.ExitCode(err))
	}
}
