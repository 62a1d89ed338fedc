// Command sdlqctl inspects and administers a sequenced dead letter queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/xraph/sdlq/cmd/sdlqctl/cli"
)

func main() {
	level := slog.LevelWarn
	if os.Getenv("SDLQ_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRoot(cli.ConfigOpener(logger)).ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
