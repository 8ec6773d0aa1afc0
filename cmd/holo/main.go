package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		// Ctrl-C during wait or watch.
		os.Exit(130)
	default:
		fmt.Fprintln(os.Stderr, "holo:", err)
		os.Exit(1)
	}
}
