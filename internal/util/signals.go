package util

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
// Cancelling it lets in-flight attempts finish their bookkeeping and every
// record still reach a terminal outcome. A second signal exits immediately.
// The returned stop function releases the signal subscription.
func SetupSignalHandler(logger *slog.Logger) (context.Context, context.CancelFunc) {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal, finishing in-flight attempts", "signal", sig.String())
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second shutdown signal, forcing exit", "signal", sig.String())
			os.Exit(1)
		case <-done:
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
			cancel()
		})
	}

	return ctx, stop
}
