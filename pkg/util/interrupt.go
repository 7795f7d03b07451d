package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/small-frappuccino/aperture/pkg/log"
)

// ShutdownOnInterrupt blocks until SIGINT or SIGTERM arrives or parent is
// done, then runs shutdown once and returns its error. Signal handling is
// released before shutdown starts, so a second Ctrl+C terminates the process.
func ShutdownOnInterrupt(parent context.Context, shutdown func() error) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	if parent.Err() != nil {
		log.ApplicationLogger().Info("Shutdown requested", "cause", context.Cause(parent))
	} else {
		log.ApplicationLogger().Info("Received interrupt; shutting down")
	}
	if shutdown == nil {
		return nil
	}
	return shutdown()
}
