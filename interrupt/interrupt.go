// Package interrupt turns operator interrupts into context cancellation.
package interrupt

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	logger "github.com/sirupsen/logrus"
)

// WithInterrupt returns a copy of parent that is cancelled the first time the
// process receives SIGINT or SIGTERM. Later signals are swallowed so a second
// Ctrl-C does not kill the process halfway through cleanup. Call stop to
// restore default signal handling.
func WithInterrupt(parent context.Context) (ctx context.Context, stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, release := watch(parent, sigChan)
	return ctx, func() {
		signal.Stop(sigChan)
		release()
	}
}

func watch(parent context.Context, sigChan <-chan os.Signal) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case sig := <-sigChan:
				once.Do(func() {
					logger.WithField("signal", sig.String()).Info("Received interrupt signal, cleaning up...")
					cancel()
				})
			case <-done:
				return
			}
		}
	}()

	var stopOnce sync.Once
	return ctx, func() {
		stopOnce.Do(func() {
			close(done)
			cancel()
		})
	}
}
