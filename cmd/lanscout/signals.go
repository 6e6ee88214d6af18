package main

import (
	"os"
	"os/signal"
	"syscall"
)

// MARK: handleSignals
// Sets up signal handlers for graceful shutdown
func (app *Application) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	app.waitGroup.Add(1)
	go func() {
		defer app.waitGroup.Done()

		select {
		case sig := <-sigChan:
			app.logger.Info("Received shutdown signal", "signal", sig.String())
			app.cancel()
		case <-app.context.Done():
		}
	}()
}
