package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

const exitCodeForceQuit = 1

// waitForSignal blocks until the process is told to stop. SIGQUIT skips the
// graceful shutdown path entirely.
func waitForSignal(logger *zap.Logger) {
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigchan
	switch sig {
	case syscall.SIGQUIT:
		logger.Info("quitting process immediately", zap.String("signal", "SIGQUIT"))
		os.Exit(exitCodeForceQuit)
	default:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}
}
