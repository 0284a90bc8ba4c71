// Package cliutil holds small helpers shared by the broker and mock
// upstream binaries.
package cliutil

import (
	"os"
	"os/signal"
	"syscall"
)

// WaitForShutdown blocks until SIGINT or SIGTERM arrives, matching the
// teacher main.go's signal.Notify/<-quit pattern.
func WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
