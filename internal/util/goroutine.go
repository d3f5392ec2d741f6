package util

import (
	"fmt"

	"github.com/real-rm/gochat/internal/metrics"
	"github.com/real-rm/golog"
)

// SafeGo launches a goroutine with panic recovery.
// If the goroutine panics, the panic is recovered and logged.
// This prevents a single goroutine panic from crashing the entire process.
func SafeGo(logger *golog.Logger, component string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered in goroutine",
					"component", component,
					"panic", fmt.Sprintf("%v", r))
				metrics.HandlerPanics.Inc()
			}
		}()
		fn()
	}()
}

// SafeCall invokes fn with panic recovery. Used for subscription handler
// fan-out: one failing handler must not prevent delivery to the remaining
// handlers for the same frame.
func SafeCall(logger *golog.Logger, component string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered in handler",
				"component", component,
				"panic", fmt.Sprintf("%v", r))
			metrics.HandlerPanics.Inc()
		}
	}()
	fn()
}
