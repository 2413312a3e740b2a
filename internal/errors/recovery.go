package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicLogger receives panics recovered by Go.
type PanicLogger interface {
	Error(msg string, fields map[string]interface{})
}

// Go runs fn on a new goroutine and converts a panic into a logged error
// instead of crashing the process. Event-dispatch fanout uses this so one
// misbehaving subscriber cannot take down the engine.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("recovered panic", map[string]interface{}{
						"goroutine": name,
						"panic":     fmt.Sprint(r),
						"stack":     string(debug.Stack()),
					})
				}
			}
		}()
		fn()
	}()
}
