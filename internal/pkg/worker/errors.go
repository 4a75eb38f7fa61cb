package worker

import "errors"

var (
	errQueueFull = errors.New("worker queue full")
	errStopped   = errors.New("worker pool stopped")
	errPanic     = errors.New("worker task panicked")
)
