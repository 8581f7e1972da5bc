package dispatch

import "errors"

var (
	ErrQueueClosed = errors.New("dispatch: queue closed")
	ErrQueueFull   = errors.New("dispatch: queue full")
	ErrNilTask     = errors.New("dispatch: nil task")
)
