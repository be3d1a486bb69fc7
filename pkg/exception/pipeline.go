package exception

import "github.com/yanun0323/errors"

// Pipeline errors
var (
	ErrQueueFull   = errors.New("pipeline: queue full")
	ErrQueueClosed = errors.New("pipeline: queue closed")
	ErrTransient   = errors.New("pipeline: transient failure")
)
