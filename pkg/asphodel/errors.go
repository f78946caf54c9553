package asphodel

import "errors"

var (
	ErrAlreadyRunning        = errors.New("sandbox is already running")
	ErrNotRunning            = errors.New("sandbox is not running")
	ErrNotPaused             = errors.New("sandbox is not paused")
	ErrAlreadyTerminated     = errors.New("sandbox is already terminated")
	ErrNotTerminated         = errors.New("sandbox is not terminated")
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")
)
