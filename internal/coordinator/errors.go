package coordinator

import "errors"

// Protocol violations. Handlers log and drop the offending event when they
// see one of these.
var (
	ErrAlreadyPopulated = errors.New("registry already populated")
	ErrNotIdle          = errors.New("task is not idle")
	ErrNotRunning       = errors.New("task is not running")
	ErrUnknownWorker    = errors.New("unknown worker")
	ErrDuplicateWorker  = errors.New("worker already connected")
	ErrAlreadyAssigned  = errors.New("worker already holds a task")
	ErrNoAssignedTask   = errors.New("worker holds no task")
	ErrStaleResult      = errors.New("result does not match the held task")
)
