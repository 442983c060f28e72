package task

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled is returned once a cancellation request has been observed. Item
// failures never leave the runner; they are recorded in the results.
var ErrCancelled = errors.New("cancelled")

// ErrTaskNotFound is returned when cancelling an unknown or already finished task.
var ErrTaskNotFound = errors.New("task not found")

// ErrResultsMismatch is returned when recorded results no longer fit the
// groups of a plugin, e.g. after its descriptor was edited.
var ErrResultsMismatch = errors.New("recorded results do not match the plugin groups")

// OperationError is a failed copy, export or import.
type OperationError struct {
	Op   string
	Path string
	Err  error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is a cancellation, from our own sentinel or from a context.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
