package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned by a Platform when the user declines
	// the capture prompt. The session returns to Idle without an error.
	ErrPermissionDenied = errors.New("capture: permission denied")
	// ErrEmptyArtifact means the encoder produced no bytes.
	ErrEmptyArtifact = errors.New("capture: recording produced no data")
	// ErrSaveFailure means the artifact could not be persisted. Finalize
	// still completes; the failure is reported as a warning.
	ErrSaveFailure = errors.New("capture: save failed")
	// ErrSaveTimeout means the save confirmation did not arrive in time.
	// Only the pointer metadata is persisted.
	ErrSaveTimeout = errors.New("capture: save confirmation timed out")
)

// StateError is returned when an operation is not allowed in the current
// status.
type StateError struct {
	Op     string
	Status Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("capture: %s not allowed while %s", e.Op, e.Status)
}
