package result

import (
	"fmt"
	"time"
)

// TimeoutError is returned when a join or get exceeded its deadline.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.After)
}

// TaskFailureError carries the id and the stored error message of a
// failed task. The original error value is not transferred across
// process boundaries, only its message survives in the backend.
type TaskFailureError struct {
	TaskID  string
	Message string
}

func (e *TaskFailureError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf(`task "%s" failed`, e.TaskID)
	}
	return fmt.Sprintf(`task "%s" failed: %s`, e.TaskID, e.Message)
}

// IncompleteStreamError is returned by Collect when a reachable node
// is not yet terminal and the intermediate mode is off.
type IncompleteStreamError struct {
	TaskID string
}

func (e *IncompleteStreamError) Error() string {
	return fmt.Sprintf(`task "%s" is not finished`, e.TaskID)
}
