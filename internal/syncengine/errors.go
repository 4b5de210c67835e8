package syncengine

import "fmt"

// DegradedError reports a remote failure after the local operation already
// succeeded. The local write stands; callers surface it as a sync warning.
type DegradedError struct {
	Op       string
	ObjectID string
	Err      error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("sync degraded: %s %s: %v", e.Op, e.ObjectID, e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }
