package job

import "fmt"

// HandlerError wraps the failure of one handler attempt.
type HandlerError struct {
	Type    Type
	Attempt int
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("job %s attempt %d: %v", e.Type, e.Attempt, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
