package react

import (
	"errors"
	"fmt"
	"time"
)

// ErrMaxIterations signals the iteration budget ran out before the
// model produced a final answer.
var ErrMaxIterations = errors.New("max iterations exceeded")

// ToolError reports a failed or timed-out tool invocation. It is
// recoverable at the loop level: the failure is surfaced to the model
// as data and the loop continues.
type ToolError struct {
	Tool    string
	CallID  string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// TimeoutError reports that the loop's total wall-clock budget was
// exceeded. Terminal.
type TimeoutError struct {
	Elapsed time.Duration
	Budget  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("loop timed out after %s (budget %s)", e.Elapsed.Round(time.Millisecond), e.Budget)
}
