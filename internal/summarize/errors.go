package summarize

import (
	"errors"
	"fmt"
)

var (
	// ErrCollapseStalled is returned when the collapse loop cannot bring the
	// summaries under the reduce budget.
	ErrCollapseStalled = errors.New("collapse did not converge")

	// ErrNoDocuments is returned when there is nothing to reduce.
	ErrNoDocuments = errors.New("no summarizable documents")
)

// Stage names used in errors, logs and checkpoint keys.
const (
	StageMap      = "map"
	StageCollapse = "collapse"
	StageReduce   = "reduce"
)

// ModelInvocationError wraps a failed model call with where it happened.
type ModelInvocationError struct {
	Stage string
	Level int
	Batch int
	Path  string
	Err   error
}

func (e *ModelInvocationError) Error() string {
	switch e.Stage {
	case StageMap:
		return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
	case StageCollapse:
		return fmt.Sprintf("%s level %d batch %d: %v", e.Stage, e.Level, e.Batch, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// BudgetOverflowError reports input that cannot fit a window even after
// truncation: a leaf prompt in the map stage or a summary in a collapse
// level. Path names the leaf or the level and entry.
type BudgetOverflowError struct {
	Path   string
	Tokens int
	Limit  int
}

func (e *BudgetOverflowError) Error() string {
	return fmt.Sprintf("%s: prompt is %d tokens, limit %d", e.Path, e.Tokens, e.Limit)
}
