package src

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel results that are normal control flow, not failures.
var (
	// ErrNoChanges means a response contained no change blocks. Callers show
	// the raw response instead of treating the turn as failed.
	ErrNoChanges = errors.New("no change blocks in response")

	// ErrReviewCancelled means the user declined the proposed changes.
	ErrReviewCancelled = errors.New("review cancelled")
)

// APICallError is returned when a model call still fails after retries.
type APICallError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *APICallError) Error() string {
	return fmt.Sprintf("model call failed after %d attempts (%s): %v", e.Attempts, e.Model, e.Err)
}

func (e *APICallError) Unwrap() error { return e.Err }

// Transient reports whether the underlying cause was retryable. A transient
// call error means the endpoint was struggling; a permanent one means the
// request itself is wrong.
func (e *APICallError) Transient() bool { return isTransientAPIError(e.Err) }

// TimeoutError is returned when an operation exceeds its deadline.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Limit)
}

// CommitError reports a failure applying one file. A commit error never
// aborts the remaining files in a batch.
type CommitError struct {
	Path string
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Path, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// DependencyBlockedError reports a sub-goal whose dependencies did not
// complete. The sub-goal is skipped, never executed.
type DependencyBlockedError struct {
	SubGoalID string
	Missing   []int
}

func (e *DependencyBlockedError) Error() string {
	return fmt.Sprintf("sub-goal %s blocked on dependencies %v", e.SubGoalID, e.Missing)
}

// FileNotFoundError reports a workspace read of a path that does not exist.
type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}

// FileTooLargeError reports a workspace read rejected by the size cap.
type FileTooLargeError struct {
	Path string
	Size int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file too large: %s (%s)", e.Path, HumanSize(e.Size))
}
