// Package errs models the two error kinds that actually cross a Go error
// boundary out of the orchestrator: a fatal setup failure that aborts the
// run before the batch loop, and a batch failure recorded mid-loop. The
// other kinds named in the data model (Throttled, SourceFetchFailed,
// ValidationFailed, WriteConflict) are handled locally and never surface
// as a returned error, so they stay plain log lines and counters at their
// call sites instead of sentinels here.
package errs

import (
	"errors"
	"fmt"

	"github.com/ingestpipe/ingestpipe/pkg/models"
)

// ErrFatalSetup is the sentinel every fatal setup failure wraps: database
// unreachable at run start, index creation failing permanently, or the
// ledger write itself failing.
var ErrFatalSetup = errors.New("fatal setup failure")

// ErrBatchFailure is the sentinel every batch failure wraps: an upsert or
// checkpoint write that failed mid-loop for one source.
var ErrBatchFailure = errors.New("batch failure")

// SetupError carries the setup step that failed alongside the underlying
// cause, while still satisfying errors.Is(err, ErrFatalSetup).
type SetupError struct {
	Step string
	Err  error
}

func NewSetupError(step string, err error) *SetupError {
	return &SetupError{Step: step, Err: err}
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("fatal setup failure (%s): %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error { return ErrFatalSetup }

// BatchError carries the source and batch number a failure occurred in.
type BatchError struct {
	Source  models.Source
	BatchNo int
	Err     error
}

func NewBatchError(source models.Source, batchNo int, err error) *BatchError {
	return &BatchError{Source: source, BatchNo: batchNo, Err: err}
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d for source %s failed: %v", e.BatchNo, e.Source, e.Err)
}

func (e *BatchError) Unwrap() error { return ErrBatchFailure }

// IsFatalSetup reports whether err is, or wraps, a fatal setup failure.
func IsFatalSetup(err error) bool { return errors.Is(err, ErrFatalSetup) }

// IsBatchFailure reports whether err is, or wraps, a batch failure.
func IsBatchFailure(err error) bool { return errors.Is(err, ErrBatchFailure) }
