package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidPolicy         ErrorKind = "invalid_policy"
	KindArchiveOpenFailed     ErrorKind = "archive_open_failed"
	KindStagingViolation      ErrorKind = "staging_violation"
	KindProbeFailed           ErrorKind = "probe_failed"
	KindCollisionAbort        ErrorKind = "collision_abort"
	KindDirectoryCreateFailed ErrorKind = "directory_create_failed"
	KindWriteFailed           ErrorKind = "write_failed"
	KindCanceled              ErrorKind = "canceled"
)

// Stage names a step of one extraction.
type Stage string

const (
	StageOpening   Stage = "opening"
	StagePlanning  Stage = "planning"
	StageExecuting Stage = "executing"
	StageCleanup   Stage = "cleanup"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// ExtractError reports an aborted operation. Partial holds whatever was
// completed before the abort and is never nil once returned by the extractor.
type ExtractError struct {
	Kind    ErrorKind
	Stage   Stage
	Path    string
	Err     error
	Partial *MergeSummary
}

func (e *ExtractError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

func NewExtractError(kind ErrorKind, path string, err error) *ExtractError {
	return &ExtractError{Kind: kind, Path: path, Err: err}
}

// KindOf returns the kind of an ExtractError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ee *ExtractError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return "", false
}

// PartialOf returns the partial summary attached to err, or nil.
func PartialOf(err error) *MergeSummary {
	var ee *ExtractError
	if errors.As(err, &ee) {
		return ee.Partial
	}
	return nil
}
