package domain

import (
	"context"
	"io"
	"time"
)

// Prober observes the target tree during planning.
type Prober interface {
	Classify(targetPath string) (TargetState, error)
	// Confine reports whether targetPath, after resolving symlinks of its
	// longest existing prefix, still lies inside root.
	Confine(root, targetPath string) (bool, error)
}

type Extractor interface {
	Extract(ctx context.Context, archivePath string, policy UploadPolicy) (*MergeSummary, error)
	Preview(archivePath string, policy UploadPolicy) (*MergePlan, error)
}

type Stager interface {
	Put(name string, r io.Reader, size int64) (string, error)
	Fetch(ctx context.Context, url, sha256 string) (string, error)
	Discard(path string) error
}

type Journal interface {
	Begin(op *Operation) error
	Finish(op *Operation) error
	List(limit int) ([]*Operation, error)
}

type OperationStatus string

const (
	StatusPending     OperationStatus = "pending"
	StatusCompleted   OperationStatus = "completed"
	StatusFailed      OperationStatus = "failed"
	StatusInterrupted OperationStatus = "interrupted"
)

// Operation is the caller-side record of one upload.
type Operation struct {
	ID          int64           `json:"id" yaml:"id"`
	ArchiveName string          `json:"archive" yaml:"archive"`
	ArchivePath string          `json:"-" yaml:"-"`
	TargetRoot  string          `json:"target" yaml:"target"`
	Overwrite   bool            `json:"overwrite" yaml:"overwrite"`
	Status      OperationStatus `json:"status" yaml:"status"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
	Summary     *MergeSummary   `json:"summary,omitempty" yaml:"summary,omitempty"`
	StartedAt   time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time       `json:"finished_at" yaml:"finished_at"`
}
