package domain

import (
	"fmt"
	"io/fs"
	"path/filepath"
)

// ArchiveEntry is one record of an opened archive's directory listing.
type ArchiveEntry struct {
	Index     int
	RawPath   string
	IsDir     bool
	SizeBytes uint64
	Mode      fs.FileMode
}

// SanitizedPath is a slash-separated relative path that stays inside the
// target root when joined to it.
type SanitizedPath string

func (p SanitizedPath) String() string {
	return string(p)
}

func (p SanitizedPath) Join(root string) string {
	return filepath.Join(root, filepath.FromSlash(string(p)))
}

type TargetState int

const (
	Absent TargetState = iota
	ExistingFile
	ExistingDirectory
)

func (s TargetState) String() string {
	switch s {
	case Absent:
		return "absent"
	case ExistingFile:
		return "file"
	case ExistingDirectory:
		return "directory"
	default:
		return fmt.Sprintf("TargetState(%d)", int(s))
	}
}

type Action int

const (
	ActionCreateDir Action = iota + 1
	ActionWriteFile
	ActionSkip
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionCreateDir:
		return "mkdir"
	case ActionWriteFile:
		return "write"
	case ActionSkip:
		return "skip"
	case ActionReject:
		return "reject"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

type Reason string

const (
	ReasonPathTraversal Reason = "path_traversal"
	ReasonTypeConflict  Reason = "type_conflict"
	ReasonAlreadyExists Reason = "already_exists"

	// ReasonDuplicateEntry marks a later archive entry for a file an
	// earlier entry already writes. It is not a collision.
	ReasonDuplicateEntry Reason = "duplicate_entry"
)

// Decision is what the planner decided for a single entry.
type Decision struct {
	Action    Action
	Overwrite bool
	Reason    Reason
}

func CreateDir() Decision {
	return Decision{Action: ActionCreateDir}
}

func WriteFile(overwrite bool) Decision {
	return Decision{Action: ActionWriteFile, Overwrite: overwrite}
}

func Skip(reason Reason) Decision {
	return Decision{Action: ActionSkip, Reason: reason}
}

func Reject(reason Reason) Decision {
	return Decision{Action: ActionReject, Reason: reason}
}

func (d Decision) String() string {
	switch d.Action {
	case ActionWriteFile:
		if d.Overwrite {
			return "overwrite"
		}
		return "write"
	case ActionSkip, ActionReject:
		return fmt.Sprintf("%s(%s)", d.Action, d.Reason)
	default:
		return d.Action.String()
	}
}

type PlanItem struct {
	Entry    ArchiveEntry
	Path     SanitizedPath
	Decision Decision
}

// MergePlan keeps archive enumeration order.
type MergePlan struct {
	Items []PlanItem
}

// Collisions counts entries skipped because a file already exists.
func (p *MergePlan) Collisions() int {
	var n int
	for _, item := range p.Items {
		if item.Decision.Action == ActionSkip && item.Decision.Reason == ReasonAlreadyExists {
			n++
		}
	}
	return n
}

// Preview returns the summary executing the plan would produce if every
// write succeeded.
func (p *MergePlan) Preview() *MergeSummary {
	s := NewMergeSummary()
	for _, item := range p.Items {
		s.Record(item)
	}
	return s
}

type Rejection struct {
	Path   string `json:"path" yaml:"path"`
	Reason Reason `json:"reason" yaml:"reason"`
}

type MergeSummary struct {
	Added       []string    `json:"added" yaml:"added"`
	Overwritten []string    `json:"overwritten" yaml:"overwritten"`
	Skipped     []string    `json:"skipped" yaml:"skipped"`
	Rejected    []Rejection `json:"rejected" yaml:"rejected"`
}

func NewMergeSummary() *MergeSummary {
	return &MergeSummary{
		Added:       []string{},
		Overwritten: []string{},
		Skipped:     []string{},
		Rejected:    []Rejection{},
	}
}

// Record appends the outcome of one plan item. Directory creation is not
// part of the summary.
func (s *MergeSummary) Record(item PlanItem) {
	switch item.Decision.Action {
	case ActionWriteFile:
		if item.Decision.Overwrite {
			s.Overwritten = append(s.Overwritten, item.Path.String())
		} else {
			s.Added = append(s.Added, item.Path.String())
		}
	case ActionSkip:
		s.Skipped = append(s.Skipped, item.Path.String())
	case ActionReject:
		s.Rejected = append(s.Rejected, Rejection{Path: item.Entry.RawPath, Reason: item.Decision.Reason})
	}
}

func (s *MergeSummary) Total() int {
	return len(s.Added) + len(s.Overwritten) + len(s.Skipped) + len(s.Rejected)
}

// UploadPolicy is fixed for the duration of one operation.
type UploadPolicy struct {
	MaxSizeBytes        uint64
	TargetDirectory     string
	AllowOverwrite      bool
	AbortOnAnyCollision bool
}

func (p UploadPolicy) Validate() error {
	if p.TargetDirectory == "" {
		return fmt.Errorf("target directory is required")
	}
	if !filepath.IsAbs(p.TargetDirectory) {
		return fmt.Errorf("target directory must be absolute, got %q", p.TargetDirectory)
	}
	return nil
}
