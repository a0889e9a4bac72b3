package planner

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/teamcutter/dirup/internal/domain"
	"github.com/teamcutter/dirup/internal/sanitize"
)

type planState struct {
	root     string
	prober   domain.Prober
	observed map[domain.SanitizedPath]domain.TargetState
	planned  map[domain.SanitizedPath]domain.TargetState
}

// Plan builds the merge plan. The only error it returns is a
// domain.ExtractError of kind ProbeFailed.
func Plan(entries []domain.ArchiveEntry, policy domain.UploadPolicy, prober domain.Prober) (*domain.MergePlan, error) {
	s := &planState{
		root:     filepath.Clean(policy.TargetDirectory),
		prober:   prober,
		observed: make(map[domain.SanitizedPath]domain.TargetState),
		planned:  make(map[domain.SanitizedPath]domain.TargetState),
	}

	plan := &domain.MergePlan{Items: make([]domain.PlanItem, 0, len(entries))}
	for _, entry := range entries {
		item, err := s.decide(entry, policy)
		if err != nil {
			return nil, err
		}
		plan.Items = append(plan.Items, item)
	}

	return plan, nil
}

// CheckStrict enforces AbortOnAnyCollision: without overwrite permission a
// single file already on disk aborts the whole operation. Duplicate entries
// within the archive do not count.
func CheckStrict(plan *domain.MergePlan, policy domain.UploadPolicy) error {
	if !policy.AbortOnAnyCollision || policy.AllowOverwrite {
		return nil
	}

	for _, item := range plan.Items {
		if item.Decision.Action == domain.ActionSkip && item.Decision.Reason == domain.ReasonAlreadyExists {
			return domain.NewExtractError(domain.KindCollisionAbort, item.Path.String(),
				fmt.Errorf("%d existing file(s) would be skipped and overwrite is not allowed", plan.Collisions()))
		}
	}
	return nil
}

func (s *planState) decide(entry domain.ArchiveEntry, policy domain.UploadPolicy) (domain.PlanItem, error) {
	item := domain.PlanItem{Entry: entry}

	p, err := sanitize.Sanitize(entry.RawPath, s.root)
	if err != nil {
		item.Decision = domain.Reject(domain.ReasonPathTraversal)
		return item, nil
	}
	item.Path = p

	ok, err := s.prober.Confine(s.root, p.Join(s.root))
	if err != nil {
		return item, probeFailed(entry, err)
	}
	if !ok {
		item.Decision = domain.Reject(domain.ReasonPathTraversal)
		return item, nil
	}

	for _, ancestor := range ancestors(p) {
		st, err := s.state(ancestor)
		if err != nil {
			return item, probeFailed(entry, err)
		}
		if st == domain.ExistingFile {
			item.Decision = domain.Reject(domain.ReasonTypeConflict)
			return item, nil
		}
	}

	st, err := s.state(p)
	if err != nil {
		return item, probeFailed(entry, err)
	}

	if isDirEntry(entry) {
		if st == domain.ExistingFile {
			item.Decision = domain.Reject(domain.ReasonTypeConflict)
			return item, nil
		}
		item.Decision = domain.CreateDir()
		s.claim(p, domain.ExistingDirectory)
		return item, nil
	}

	switch st {
	case domain.Absent:
		item.Decision = domain.WriteFile(false)
	case domain.ExistingDirectory:
		item.Decision = domain.Reject(domain.ReasonTypeConflict)
		return item, nil
	case domain.ExistingFile:
		if !policy.AllowOverwrite {
			reason := domain.ReasonAlreadyExists
			if _, dup := s.planned[p]; dup {
				reason = domain.ReasonDuplicateEntry
			}
			item.Decision = domain.Skip(reason)
			return item, nil
		}
		item.Decision = domain.WriteFile(true)
	}
	s.claim(p, domain.ExistingFile)

	return item, nil
}

// state returns the planned state of p if an earlier entry claimed it,
// otherwise what is on disk.
func (s *planState) state(p domain.SanitizedPath) (domain.TargetState, error) {
	if st, ok := s.planned[p]; ok {
		return st, nil
	}
	if st, ok := s.observed[p]; ok {
		return st, nil
	}

	st, err := s.prober.Classify(p.Join(s.root))
	if err != nil {
		return domain.Absent, err
	}
	s.observed[p] = st
	return st, nil
}

func (s *planState) claim(p domain.SanitizedPath, st domain.TargetState) {
	for _, ancestor := range ancestors(p) {
		s.planned[ancestor] = domain.ExistingDirectory
	}
	s.planned[p] = st
}

func ancestors(p domain.SanitizedPath) []domain.SanitizedPath {
	var out []domain.SanitizedPath
	dir := path.Dir(string(p))
	for dir != "." && dir != "/" {
		out = append(out, domain.SanitizedPath(dir))
		dir = path.Dir(dir)
	}
	// shallowest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func isDirEntry(entry domain.ArchiveEntry) bool {
	return entry.IsDir || strings.HasSuffix(entry.RawPath, "/") || strings.HasSuffix(entry.RawPath, `\`)
}

func probeFailed(entry domain.ArchiveEntry, err error) error {
	return domain.NewExtractError(domain.KindProbeFailed, entry.RawPath, err)
}
