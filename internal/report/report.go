// Package report renders merge summaries, plans and operation history
// for terminals and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/teamcutter/dirup/internal/domain"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

// Result is the machine-readable outcome of one extraction.
type Result struct {
	Archive string               `json:"archive,omitempty" yaml:"archive,omitempty"`
	Status  string               `json:"status" yaml:"status"`
	Kind    domain.ErrorKind     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error   string               `json:"error,omitempty" yaml:"error,omitempty"`
	Summary *domain.MergeSummary `json:"summary,omitempty" yaml:"summary,omitempty"`
	Partial *domain.MergeSummary `json:"partial,omitempty" yaml:"partial,omitempty"`
}

const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// NewResult builds the outcome of an extraction from its summary or error.
func NewResult(archive string, summary *domain.MergeSummary, err error) Result {
	if err == nil {
		return Result{Archive: archive, Status: StatusCompleted, Summary: summary}
	}
	r := Result{Archive: archive, Status: StatusAborted, Error: err.Error(), Partial: domain.PartialOf(err)}
	if kind, ok := domain.KindOf(err); ok {
		r.Kind = kind
	}
	if r.Partial == nil {
		r.Partial = domain.NewMergeSummary()
	}
	return r
}

func encode(w io.Writer, f Format, v any) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", f)
	}
}

// Results writes one or more extraction outcomes.
func Results(w io.Writer, f Format, results []Result) error {
	if f != FormatText {
		if len(results) == 1 {
			return encode(w, f, results[0])
		}
		return encode(w, f, results)
	}

	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if r.Status == StatusCompleted {
			fmt.Fprintf(w, "%s %s\n", green("✓"), bold(r.Archive))
			writeSummary(w, r.Summary)
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n", red("✗"), bold(r.Archive), dim("("+string(r.Kind)+")"))
		fmt.Fprintf(w, "  %s\n", r.Error)
		if r.Partial != nil && r.Partial.Total() > 0 {
			fmt.Fprintf(w, "  %s\n", dim("applied before the abort:"))
			writeSummary(w, r.Partial)
		}
	}
	return nil
}

// Plan writes what an extraction would do.
func Plan(w io.Writer, f Format, archive string, plan *domain.MergePlan) error {
	summary := plan.Preview()
	if f != FormatText {
		return encode(w, f, struct {
			Archive    string               `json:"archive" yaml:"archive"`
			Collisions int                  `json:"collisions" yaml:"collisions"`
			Summary    *domain.MergeSummary `json:"summary" yaml:"summary"`
		}{archive, plan.Collisions(), summary})
	}

	fmt.Fprintf(w, "%s %s %s\n", cyan("plan:"), bold(archive), dim(fmt.Sprintf("(%d entries)", len(plan.Items))))
	for _, item := range plan.Items {
		path := item.Path.String()
		if path == "" {
			path = item.Entry.RawPath
		}
		fmt.Fprintf(w, "  %-24s %s\n", decisionLabel(item.Decision), path)
	}
	fmt.Fprintln(w)
	writeCounts(w, summary)
	return nil
}

// History writes journaled operations, newest first.
func History(w io.Writer, f Format, ops []*domain.Operation) error {
	if f != FormatText {
		return encode(w, f, ops)
	}

	if len(ops) == 0 {
		fmt.Fprintln(w, dim("no operations recorded"))
		return nil
	}
	for _, op := range ops {
		mark := green("✓")
		switch op.Status {
		case domain.StatusFailed:
			mark = red("✗")
		case domain.StatusPending, domain.StatusInterrupted:
			mark = yellow("!")
		}
		fmt.Fprintf(w, "%s %s %s %s %s\n", mark, dim(fmt.Sprintf("#%d", op.ID)),
			bold(op.ArchiveName), dim("->"), op.TargetRoot)
		fmt.Fprintf(w, "  %s %s", dim(op.StartedAt.Local().Format("2006-01-02 15:04:05")), op.Status)
		if op.ErrorKind != "" {
			fmt.Fprintf(w, " (%s)", op.ErrorKind)
		}
		fmt.Fprintln(w)
		if op.Summary != nil {
			fmt.Fprint(w, "  ")
			writeCounts(w, op.Summary)
		}
	}
	return nil
}

func writeSummary(w io.Writer, s *domain.MergeSummary) {
	if s == nil {
		return
	}
	for _, p := range s.Added {
		fmt.Fprintf(w, "  %s %s\n", green("+"), p)
	}
	for _, p := range s.Overwritten {
		fmt.Fprintf(w, "  %s %s\n", yellow("~"), p)
	}
	for _, p := range s.Skipped {
		fmt.Fprintf(w, "  %s %s %s\n", dim("="), p, dim("(exists)"))
	}
	for _, r := range s.Rejected {
		fmt.Fprintf(w, "  %s %s %s\n", red("!"), r.Path, dim("("+string(r.Reason)+")"))
	}
	fmt.Fprint(w, "  ")
	writeCounts(w, s)
}

func writeCounts(w io.Writer, s *domain.MergeSummary) {
	fmt.Fprintf(w, "%d added, %d overwritten, %d skipped, %d rejected\n",
		len(s.Added), len(s.Overwritten), len(s.Skipped), len(s.Rejected))
}

func decisionLabel(d domain.Decision) string {
	switch d.Action {
	case domain.ActionWriteFile:
		if d.Overwrite {
			return yellow(d.String())
		}
		return green(d.String())
	case domain.ActionSkip:
		return dim(d.String())
	case domain.ActionReject:
		return red(d.String())
	default:
		return d.String()
	}
}
