package state

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/teamcutter/dirup/internal/domain"
)

func openJournal(t *testing.T, path string, opts ...Option) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLite(path, opts...)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_BeginFinishList(t *testing.T) {
	j := openJournal(t, filepath.Join(t.TempDir(), "state", "dirup.db"))

	ok := &domain.Operation{ArchiveName: "site.zip", TargetRoot: "/srv/www", Overwrite: true}
	if err := j.Begin(ok); err != nil {
		t.Fatal(err)
	}
	if ok.ID == 0 || ok.Status != domain.StatusPending {
		t.Fatalf("Begin() left op %+v", ok)
	}
	summary := domain.NewMergeSummary()
	summary.Added = append(summary.Added, "index.html")
	summary.Rejected = append(summary.Rejected, domain.Rejection{Path: "../x", Reason: domain.ReasonPathTraversal})
	ok.Status = domain.StatusCompleted
	ok.Summary = summary
	if err := j.Finish(ok); err != nil {
		t.Fatal(err)
	}

	bad := &domain.Operation{ArchiveName: "broken.zip", TargetRoot: "/srv/www"}
	if err := j.Begin(bad); err != nil {
		t.Fatal(err)
	}
	bad.Status = domain.StatusFailed
	bad.ErrorKind = domain.KindArchiveOpenFailed
	bad.Error = "zip: not a valid zip file"
	if err := j.Finish(bad); err != nil {
		t.Fatal(err)
	}

	ops, err := j.List(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 2 {
		t.Fatalf("List() returned %d ops, want 2", len(ops))
	}
	if ops[0].ID != bad.ID || ops[1].ID != ok.ID {
		t.Errorf("List() order = [%d %d], want newest first", ops[0].ID, ops[1].ID)
	}
	if ops[0].ErrorKind != domain.KindArchiveOpenFailed || ops[0].Summary != nil {
		t.Errorf("failed op = %+v", ops[0])
	}
	if !ops[1].Overwrite || !reflect.DeepEqual(ops[1].Summary, summary) {
		t.Errorf("completed op summary = %+v, want %+v", ops[1].Summary, summary)
	}
	if ops[1].FinishedAt.Before(ops[1].StartedAt) {
		t.Errorf("finished %v before started %v", ops[1].FinishedAt, ops[1].StartedAt)
	}

	limited, err := j.List(1)
	if err != nil || len(limited) != 1 {
		t.Errorf("List(1) = %d ops, %v", len(limited), err)
	}
}

func TestJournal_FinishUnknown(t *testing.T) {
	j := openJournal(t, filepath.Join(t.TempDir(), "dirup.db"))
	err := j.Finish(&domain.Operation{ID: 42, Status: domain.StatusCompleted})
	if !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("Finish() error = %v, want ErrUnknownOperation", err)
	}
}

func TestJournal_RecoversPendingOperations(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "dirup.db")
	staged := filepath.Join(dir, "upload-1.zip")
	if err := os.WriteFile(staged, []byte("PK"), 0644); err != nil {
		t.Fatal(err)
	}

	first, err := NewSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	op := &domain.Operation{ArchiveName: "upload.zip", ArchivePath: staged, TargetRoot: dir}
	if err := first.Begin(op); err != nil {
		t.Fatal(err)
	}
	first.Close()

	var discarded []string
	j := openJournal(t, dbPath,
		WithRecovery(),
		WithOwnerCheck(func(int) bool { return false }),
		WithDiscard(func(path string) error {
			discarded = append(discarded, path)
			return os.Remove(path)
		}))

	if !reflect.DeepEqual(discarded, []string{staged}) {
		t.Errorf("discarded %v, want [%s]", discarded, staged)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Errorf("staged archive still present")
	}

	ops, err := j.List(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Status != domain.StatusInterrupted || ops[0].Error == "" {
		t.Errorf("recovered ops = %+v", ops)
	}
}

func TestJournal_LeavesLiveOperationsAlone(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "owner still running", opts: []Option{WithRecovery()}},
		{name: "recovery not requested", opts: []Option{WithOwnerCheck(func(int) bool { return false })}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			dbPath := filepath.Join(dir, "dirup.db")
			staged := filepath.Join(dir, "upload-1.zip")
			if err := os.WriteFile(staged, []byte("PK"), 0644); err != nil {
				t.Fatal(err)
			}

			active := openJournal(t, dbPath)
			op := &domain.Operation{ArchiveName: "upload.zip", ArchivePath: staged, TargetRoot: dir}
			if err := active.Begin(op); err != nil {
				t.Fatal(err)
			}

			discarded := 0
			opts := append(tt.opts, WithDiscard(func(path string) error {
				discarded++
				return os.Remove(path)
			}))
			second := openJournal(t, dbPath, opts...)

			if discarded != 0 {
				t.Errorf("discarded %d staged archives, want 0", discarded)
			}
			if _, err := os.Stat(staged); err != nil {
				t.Errorf("staged archive removed: %v", err)
			}
			ops, err := second.List(0)
			if err != nil {
				t.Fatal(err)
			}
			if len(ops) != 1 || ops[0].Status != domain.StatusPending {
				t.Fatalf("ops = %+v, want one pending", ops)
			}

			op.Status = domain.StatusCompleted
			if err := active.Finish(op); err != nil {
				t.Errorf("Finish() after second open error = %v", err)
			}
		})
	}
}

func TestJournal_MigratesLegacySchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "dirup.db")

	legacy, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	_, err = legacy.Exec(`
		CREATE TABLE operations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			archive_name TEXT NOT NULL,
			archive_path TEXT NOT NULL DEFAULT '',
			target_root TEXT NOT NULL,
			overwrite INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			error_kind TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL DEFAULT ''
		);
		INSERT INTO operations (archive_name, target_root, started_at) VALUES ('old.zip', '/srv', '2024-01-01T00:00:00Z');`)
	legacy.Close()
	if err != nil {
		t.Fatal(err)
	}

	j := openJournal(t, dbPath, WithRecovery())
	ops, err := j.List(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Status != domain.StatusInterrupted {
		t.Errorf("legacy pending row = %+v, want interrupted", ops)
	}
}
