package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teamcutter/dirup/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS operations (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    archive_name TEXT NOT NULL,
    archive_path TEXT NOT NULL DEFAULT '',
    target_root  TEXT NOT NULL,
    overwrite    INTEGER NOT NULL DEFAULT 0,
    status       TEXT NOT NULL DEFAULT 'pending',
    error_kind   TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    summary      TEXT NOT NULL DEFAULT '',
    started_at   TEXT NOT NULL,
    finished_at  TEXT NOT NULL DEFAULT '',
    owner_pid    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS operations_status ON operations(status);
`

const interruptedMessage = "process exited before the extraction finished"

var ErrUnknownOperation = errors.New("unknown operation")

// SQLiteJournal records every extraction so interrupted runs can be
// detected on the next start.
type SQLiteJournal struct {
	mu      sync.RWMutex
	db      *sql.DB
	dbPath  string
	discard func(path string) error
	logger  *slog.Logger
	recover bool
	alive   func(pid int) bool
}

type Option func(*SQLiteJournal)

// WithDiscard sets how staged archives of interrupted operations are removed.
func WithDiscard(fn func(path string) error) Option {
	return func(s *SQLiteJournal) { s.discard = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteJournal) { s.logger = l }
}

// WithRecovery marks pending operations whose owning process is gone as
// interrupted when the journal opens. Only processes that extract should
// ask for it.
func WithRecovery() Option {
	return func(s *SQLiteJournal) { s.recover = true }
}

// WithOwnerCheck replaces the test used to decide whether the process
// that began a pending operation is still running.
func WithOwnerCheck(fn func(pid int) bool) Option {
	return func(s *SQLiteJournal) { s.alive = fn }
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return true
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EPERM)
}

func NewSQLite(dbPath string, opts ...Option) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection serialises writers across goroutines
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &SQLiteJournal{
		db:     db,
		dbPath: dbPath,
		logger: slog.Default(),
		alive:  processAlive,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	if s.recover {
		if err := s.recoverInterrupted(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to recover: %w", err)
		}
	}

	return s, nil
}

// migrate adds columns missing from journals created by older builds.
func (s *SQLiteJournal) migrate() error {
	rows, err := s.db.Query("PRAGMA table_info(operations)")
	if err != nil {
		return err
	}
	hasOwner := false
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		if name == "owner_pid" {
			hasOwner = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if hasOwner {
		return nil
	}
	_, err = s.db.Exec("ALTER TABLE operations ADD COLUMN owner_pid INTEGER NOT NULL DEFAULT 0")
	return err
}

// recoverInterrupted closes out pending operations left by processes that
// are no longer running. Rows owned by a live process are still in flight.
func (s *SQLiteJournal) recoverInterrupted() error {
	rows, err := s.db.Query("SELECT id, archive_name, archive_path, owner_pid FROM operations WHERE status = ?", domain.StatusPending)
	if err != nil {
		return err
	}

	type pendingOp struct {
		id    int64
		name  string
		path  string
		owner int
	}
	var pending []pendingOp
	for rows.Next() {
		var p pendingOp
		if err := rows.Scan(&p.id, &p.name, &p.path, &p.owner); err != nil {
			rows.Close()
			return err
		}
		pending = append(pending, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range pending {
		if p.owner > 0 && s.alive(p.owner) {
			s.logger.Debug("pending operation still owned", "id", p.id, "pid", p.owner)
			continue
		}
		s.logger.Warn("recovering from interrupted extraction", "id", p.id, "archive", p.name)

		if s.discard != nil && p.path != "" {
			if err := s.discard(p.path); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to remove staged archive", "path", p.path, "error", err)
			}
		}

		_, err := s.db.Exec(`
			UPDATE operations SET status = ?, error = ?, finished_at = ?
			WHERE id = ? AND status = ?`,
			domain.StatusInterrupted, interruptedMessage, formatTime(time.Now()), p.id, domain.StatusPending)
		if err != nil {
			return fmt.Errorf("failed to mark operation %d interrupted: %w", p.id, err)
		}
	}

	return nil
}

// Begin stores op as pending and assigns its ID.
func (s *SQLiteJournal) Begin(op *domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op.StartedAt.IsZero() {
		op.StartedAt = time.Now()
	}
	op.Status = domain.StatusPending

	res, err := s.db.Exec(`
		INSERT INTO operations (archive_name, archive_path, target_root, overwrite, status, started_at, owner_pid)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ArchiveName, op.ArchivePath, op.TargetRoot, boolToInt(op.Overwrite),
		op.Status, formatTime(op.StartedAt), os.Getpid())
	if err != nil {
		return err
	}

	op.ID, err = res.LastInsertId()
	return err
}

// Finish stores the outcome of a begun operation.
func (s *SQLiteJournal) Finish(op *domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op.FinishedAt.IsZero() {
		op.FinishedAt = time.Now()
	}

	var summary []byte
	if op.Summary != nil {
		var err error
		if summary, err = json.Marshal(op.Summary); err != nil {
			return err
		}
	}

	res, err := s.db.Exec(`
		UPDATE operations SET status = ?, error_kind = ?, error = ?, summary = ?, finished_at = ?
		WHERE id = ?`,
		op.Status, string(op.ErrorKind), op.Error, string(summary), formatTime(op.FinishedAt), op.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownOperation, op.ID)
	}
	return nil
}

// List returns the most recent operations first. limit <= 0 returns all.
func (s *SQLiteJournal) List(limit int) ([]*domain.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, archive_name, archive_path, target_root, overwrite, status,
		       error_kind, error, summary, started_at, finished_at
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := make([]*domain.Operation, 0)
	for rows.Next() {
		var op domain.Operation
		var overwrite int
		var status, kind, summary, startedAt, finishedAt string

		if err := rows.Scan(&op.ID, &op.ArchiveName, &op.ArchivePath, &op.TargetRoot, &overwrite,
			&status, &kind, &op.Error, &summary, &startedAt, &finishedAt); err != nil {
			return nil, err
		}

		op.Overwrite = overwrite == 1
		op.Status = domain.OperationStatus(status)
		op.ErrorKind = domain.ErrorKind(kind)
		if summary != "" {
			op.Summary = domain.NewMergeSummary()
			if err := json.Unmarshal([]byte(summary), op.Summary); err != nil {
				return nil, fmt.Errorf("operation %d: %w", op.ID, err)
			}
		}
		op.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		op.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)

		ops = append(ops, &op)
	}

	return ops, rows.Err()
}

func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
