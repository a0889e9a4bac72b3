// Package httpapi serves authenticated archive uploads over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/teamcutter/dirup/internal/domain"
	"github.com/teamcutter/dirup/internal/report"
	"github.com/teamcutter/dirup/internal/staging"
)

const (
	uploadField    = "zip_file"
	overwriteField = "allow_overwrite"
	// multipart parts above this are spooled to disk by net/http
	formMemory = 8 << 20
	// allowance for multipart framing on top of the archive limit
	formOverhead = 1 << 20
)

var ErrNoUsers = errors.New("no users configured; add one with `dirup passwd` or pass --insecure-no-auth")

// Service is the part of the manager the server needs.
type Service interface {
	Upload(ctx context.Context, name string, r io.Reader, size int64, policy domain.UploadPolicy) (*domain.Operation, error)
	Preview(name string, r io.Reader, size int64, policy domain.UploadPolicy) (*domain.MergePlan, error)
	History(limit int) ([]*domain.Operation, error)
}

type Options struct {
	Service Service
	// Policy is the base policy; clients may only toggle AllowOverwrite.
	Policy         domain.UploadPolicy
	Users          map[string]string
	InsecureNoAuth bool
	Logger         *slog.Logger
}

type Server struct {
	svc    Service
	policy domain.UploadPolicy
	users  map[string]string
	logger *slog.Logger
}

func New(opts Options) (*Server, error) {
	if len(opts.Users) == 0 && !opts.InsecureNoAuth {
		return nil, ErrNoUsers
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:    opts.Service,
		policy: opts.Policy,
		users:  opts.Users,
		logger: logger,
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})

	api := http.NewServeMux()
	api.HandleFunc("POST /api/upload", s.handleUpload)
	api.HandleFunc("POST /api/plan", s.handlePlan)
	api.HandleFunc("GET /api/history", s.handleHistory)
	mux.Handle("/api/", requireAuth(s.users, api))

	return withHeaders(mux)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr, "target", s.policy.TargetDirectory)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, file, size, policy, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

	s.logger.Info("upload received",
		"user", UserFromContext(r.Context()),
		"archive", name,
		"size", size,
		"overwrite", policy.AllowOverwrite)

	op, err := s.svc.Upload(r.Context(), name, file, size, policy)
	if err != nil && op == nil {
		s.writeStagingError(w, err)
		return
	}

	if err != nil && op.Status == domain.StatusCompleted {
		s.logger.Warn("extraction completed but was not journaled", "id", op.ID, "error", err)
		err = nil
	}
	res := report.NewResult(name, op.Summary, err)
	writeJSON(w, statusFor(err), res)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	name, file, size, policy, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

	plan, err := s.svc.Preview(name, file, size, policy)
	if plan == nil {
		if _, isExtract := domain.KindOf(err); isExtract {
			writeJSON(w, statusFor(err), report.NewResult(name, nil, err))
			return
		}
		s.writeStagingError(w, err)
		return
	}

	body := map[string]any{
		"archive":    name,
		"collisions": plan.Collisions(),
		"summary":    plan.Preview(),
	}
	if err != nil {
		body["kind"], _ = domain.KindOf(err)
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	ops, err := s.svc.History(limit)
	if err != nil {
		s.logger.Error("history failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

type multipartFile interface {
	io.Reader
	io.Closer
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, multipartFile, int64, domain.UploadPolicy, bool) {
	policy := s.policy

	if s.policy.MaxSizeBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(s.policy.MaxSizeBytes)+formOverhead)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeStagingError(w, staging.ErrFileTooLarge)
		} else {
			s.writeStagingError(w, staging.ErrNoFile)
		}
		return "", nil, 0, policy, false
	}

	file, fh, err := r.FormFile(uploadField)
	if err != nil {
		s.writeStagingError(w, staging.ErrNoFile)
		return "", nil, 0, policy, false
	}

	if v := r.FormValue(overwriteField); v != "" {
		allow, err := parseBool(v)
		if err != nil {
			file.Close()
			http.Error(w, "bad "+overwriteField, http.StatusBadRequest)
			return "", nil, 0, policy, false
		}
		policy.AllowOverwrite = allow
	}

	return fh.Filename, file, fh.Size, policy, true
}

func (s *Server) writeStagingError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "upload_error"
	switch {
	case errors.Is(err, staging.ErrNoFile):
		status, code = http.StatusBadRequest, "no_file"
	case errors.Is(err, staging.ErrInvalidFileType):
		status, code = http.StatusBadRequest, "invalid_file_type"
	case errors.Is(err, staging.ErrFileTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "file_too_large"
	default:
		s.logger.Error("upload failed", "error", err)
	}
	writeJSON(w, status, map[string]string{
		"status":  "rejected",
		"error":   code,
		"message": err.Error(),
	})
}

func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	kind, _ := domain.KindOf(err)
	switch kind {
	case domain.KindArchiveOpenFailed, domain.KindCollisionAbort:
		return http.StatusUnprocessableEntity
	case domain.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseBool(v string) (bool, error) {
	switch v {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
