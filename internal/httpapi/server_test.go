package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/teamcutter/dirup/internal/domain"
	"github.com/teamcutter/dirup/internal/staging"
)

type fakeService struct {
	gotName   string
	gotBody   string
	gotPolicy domain.UploadPolicy
	op        *domain.Operation
	plan      *domain.MergePlan
	err       error
	history   []*domain.Operation
}

func (f *fakeService) Upload(_ context.Context, name string, r io.Reader, _ int64, p domain.UploadPolicy) (*domain.Operation, error) {
	b, _ := io.ReadAll(r)
	f.gotName, f.gotBody, f.gotPolicy = name, string(b), p
	return f.op, f.err
}

func (f *fakeService) Preview(name string, r io.Reader, _ int64, p domain.UploadPolicy) (*domain.MergePlan, error) {
	f.gotName, f.gotPolicy = name, p
	return f.plan, f.err
}

func (f *fakeService) History(int) ([]*domain.Operation, error) {
	return f.history, f.err
}

func newTestServer(t *testing.T, svc Service) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(Options{
		Service: svc,
		Policy:  domain.UploadPolicy{TargetDirectory: "/srv/www", MaxSizeBytes: 1 << 10},
		Users:   map[string]string{"deploy": string(hash)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s.Handler()
}

func uploadRequest(t *testing.T, path, filename, body string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile(uploadField, filename)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.WriteString(fw, body)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetBasicAuth("deploy", "secret")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestNew_RequiresUsers(t *testing.T) {
	policy := domain.UploadPolicy{TargetDirectory: "/srv/www"}
	if _, err := New(Options{Policy: policy}); !errors.Is(err, ErrNoUsers) {
		t.Errorf("New() error = %v, want ErrNoUsers", err)
	}
	if _, err := New(Options{Policy: policy, InsecureNoAuth: true}); err != nil {
		t.Errorf("New(insecure) error = %v", err)
	}
	if _, err := New(Options{Policy: domain.UploadPolicy{}, InsecureNoAuth: true}); err == nil {
		t.Error("New() accepted an empty target")
	}
}

func TestAuth(t *testing.T) {
	h := newTestServer(t, &fakeService{})

	tests := []struct {
		name string
		user string
		pass string
		want int
	}{
		{"no credentials", "", "", http.StatusUnauthorized},
		{"wrong password", "deploy", "nope", http.StatusUnauthorized},
		{"unknown user", "root", "secret", http.StatusUnauthorized},
		{"valid", "deploy", "secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate challenge")
			}
		})
	}
}

func TestHealthzIsPublic(t *testing.T) {
	h := newTestServer(t, &fakeService{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("hardening headers missing")
	}
}

func TestUpload_Completed(t *testing.T) {
	summary := domain.NewMergeSummary()
	summary.Added = append(summary.Added, "<b>index</b>.html")
	svc := &fakeService{op: &domain.Operation{Status: domain.StatusCompleted, Summary: summary}}
	h := newTestServer(t, svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "/api/upload", "site.zip", "PK\x03\x04", map[string]string{"allow_overwrite": "on"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if svc.gotName != "site.zip" || svc.gotBody != "PK\x03\x04" {
		t.Errorf("service got %q %q", svc.gotName, svc.gotBody)
	}
	if !svc.gotPolicy.AllowOverwrite || svc.gotPolicy.TargetDirectory != "/srv/www" {
		t.Errorf("policy = %+v", svc.gotPolicy)
	}
	if strings.Contains(rec.Body.String(), "<b>") {
		t.Errorf("response contains raw markup: %s", rec.Body.String())
	}
	out := decode(t, rec)
	if out["status"] != "completed" {
		t.Errorf("body = %v", out)
	}
}

func TestUpload_Aborted(t *testing.T) {
	tests := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.KindArchiveOpenFailed, http.StatusUnprocessableEntity},
		{domain.KindCollisionAbort, http.StatusUnprocessableEntity},
		{domain.KindWriteFailed, http.StatusInternalServerError},
		{domain.KindCanceled, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ee := domain.NewExtractError(tt.kind, "x", errors.New("boom"))
			ee.Partial = domain.NewMergeSummary()
			ee.Partial.Added = append(ee.Partial.Added, "done.txt")
			svc := &fakeService{
				op:  &domain.Operation{Status: domain.StatusFailed, Summary: ee.Partial},
				err: ee,
			}
			h := newTestServer(t, svc)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, uploadRequest(t, "/api/upload", "site.zip", "PK", nil))

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			out := decode(t, rec)
			if out["status"] != "aborted" || out["kind"] != string(tt.kind) {
				t.Errorf("body = %v", out)
			}
			partial, _ := out["partial"].(map[string]any)
			if added, _ := partial["added"].([]any); len(added) != 1 {
				t.Errorf("partial = %v", out["partial"])
			}
		})
	}
}

func TestUpload_StagingErrors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		body     string
		svcErr   error
		want     int
		wantCode string
	}{
		{"missing file field", "", "", nil, http.StatusBadRequest, "no_file"},
		{"wrong type", "a.txt", "x", staging.ErrInvalidFileType, http.StatusBadRequest, "invalid_file_type"},
		{"too large for staging", "a.zip", "x", staging.ErrFileTooLarge, http.StatusRequestEntityTooLarge, "file_too_large"},
		{"body over limit", "a.zip", strings.Repeat("x", 3<<20), nil, http.StatusRequestEntityTooLarge, "file_too_large"},
		{"io failure", "a.zip", "x", staging.ErrUpload, http.StatusInternalServerError, "upload_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, &fakeService{err: tt.svcErr})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, uploadRequest(t, "/api/upload", tt.filename, tt.body, nil))

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if out := decode(t, rec); out["error"] != tt.wantCode {
				t.Errorf("body = %v", out)
			}
		})
	}
}

func TestUpload_LogsAuthenticatedUser(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	s, err := New(Options{
		Service: &fakeService{op: &domain.Operation{Status: domain.StatusCompleted, Summary: domain.NewMergeSummary()}},
		Policy:  domain.UploadPolicy{TargetDirectory: "/srv/www", MaxSizeBytes: 1 << 10},
		Users:   map[string]string{"deploy": string(hash)},
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "/api/upload", "site.zip", "PK", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	for _, want := range []string{`msg="upload received"`, "user=deploy", "archive=site.zip"} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("log missing %q:\n%s", want, logs.String())
		}
	}
}

func TestUpload_MalformedFormIsNotTooLarge(t *testing.T) {
	h := newTestServer(t, &fakeService{})

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("--b\r\nnot a part"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=b")
	req.SetBasicAuth("deploy", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if out := decode(t, rec); out["error"] != "no_file" {
		t.Errorf("body = %v", out)
	}
}

func TestUpload_BadOverwriteFlag(t *testing.T) {
	h := newTestServer(t, &fakeService{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "/api/upload", "a.zip", "PK", map[string]string{"allow_overwrite": "maybe"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestPlan(t *testing.T) {
	plan := &domain.MergePlan{Items: []domain.PlanItem{
		{Entry: domain.ArchiveEntry{RawPath: "a.txt"}, Path: "a.txt", Decision: domain.Skip(domain.ReasonAlreadyExists)},
	}}
	svc := &fakeService{plan: plan, err: domain.NewExtractError(domain.KindCollisionAbort, "", errors.New("1 collision"))}
	h := newTestServer(t, svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "/api/plan", "site.zip", "PK", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	out := decode(t, rec)
	if out["collisions"] != float64(1) || out["kind"] != "collision_abort" {
		t.Errorf("body = %v", out)
	}
}

func TestHistory(t *testing.T) {
	svc := &fakeService{history: []*domain.Operation{{ID: 7, ArchiveName: "a.zip", Status: domain.StatusCompleted}}}
	h := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=5", nil)
	req.SetBasicAuth("deploy", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	ops, _ := decode(t, rec)["operations"].([]any)
	if len(ops) != 1 {
		t.Errorf("operations = %v", ops)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history?limit=-1", nil)
	req.SetBasicAuth("deploy", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, &fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/api/upload", nil)
	req.SetBasicAuth("deploy", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}
