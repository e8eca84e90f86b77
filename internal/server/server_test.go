package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/researchd/internal/checkpoint"
	"github.com/mohammad-safakhou/researchd/internal/events"
	"github.com/mohammad-safakhou/researchd/internal/store/inmemory"
	"github.com/mohammad-safakhou/researchd/internal/workflow"
	"github.com/mohammad-safakhou/researchd/models"
)

type fakeWorkers struct {
	exportErr error
}

func (fakeWorkers) Retrieve(context.Context, string, string) (string, error) { return "", nil }

func (fakeWorkers) Search(context.Context, string, int) ([]models.Source, error) {
	return []models.Source{{ID: "1", Title: "Wire", URL: "https://example.com", Quote: "Y leads X."}}, nil
}

func (fakeWorkers) Generate(_ context.Context, q string, _ models.Evidence, _ *models.Revision) (models.Report, error) {
	return models.Report{Summary: "Y leads X [1].", Citations: []models.Citation{{ID: "1", Source: "Wire", URL: "https://example.com"}}}, nil
}

func (fakeWorkers) Verify(context.Context, string, []models.EvidenceSource) (models.Verification, error) {
	return models.Verification{Score: 1, IsValid: true}, nil
}

func (fakeWorkers) Redact(_ context.Context, text string) (string, error) { return text, nil }

func (f fakeWorkers) Export(_ context.Context, name, _ string) (map[string]string, error) {
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	return map[string]string{"md": "/reports/" + name + ".md"}, nil
}

type recordingIndexer struct {
	mu   sync.Mutex
	docs []models.Document
	err  error
}

func (r *recordingIndexer) Index(_ context.Context, doc models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.docs = append(r.docs, doc)
	return nil
}

type testServer struct {
	srv  *Server
	jobs *inmemory.Store
	docs *recordingIndexer
}

func newTestServer(t *testing.T, w fakeWorkers, secret []byte) *testServer {
	t.Helper()
	mem := inmemory.New()
	docs := &recordingIndexer{}
	engine := workflow.New(w, mem, checkpoint.NewMemoryStore(),
		workflow.WithEmitter(events.NewEmitter(events.NewDirectPublisher(mem))))
	srv := New(Options{Engine: engine, Jobs: mem, Reports: mem, Documents: docs, JWTSecret: secret, RunTimeout: 5 * time.Second})
	return &testServer{srv: srv, jobs: mem, docs: docs}
}

func (ts *testServer) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.srv.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSubmitResumeLifecycle(t *testing.T) {
	ts := newTestServer(t, fakeWorkers{}, nil)

	rec := ts.do(t, http.MethodPost, "/api/research", `{"query":"Who leads X?","thread_id":"t1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[workflow.Result](t, rec)
	if res.Status != workflow.StatusWaitingForApproval || res.Interrupt == nil {
		t.Fatalf("expected suspension, got %+v", res)
	}

	rec = ts.do(t, http.MethodPost, "/api/research/t1/resume", `{"action":"approve"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	res = decode[workflow.Result](t, rec)
	if res.Status != workflow.StatusFinished || res.State.FinalReport["md"] != "/reports/t1.md" {
		t.Fatalf("unexpected finished result %+v", res)
	}

	rec = ts.do(t, http.MethodPost, "/api/research/t1/resume", `{"action":"approve"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second resume: expected 409 got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/research/t1/trace", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("trace: expected 200 got %d", rec.Code)
	}
	if entries := decode[[]workflow.TraceEntry](t, rec); len(entries) < 6 || entries[0].Version != 1 {
		t.Fatalf("unexpected trace %+v", entries)
	}

	rec = ts.do(t, http.MethodGet, "/api/research/t1", "")
	if got := decode[workflow.Result](t, rec); got.Status != workflow.StatusFinished {
		t.Fatalf("status endpoint: got %s", got.Status)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, fakeWorkers{}, nil)
	if rec := ts.do(t, http.MethodPost, "/api/research", `{"query":"q","thread_id":"t1"}`); rec.Code != http.StatusOK {
		t.Fatalf("seed submit: %d", rec.Code)
	}
	cases := []struct {
		name, method, path, body string
		want                     int
	}{
		{"empty query", http.MethodPost, "/api/research", `{"query":"  "}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/research", `{`, http.StatusBadRequest},
		{"invalid action", http.MethodPost, "/api/research/t1/resume", `{"action":"later"}`, http.StatusBadRequest},
		{"unknown thread", http.MethodGet, "/api/research/nope", "", http.StatusNotFound},
		{"unknown trace", http.MethodGet, "/api/research/nope/trace", "", http.StatusNotFound},
		{"resume unknown", http.MethodPost, "/api/research/nope/resume", `{"action":"deny"}`, http.StatusNotFound},
		{"thread exists", http.MethodPost, "/api/research", `{"query":"q","thread_id":"t1"}`, http.StatusConflict},
		{"unknown job", http.MethodGet, "/api/jobs/missing", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := ts.do(t, tc.method, tc.path, tc.body)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d got %d: %s", tc.name, tc.want, rec.Code, rec.Body.String())
			continue
		}
		if e := decode[HTTPError](t, rec); e.Error == "" {
			t.Errorf("%s: expected error body", tc.name)
		}
	}
}

func TestExportFailureIsBadGateway(t *testing.T) {
	ts := newTestServer(t, fakeWorkers{exportErr: errors.New("disk full")}, nil)
	ts.do(t, http.MethodPost, "/api/research", `{"query":"q","thread_id":"t1"}`)
	rec := ts.do(t, http.MethodPost, "/api/research/t1/resume", `{"action":"approve"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d: %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/api/research/t1/continue", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("continue while export still failing: expected 502 got %d", rec.Code)
	}
}

func TestAsyncSubmitTracksJob(t *testing.T) {
	ts := newTestServer(t, fakeWorkers{}, nil)
	rec := ts.do(t, http.MethodPost, "/api/research", `{"query":"Who leads X?","async":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rec.Code, rec.Body.String())
	}
	acc := decode[AcceptedResponse](t, rec)
	if acc.ThreadID == "" || acc.JobID == "" {
		t.Fatalf("expected ids, got %+v", acc)
	}
	ts.srv.Wait()

	rec = ts.do(t, http.MethodGet, "/api/jobs/"+acc.JobID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("job: expected 200 got %d", rec.Code)
	}
	job := decode[models.Job](t, rec)
	if job.Status != models.JobWaitingForApproval || job.Progress != 0.75 {
		t.Fatalf("expected suspended job at 0.75, got %s %.2f", job.Status, job.Progress)
	}

	ts.do(t, http.MethodPost, "/api/research/"+acc.ThreadID+"/resume", `{"action":"deny"}`)
	job = decode[models.Job](t, ts.do(t, http.MethodGet, "/api/jobs/"+acc.JobID, ""))
	if job.Status != models.JobCompleted || job.Progress != 1 {
		t.Fatalf("expected completed job, got %s %.2f", job.Status, job.Progress)
	}
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	secret := []byte("s3cret")
	ts := newTestServer(t, fakeWorkers{}, secret)

	if rec := ts.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz must stay public, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/research/t1", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/research/t1", "", "Authorization", "Bearer nonsense"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
	forged, err := SignJWT("mallory", []byte("other"), time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if rec := ts.do(t, http.MethodGet, "/api/research/t1", "", "Authorization", "Bearer "+forged); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", rec.Code)
	}

	tok, err := SignJWT("alice", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if rec := ts.do(t, http.MethodGet, "/api/research/t1", "", "Authorization", "Bearer "+tok); rec.Code != http.StatusNotFound {
		t.Fatalf("expected auth to pass through to 404, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/research/t1", "", "Cookie", "auth="+tok); rec.Code != http.StatusNotFound {
		t.Fatalf("expected cookie auth to pass, got %d", rec.Code)
	}
}

func TestAuthMiddlewareSetsSubject(t *testing.T) {
	secret := []byte("s3cret")
	tok, _ := SignJWT("alice", secret, time.Hour)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var sub string
	h := AuthMiddleware(secret)(func(c echo.Context) error {
		sub, _ = SubjectFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})
	if err := h(c); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if sub != "alice" || c.Get("user_id") != "alice" {
		t.Fatalf("expected subject alice, got %q / %v", sub, c.Get("user_id"))
	}

	expired, _ := SignJWT("alice", secret, -time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	if err := h(e.NewContext(req, httptest.NewRecorder())); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
