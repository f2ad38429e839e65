package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/extract"
	"github.com/hyperjump/kaiwa/internal/indexer"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/session"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, maxSessions int) http.Handler {
	t.Helper()
	emb := embedding.NewMockEmbedder(512)
	chunker, err := indexer.NewChunker(10, 3)
	if err != nil {
		t.Fatal(err)
	}
	deps := session.Deps{
		Indexer:   indexer.NewIndexer(extract.NewExtractor(), chunker, emb),
		Embedder:  emb,
		Generator: llm.Echo{},
	}
	m := session.NewManager(deps, session.Options{TopK: 4}, maxSessions, 0)
	t.Cleanup(func() { _ = m.Close() })
	srv := NewServer(m, &config.ServerConfig{MaxUploadBytes: 1 << 20}, zap.NewNop())
	return srv.Router()
}

func do(t *testing.T, h http.Handler, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	r := httptest.NewRequest(method, path, body)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func multipartFiles(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/v1/sessions", nil, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: status %d: %s", w.Code, w.Body.String())
	}
	var st session.Status
	decode(t, w, &st)
	if st.ID == "" || st.State != session.StateEmpty {
		t.Fatalf("created session = %+v", st)
	}
	return st.ID
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, 0)
	w := do(t, h, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSessionFlow(t *testing.T) {
	h := newTestServer(t, 0)
	id := createSession(t, h)
	base := "/api/v1/sessions/" + id

	body, ct := multipartFiles(t, map[string]string{"notes.txt": "Alpha Beta. Gamma Delta."})
	w := do(t, h, http.MethodPost, base+"/documents", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: status %d: %s", w.Code, w.Body.String())
	}
	var up uploadResponse
	decode(t, w, &up)
	if up.Pending != 1 || len(up.Uploaded) != 1 || up.Uploaded[0].Name != "notes.txt" {
		t.Errorf("upload response = %+v", up)
	}

	w = do(t, h, http.MethodPost, base+"/process", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("process: status %d: %s", w.Code, w.Body.String())
	}
	var report models.ProcessReport
	decode(t, w, &report)
	if report.Chunks != 3 {
		t.Errorf("report = %+v", report)
	}

	w = do(t, h, http.MethodPost, base+"/ask", bytes.NewBufferString(`{"question":"  "}`), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty question: status %d", w.Code)
	}

	w = do(t, h, http.MethodPost, base+"/ask", bytes.NewBufferString(`{"question":"What is Alpha?"}`), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("ask: status %d: %s", w.Code, w.Body.String())
	}
	var answer models.Answer
	decode(t, w, &answer)
	if answer.Text != "Alpha Beta" || len(answer.Sources) == 0 || !strings.Contains(answer.Sources[0].Text, "Alpha") {
		t.Errorf("answer = %+v", answer)
	}

	w = do(t, h, http.MethodGet, base+"/history", nil, "")
	var hist historyResponse
	decode(t, w, &hist)
	if len(hist.Turns) != 2 || hist.Turns[0].Message != "What is Alpha?" {
		t.Errorf("history = %+v", hist)
	}

	w = do(t, h, http.MethodGet, base, nil, "")
	var st session.Status
	decode(t, w, &st)
	if st.State != session.StateReady || st.Chunks != 3 || st.Turns != 2 {
		t.Errorf("status = %+v", st)
	}

	w = do(t, h, http.MethodDelete, base, nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("delete: status %d", w.Code)
	}
	w = do(t, h, http.MethodGet, base, nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d", w.Code)
	}
}

func TestErrorStatuses(t *testing.T) {
	h := newTestServer(t, 0)
	id := createSession(t, h)
	base := "/api/v1/sessions/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
		msg    string
	}{
		{"ask before process", http.MethodPost, base + "/ask", `{"question":"hi"}`, http.StatusConflict, "no documents processed"},
		{"process without uploads", http.MethodPost, base + "/process", "", http.StatusConflict, "no documents uploaded"},
		{"bad json", http.MethodPost, base + "/ask", `{`, http.StatusBadRequest, "invalid request body"},
		{"unknown session", http.MethodGet, "/api/v1/sessions/nope", "", http.StatusNotFound, "session not found"},
		{"upload without multipart", http.MethodPost, base + "/documents", "x", http.StatusBadRequest, "invalid multipart form"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, bytes.NewBufferString(tt.body), "application/json")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if tt.msg != "" && !strings.Contains(w.Body.String(), tt.msg) {
				t.Errorf("body = %s, want %q", w.Body.String(), tt.msg)
			}
		})
	}
}

func TestExtractionFailureIs422(t *testing.T) {
	h := newTestServer(t, 0)
	base := "/api/v1/sessions/" + createSession(t, h)

	body, ct := multipartFiles(t, map[string]string{"scan.bin": "\x00\x01"})
	if w := do(t, h, http.MethodPost, base+"/documents", body, ct); w.Code != http.StatusOK {
		t.Fatalf("upload: status %d", w.Code)
	}
	w := do(t, h, http.MethodPost, base+"/process", nil, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("process: status %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "extraction failed for scan.bin") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestTooManySessions(t *testing.T) {
	h := newTestServer(t, 1)
	createSession(t, h)
	w := do(t, h, http.MethodPost, "/api/v1/sessions", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.NewEmbeddingError(errBoom), http.StatusBadGateway},
		{models.NewGenerationError(errBoom), http.StatusBadGateway},
		{models.NewExtractionError("a.pdf", errBoom), http.StatusUnprocessableEntity},
		{models.NewEmbeddingError(contextDeadline()), http.StatusGatewayTimeout},
		{errBoom, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

var errBoom = errors.New("boom")

func contextDeadline() error {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()
	return ctx.Err()
}

func TestDiscardUploads(t *testing.T) {
	h := newTestServer(t, 0)
	id := createSession(t, h)
	base := "/api/v1/sessions/" + id

	body, ct := multipartFiles(t, map[string]string{"a.txt": "Alpha", "b.txt": "Beta"})
	if w := do(t, h, http.MethodPost, base+"/documents", body, ct); w.Code != http.StatusOK {
		t.Fatalf("upload: status %d", w.Code)
	}

	w := do(t, h, http.MethodDelete, base+"/documents", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("discard: status %d: %s", w.Code, w.Body.String())
	}
	var got map[string]int
	decode(t, w, &got)
	if got["discarded"] != 2 {
		t.Errorf("discarded = %d, want 2", got["discarded"])
	}

	w = do(t, h, http.MethodGet, base, nil, "")
	var st session.Status
	decode(t, w, &st)
	if st.State != session.StateEmpty || len(st.Uploads) != 0 {
		t.Errorf("status after discard = %+v", st)
	}

	w = do(t, h, http.MethodPost, base+"/process", nil, "")
	if w.Code != http.StatusConflict {
		t.Errorf("process after discard: status %d, want 409", w.Code)
	}
}
