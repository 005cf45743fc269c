package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/storage/memory"
)

func newTestServer(t *testing.T, maxUpload int64) (*Server, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	dir := t.TempDir()
	return NewServer(Options{Store: store, FilesDir: dir, MaxUploadBytes: maxUpload}), store, dir
}

func do(t *testing.T, h http.Handler, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) domain.ErrorCode {
	t.Helper()
	return decode[struct {
		Error domain.APIError `json:"error"`
	}](t, rec).Error.Code
}

// seedConversation creates conversations in call order; the store stamps them.
func seedConversation(t *testing.T, store *memory.Store, id, name string) {
	t.Helper()
	err := store.CreateConversation(context.Background(), &domain.Conversation{ID: id, Name: name})
	if err != nil {
		t.Fatal(err)
	}
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, 0)
	rec := do(t, s, "GET", "/healthz", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestConversationLifecycle(t *testing.T) {
	s, _, _ := newTestServer(t, 0)

	rec := do(t, s, "POST", "/conversation/new", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("new: status = %d", rec.Code)
	}
	created := decode[NewConversationResponse](t, rec)
	if !strings.HasPrefix(created.ID, "conv_") || created.Name != DefaultConversationName {
		t.Fatalf("new = %+v", created)
	}

	rec = do(t, s, "GET", "/conversation/"+created.ID, nil, "")
	conv := decode[domain.Conversation](t, rec)
	if conv.ID != created.ID || conv.State.CurrentAgent != nil {
		t.Errorf("get = %+v", conv)
	}

	rec = do(t, s, "PATCH", "/conversation/"+created.ID, []byte(`{"name":"renamed"}`), "application/json")
	if got := decode[domain.Conversation](t, rec); got.Name != "renamed" {
		t.Errorf("rename = %+v", got)
	}

	rec = do(t, s, "DELETE", "/conversation/"+created.ID, nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}

	for _, tc := range []struct{ method, body string }{
		{"GET", ""},
		{"PATCH", `{"name":"x"}`},
		{"DELETE", ""},
	} {
		rec = do(t, s, tc.method, "/conversation/"+created.ID, []byte(tc.body), "application/json")
		if rec.Code != http.StatusNotFound || errorCode(t, rec) != domain.ErrorCodeConversationNotFound {
			t.Errorf("%s after delete = %d %s", tc.method, rec.Code, rec.Body.String())
		}
	}
}

func TestListConversations(t *testing.T) {
	s, store, _ := newTestServer(t, 0)
	seedConversation(t, store, "conv_a", "alpha")
	seedConversation(t, store, "conv_b", "beta")
	seedConversation(t, store, "conv_c", "alphabet")

	names := func(resp ConversationListResponse) string {
		var out []string
		for _, c := range resp.Data {
			out = append(out, c.Name)
		}
		return strings.Join(out, ",")
	}

	tests := []struct {
		query     string
		wantNames string
		wantTotal int
	}{
		{"", "alphabet,beta,alpha", 3},
		{"?sort_field=name&sort_order=asc", "alpha,alphabet,beta", 3},
		{"?sort_field=created_at&sort_order=asc&per_page=2&page=2", "alphabet", 3},
		{"?q=alpha&sort_field=name&sort_order=asc", "alpha,alphabet", 2},
		{"?name=beta", "beta", 1},
		{"?page=5", "", 3},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(t, s, "GET", "/conversation/list"+tt.query, nil, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
			}
			resp := decode[ConversationListResponse](t, rec)
			if got := names(resp); got != tt.wantNames {
				t.Errorf("names = %q, want %q", got, tt.wantNames)
			}
			if resp.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", resp.Total, tt.wantTotal)
			}
		})
	}
}

func TestListConversations_InvalidParams(t *testing.T) {
	s, _, _ := newTestServer(t, 0)
	for _, q := range []string{"?sort_field=bogus", "?sort_order=sideways", "?page=0", "?per_page=x"} {
		rec := do(t, s, "GET", "/conversation/list"+q, nil, "")
		if rec.Code != http.StatusBadRequest || errorCode(t, rec) != domain.ErrorCodeInvalidParameter {
			t.Errorf("%s = %d %s", q, rec.Code, rec.Body.String())
		}
	}
}

func TestListMessages(t *testing.T) {
	s, store, _ := newTestServer(t, 0)
	ctx := context.Background()
	seedConversation(t, store, "conv_1", "c")

	if err := store.CreateFile(ctx, &domain.File{ID: "file_1", Name: "notes.txt", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	for _, m := range []*domain.Message{
		{ID: "msg_1", ConversationID: "conv_1", Role: domain.RoleUser, Content: "read this", FileID: "file_1"},
		{ID: "msg_2", ConversationID: "conv_1", Role: domain.RoleAssistant, Content: "done", Agent: "triage"},
	} {
		if err := store.CreateMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	rec := do(t, s, "GET", "/message/list?conversation_id=conv_1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got []struct {
		ID    string   `json:"id"`
		Agent string   `json:"agent"`
		File  *FileRef `json:"file"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages", len(got))
	}
	if got[0].File == nil || got[0].File.Filename != "notes.txt" {
		t.Errorf("first message file = %+v", got[0].File)
	}
	if got[1].File != nil || got[1].Agent != "triage" {
		t.Errorf("second message = %+v", got[1])
	}
	if !strings.Contains(rec.Body.String(), `"file":null`) {
		t.Errorf("message without a file should carry file:null, got %s", rec.Body.String())
	}

	rec = do(t, s, "GET", "/message/list", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing conversation_id: status = %d", rec.Code)
	}
	rec = do(t, s, "GET", "/message/list?conversation_id=conv_missing", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown conversation: status = %d", rec.Code)
	}
}

func multipartBody(t *testing.T, field, filename string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes(), mw.FormDataContentType()
}

func TestUploadFile(t *testing.T) {
	s, store, _ := newTestServer(t, 1<<20)

	body, ct := multipartBody(t, "file", "report.csv", []byte("a,b\n1,2\n"))
	rec := do(t, s, "POST", "/file/upload", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	file := decode[domain.File](t, rec)
	if !strings.HasPrefix(file.ID, "file_") || file.Name != "report.csv" || file.Size != 8 {
		t.Errorf("file = %+v", file)
	}

	stored, err := store.GetFile(context.Background(), file.ID)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(stored.Path)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("stored content = %q", data)
	}

	rec = do(t, s, "GET", "/file/"+file.ID, nil, "")
	if got := decode[domain.File](t, rec); got.ID != file.ID {
		t.Errorf("get = %+v", got)
	}
	if strings.Contains(rec.Body.String(), stored.Path) {
		t.Error("file metadata should not expose the storage path")
	}

	rec = do(t, s, "GET", "/file/file_missing", nil, "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != domain.ErrorCodeFileNotFound {
		t.Errorf("missing file = %d %s", rec.Code, rec.Body.String())
	}
}

func TestUploadFile_Rejected(t *testing.T) {
	s, _, dir := newTestServer(t, 256)

	body, ct := multipartBody(t, "file", "big.bin", bytes.Repeat([]byte("x"), 1024))
	rec := do(t, s, "POST", "/file/upload", body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge || errorCode(t, rec) != domain.ErrorCodeFileTooLarge {
		t.Errorf("too large = %d %s", rec.Code, rec.Body.String())
	}

	body, ct = multipartBody(t, "other", "a.txt", []byte("x"))
	rec = do(t, s, "POST", "/file/upload", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing field = %d", rec.Code)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("rejected uploads left %d files behind", len(entries))
	}
}

func TestRunEvents(t *testing.T) {
	s, store, _ := newTestServer(t, 0)
	ctx := context.Background()
	for _, typ := range []string{"run.started", "run.completed"} {
		if err := store.AppendRunEvent(ctx, &domain.RunEventRecord{ID: "evt_" + typ, RunID: "run_1", Type: typ}); err != nil {
			t.Fatal(err)
		}
	}

	rec := do(t, s, "GET", "/run/run_1/events", nil, "")
	events := decode[[]domain.RunEventRecord](t, rec)
	if len(events) != 2 || events[0].Type != "run.started" {
		t.Errorf("events = %+v", events)
	}

	rec = do(t, s, "GET", "/run/run_none/events", nil, "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("unknown run = %s", rec.Body.String())
	}
}
