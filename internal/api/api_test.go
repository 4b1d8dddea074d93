package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/provider/gitrepo"
	"github.com/starford/gitmarks/internal/session"
	"github.com/starford/gitmarks/internal/testutil"
)

var testFiles = map[string]string{
	"hello.md": "# Hello\nSee https://go.dev",
	"doc.pdf":  "%PDF-1.4",
}

// testEnv sets up an in-memory repository, a loaded session and a router.
// An empty token means auth is disabled.
func testEnv(t *testing.T, authToken string) (*session.Service, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*session.Service, http.Handler) {
	t.Helper()
	store := gitrepo.New()
	repo := testutil.TestRepo(t, store, "alice", "notes", testFiles)
	svc := session.New(store, []models.Repo{repo},
		session.WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))))
	if _, err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return svc, NewRouter(svc, authEnabled, token, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestListAndGetEntries(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/entries", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	list := decode[EntryListResponse](t, w)
	if list.Total != 3 {
		t.Fatalf("total = %d, want 3: %+v", list.Total, list.Entries)
	}
	var kinds []string
	for _, e := range list.Entries {
		kinds = append(kinds, e.Kind)
	}
	if strings.Join(kinds, ",") != "note,document,link" {
		t.Errorf("kinds = %v", kinds)
	}

	w = do(t, router, http.MethodGet, "/entries?kind=link", nil)
	if got := decode[EntryListResponse](t, w); got.Total != 1 || got.Entries[0].Key != "link:https://go.dev" {
		t.Errorf("links = %+v", got)
	}
	if w := do(t, router, http.MethodGet, "/entries?kind=folder", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown kind = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodGet, "/entries/0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	note := decode[EntryDetail](t, w)
	if note.Title != "hello" || note.Repo != "alice/notes" || note.Path != "hello.md" {
		t.Errorf("note = %+v", note)
	}
	if note.Text == nil || *note.Text != testFiles["hello.md"] || note.Checksum == "" {
		t.Errorf("text/checksum = %v / %q", note.Text, note.Checksum)
	}
	if note.RawURL != "/api/raw/alice/notes/hello.md" {
		t.Errorf("raw url = %q", note.RawURL)
	}

	link := decode[EntryDetail](t, do(t, router, http.MethodGet, "/entries/2", nil))
	if link.Target != "https://go.dev" || len(link.ReferencedBy) != 1 {
		t.Errorf("link = %+v", link)
	}
}

func TestGetEntry_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	if w := do(t, router, http.MethodGet, "/entries/99", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing entry = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/entries/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad idx = %d, want 400", w.Code)
	}
}

func TestCreateNote(t *testing.T) {
	_, router := testEnv(t, "")

	body := CreateNoteRequest{Location: "journal", Title: "Today", Text: "# Today", Labels: []string{"daily"}}
	w := do(t, router, http.MethodPost, "/entries/notes", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	e := decode[EntryDetail](t, w)
	if e.Key != "alice/notes:journal/Today.md" || strings.Join(e.Labels, ",") != "daily" {
		t.Errorf("entry = %+v", e)
	}

	if w := do(t, router, http.MethodPost, "/entries/notes", body); w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/entries/notes", CreateNoteRequest{Text: "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing title = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/entries/notes", CreateNoteRequest{Repo: "bob/none", Title: "x"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown repo = %d, want 404", w.Code)
	}
}

func TestUpdateEntry_IfMatch(t *testing.T) {
	_, router := testEnv(t, "")
	note := decode[EntryDetail](t, do(t, router, http.MethodGet, "/entries/0", nil))

	text := "# Hello again"
	data, _ := json.Marshal(UpdateEntryRequest{Text: &text})

	req := httptest.NewRequest(http.MethodPatch, "/entries/0", bytes.NewReader(data))
	req.Header.Set("If-Match", `"stale"`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("stale If-Match = %d, want 409", w.Code)
	}

	req = httptest.NewRequest(http.MethodPatch, "/entries/0", bytes.NewReader(data))
	req.Header.Set("If-Match", `"`+note.Checksum+`"`)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[EntryDetail](t, w); got.Text == nil || *got.Text != text {
		t.Errorf("text = %v", got.Text)
	}
}

func TestUpdateEntry_LabelsAndMove(t *testing.T) {
	_, router := testEnv(t, "")

	title, location := "Renamed", "archive"
	labels := []string{"b", "a"}
	w := do(t, router, http.MethodPatch, "/entries/0", UpdateEntryRequest{Title: &title, Location: &location, Labels: &labels})
	if w.Code != http.StatusOK {
		t.Fatalf("patch = %d, body = %s", w.Code, w.Body.String())
	}
	e := decode[EntryDetail](t, w)
	if e.Path != "archive/Renamed.md" || strings.Join(e.Labels, ",") != "a,b" {
		t.Errorf("entry = %+v", e)
	}

	standalone := true
	if w := do(t, router, http.MethodPatch, "/entries/0", UpdateEntryRequest{Standalone: &standalone}); w.Code != http.StatusBadRequest {
		t.Errorf("standalone on note = %d, want 400", w.Code)
	}
}

func TestLinks(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/entries/links", CreateLinkRequest{Title: "Example", Target: "https://example.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create link = %d, body = %s", w.Code, w.Body.String())
	}
	if e := decode[EntryDetail](t, w); e.Standalone != "alice/notes" {
		t.Errorf("standalone repo = %q", e.Standalone)
	}
	if w := do(t, router, http.MethodPost, "/entries/links", CreateLinkRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty target = %d, want 400", w.Code)
	}

	// The referenced go.dev link sorts last; deleting it is refused while
	// the note references it.
	list := decode[EntryListResponse](t, do(t, router, http.MethodGet, "/entries?kind=link", nil))
	var idx int
	for _, e := range list.Entries {
		if e.Key == "link:https://go.dev" {
			idx = e.Idx
		}
	}
	target := "/entries/" + strconv.Itoa(idx)
	if w := do(t, router, http.MethodDelete, target, nil); w.Code != http.StatusConflict {
		t.Errorf("delete referenced link = %d, want 409", w.Code)
	}

	text := "x"
	if w := do(t, router, http.MethodPatch, target, UpdateEntryRequest{Text: &text}); w.Code != http.StatusBadRequest {
		t.Errorf("text on link = %d, want 400", w.Code)
	}
	standalone := true
	w = do(t, router, http.MethodPatch, target, UpdateEntryRequest{Standalone: &standalone})
	if w.Code != http.StatusOK {
		t.Fatalf("make standalone = %d, body = %s", w.Code, w.Body.String())
	}
	if e := decode[EntryDetail](t, w); e.Standalone != "alice/notes" {
		t.Errorf("standalone repo = %q", e.Standalone)
	}
}

func TestDeleteEntryAndStaged(t *testing.T) {
	_, router := testEnv(t, "")

	if w := do(t, router, http.MethodDelete, "/entries/1", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d, body = %s", w.Code, w.Body.String())
	}
	w := do(t, router, http.MethodGet, "/staged", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("staged = %d", w.Code)
	}
	resp := decode[struct {
		Repos []StagedRepo `json:"repos"`
	}](t, w)
	if len(resp.Repos) != 1 || resp.Repos[0].Repo != "alice/notes" {
		t.Fatalf("staged = %+v", resp.Repos)
	}
	found := false
	for _, op := range resp.Repos[0].Ops {
		if op.Op == "remove" && op.Path == "doc.pdf" {
			found = true
		}
	}
	if !found {
		t.Errorf("ops = %+v, want remove doc.pdf", resp.Repos[0].Ops)
	}
}

func TestPosition(t *testing.T) {
	svc, router := testEnv(t, "")

	w := decode[PositionResponse](t, do(t, router, http.MethodGet, "/entries/0/position", nil))
	if w.Known {
		t.Errorf("position known before set: %+v", w)
	}
	if w := do(t, router, http.MethodPut, "/entries/0/position", PositionRequest{Position: 120}); w.Code != http.StatusOK {
		t.Fatalf("set position = %d", w.Code)
	}
	if pos, ok := svc.Positions().Get("alice/notes:hello.md"); !ok || pos != 120 {
		t.Errorf("stored position = %d, %v", pos, ok)
	}
	if w := do(t, router, http.MethodPut, "/entries/0/position", PositionRequest{Position: -1}); w.Code != http.StatusBadRequest {
		t.Errorf("negative position = %d, want 400", w.Code)
	}
}

func TestCommitAndReload(t *testing.T) {
	svc, router := testEnv(t, "")

	if w := do(t, router, http.MethodPost, "/entries/notes", CreateNoteRequest{Title: "New", Text: "fresh"}); w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	w := do(t, router, http.MethodPost, "/commit", CommitRequest{Message: "add note"})
	if w.Code != http.StatusOK {
		t.Fatalf("commit = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[struct {
		Results []session.CommitResult `json:"results"`
	}](t, w)
	if len(resp.Results) != 1 || !resp.Results[0].OK() || resp.Results[0].Result.CommitSHA == "" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if svc.HasStaged() {
		t.Errorf("staged after commit: %v", svc.Staged())
	}

	w = do(t, router, http.MethodPost, "/reload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reload = %d", w.Code)
	}
	if rep := decode[session.ReloadReport](t, w); rep.Entries != 4 || rep.Staged != 0 {
		t.Errorf("report = %+v", rep)
	}
}

func TestRaw(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/raw/alice/notes/hello.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("raw = %d", w.Code)
	}
	if w.Body.String() != testFiles["hello.md"] {
		t.Errorf("body = %q", w.Body.String())
	}
	if w := do(t, router, http.MethodGet, "/raw/alice/notes/missing.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing raw = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/raw/bob/other/hello.md", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown repo raw = %d, want 404", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	if w := do(t, router, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
	w := do(t, router, http.MethodGet, "/search?q=hello", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	resp := decode[SearchResponse](t, w)
	if len(resp.Results) == 0 || resp.Results[0].Key != "alice/notes:hello.md" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestRepos(t *testing.T) {
	_, router := testEnv(t, "")

	resp := decode[struct {
		Repos []models.Repo `json:"repos"`
	}](t, do(t, router, http.MethodPost, "/repos/verify", nil))
	if len(resp.Repos) != 1 || resp.Repos[0].Status != models.VerifySuccess {
		t.Errorf("repos = %+v", resp.Repos)
	}
	if w := do(t, router, http.MethodGet, "/repos", nil); w.Code != http.StatusOK {
		t.Errorf("list repos = %d", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/entries", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	if w := do(t, router, http.MethodGet, "/entries", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/entries", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// SSE endpoint auth tests.

// blockingSSE writes headers and blocks until the request context is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret", blockingSSE)

	if w := do(t, router, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with query token should not 401")
	}
}

func TestAuthMiddleware_QueryTokenOnlyForGet(t *testing.T) {
	_, router := testEnv(t, "tok")

	if w := do(t, router, http.MethodPost, "/reload?access_token=tok", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("POST with query token = %d, want 401", w.Code)
	}
	w := do(t, router, http.MethodGet, "/entries?access_token=wrong", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong query token = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("missing WWW-Authenticate header")
	}
}

// Document upload tests.

func uploadFile(t *testing.T, router http.Handler, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(part, bytes.NewReader(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/entries/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadDocument(t *testing.T) {
	svc, router := testEnv(t, "")

	w := uploadFile(t, router, "report.png", []byte("fake-png-data"), map[string]string{"location": "img", "labels": "scan"})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode[DocumentUploadResponse](t, w)
	if resp.Entry.Path != "img/report.png" || resp.Entry.Kind != "document" || resp.Size != 13 {
		t.Errorf("response = %+v", resp)
	}
	f, err := svc.File("alice/notes", "img/report.png")
	if err != nil || f.Content != "fake-png-data" {
		t.Errorf("staged file = %+v, %v", f, err)
	}

	if w := uploadFile(t, router, "report.png", []byte("again"), map[string]string{"location": "img"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate upload = %d, want 409", w.Code)
	}
}

func TestUploadDocument_MissingFileField(t *testing.T) {
	_, router := testEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("wrong", "data")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/entries/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing field = %d, want 400", w.Code)
	}
}

func TestSafeName(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a/b.txt", `a\b.txt`} {
		if _, err := safeName(name); err == nil {
			t.Errorf("safeName(%q) accepted", name)
		}
	}
	if got, err := safeName("scan.pdf"); err != nil || got != "scan.pdf" {
		t.Errorf("safeName(scan.pdf) = %q, %v", got, err)
	}
}
