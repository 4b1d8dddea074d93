package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/provider/gitrepo"
	"github.com/starford/gitmarks/internal/session"
	"github.com/starford/gitmarks/internal/testutil"
)

func testServer(t *testing.T) (*Server, *session.Service) {
	t.Helper()

	store := gitrepo.New()
	repo := testutil.TestRepo(t, store, "alice", "notes", map[string]string{
		"hello.md": "# Hello\nSee https://go.dev",
	})
	svc := session.New(store, []models.Repo{repo},
		session.WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))))
	if _, err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return New(svc), svc
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// called directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_entries":
		result, err = srv.listEntries(ctx, req)
	case "read_entry":
		result, err = srv.readEntry(ctx, req)
	case "search_entries":
		result, err = srv.searchEntries(ctx, req)
	case "create_note":
		result, err = srv.createNote(ctx, req)
	case "add_link":
		result, err = srv.addLink(ctx, req)
	case "upload_document":
		result, err = srv.uploadDocument(ctx, req)
	case "staged_changes":
		result, err = srv.stagedChanges(ctx, req)
	case "commit_changes":
		result, err = srv.commitChanges(ctx, req)
	case "reload":
		result, err = srv.reload(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListAndReadEntries(t *testing.T) {
	srv, _ := testServer(t)

	var list []entrySummary
	if err := json.Unmarshal([]byte(resultText(callTool(t, srv, "list_entries", map[string]interface{}{}))), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Key != "alice/notes:hello.md" || list[1].Key != "link:https://go.dev" {
		t.Errorf("entries = %+v", list)
	}

	r := callTool(t, srv, "list_entries", map[string]interface{}{"kind": "link"})
	if !strings.Contains(resultText(r), "link:https://go.dev") || strings.Contains(resultText(r), "hello.md") {
		t.Errorf("links only = %s", resultText(r))
	}
	if r := callTool(t, srv, "list_entries", map[string]interface{}{"kind": "folder"}); !r.IsError {
		t.Error("expected error for unknown kind")
	}

	var e entryContent
	r = callTool(t, srv, "read_entry", map[string]interface{}{"key": "alice/notes:hello.md"})
	if err := json.Unmarshal([]byte(resultText(r)), &e); err != nil {
		t.Fatal(err)
	}
	if e.Text != "# Hello\nSee https://go.dev" || e.Path != "hello.md" {
		t.Errorf("entry = %+v", e)
	}
}

func TestReadEntryMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_entry", map[string]interface{}{"key": "alice/notes:nope.md"})
	if !r.IsError {
		t.Error("expected error for missing entry")
	}
}

func TestCreateNoteStageAndCommit(t *testing.T) {
	srv, svc := testServer(t)

	r := callTool(t, srv, "create_note", map[string]interface{}{
		"title":  "Test",
		"text":   "Hello https://example.com",
		"labels": []interface{}{"work"},
	})
	if text := resultText(r); text != "staged: alice/notes:Test.md" {
		t.Fatalf("create result = %q", text)
	}
	e, err := svc.EntryByKey("alice/notes:Test.md")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(e.Labels, ",") != "work" {
		t.Errorf("labels = %v", e.Labels)
	}

	staged := resultText(callTool(t, srv, "staged_changes", nil))
	if !strings.Contains(staged, "write Test.md") {
		t.Errorf("staged = %s", staged)
	}

	r = callTool(t, srv, "commit_changes", map[string]interface{}{"message": "from mcp"})
	if r.IsError {
		t.Fatalf("commit failed: %s", resultText(r))
	}
	if text := resultText(callTool(t, srv, "staged_changes", nil)); text != "nothing staged" {
		t.Errorf("staged after commit = %s", text)
	}
	if text := resultText(callTool(t, srv, "commit_changes", nil)); text != "nothing to commit" {
		t.Errorf("second commit = %s", text)
	}
}

func TestCreateNoteDuplicate(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "create_note", map[string]interface{}{"title": "hello", "text": "x"})
	if !r.IsError {
		t.Error("expected error for existing note")
	}
	r = callTool(t, srv, "create_note", map[string]interface{}{"title": "x"})
	if !r.IsError {
		t.Error("expected error for missing text")
	}
}

func TestAddLinkAndSearch(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "add_link", map[string]interface{}{"target": "https://pkg.go.dev", "title": "Packages"})
	if text := resultText(r); text != "staged: link:https://pkg.go.dev" {
		t.Fatalf("add_link = %q", text)
	}
	r = callTool(t, srv, "search_entries", map[string]interface{}{"query": "packages"})
	if !strings.Contains(resultText(r), "link:https://pkg.go.dev") {
		t.Errorf("search = %s", resultText(r))
	}
}

func TestUploadDocument_DataURI(t *testing.T) {
	srv, svc := testServer(t)

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	r := callTool(t, srv, "upload_document", map[string]interface{}{
		"url":      uri,
		"filename": "diagram.png",
		"location": "img",
	})
	if r.IsError {
		t.Fatalf("upload failed: %s", resultText(r))
	}
	var res uploadResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if res.Key != "alice/notes:img/diagram.png" || res.Size != len(png) {
		t.Errorf("result = %+v", res)
	}
	if f, err := svc.File("alice/notes", "img/diagram.png"); err != nil || f.Content != string(png) {
		t.Errorf("staged file = %v", err)
	}

	r = callTool(t, srv, "upload_document", map[string]interface{}{
		"url":      "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("not a png")),
		"filename": "fake.png",
	})
	if !r.IsError {
		t.Error("expected magic byte mismatch")
	}
}

func TestReloadTool(t *testing.T) {
	srv, svc := testServer(t)
	_ = callTool(t, srv, "create_note", map[string]interface{}{"title": "Draft", "text": "x"})

	r := callTool(t, srv, "reload", nil)
	if r.IsError {
		t.Fatalf("reload failed: %s", resultText(r))
	}
	if _, err := svc.EntryByKey("alice/notes:Draft.md"); err == nil {
		t.Error("staged note survived reload")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"../etc/passwd":   "passwd",
		"my file (1).png": "my_file__1_.png",
		"diagram.png":     "diagram.png",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
