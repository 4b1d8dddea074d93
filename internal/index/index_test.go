package index

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/gitmarks/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "gitmarks-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM blobs`).Scan(&count); err != nil {
		t.Fatalf("blobs table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM entries`).Scan(&count); err != nil {
		t.Fatalf("entries table missing: %v", err)
	}
}

func TestBlobCache(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.GetBlob("alice/notes", "a.md", "s1"); err != nil || ok {
		t.Fatalf("GetBlob on empty cache = %v, %v", ok, err)
	}
	if err := db.PutBlob("alice/notes", "a.md", "s1", "one"); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	got, ok, err := db.GetBlob("alice/notes", "a.md", "s1")
	if err != nil || !ok || got != "one" {
		t.Fatalf("GetBlob = %q, %v, %v", got, ok, err)
	}

	if err := db.PutBlob("alice/notes", "a.md", "s2", "two"); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	if _, ok, _ := db.GetBlob("alice/notes", "a.md", "s1"); ok {
		t.Error("old sha still cached")
	}

	if err := db.ClearBlobs(); err != nil {
		t.Fatalf("ClearBlobs: %v", err)
	}
	if _, ok, _ := db.GetBlob("alice/notes", "a.md", "s2"); ok {
		t.Error("blob survived ClearBlobs")
	}
}

func TestBlobCache_SamePathInTwoRepos(t *testing.T) {
	db := testDB(t)

	if err := db.PutBlob("alice/notes", ".gitmarks/links.yaml", "s1", "a"); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	if err := db.PutBlob("alice/work", ".gitmarks/links.yaml", "s2", "b"); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	if got, ok, _ := db.GetBlob("alice/notes", ".gitmarks/links.yaml", "s1"); !ok || got != "a" {
		t.Errorf("alice/notes blob = %q, %v; evicted by the other repo", got, ok)
	}
	if got, ok, _ := db.GetBlob("alice/work", ".gitmarks/links.yaml", "s2"); !ok || got != "b" {
		t.Errorf("alice/work blob = %q, %v", got, ok)
	}
	if _, ok, _ := db.GetBlob("alice/work", ".gitmarks/links.yaml", "s1"); ok {
		t.Error("blob served across repositories")
	}
}

func note(key, title, text string, labels ...string) *models.Entry {
	return &models.Entry{
		Key:     key,
		Title:   title,
		Labels:  labels,
		Content: &models.NoteContent{Text: text},
	}
}

func TestSync(t *testing.T) {
	db := testDB(t)
	logger := quietLogger()

	entries := []*models.Entry{
		note("r:a.md", "Alpha", "first body", "go"),
		note("r:b.md", "Beta", "second body"),
		{Key: "link:https://x", Title: "X", Content: &models.LinkContent{Target: "https://x"}},
	}
	if err := Sync(db, entries, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	sums, err := db.AllChecksums()
	if err != nil {
		t.Fatalf("AllChecksums: %v", err)
	}
	if len(sums) != 3 {
		t.Fatalf("indexed %d entries, want 3", len(sums))
	}

	if err := Sync(db, entries[:1], logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	sums, _ = db.AllChecksums()
	if len(sums) != 1 {
		t.Errorf("stale entries kept: %v", sums)
	}
}

func TestSearch(t *testing.T) {
	db := testDB(t)
	entries := []*models.Entry{
		note("r:a.md", "Cooking", "a recipe for bread"),
		note("r:b.md", "Travel", "trains and planes"),
	}
	if err := Sync(db, entries, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	results, err := db.Search("bread", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Key != "r:a.md" || results[0].Kind != "note" {
		t.Errorf("result = %+v", results[0])
	}
}

func TestRowFromEntry_ChecksumTracksChanges(t *testing.T) {
	a := RowFromEntry(note("k", "T", "body"))
	b := RowFromEntry(note("k", "T", "body", "label"))
	if a.Checksum == b.Checksum {
		t.Error("label change did not change checksum")
	}
	if a.Labels == nil {
		t.Error("nil labels not normalised")
	}
}
