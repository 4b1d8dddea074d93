// Package testutil provides shared test helpers for setting up repositories and databases.
package testutil

import (
	"context"
	"os"
	"sort"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/starford/gitmarks/internal/index"
	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/provider"
	"github.com/starford/gitmarks/internal/provider/gitrepo"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "gitmarks-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRepo registers a verified in-memory repository owner/name with store
// and commits files to its main branch. With no files the branch is not
// created.
func TestRepo(t *testing.T, store *gitrepo.Store, owner, name string, files map[string]string) models.Repo {
	t.Helper()
	r, err := git.Init(memory.NewStorage(), nil)
	if err != nil {
		t.Fatal(err)
	}
	repo := models.NewRepo(owner, name, "main")
	repo.Status = models.VerifySuccess
	store.Register(repo, r)
	if len(files) > 0 {
		Commit(t, store, repo, files)
	}
	return repo
}

// TestDiskRepo creates an empty bare repository in a temporary directory.
func TestDiskRepo(t *testing.T, owner, name string) models.Repo {
	t.Helper()
	dir := t.TempDir()
	if _, err := git.PlainInit(dir, true); err != nil {
		t.Fatal(err)
	}
	repo := models.NewRepo(owner, name, "main")
	repo.Path = dir
	repo.Status = models.VerifySuccess
	return repo
}

// Commit replaces the content of repo's branch with files, as a remote
// push would.
func Commit(t *testing.T, store *gitrepo.Store, repo models.Repo, files map[string]string) string {
	t.Helper()
	ctx := context.Background()

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	entries := make([]provider.TreeEntry, 0, len(files))
	for _, p := range paths {
		content := files[p]
		entries = append(entries, provider.TreeEntry{Path: p, Mode: provider.ModeBlob, Type: provider.TreeBlob, Content: &content})
	}
	tree, err := store.CreateTree(ctx, repo, entries)
	if err != nil {
		t.Fatalf("create tree: %v", err)
	}

	var parents []string
	ref, refErr := store.GetRef(ctx, repo, provider.BranchRef(repo))
	if refErr == nil {
		parents = []string{ref.SHA}
	}
	c, err := store.CreateCommit(ctx, repo, "test commit", tree.SHA, parents)
	if err != nil {
		t.Fatalf("create commit: %v", err)
	}
	if refErr == nil {
		err = store.UpdateRef(ctx, repo, provider.BranchRef(repo), c.SHA, false)
	} else {
		err = store.CreateRef(ctx, repo, provider.BranchRef(repo), c.SHA)
	}
	if err != nil {
		t.Fatalf("update ref: %v", err)
	}
	return c.SHA
}
