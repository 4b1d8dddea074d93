// Package provider defines the remote repository capabilities gitmarks
// depends on.
package provider

import (
	"context"

	"github.com/starford/gitmarks/internal/models"
)

// Listing entry types.
const (
	TypeFile = "file"
	TypeDir  = "dir"
)

// Tree entry types and modes.
const (
	TreeBlob      = "blob"
	TreeTree      = "tree"
	TreeCommit    = "commit"
	ModeBlob      = "100644"
	ModeExec      = "100755"
	ModeTree      = "040000"
	ModeLink      = "120000"
	ModeSubmodule = "160000"
	RefPrefix     = "heads/"
)

// ListEntry is one item of a directory listing.
type ListEntry struct {
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	DownloadURL string `json:"download_url"`
	Type        string `json:"type"`
}

// Ref is a named pointer to a commit.
type Ref struct {
	Name string `json:"ref"`
	SHA  string `json:"sha"`
}

// Commit is a commit object reduced to what the commit pipeline needs.
type Commit struct {
	SHA     string   `json:"sha"`
	TreeSHA string   `json:"tree"`
	Parents []string `json:"parents"`
	Message string   `json:"message"`
}

// TreeEntry is one entry of a flat tree listing. When creating a tree, either
// SHA or Content is set.
type TreeEntry struct {
	Path    string  `json:"path"`
	Mode    string  `json:"mode"`
	Type    string  `json:"type"`
	SHA     string  `json:"sha,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Tree is a tree listing. Truncated reports that the remote returned fewer
// entries than the tree holds.
type Tree struct {
	SHA       string      `json:"sha"`
	Truncated bool        `json:"truncated"`
	Entries   []TreeEntry `json:"tree"`
}

// Provider is a remote repository host.
//
// Lookups of missing refs, paths or objects return an error wrapping
// apperr.ErrNotFound.
type Provider interface {
	// Verify checks that repo is reachable and its branch can be read or
	// created.
	Verify(ctx context.Context, repo models.Repo) error
	// ListDir lists the direct children of path on repo's branch. The root
	// is "".
	ListDir(ctx context.Context, repo models.Repo, path string) ([]ListEntry, error)
	// FetchBlob returns the content of the file at path on repo's branch.
	FetchBlob(ctx context.Context, repo models.Repo, path string) ([]byte, error)

	GetRef(ctx context.Context, repo models.Repo, ref string) (Ref, error)
	GetCommit(ctx context.Context, repo models.Repo, sha string) (Commit, error)
	GetTree(ctx context.Context, repo models.Repo, sha string, recursive bool) (Tree, error)
	CreateTree(ctx context.Context, repo models.Repo, entries []TreeEntry) (Tree, error)
	CreateCommit(ctx context.Context, repo models.Repo, message, tree string, parents []string) (Commit, error)
	UpdateRef(ctx context.Context, repo models.Repo, ref, sha string, force bool) error
	CreateRef(ctx context.Context, repo models.Repo, ref, sha string) error
}

// BranchRef returns the ref name of repo's branch, "heads/<branch>".
func BranchRef(repo models.Repo) string {
	return RefPrefix + repo.Branch
}
