// Package gitrepo implements provider.Provider on top of go-git
// repositories, either on disk or in memory.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/starford/gitmarks/internal/apperr"
	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/provider"
)

// Option configures a Store.
type Option func(*Store)

// WithAuthor sets the identity recorded on created commits.
func WithAuthor(name, email string) Option {
	return func(s *Store) { s.authorName, s.authorEmail = name, email }
}

// WithMaxTreeEntries caps recursive tree listings. Larger trees are reported
// as truncated. Zero means no limit.
func WithMaxTreeEntries(n int) Option {
	return func(s *Store) { s.maxTreeEntries = n }
}

// WithRawBase sets the prefix of download URLs.
func WithRawBase(base string) Option {
	return func(s *Store) { s.rawBase = strings.TrimRight(base, "/") }
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

type handle struct {
	mu   sync.Mutex
	repo *git.Repository
}

// Store serves configured repositories. Operations on one repository are
// serialized; different repositories proceed in parallel.
type Store struct {
	authorName     string
	authorEmail    string
	maxTreeEntries int
	rawBase        string
	now            func() time.Time
	logger         *slog.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

var _ provider.Provider = (*Store)(nil)

// New returns a Store without repositories.
func New(opts ...Option) *Store {
	s := &Store{
		authorName:  "gitmarks",
		authorEmail: "gitmarks@localhost",
		rawBase:     "/api/raw",
		now:         time.Now,
		logger:      slog.Default(),
		handles:     make(map[string]*handle),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register serves repo from r, replacing any repository opened before.
func (s *Store) Register(repo models.Repo, r *git.Repository) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[repo.ID()] = &handle{repo: r}
}

// Open opens the repository at path, a bare repository or a working copy.
func Open(dir string) (*git.Repository, error) {
	fs := osfs.New(dir)
	if fi, err := fs.Stat(git.GitDirName); err == nil && fi.IsDir() {
		dot, err := fs.Chroot(git.GitDirName)
		if err != nil {
			return nil, fmt.Errorf("gitrepo: open %s: %w", dir, err)
		}
		fs = dot
	}
	st := filesystem.NewStorage(fs, cache.NewObjectLRUDefault())
	r, err := git.Open(st, nil)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("gitrepo: open %s: %w", dir, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gitrepo: open %s: %w", dir, err)
	}
	return r, nil
}

func (s *Store) handle(repo models.Repo) (*handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[repo.ID()]; ok {
		return h, nil
	}
	if repo.Path == "" {
		return nil, fmt.Errorf("gitrepo: %s has no path: %w", repo.ID(), apperr.ErrNotFound)
	}
	r, err := Open(repo.Path)
	if err != nil {
		return nil, err
	}
	h := &handle{repo: r}
	s.handles[repo.ID()] = h
	return h, nil
}

// with runs fn with exclusive access to repo.
func (s *Store) with(ctx context.Context, repo models.Repo, fn func(*git.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h, err := s.handle(repo)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.repo)
}

func refName(ref string) plumbing.ReferenceName {
	return plumbing.ReferenceName("refs/" + strings.TrimPrefix(ref, "refs/"))
}

func notFound(err error) bool {
	return errors.Is(err, plumbing.ErrReferenceNotFound) ||
		errors.Is(err, plumbing.ErrObjectNotFound) ||
		errors.Is(err, object.ErrDirectoryNotFound) ||
		errors.Is(err, object.ErrFileNotFound) ||
		errors.Is(err, object.ErrEntryNotFound)
}

func wrap(op, what string, err error) error {
	if notFound(err) {
		return fmt.Errorf("gitrepo: %s %s: %w", op, what, apperr.ErrNotFound)
	}
	return fmt.Errorf("gitrepo: %s %s: %w", op, what, err)
}

func (s *Store) branchTree(r *git.Repository, repo models.Repo) (*object.Tree, error) {
	ref, err := r.Reference(plumbing.NewBranchReferenceName(repo.Branch), true)
	if err != nil {
		return nil, wrap("branch", repo.Branch, err)
	}
	c, err := r.CommitObject(ref.Hash())
	if err != nil {
		return nil, wrap("commit", ref.Hash().String(), err)
	}
	t, err := c.Tree()
	if err != nil {
		return nil, wrap("tree", c.TreeHash.String(), err)
	}
	return t, nil
}

// RawURL is the download URL of path in repo.
func (s *Store) RawURL(repo models.Repo, p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return s.rawBase + "/" + url.PathEscape(repo.Owner) + "/" + url.PathEscape(repo.Name) + "/" + strings.Join(parts, "/")
}

// Verify checks that the repository opens. A missing branch is fine; the
// first commit creates it.
func (s *Store) Verify(ctx context.Context, repo models.Repo) error {
	return s.with(ctx, repo, func(r *git.Repository) error {
		_, err := r.Reference(plumbing.NewBranchReferenceName(repo.Branch), true)
		if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return wrap("verify", repo.ID(), err)
		}
		return nil
	})
}

func (s *Store) ListDir(ctx context.Context, repo models.Repo, dir string) ([]provider.ListEntry, error) {
	var out []provider.ListEntry
	err := s.with(ctx, repo, func(r *git.Repository) error {
		t, err := s.branchTree(r, repo)
		if err != nil {
			return err
		}
		if dir != "" {
			if t, err = t.Tree(dir); err != nil {
				return wrap("list", dir, err)
			}
		}
		for _, e := range t.Entries {
			full := path.Join(dir, e.Name)
			le := provider.ListEntry{Path: full, SHA: e.Hash.String(), Type: provider.TypeFile}
			if e.Mode == filemode.Dir {
				le.Type = provider.TypeDir
			} else if e.Mode == filemode.Submodule {
				continue
			} else {
				le.DownloadURL = s.RawURL(repo, full)
			}
			out = append(out, le)
		}
		return nil
	})
	return out, err
}

func (s *Store) FetchBlob(ctx context.Context, repo models.Repo, p string) ([]byte, error) {
	var out []byte
	err := s.with(ctx, repo, func(r *git.Repository) error {
		t, err := s.branchTree(r, repo)
		if err != nil {
			return err
		}
		f, err := t.File(p)
		if err != nil {
			return wrap("fetch", p, err)
		}
		rd, err := f.Reader()
		if err != nil {
			return wrap("fetch", p, err)
		}
		defer rd.Close()
		out, err = io.ReadAll(rd)
		if err != nil {
			return wrap("fetch", p, err)
		}
		return nil
	})
	return out, err
}

func (s *Store) GetRef(ctx context.Context, repo models.Repo, ref string) (provider.Ref, error) {
	var out provider.Ref
	err := s.with(ctx, repo, func(r *git.Repository) error {
		rf, err := r.Reference(refName(ref), true)
		if err != nil {
			return wrap("ref", ref, err)
		}
		out = provider.Ref{Name: ref, SHA: rf.Hash().String()}
		return nil
	})
	return out, err
}

func (s *Store) GetCommit(ctx context.Context, repo models.Repo, sha string) (provider.Commit, error) {
	var out provider.Commit
	err := s.with(ctx, repo, func(r *git.Repository) error {
		c, err := r.CommitObject(plumbing.NewHash(sha))
		if err != nil {
			return wrap("commit", sha, err)
		}
		out = toCommit(c)
		return nil
	})
	return out, err
}

func toCommit(c *object.Commit) provider.Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return provider.Commit{
		SHA:     c.Hash.String(),
		TreeSHA: c.TreeHash.String(),
		Parents: parents,
		Message: c.Message,
	}
}

func (s *Store) GetTree(ctx context.Context, repo models.Repo, sha string, recursive bool) (provider.Tree, error) {
	out := provider.Tree{SHA: sha}
	err := s.with(ctx, repo, func(r *git.Repository) error {
		t, err := r.TreeObject(plumbing.NewHash(sha))
		if err != nil {
			return wrap("tree", sha, err)
		}
		if !recursive {
			for _, e := range t.Entries {
				out.Entries = append(out.Entries, treeEntry(e.Name, e))
			}
			return nil
		}
		w := object.NewTreeWalker(t, true, nil)
		defer w.Close()
		for {
			name, e, err := w.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return wrap("tree", sha, err)
			}
			if s.maxTreeEntries > 0 && len(out.Entries) == s.maxTreeEntries {
				out.Truncated = true
				break
			}
			out.Entries = append(out.Entries, treeEntry(name, e))
		}
		return nil
	})
	return out, err
}

func treeEntry(p string, e object.TreeEntry) provider.TreeEntry {
	typ := provider.TreeBlob
	switch e.Mode {
	case filemode.Dir:
		typ = provider.TreeTree
	case filemode.Submodule:
		typ = provider.TreeCommit
	}
	return provider.TreeEntry{
		Path: p,
		Mode: fmt.Sprintf("%06o", uint32(e.Mode)),
		Type: typ,
		SHA:  e.Hash.String(),
	}
}

// CreateTree writes the tree described by a flat blob listing and returns
// its root. Entries of type tree are ignored; directories are derived from
// the blob paths. Submodule entries point at commits of another repository
// and are written as given.
func (s *Store) CreateTree(ctx context.Context, repo models.Repo, entries []provider.TreeEntry) (provider.Tree, error) {
	var out provider.Tree
	err := s.with(ctx, repo, func(r *git.Repository) error {
		root := newDirNode()
		for _, e := range entries {
			if e.Type == provider.TreeTree {
				continue
			}
			te, err := s.blobEntry(r, e)
			if err != nil {
				return err
			}
			if err := root.insert(strings.Split(e.Path, "/"), te); err != nil {
				return err
			}
		}
		h, err := root.write(r.Storer)
		if err != nil {
			return fmt.Errorf("gitrepo: create tree: %w", err)
		}
		out = provider.Tree{SHA: h.String(), Entries: entries}
		return nil
	})
	return out, err
}

func (s *Store) blobEntry(r *git.Repository, e provider.TreeEntry) (object.TreeEntry, error) {
	mode, err := filemode.New(e.Mode)
	if err != nil {
		return object.TreeEntry{}, fmt.Errorf("gitrepo: %s: mode %q: %w", e.Path, e.Mode, apperr.ErrInvalidInput)
	}
	if e.Type == provider.TreeCommit || mode == filemode.Submodule {
		if e.Content != nil {
			return object.TreeEntry{}, fmt.Errorf("gitrepo: %s: submodule with content: %w", e.Path, apperr.ErrInvalidInput)
		}
		return object.TreeEntry{Name: path.Base(e.Path), Mode: filemode.Submodule, Hash: plumbing.NewHash(e.SHA)}, nil
	}
	var h plumbing.Hash
	if e.Content != nil {
		h, err = writeBlob(r.Storer, []byte(*e.Content))
		if err != nil {
			return object.TreeEntry{}, fmt.Errorf("gitrepo: write blob %s: %w", e.Path, err)
		}
	} else {
		h = plumbing.NewHash(e.SHA)
		if err := r.Storer.HasEncodedObject(h); err != nil {
			return object.TreeEntry{}, wrap("blob", e.Path, err)
		}
	}
	return object.TreeEntry{Name: path.Base(e.Path), Mode: mode, Hash: h}, nil
}

func writeBlob(st storage.Storer, data []byte) (plumbing.Hash, error) {
	obj := st.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return st.SetEncodedObject(obj)
}

func (s *Store) CreateCommit(ctx context.Context, repo models.Repo, message, tree string, parents []string) (provider.Commit, error) {
	var out provider.Commit
	err := s.with(ctx, repo, func(r *git.Repository) error {
		th := plumbing.NewHash(tree)
		if _, err := r.TreeObject(th); err != nil {
			return wrap("tree", tree, err)
		}
		sig := object.Signature{Name: s.authorName, Email: s.authorEmail, When: s.now()}
		c := &object.Commit{
			Author:    sig,
			Committer: sig,
			Message:   message,
			TreeHash:  th,
		}
		for _, p := range parents {
			c.ParentHashes = append(c.ParentHashes, plumbing.NewHash(p))
		}
		obj := r.Storer.NewEncodedObject()
		if err := c.Encode(obj); err != nil {
			return fmt.Errorf("gitrepo: encode commit: %w", err)
		}
		h, err := r.Storer.SetEncodedObject(obj)
		if err != nil {
			return fmt.Errorf("gitrepo: store commit: %w", err)
		}
		c.Hash = h
		out = toCommit(c)
		return nil
	})
	return out, err
}

// UpdateRef moves an existing ref to sha. Without force the new commit must
// have the current target as a parent.
func (s *Store) UpdateRef(ctx context.Context, repo models.Repo, ref, sha string, force bool) error {
	return s.with(ctx, repo, func(r *git.Repository) error {
		name := refName(ref)
		cur, err := r.Storer.Reference(name)
		if err != nil {
			return wrap("ref", ref, err)
		}
		h := plumbing.NewHash(sha)
		c, err := r.CommitObject(h)
		if err != nil {
			return wrap("commit", sha, err)
		}
		if !force && !hasParent(c, cur.Hash()) {
			return fmt.Errorf("gitrepo: update %s: not a fast-forward: %w", ref, apperr.ErrConflict)
		}
		err = r.Storer.CheckAndSetReference(plumbing.NewHashReference(name, h), cur)
		if errors.Is(err, storage.ErrReferenceHasChanged) {
			return fmt.Errorf("gitrepo: update %s: %w", ref, apperr.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("gitrepo: update %s: %w", ref, err)
		}
		s.logger.Debug("gitrepo: ref updated", slog.String("repo", repo.ID()), slog.String("ref", ref), slog.String("sha", sha))
		return nil
	})
}

func hasParent(c *object.Commit, h plumbing.Hash) bool {
	for _, p := range c.ParentHashes {
		if p == h {
			return true
		}
	}
	return false
}

func (s *Store) CreateRef(ctx context.Context, repo models.Repo, ref, sha string) error {
	return s.with(ctx, repo, func(r *git.Repository) error {
		name := refName(ref)
		if _, err := r.Storer.Reference(name); err == nil {
			return fmt.Errorf("gitrepo: create %s: %w", ref, apperr.ErrAlreadyExists)
		}
		h := plumbing.NewHash(sha)
		if _, err := r.CommitObject(h); err != nil {
			return wrap("commit", sha, err)
		}
		if err := r.Storer.SetReference(plumbing.NewHashReference(name, h)); err != nil {
			return fmt.Errorf("gitrepo: create %s: %w", ref, err)
		}
		return nil
	})
}
