// Package loader fetches repository snapshots from a provider.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/starford/gitmarks/internal/apperr"
	"github.com/starford/gitmarks/internal/checksum"
	"github.com/starford/gitmarks/internal/filemap"
	"github.com/starford/gitmarks/internal/index"
	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/pathcodec"
	"github.com/starford/gitmarks/internal/provider"
)

// Option configures a Loader.
type Option func(*Loader)

// WithCache serves unchanged blobs from c instead of the provider.
func WithCache(c index.BlobCache) Option {
	return func(l *Loader) { l.cache = c }
}

// WithIgnore skips paths matching any of the doublestar patterns. Reserved
// paths are never skipped.
func WithIgnore(patterns []string) Option {
	return func(l *Loader) { l.ignore = patterns }
}

// WithConcurrency bounds parallel blob fetches per repository.
func WithConcurrency(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// Loader builds FileMaps from remote listings.
type Loader struct {
	provider    provider.Provider
	cache       index.BlobCache
	ignore      []string
	concurrency int
	logger      *slog.Logger
}

// New returns a Loader reading from p.
func New(p provider.Provider, opts ...Option) *Loader {
	l := &Loader{provider: p, concurrency: 4, logger: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Report summarizes a multi-repository load.
type Report struct {
	Loaded []models.Repo
	// Failed holds repositories whose listing failed, keyed by id. They are
	// absent from the loaded snapshot.
	Failed map[string]error
	// FileErrors holds per-file failures of loaded repositories.
	FileErrors []error
}

// ErrorCount is the number of failed repositories and files.
func (r Report) ErrorCount() int {
	return len(r.Failed) + len(r.FileErrors)
}

type repoResult struct {
	repo     models.Repo
	files    *filemap.FileMap
	fileErrs []error
	err      error
}

// LoadAll loads repos in parallel. Results are aggregated only after every
// repository has finished.
func (l *Loader) LoadAll(ctx context.Context, repos []models.Repo) (*filemap.Multi, Report) {
	results := make([]repoResult, len(repos))
	var g errgroup.Group
	for i, repo := range repos {
		g.Go(func() error {
			fm, fileErrs, err := l.LoadRepo(ctx, repo)
			results[i] = repoResult{repo: repo, files: fm, fileErrs: fileErrs, err: err}
			return nil
		})
	}
	_ = g.Wait()

	multi := filemap.NewMulti()
	report := Report{Failed: make(map[string]error)}
	for _, r := range results {
		if r.err != nil {
			report.Failed[r.repo.ID()] = r.err
			l.logger.Warn("loader: repository failed", slog.String("repo", r.repo.ID()), slog.String("error", r.err.Error()))
			continue
		}
		multi.Set(r.repo, r.files)
		report.Loaded = append(report.Loaded, r.repo)
		report.FileErrors = append(report.FileErrors, r.fileErrs...)
	}
	return multi, report
}

// LoadRepo lists repo recursively and fetches every file. A failed listing
// fails the whole repository; a failed fetch or a SHA mismatch is recorded
// on the file and returned among the file errors. A missing branch yields
// an empty snapshot.
func (l *Loader) LoadRepo(ctx context.Context, repo models.Repo) (*filemap.FileMap, []error, error) {
	listing, err := l.list(ctx, repo, "")
	if errors.Is(err, apperr.ErrNotFound) {
		l.logger.Info("loader: branch missing, starting empty", slog.String("repo", repo.ID()), slog.String("branch", repo.Branch))
		return filemap.New(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loader: list %s: %w", repo.ID(), err)
	}

	files := make([]filemap.File, len(listing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, le := range listing {
		g.Go(func() error {
			files[i] = l.fetch(gctx, repo, le)
			return nil
		})
	}
	_ = g.Wait()

	fm := filemap.New()
	var fileErrs []error
	for _, f := range files {
		if f.Err != nil {
			fileErrs = append(fileErrs, fmt.Errorf("loader: %s %s: %w", repo.ID(), f.Path, f.Err))
		}
		fm.SetFile(f)
	}
	l.logger.Debug("loader: repository loaded",
		slog.String("repo", repo.ID()),
		slog.Int("files", fm.Len()),
		slog.Int("errors", len(fileErrs)),
	)
	return fm, fileErrs, nil
}

// list returns every file below dir. Subdirectories are listed depth first
// and the call returns only once the whole subtree is known.
func (l *Loader) list(ctx context.Context, repo models.Repo, dir string) ([]provider.ListEntry, error) {
	entries, err := l.provider.ListDir(ctx, repo, dir)
	if err != nil {
		return nil, err
	}
	var out []provider.ListEntry
	for _, e := range entries {
		if l.ignored(e.Path) {
			continue
		}
		switch e.Type {
		case provider.TypeDir:
			sub, err := l.list(ctx, repo, e.Path)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		case provider.TypeFile:
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *Loader) ignored(path string) bool {
	if pathcodec.IsReserved(path) {
		return false
	}
	for _, pattern := range l.ignore {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
		// Also check if any parent directory matches
		parts := strings.Split(path, "/")
		for i := 1; i < len(parts); i++ {
			if ok, _ := doublestar.Match(pattern, strings.Join(parts[:i], "/")); ok {
				return true
			}
		}
	}
	return false
}

func (l *Loader) fetch(ctx context.Context, repo models.Repo, le provider.ListEntry) filemap.File {
	f := filemap.File{Path: le.Path, SHA: le.SHA, RawURL: le.DownloadURL}
	if l.cache != nil {
		content, ok, err := l.cache.GetBlob(repo.ID(), le.Path, le.SHA)
		if err != nil {
			l.logger.Warn("loader: cache read failed", slog.String("path", le.Path), slog.String("error", err.Error()))
		}
		if ok {
			f.Content, f.HasContent = content, true
			return f
		}
	}

	data, err := l.provider.FetchBlob(ctx, repo, le.Path)
	if err != nil {
		f.Err = err
		return f
	}
	if sha := checksum.BlobSHA(data); le.SHA != "" && sha != le.SHA {
		f.Err = &apperr.IntegrityError{Path: le.Path, Expected: le.SHA, Actual: sha}
		return f
	}
	f.Content, f.HasContent = string(data), true
	if l.cache != nil {
		if err := l.cache.PutBlob(repo.ID(), le.Path, le.SHA, f.Content); err != nil {
			l.logger.Warn("loader: cache write failed", slog.String("path", le.Path), slog.String("error", err.Error()))
		}
	}
	return f
}
