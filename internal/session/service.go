// Package session owns the loaded repository snapshots, the derived entry
// list and the staged changes, and coordinates reloads, edits and commits.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/gitmarks/internal/apperr"
	"github.com/starford/gitmarks/internal/commit"
	"github.com/starford/gitmarks/internal/filemap"
	"github.com/starford/gitmarks/internal/gitdiff"
	"github.com/starford/gitmarks/internal/index"
	"github.com/starford/gitmarks/internal/loader"
	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/parser"
	"github.com/starford/gitmarks/internal/provider"
	"github.com/starford/gitmarks/internal/reconcile"
)

// Event types emitted by the service.
const (
	EventEntryCreated    = "created"
	EventEntryUpdated    = "updated"
	EventEntryDeleted    = "deleted"
	EventReloaded        = "entries.reloaded"
	EventCommitCompleted = "commit.completed"
)

// Event describes a state change. Key is set for entry events.
type Event struct {
	Type string
	Key  string
	Data any
}

// Option configures a Service.
type Option func(*Service)

// WithIndex mirrors the entry list into idx for full-text search.
func WithIndex(idx index.EntryIndex) Option {
	return func(s *Service) { s.index = idx }
}

// WithLoaderOptions passes options to the snapshot loader.
func WithLoaderOptions(opts ...loader.Option) Option {
	return func(s *Service) { s.loaderOpts = append(s.loaderOpts, opts...) }
}

// WithForcePush moves branches even when they advanced remotely.
func WithForcePush(force bool) Option {
	return func(s *Service) { s.force = force }
}

// WithEvents registers fn to receive state change events.
func WithEvents(fn func(Event)) Option {
	return func(s *Service) { s.events = fn }
}

// WithClock overrides the time source for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service coordinates the provider, the snapshots and the index.
//
// orig holds the last fetched or committed state and is never modified in
// place. Every edit clones edit, changes the clone and swaps it in, so a
// commit reading an older edit snapshot is not affected by later edits.
type Service struct {
	provider   provider.Provider
	loader     *loader.Loader
	loaderOpts []loader.Option
	pipeline   *commit.Pipeline
	force      bool
	index      index.EntryIndex
	parse      parser.Func
	events     func(Event)
	now        func() time.Time
	logger     *slog.Logger
	positions  *PositionStore

	// busy guards reload and commit against each other; reloading also
	// rejects edits.
	busy      atomic.Bool
	reloading atomic.Bool

	mu          sync.RWMutex
	repos       []models.Repo
	orig        *filemap.Multi
	edit        *filemap.Multi
	fileEntries []*models.Entry
	links       []*models.Entry
	entries     []*models.Entry
	byKey       map[string]*models.Entry
	staged      map[string][]gitdiff.Op
	lastReload  time.Time
}

// New returns a Service for repos. Nothing is loaded until Reload.
func New(p provider.Provider, repos []models.Repo, opts ...Option) *Service {
	s := &Service{
		provider:  p,
		force:     true,
		parse:     parser.Parse,
		now:       time.Now,
		logger:    slog.Default(),
		positions: NewPositionStore(),
		repos:     append([]models.Repo(nil), repos...),
		orig:      filemap.NewMulti(),
		edit:      filemap.NewMulti(),
		byKey:     map[string]*models.Entry{},
		staged:    map[string][]gitdiff.Op{},
	}
	for _, o := range opts {
		o(s)
	}
	s.loader = loader.New(p, append([]loader.Option{loader.WithLogger(s.logger)}, s.loaderOpts...)...)
	s.pipeline = commit.New(p, s.force, s.logger)
	return s
}

func (s *Service) emit(e Event) {
	if s.events != nil {
		s.events(e)
	}
}

// Positions returns the per-entry view position store.
func (s *Service) Positions() *PositionStore {
	return s.positions
}

// Repos returns the configured repositories.
func (s *Service) Repos() []models.Repo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Repo(nil), s.repos...)
}

// Repo returns the configured repository with the given id.
func (s *Service) Repo(id string) (models.Repo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repoLocked(id)
}

func (s *Service) repoLocked(id string) (models.Repo, error) {
	for _, r := range s.repos {
		if r.ID() == id {
			return r, nil
		}
	}
	return models.Repo{}, fmt.Errorf("session: repository %s: %w", id, apperr.ErrNotFound)
}

// DefaultRepo returns the repository new entries go to when none is named:
// the active one flagged default, else the first active one.
func (s *Service) DefaultRepo() (models.Repo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultRepoLocked()
}

func (s *Service) defaultRepoLocked() (models.Repo, error) {
	var first *models.Repo
	for i, r := range s.repos {
		if !r.Active() {
			continue
		}
		if r.Default {
			return r, nil
		}
		if first == nil {
			first = &s.repos[i]
		}
	}
	if first == nil {
		return models.Repo{}, fmt.Errorf("session: no active repository: %w", apperr.ErrNotFound)
	}
	return *first, nil
}

// VerifyRepos checks every enabled repository and records the outcome. Only
// verified repositories take part in reloads.
func (s *Service) VerifyRepos(ctx context.Context) []models.Repo {
	repos := s.Repos()
	for i := range repos {
		if !repos[i].Enabled {
			continue
		}
		if err := s.provider.Verify(ctx, repos[i]); err != nil {
			repos[i].Status = models.VerifyFailed
			s.logger.Warn("session: verify failed", slog.String("repo", repos[i].ID()), slog.String("error", err.Error()))
			continue
		}
		repos[i].Status = models.VerifySuccess
	}

	s.mu.Lock()
	for i := range s.repos {
		for _, r := range repos {
			if r.Same(s.repos[i]) {
				s.repos[i].Status = r.Status
			}
		}
	}
	out := append([]models.Repo(nil), s.repos...)
	s.mu.Unlock()
	return out
}

// Entries returns the entries matching query, all of them for an empty
// query.
func (s *Service) Entries(query string) []*models.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if query == "" {
		return append([]*models.Entry(nil), s.entries...)
	}
	return reconcile.Filter(s.entries, query)
}

// Entry returns the entry at idx in the current list.
func (s *Service) Entry(idx int) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx < 0 || idx >= len(s.entries) {
		return nil, fmt.Errorf("session: entry %d: %w", idx, apperr.ErrNotFound)
	}
	return s.entries[idx], nil
}

// EntryByKey returns the entry with the given key.
func (s *Service) EntryByKey(key string) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byKey[key]
	if !ok {
		return nil, fmt.Errorf("session: entry %s: %w", key, apperr.ErrNotFound)
	}
	return e, nil
}

// Staged returns the staged operations keyed by repository id.
func (s *Service) Staged() map[string][]gitdiff.Op {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]gitdiff.Op, len(s.staged))
	for id, ops := range s.staged {
		out[id] = append([]gitdiff.Op(nil), ops...)
	}
	return out
}

// HasStaged reports whether any repository has staged operations.
func (s *Service) HasStaged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.staged) > 0
}

// File returns the edited snapshot of path in the repository with the given
// id.
func (s *Service) File(repoID, path string) (filemap.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fm, ok := s.edit.GetByID(repoID)
	if !ok {
		return filemap.File{}, fmt.Errorf("session: repository %s: %w", repoID, apperr.ErrNotFound)
	}
	f, ok := fm.Get(path)
	if !ok || !f.HasContent {
		return filemap.File{}, fmt.Errorf("session: %s %s: %w", repoID, path, apperr.ErrNotFound)
	}
	return f, nil
}

// Status summarizes the session.
type Status struct {
	Repos      []models.Repo  `json:"repos"`
	Counts     map[string]int `json:"counts"`
	StagedOps  int            `json:"staged_ops"`
	LastReload time.Time      `json:"last_reload"`
}

// Status returns a summary of the current state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Repos:      append([]models.Repo(nil), s.repos...),
		Counts:     map[string]int{},
		LastReload: s.lastReload,
	}
	for _, e := range s.entries {
		st.Counts[e.Kind().String()]++
	}
	for _, ops := range s.staged {
		st.StagedOps += len(ops)
	}
	return st
}

// Search runs a full-text query against the index, or filters the entry
// list when no index is configured.
func (s *Service) Search(query string, limit int) ([]index.SearchResult, error) {
	if s.index != nil {
		return s.index.Search(query, limit)
	}
	var out []index.SearchResult
	for _, e := range s.Entries(query) {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, index.SearchResult{Key: e.Key, Kind: e.Kind().String(), Title: e.Title})
	}
	return out, nil
}

// install replaces the derived state. Callers hold s.mu.
func (s *Service) install(edit *filemap.Multi, fileEntries, knownLinks []*models.Entry) error {
	links, all := reconcile.RecomputeEntries(fileEntries, knownLinks, s.logger)
	if err := reconcile.WriteLinkStores(edit, links, s.logger); err != nil {
		return fmt.Errorf("session: write link stores: %w", err)
	}
	byKey := make(map[string]*models.Entry, len(all))
	for _, e := range all {
		byKey[e.Key] = e
	}
	s.edit = edit
	s.fileEntries = fileEntries
	s.links = links
	s.entries = all
	s.byKey = byKey
	s.staged = gitdiff.DiffAcrossRepos(s.orig, edit, s.logger)
	return nil
}

// syncIndex mirrors entries into the search index outside the lock.
func (s *Service) syncIndex(entries []*models.Entry) {
	if s.index == nil {
		return
	}
	if err := index.Sync(s.index, entries, s.logger); err != nil {
		s.logger.Warn("session: index sync failed", slog.String("error", err.Error()))
	}
}
