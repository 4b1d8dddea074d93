package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/gitmarks/internal/apperr"
	"github.com/starford/gitmarks/internal/filemap"
	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/reconcile"
)

// ReloadReport summarizes a reload. Failed counts repositories whose
// listing failed and files that could not be loaded.
type ReloadReport struct {
	Loaded  []string `json:"loaded"`
	Entries int      `json:"entries"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
	Staged  int      `json:"staged_ops"`
}

// Reload fetches every active repository, rebuilds the entries and replaces
// both snapshots. Unstaged edits are discarded. A reload or commit already in
// progress makes it fail with apperr.ErrBusy.
func (s *Service) Reload(ctx context.Context) (ReloadReport, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return ReloadReport{}, fmt.Errorf("session: reload: %w", apperr.ErrBusy)
	}
	defer s.busy.Store(false)
	s.reloading.Store(true)
	defer s.reloading.Store(false)

	var active []models.Repo
	for _, r := range s.Repos() {
		if r.Active() {
			active = append(active, r)
		}
	}

	orig, report := s.loader.LoadAll(ctx, active)
	var errs []error
	for id, err := range report.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", id, err))
	}
	errs = append(errs, report.FileErrors...)

	fileEntries, fileErrs := s.buildFileEntries(orig)
	errs = append(errs, fileErrs...)
	knownLinks, linkErrs := reconcile.LinkEntriesFromStores(orig, s.logger)
	errs = append(errs, linkErrs...)

	s.mu.Lock()
	s.orig = orig
	if err := s.install(orig.Clone(), fileEntries, knownLinks); err != nil {
		s.mu.Unlock()
		return ReloadReport{}, err
	}
	s.lastReload = s.now()
	entries := s.entries
	out := ReloadReport{Entries: len(s.entries), Failed: len(errs)}
	for _, ops := range s.staged {
		out.Staged += len(ops)
	}
	s.mu.Unlock()

	for _, r := range report.Loaded {
		out.Loaded = append(out.Loaded, r.ID())
	}
	for _, err := range errs {
		out.Errors = append(out.Errors, err.Error())
	}

	s.syncIndex(entries)
	s.logger.Info("session: reloaded",
		slog.Int("repos", len(out.Loaded)),
		slog.Int("entries", out.Entries),
		slog.Int("failed", out.Failed),
	)
	s.emit(Event{Type: EventReloaded, Data: out})
	return out, nil
}

// buildFileEntries derives the note and document entries of every
// repository in m.
func (s *Service) buildFileEntries(m *filemap.Multi) ([]*models.Entry, []error) {
	var (
		entries []*models.Entry
		errs    []error
	)
	now := s.now()
	for _, rf := range m.Entries() {
		es, fe := reconcile.BuildFileEntries(rf.Repo, rf.Data, s.parse, now)
		entries = append(entries, es...)
		errs = append(errs, fe...)
	}
	return entries, errs
}
