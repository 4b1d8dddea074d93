package reconcile

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/starford/gitmarks/internal/filemap"
	"github.com/starford/gitmarks/internal/linkstore"
	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/pathcodec"
)

// LinkEntriesFromStores parses the link store of every repository in multi.
// Records for the same target in several stores are folded into one entry:
// the first title and own labels win, and the entry stays standalone in
// every store that marks it so. Each folded record is logged.
func LinkEntriesFromStores(multi *filemap.Multi, logger *slog.Logger) ([]*models.Entry, []error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		out  []*models.Entry
		errs []error
	)
	byTarget := make(map[string]*models.Entry)
	for _, rf := range multi.Entries() {
		f, ok := rf.Data.Get(pathcodec.LinkStorePath)
		if !ok {
			continue
		}
		if f.Err != nil {
			errs = append(errs, fmt.Errorf("reconcile: %s link store: %w", rf.Repo.ID(), f.Err))
			continue
		}
		records, err := linkstore.Parse(f.Content)
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile: %s link store: %w", rf.Repo.ID(), err))
			continue
		}
		for _, r := range records {
			var standalone *models.Repo
			if r.Standalone {
				repo := rf.Repo
				standalone = &repo
			}
			if prev, ok := byTarget[r.Target]; ok {
				logger.Warn("reconcile: folding duplicate link target",
					slog.String("target", r.Target),
					slog.String("repo", rf.Repo.ID()),
					slog.Bool("standalone", r.Standalone))
				l, _ := prev.Link()
				switch {
				case standalone == nil:
				case l.StandaloneRepo == nil:
					l.StandaloneRepo = standalone
				default:
					if !l.StandaloneIn(*standalone) {
						l.AlsoStandalone = append(l.AlsoStandalone, *standalone)
					}
				}
				continue
			}
			e := NewLinkEntry(r.Title, r.Target, r.OwnLabels, standalone)
			byTarget[r.Target] = e
			out = append(out, e)
		}
	}
	return out, errs
}

// CopyLinkSeed returns a copy of the link entry e without references,
// keeping its title, own labels and standalone repositories.
func CopyLinkSeed(e *models.Entry) *models.Entry {
	l, _ := e.Link()
	var standalone *models.Repo
	if l.StandaloneRepo != nil {
		repo := *l.StandaloneRepo
		standalone = &repo
	}
	c := NewLinkEntry(e.Title, l.Target, l.OwnLabels, standalone)
	if standalone != nil && len(l.AlsoStandalone) > 0 {
		cl, _ := c.Link()
		cl.AlsoStandalone = append([]models.Repo(nil), l.AlsoStandalone...)
	}
	return c
}

// NewLinkEntry returns a link entry without references.
func NewLinkEntry(title, target string, ownLabels []string, standalone *models.Repo) *models.Entry {
	if title == "" {
		title = target
	}
	own := MergeLabels(nil, ownLabels)
	return &models.Entry{
		Title:  title,
		Labels: MergeLabels(nil, own),
		Key:    LinkKey(target),
		Content: &models.LinkContent{
			Target:         target,
			OwnLabels:      own,
			StandaloneRepo: standalone,
		},
	}
}

// RecomputeLinkEntries rebuilds the link entries from the note bodies in
// fileEntries. Entries in known act as a cache: their title, own labels and
// standalone flag survive, their references are recomputed from scratch.
// The result holds every link that is referenced or standalone, in order of
// first insertion. Entries in known are not modified.
func RecomputeLinkEntries(fileEntries, known []*models.Entry, logger *slog.Logger) []*models.Entry {
	if logger == nil {
		logger = slog.Default()
	}
	byTarget := make(map[string]*models.Entry, len(known))
	inserted := make(map[string]bool, len(known))
	var result []*models.Entry

	for _, k := range known {
		l, ok := k.Link()
		if !ok {
			logger.Warn("reconcile: ignoring non-link entry in link cache", slog.String("key", k.Key))
			continue
		}
		if _, dup := byTarget[l.Target]; dup {
			logger.Warn("reconcile: discarding duplicate link target", slog.String("target", l.Target))
			continue
		}
		e := CopyLinkSeed(k)
		byTarget[l.Target] = e
		if l.StandaloneRepo != nil {
			result = append(result, e)
			inserted[l.Target] = true
		}
	}

	for _, fe := range fileEntries {
		note, ok := fe.Content.(*models.NoteContent)
		if !ok {
			continue
		}
		for _, target := range note.Links {
			e, ok := byTarget[target]
			if !ok {
				e = NewLinkEntry(target, target, nil, nil)
				byTarget[target] = e
			}
			addReference(e, fe, note)
			if !inserted[target] {
				result = append(result, e)
				inserted[target] = true
			}
		}
	}
	return result
}

func addReference(e, from *models.Entry, note *models.NoteContent) {
	l, _ := e.Link()
	l.ReferencedBy = append(l.ReferencedBy, from)
	e.Labels = MergeLabels(e.Labels, from.Labels)
	l.RefRepos = MergeRepos(l.RefRepos, note.Repo)
	l.RefLocations = MergeLocations(l.RefLocations, note.Location)
}

// MergeLabels returns the union of dst and src without duplicates, sorted
// case-insensitively.
func MergeLabels(dst, src []string) []string {
	out := make([]string, 0, len(dst)+len(src))
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, list := range [][]string{dst, src} {
		for _, l := range list {
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i]), strings.ToLower(out[j])
		if a != b {
			return a < b
		}
		return out[i] < out[j]
	})
	return out
}

// MergeRepos appends repo unless a repository with the same id is present.
func MergeRepos(repos []models.Repo, repo models.Repo) []models.Repo {
	for _, r := range repos {
		if r.Same(repo) {
			return repos
		}
	}
	return append(repos, repo)
}

// MergeLocations appends location unless already present.
func MergeLocations(locations []string, location string) []string {
	for _, l := range locations {
		if l == location {
			return locations
		}
	}
	return append(locations, location)
}
