package reconcile

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/starford/gitmarks/internal/apperr"
	"github.com/starford/gitmarks/internal/filemap"
	"github.com/starford/gitmarks/internal/linkstore"
	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/pathcodec"
)

// RecomputeEntries rebuilds the link entries and returns them together with
// the full sorted entry list. Every entry's Idx equals its position in all.
func RecomputeEntries(fileEntries, knownLinks []*models.Entry, logger *slog.Logger) (links, all []*models.Entry) {
	links = RecomputeLinkEntries(fileEntries, knownLinks, logger)
	all = make([]*models.Entry, 0, len(fileEntries)+len(links))
	all = append(all, fileEntries...)
	all = append(all, links...)
	SortEntries(all)
	return links, all
}

// SortEntries orders entries by kind, then case-insensitively by title, and
// renumbers Idx.
func SortEntries(entries []*models.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Kind() != b.Kind() {
			return a.Kind() < b.Kind()
		}
		la, lb := strings.ToLower(a.Title), strings.ToLower(b.Title)
		if la != lb {
			return la < lb
		}
		return a.Key < b.Key
	})
	for i, e := range entries {
		e.Idx = i
	}
}

// LinkRecords returns the link store records that belong to repo: links that
// are standalone in repo, and links referenced by a note in repo.
func LinkRecords(repo models.Repo, links []*models.Entry) []linkstore.Record {
	var out []linkstore.Record
	for _, e := range links {
		l, ok := e.Link()
		if !ok {
			continue
		}
		standalone := l.StandaloneIn(repo)
		if !standalone && !referencedFrom(l, repo) {
			continue
		}
		out = append(out, linkstore.Record{
			Title:      e.Title,
			Target:     l.Target,
			Standalone: standalone,
			OwnLabels:  append([]string(nil), l.OwnLabels...),
		})
	}
	return out
}

func referencedFrom(l *models.LinkContent, repo models.Repo) bool {
	for _, r := range l.RefRepos {
		if r.Same(repo) {
			return true
		}
	}
	return false
}

// LinkStoreFor serializes the link store of repo.
func LinkStoreFor(repo models.Repo, links []*models.Entry) (string, error) {
	return linkstore.Serialize(LinkRecords(repo, links))
}

// WriteLinkStores writes the link store of every repository in multi. A
// repository without a link store file and without links is left alone, as
// is a repository whose link store could not be fetched or parsed: its
// records are unknown, so rewriting it would drop them.
func WriteLinkStores(multi *filemap.Multi, links []*models.Entry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, rf := range multi.Entries() {
		if err := LinkStoreWritable(rf.Data); err != nil {
			logger.Warn("reconcile: keeping unreadable link store",
				slog.String("repo", rf.Repo.ID()), slog.String("error", err.Error()))
			continue
		}
		records := LinkRecords(rf.Repo, links)
		cur, exists := rf.Data.Get(pathcodec.LinkStorePath)
		if !exists && len(records) == 0 {
			continue
		}
		text, err := linkstore.Serialize(records)
		if err != nil {
			return err
		}
		if exists && cur.Content == text {
			continue
		}
		rf.Data.SetContent(pathcodec.LinkStorePath, text)
	}
	return nil
}

// LinkStoreWritable returns an error when the link store in fm exists but
// its records are unknown, because it failed to load or to parse.
func LinkStoreWritable(fm *filemap.FileMap) error {
	f, ok := fm.Get(pathcodec.LinkStorePath)
	if !ok {
		return nil
	}
	if f.Err != nil {
		return fmt.Errorf("reconcile: link store: %w", f.Err)
	}
	if !f.HasContent {
		return fmt.Errorf("reconcile: link store not fetched: %w", apperr.ErrConflict)
	}
	if _, err := linkstore.Parse(f.Content); err != nil {
		return fmt.Errorf("reconcile: link store: %w", err)
	}
	return nil
}

// Filter returns copies of the entries matching every term of query, with
// Priority set to the match score, best first. An empty query matches
// everything with priority zero, in list order.
func Filter(entries []*models.Entry, query string) []*models.Entry {
	terms := strings.Fields(strings.ToLower(query))
	out := make([]*models.Entry, 0, len(entries))
	for _, e := range entries {
		score, ok := matchScore(e, terms)
		if !ok {
			continue
		}
		c := *e
		c.Priority = score
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func matchScore(e *models.Entry, terms []string) (int, bool) {
	title := strings.ToLower(e.Title)
	body := models.Match(e,
		func(n *models.NoteContent) string { return strings.ToLower(n.Location + " " + n.Text) },
		func(d *models.DocumentContent) string { return strings.ToLower(d.Location) },
		func(l *models.LinkContent) string { return strings.ToLower(l.Target) },
	)
	total := 0
	for _, t := range terms {
		score := 0
		if strings.Contains(title, t) {
			score += 4
			if strings.HasPrefix(title, t) {
				score += 2
			}
		}
		for _, l := range e.Labels {
			if strings.ToLower(l) == t {
				score += 3
				break
			}
		}
		if strings.Contains(body, t) {
			score++
		}
		if score == 0 {
			return 0, false
		}
		total += score
	}
	return total, true
}
