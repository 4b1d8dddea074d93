// Package reconcile derives the unified entry list from repository files and
// the link stores.
package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/gitmarks/internal/filemap"
	"github.com/starford/gitmarks/internal/metadata"
	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/parser"
	"github.com/starford/gitmarks/internal/pathcodec"
)

var errNotFetched = errors.New("content not fetched")

// FileKey is the entry key of the file at path in repo.
func FileKey(repo models.Repo, path string) string {
	return repo.ID() + ":" + path
}

// LinkKey is the entry key of the link to target.
func LinkKey(target string) string {
	return "link:" + target
}

// BuildFileEntries creates note and document entries for every content file
// of one repository. A file whose sidecar is malformed, or whose content
// could not be fetched, fails on its own and is reported in the returned
// errors; the remaining files still load. Missing sidecars default to no
// labels and both timestamps set to now.
func BuildFileEntries(repo models.Repo, fm *filemap.FileMap, parse parser.Func, now time.Time) ([]*models.Entry, []error) {
	var (
		entries []*models.Entry
		errs    []error
	)
	for _, f := range fm.Values() {
		if pathcodec.IsReserved(f.Path) {
			continue
		}
		e, err := buildFileEntry(repo, fm, f, parse, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile: %s %s: %w", repo.ID(), f.Path, err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, errs
}

func buildFileEntry(repo models.Repo, fm *filemap.FileMap, f filemap.File, parse parser.Func, now time.Time) (*models.Entry, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	meta, err := readMeta(fm, f.Path, now)
	if err != nil {
		return nil, err
	}

	location, filename := pathcodec.SplitLocationFilename(f.Path)
	title, ext := pathcodec.SplitTitleExtension(filename)
	info := models.FileInfo{
		Repo:        repo,
		Location:    location,
		Extension:   ext,
		TimeCreated: meta.TimeCreated,
		TimeUpdated: meta.TimeUpdated,
		RawURL:      f.RawURL,
	}
	e := &models.Entry{
		Title:  title,
		Labels: MergeLabels(nil, meta.Labels),
		Key:    FileKey(repo, f.Path),
	}

	if !strings.EqualFold(ext, pathcodec.NoteExtension) {
		e.Content = &models.DocumentContent{FileInfo: info}
		return e, nil
	}
	if !f.HasContent {
		return nil, errNotFetched
	}
	res, err := parse(f.Content)
	if err != nil {
		return nil, err
	}
	e.Content = &models.NoteContent{
		FileInfo: info,
		Text:     f.Content,
		HTML:     res.HTML,
		Links:    res.Links,
	}
	return e, nil
}

func readMeta(fm *filemap.FileMap, path string, now time.Time) (metadata.MetaData, error) {
	side, ok := fm.Get(pathcodec.MetaPath(path))
	if !ok {
		return metadata.New(now), nil
	}
	if side.Err != nil {
		return metadata.MetaData{}, side.Err
	}
	if !side.HasContent {
		return metadata.MetaData{}, fmt.Errorf("sidecar: %w", errNotFetched)
	}
	return metadata.Parse(side.Content)
}
