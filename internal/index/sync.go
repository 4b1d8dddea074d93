package index

import (
	"log/slog"
	"strings"
	"time"

	"github.com/starford/gitmarks/internal/checksum"
	"github.com/starford/gitmarks/internal/models"
)

// Sync brings the index up to date with entries:
//   - new/changed entries are upserted
//   - entries no longer present are deleted
func Sync(db EntryIndex, entries []*models.Entry, logger *slog.Logger) error {
	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		row := RowFromEntry(e)
		seen[row.Key] = struct{}{}
		if checksums[row.Key] == row.Checksum {
			continue
		}
		if err := db.UpsertEntry(row); err != nil {
			logger.Warn("sync: index failed", slog.String("key", row.Key), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("key", row.Key))
		}
	}

	// Remove stale entries.
	for k := range checksums {
		if _, ok := seen[k]; !ok {
			if err := db.DeleteEntry(k); err != nil {
				logger.Warn("sync: delete failed", slog.String("key", k), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("key", k))
			}
		}
	}
	return nil
}

// RowFromEntry converts e into its indexed form. Notes index their text,
// documents their location and links their target.
func RowFromEntry(e *models.Entry) EntryRow {
	var updated time.Time
	body := models.Match(e,
		func(n *models.NoteContent) string {
			updated = n.TimeUpdated
			return n.Text
		},
		func(d *models.DocumentContent) string {
			updated = d.TimeUpdated
			return d.Location
		},
		func(l *models.LinkContent) string { return l.Target },
	)
	if updated.IsZero() {
		updated = time.Now()
	}
	labels := e.Labels
	if labels == nil {
		labels = []string{}
	}
	sum := checksum.Sum([]byte(e.Kind().String() + "\x00" + e.Title + "\x00" + strings.Join(labels, "\x00") + "\x00" + body))
	return EntryRow{
		Key:       e.Key,
		Kind:      e.Kind().String(),
		Title:     e.Title,
		Checksum:  sum,
		Labels:    labels,
		Body:      body,
		UpdatedAt: updated,
	}
}
