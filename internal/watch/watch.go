// Package watch notices branch updates in on-disk repositories.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/gitmarks/internal/models"
)

// Callback is called once per debounce window for every repository whose
// branch changed.
type Callback func(repo models.Repo)

// GitDir returns the git directory of the repository at path: path/.git for
// a working copy, path itself for a bare repository.
func GitDir(path string) string {
	dot := filepath.Join(path, ".git")
	if info, err := os.Stat(dot); err == nil && info.IsDir() {
		return dot
	}
	return path
}

type target struct {
	repo   models.Repo
	gitDir string
}

// Watch starts an fsnotify watcher on the refs of every repository with a
// path and reports branch changes until ctx is cancelled. Events are
// debounced so a push touching several refs yields one callback.
//
// New ref directories created at runtime are automatically added to the
// watch list.
func Watch(ctx context.Context, repos []models.Repo, debounce time.Duration, logger *slog.Logger, cb Callback) error {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	var targets []target
	for _, r := range repos {
		if r.Path == "" {
			continue
		}
		gd, err := filepath.Abs(GitDir(r.Path))
		if err != nil {
			return err
		}
		heads := filepath.Join(gd, "refs", "heads")
		if err := os.MkdirAll(heads, 0o755); err != nil {
			return err
		}
		if err := w.Add(gd); err != nil {
			return err
		}
		if err := addDirsRecursive(w, heads); err != nil {
			return err
		}
		targets = append(targets, target{repo: r, gitDir: gd})
	}
	if len(targets) == 0 {
		logger.Info("watcher: no on-disk repositories, not watching")
		<-ctx.Done()
		return nil
	}

	logger.Info("watcher: started", slog.Int("repos", len(targets)))

	// timer debounces ref changes; pending collects the repositories it
	// will report.
	var timer *time.Timer
	var timerCh <-chan time.Time
	pending := make(map[string]models.Repo)

	schedule := func(r models.Repo) {
		pending[r.ID()] = r
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			for id, r := range pending {
				delete(pending, id)
				logger.Debug("watcher: branch changed", slog.String("repo", id))
				cb(r)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Chmod == ev.Op {
				continue
			}

			// --- Handle new ref directories: add to watcher ---
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
				}
			}

			for _, t := range targets {
				if touchesBranch(t, ev.Name) {
					schedule(t.repo)
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// touchesBranch reports whether a change at name may move t's branch.
func touchesBranch(t target, name string) bool {
	if name == filepath.Join(t.gitDir, "packed-refs") {
		return true
	}
	ref := filepath.Join(t.gitDir, "refs", "heads", filepath.FromSlash(t.repo.Branch))
	return name == ref || strings.HasPrefix(ref, name+string(filepath.Separator))
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
