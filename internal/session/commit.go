package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/gitmarks/internal/apperr"
	"github.com/starford/gitmarks/internal/commit"
	"github.com/starford/gitmarks/internal/filemap"
	"github.com/starford/gitmarks/internal/gitdiff"
	"github.com/starford/gitmarks/internal/models"
)

// DefaultCommitMessage is used when a commit is requested without message.
const DefaultCommitMessage = "Update notes via gitmarks"

// CommitResult is the outcome for one repository.
type CommitResult struct {
	Repo   string         `json:"repo"`
	Result *commit.Result `json:"result,omitempty"`
	Stage  string         `json:"stage,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// OK reports whether the repository was committed.
func (r CommitResult) OK() bool {
	return r.Error == ""
}

type commitJob struct {
	repo models.Repo
	ops  []gitdiff.Op
	snap *filemap.FileMap
}

// Commit commits the staged operations of every repository, one commit per
// repository. Repositories succeed or fail independently. A committed
// repository's original snapshot becomes the edit snapshot the commit was
// built from; edits made while the commit ran stay staged.
func (s *Service) Commit(ctx context.Context, message string) ([]CommitResult, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("session: commit: %w", apperr.ErrBusy)
	}
	defer s.busy.Store(false)
	if message == "" {
		message = DefaultCommitMessage
	}

	s.mu.RLock()
	var jobs []commitJob
	for id, ops := range s.staged {
		fm, ok := s.edit.GetByID(id)
		if !ok {
			continue
		}
		repo, err := s.repoLocked(id)
		if err != nil {
			continue
		}
		jobs = append(jobs, commitJob{repo: repo, ops: append([]gitdiff.Op(nil), ops...), snap: fm.Clone()})
	}
	s.mu.RUnlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].repo.ID() < jobs[j].repo.ID() })

	results := make([]CommitResult, 0, len(jobs))
	var done []commitJob
	for _, job := range jobs {
		res, err := s.pipeline.Run(ctx, job.repo, job.ops, message)
		cr := CommitResult{Repo: job.repo.ID()}
		if err != nil {
			cr.Error = err.Error()
			var se *commit.StageError
			if errors.As(err, &se) {
				cr.Stage = string(se.Stage)
			}
			s.logger.Warn("session: commit failed", slog.String("repo", job.repo.ID()), slog.String("error", err.Error()))
		} else {
			cr.Result = &res
			done = append(done, job)
		}
		results = append(results, cr)
	}

	if len(done) > 0 {
		s.mu.Lock()
		next := s.orig.Clone()
		for _, job := range done {
			next.Set(job.repo, job.snap)
		}
		s.orig = next
		s.staged = gitdiff.DiffAcrossRepos(s.orig, s.edit, s.logger)
		s.mu.Unlock()
	}

	s.emit(Event{Type: EventCommitCompleted, Data: results})
	return results, nil
}
