// Package commit turns staged operations into a single commit on a remote
// branch using the tree API.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/gitmarks/internal/apperr"
	"github.com/starford/gitmarks/internal/gitdiff"
	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/provider"
)

// Stage names a step of the commit sequence.
type Stage string

const (
	StageRefLookup      Stage = "ref lookup"
	StageCommitLookup   Stage = "commit lookup"
	StageTreeLookup     Stage = "tree lookup"
	StageTreeCreation   Stage = "tree creation"
	StageCommitCreation Stage = "commit creation"
	StageRefUpdate      Stage = "ref update"
)

// StageError reports the step at which a commit failed. Steps before
// StageRefUpdate leave the branch untouched.
type StageError struct {
	Repo  string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("commit %s: %s failed: %v", e.Repo, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result describes a successful commit.
type Result struct {
	Repo      string `json:"repo"`
	CommitSHA string `json:"commit"`
	TreeSHA   string `json:"tree"`
	ParentSHA string `json:"parent,omitempty"`
	Created   bool   `json:"branch_created"`
	Ops       int    `json:"ops"`
}

// Pipeline runs commits against a provider.
type Pipeline struct {
	provider provider.Provider
	force    bool
	logger   *slog.Logger
}

// New returns a Pipeline. With force set the branch is moved even if it
// advanced since the base commit was read.
func New(p provider.Provider, force bool, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{provider: p, force: force, logger: logger}
}

// Run commits ops to repo's branch with message. Any failing step aborts
// the remaining ones and is returned as a *StageError. A missing branch is
// created from an empty tree.
func (pl *Pipeline) Run(ctx context.Context, repo models.Repo, ops []gitdiff.Op, message string) (Result, error) {
	res := Result{Repo: repo.ID(), Ops: len(ops)}
	if len(ops) == 0 {
		return res, fmt.Errorf("commit %s: nothing to commit: %w", repo.ID(), apperr.ErrInvalidInput)
	}
	fail := func(stage Stage, err error) (Result, error) {
		pl.logger.Error("commit: stage failed",
			slog.String("repo", repo.ID()),
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()),
		)
		return res, &StageError{Repo: repo.ID(), Stage: stage, Err: err}
	}

	refName := provider.BranchRef(repo)
	var (
		parents []string
		base    []provider.TreeEntry
	)
	ref, err := pl.provider.GetRef(ctx, repo, refName)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		res.Created = true
	case err != nil:
		return fail(StageRefLookup, err)
	default:
		head, err := pl.provider.GetCommit(ctx, repo, ref.SHA)
		if err != nil {
			return fail(StageCommitLookup, err)
		}
		tree, err := pl.provider.GetTree(ctx, repo, head.TreeSHA, true)
		if err != nil {
			return fail(StageTreeLookup, err)
		}
		if tree.Truncated {
			return fail(StageTreeLookup, apperr.ErrTreeTruncated)
		}
		parents = []string{head.SHA}
		base = tree.Entries
		res.ParentSHA = head.SHA
	}

	newTree, err := pl.provider.CreateTree(ctx, repo, BuildNewTreeEntries(base, ops))
	if err != nil {
		return fail(StageTreeCreation, err)
	}
	res.TreeSHA = newTree.SHA

	c, err := pl.provider.CreateCommit(ctx, repo, message, newTree.SHA, parents)
	if err != nil {
		return fail(StageCommitCreation, err)
	}
	res.CommitSHA = c.SHA

	if res.Created {
		err = pl.provider.CreateRef(ctx, repo, refName, c.SHA)
	} else {
		err = pl.provider.UpdateRef(ctx, repo, refName, c.SHA, pl.force)
	}
	if err != nil {
		return fail(StageRefUpdate, err)
	}

	pl.logger.Info("commit: done",
		slog.String("repo", repo.ID()),
		slog.String("sha", c.SHA),
		slog.Int("ops", len(ops)),
	)
	return res, nil
}

// BuildNewTreeEntries derives the flat blob listing of the new tree from the
// old listing. Entries targeted by a write or remove are dropped, move
// sources are renamed in place keeping their blob, subtree entries are
// always dropped, and every write appends an inline blob.
func BuildNewTreeEntries(old []provider.TreeEntry, ops []gitdiff.Op) []provider.TreeEntry {
	replaced := make(map[string]struct{})
	moves := make(map[string]string)
	var writes []gitdiff.Write
	for _, op := range ops {
		switch o := op.(type) {
		case gitdiff.Write:
			replaced[o.Path] = struct{}{}
			writes = append(writes, o)
		case gitdiff.Remove:
			replaced[o.Path] = struct{}{}
		case gitdiff.Move:
			moves[o.From] = o.To
			replaced[o.To] = struct{}{}
		}
	}

	out := make([]provider.TreeEntry, 0, len(old)+len(writes))
	for _, e := range old {
		if e.Type == provider.TreeTree {
			continue
		}
		if to, ok := moves[e.Path]; ok {
			e.Path = to
			out = append(out, e)
			continue
		}
		if _, ok := replaced[e.Path]; ok {
			continue
		}
		out = append(out, e)
	}
	for _, w := range writes {
		content := w.Content
		out = append(out, provider.TreeEntry{
			Path:    w.Path,
			Mode:    provider.ModeBlob,
			Type:    provider.TreeBlob,
			Content: &content,
		})
	}
	return out
}
