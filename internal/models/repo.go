// Package models defines the domain types for gitmarks.
package models

import (
	"fmt"

	"github.com/google/uuid"
)

// VerifyStatus is the outcome of checking that a repository is reachable.
type VerifyStatus int

const (
	VerifyUnknown VerifyStatus = iota
	VerifyInProgress
	VerifySuccess
	VerifyFailed
)

func (s VerifyStatus) String() string {
	switch s {
	case VerifyUnknown:
		return "unknown"
	case VerifyInProgress:
		return "in-progress"
	case VerifySuccess:
		return "success"
	case VerifyFailed:
		return "failed"
	default:
		return fmt.Sprintf("VerifyStatus(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s VerifyStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *VerifyStatus) UnmarshalText(text []byte) error {
	for _, v := range []VerifyStatus{VerifyUnknown, VerifyInProgress, VerifySuccess, VerifyFailed} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("models: unknown verify status %q", text)
}

// Repo is a user-owned repository holding notes, documents and the link store.
//
// Key is a random identifier for list rendering only. Identity comparisons
// must use ID.
type Repo struct {
	Key     string       `json:"key"`
	Owner   string       `json:"owner"`
	Name    string       `json:"name"`
	Branch  string       `json:"branch"`
	Path    string       `json:"-"`
	Enabled bool         `json:"enabled"`
	Default bool         `json:"default"`
	Status  VerifyStatus `json:"status"`
}

// NewRepo returns an enabled repository with a fresh UI key.
func NewRepo(owner, name, branch string) Repo {
	return Repo{
		Key:     uuid.NewString(),
		Owner:   owner,
		Name:    name,
		Branch:  branch,
		Enabled: true,
	}
}

// ID is the derived identity "owner/name".
func (r Repo) ID() string {
	return r.Owner + "/" + r.Name
}

// Same reports whether r and o refer to the same remote repository.
func (r Repo) Same(o Repo) bool {
	return r.ID() == o.ID()
}

// Active reports whether the repository takes part in reloads.
func (r Repo) Active() bool {
	return r.Enabled && r.Status == VerifySuccess
}
