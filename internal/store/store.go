// Package store persists skill code and metadata with commit-level
// history. The registry treats it as a versioned object store: the
// reference backend is the git binary, driven through the CLI, but the
// coordinator only depends on the Store interface.
package store

import (
	"context"

	"github.com/lanagent/skillhub/internal/types"
)

// Mode selects how the store is opened.
type Mode string

const (
	// ModeWorking opens a store with a working tree that accepts commits.
	ModeWorking Mode = "working"
	// ModeBare opens a store usable only as a clone/fetch target.
	// All mutating operations fail with an invalid_operation error.
	ModeBare Mode = "bare"
)

// StoredSkill pairs a skill snapshot reconstructed from the store with
// its code, as read back during index rebuild.
type StoredSkill struct {
	Skill types.Skill
	Code  string
}

// Store is the versioned persistence layer for skills. The store is the
// single source of truth for a skill's existence and content; history is
// append-only and never rewritten. Implementations serialize their own
// mutations: one in-flight mutating call per handle.
type Store interface {
	// Init opens an existing store or creates one with the initial
	// scaffold. It is idempotent and safe to call at startup.
	Init(ctx context.Context) error

	// Mode reports how the store was opened.
	Mode() Mode

	// Path returns the store's root directory.
	Path() string

	// CommitSkill writes the skill's code and metadata sidecar and
	// commits both as one revision. Fails with invalid_operation in
	// bare mode.
	CommitSkill(ctx context.Context, skill *types.Skill, code string) (string, error)

	// History returns revisions touching the named skill, newest-first.
	// A skill with no history yields an empty slice, not an error.
	History(ctx context.Context, skillName string) ([]types.RevisionSummary, error)

	// Clone copies the store to targetPath on the given branch.
	// Destructive: any pre-existing directory at targetPath is removed.
	Clone(ctx context.Context, targetPath, branch string) error

	// CreateBranch creates and checks out a branch from another.
	// Fails with invalid_operation in bare mode.
	CreateBranch(ctx context.Context, name, from string) error

	// MergeBranch merges source into target and returns the merge
	// revision id. Fails with invalid_operation in bare mode.
	MergeBranch(ctx context.Context, source, target, message string) (string, error)

	// ListSkills reads every skill file plus its metadata sidecar from
	// the working tree, for index rebuild.
	ListSkills(ctx context.Context) ([]StoredSkill, error)

	// Stats reports best-effort store statistics; size computation
	// failures degrade to 0 instead of propagating.
	Stats(ctx context.Context) types.StoreStats
}
