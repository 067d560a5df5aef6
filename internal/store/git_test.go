package store

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanagent/skillhub/internal/types"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func newTestStore(t *testing.T, mode Mode) *GitStore {
	t.Helper()
	requireGit(t)

	s := NewGitStore(filepath.Join(t.TempDir(), "skills-repo"), mode, nil)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func testSkill(name string) *types.Skill {
	now := time.Now().UTC()
	return &types.Skill{
		ID: "abcdef0123456789",
		Metadata: types.SkillMetadata{
			Name:         name,
			Version:      "1.0.0",
			Description:  "parses csv files",
			Author:       "agent-a",
			Language:     "python",
			Tags:         []string{"csv", "parsing"},
			Dependencies: []string{"pandas"},
		},
		Status:    types.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		Rating:    5.0,
	}
}

func TestInitIsIdempotent(t *testing.T) {
	s := newTestStore(t, ModeWorking)

	// Re-init of the same path must open, not re-create.
	again := NewGitStore(s.Path(), ModeWorking, nil)
	require.NoError(t, again.Init(context.Background()))

	stats := again.Stats(context.Background())
	assert.Equal(t, 1, stats.TotalCommits, "re-init must not add commits")
}

func TestCommitSkillAndHistory(t *testing.T) {
	s := newTestStore(t, ModeWorking)
	ctx := context.Background()
	skill := testSkill("csv_parser")

	rev, err := s.CommitSkill(ctx, skill, "import csv\n")
	require.NoError(t, err)
	assert.Len(t, rev, 40)

	// Code file and sidecar both exist under the sanitized name.
	_, err = os.Stat(filepath.Join(s.Path(), "skills", "csv_parser.py"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.Path(), "metadata", "csv_parser.json"))
	require.NoError(t, err)

	skill.Metadata.Version = "1.1.0"
	_, err = s.CommitSkill(ctx, skill, "import csv\nimport io\n")
	require.NoError(t, err)

	history, err := s.History(ctx, "csv_parser")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Add skill: csv_parser v1.1.0", history[0].Message, "newest first")
	assert.Contains(t, history[0].Author, "agent-a")
	assert.Equal(t, 1, history[0].Insertions)
	assert.NotEmpty(t, history[0].ShortHash)
	assert.True(t, history[0].Date.After(time.Time{}))
}

func TestHistoryOfBracketedSkillName(t *testing.T) {
	s := newTestStore(t, ModeWorking)
	ctx := context.Background()

	// Brackets pass the filename sanitizer but are glob metacharacters
	// in a git pathspec; history must still match the file literally.
	skill := testSkill("matrix[0]")
	_, err := s.CommitSkill(ctx, skill, "import numpy\n")
	require.NoError(t, err)

	history, err := s.History(ctx, "matrix[0]")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Add skill: matrix[0] v1.0.0", history[0].Message)
}

func TestHistoryOfUnknownSkillIsEmpty(t *testing.T) {
	s := newTestStore(t, ModeWorking)

	history, err := s.History(context.Background(), "never_committed")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestBareModeGuards(t *testing.T) {
	s := newTestStore(t, ModeBare)
	ctx := context.Background()

	_, err := s.CommitSkill(ctx, testSkill("x"), "pass")
	assert.True(t, types.IsKind(err, types.KindInvalidOperation))

	err = s.CreateBranch(ctx, "feature", "")
	assert.True(t, types.IsKind(err, types.KindInvalidOperation))

	_, err = s.MergeBranch(ctx, "feature", "", "")
	assert.True(t, types.IsKind(err, types.KindInvalidOperation))

	_, err = s.ListSkills(ctx)
	assert.True(t, types.IsKind(err, types.KindInvalidOperation))
}

func TestListSkillsReconstructsFromSidecar(t *testing.T) {
	s := newTestStore(t, ModeWorking)
	ctx := context.Background()

	skill := testSkill("csv_parser")
	_, err := s.CommitSkill(ctx, skill, "import csv\n")
	require.NoError(t, err)

	stored, err := s.ListSkills(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	got := stored[0].Skill
	assert.Equal(t, skill.ID, got.ID)
	assert.Equal(t, skill.Metadata.Name, got.Metadata.Name)
	assert.Equal(t, skill.Metadata.Version, got.Metadata.Version)
	assert.Equal(t, skill.Metadata.Tags, got.Metadata.Tags)
	assert.Equal(t, skill.Metadata.Dependencies, got.Metadata.Dependencies)
	assert.Equal(t, types.StatusActive, got.Status)
	assert.Equal(t, "import csv\n", stored[0].Code)
	assert.WithinDuration(t, skill.CreatedAt, got.CreatedAt, time.Second)
}

func TestBranchAndMerge(t *testing.T) {
	s := newTestStore(t, ModeWorking)
	ctx := context.Background()

	_, err := s.CommitSkill(ctx, testSkill("base"), "pass\n")
	require.NoError(t, err)

	require.NoError(t, s.CreateBranch(ctx, "agent-b/experiment", ""))
	_, err = s.CommitSkill(ctx, testSkill("experimental"), "pass\n")
	require.NoError(t, err)

	rev, err := s.MergeBranch(ctx, "agent-b/experiment", "master", "merge experiment")
	require.NoError(t, err)
	assert.Len(t, rev, 40)

	stats := s.Stats(ctx)
	assert.Contains(t, stats.Branches, "agent-b/experiment")
	assert.Contains(t, stats.Branches, "master")
	assert.Equal(t, 2, stats.SkillsCount)
	assert.Greater(t, stats.SizeBytes, int64(0))
}

func TestCloneIsDestructiveOnTarget(t *testing.T) {
	s := newTestStore(t, ModeWorking)
	ctx := context.Background()

	_, err := s.CommitSkill(ctx, testSkill("cloned"), "pass\n")
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "clone")
	require.NoError(t, os.MkdirAll(target, 0o755))
	stale := filepath.Join(target, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	require.NoError(t, s.Clone(ctx, target, "master"))

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "pre-existing target content must be removed")
	_, err = os.Stat(filepath.Join(target, "skills", "cloned.py"))
	assert.NoError(t, err)
}
