package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lanagent/skillhub/internal/identity"
	"github.com/lanagent/skillhub/internal/types"
)

const (
	systemAuthor      = "Skill Registry"
	systemAuthorEmail = "registry@lan.local"
	agentAuthorEmail  = "agent@lan.local"
	defaultBranch     = "master"

	skillsDir   = "skills"
	metadataDir = "metadata"
)

const readmeContent = `# Skills Repository

Shared skills for the LAN agent registry.

- skills/    skill code, one file per skill
- metadata/  JSON sidecars, one per skill
`

const gitignoreContent = `__pycache__/
*.pyc
node_modules/
.DS_Store
*.swp
*~
`

// skillSidecar is the on-disk metadata layout: one JSON object per
// skill, sufficient to reconstruct a Skill minus its code.
type skillSidecar struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	Author       string            `json:"author"`
	Language     string            `json:"language"`
	Tags         []string          `json:"tags"`
	Dependencies []string          `json:"dependencies"`
	CreatedAt    *time.Time        `json:"created_at"`
	UpdatedAt    *time.Time        `json:"updated_at"`
	CreatedBy    *string           `json:"created_by"`
	Status       types.SkillStatus `json:"status"`
}

// GitStore implements Store on top of the git binary. Git is an
// external collaborator: the store shells out to it rather than
// reimplementing commit plumbing. Mutations are serialized by a mutex;
// reads go straight to the repository.
type GitStore struct {
	path   string
	mode   Mode
	logger *zap.Logger

	mu          sync.Mutex // one in-flight mutating call at a time
	initialized bool
}

// NewGitStore creates a store handle rooted at path. Init must be
// called before any other operation.
func NewGitStore(path string, mode Mode, logger *zap.Logger) *GitStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitStore{path: path, mode: mode, logger: logger}
}

// Mode reports how the store was opened.
func (s *GitStore) Mode() Mode { return s.mode }

// Path returns the store's root directory.
func (s *GitStore) Path() string { return s.path }

// Init opens an existing repository at the store path or creates one
// with the skills/metadata scaffold and an initial commit. Idempotent.
func (s *GitStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	if s.repoExists() {
		if _, err := s.git(ctx, "rev-parse", "--git-dir"); err != nil {
			return types.WrapError(types.KindBackendUnavailable, "existing store is not a git repository", err)
		}
		s.logger.Info("opened existing skill store", zap.String("path", s.path), zap.String("mode", string(s.mode)))
		s.initialized = true
		return nil
	}

	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return types.WrapError(types.KindBackendUnavailable, "create store directory", err)
	}

	initArgs := []string{"-c", "init.defaultBranch=" + defaultBranch, "init"}
	if s.mode == ModeBare {
		initArgs = append(initArgs, "--bare")
	}
	if _, err := s.git(ctx, initArgs...); err != nil {
		return types.WrapError(types.KindBackendUnavailable, "git init", err)
	}

	if s.mode == ModeWorking {
		if err := s.scaffold(ctx); err != nil {
			return err
		}
	}

	s.logger.Info("created skill store", zap.String("path", s.path), zap.String("mode", string(s.mode)))
	s.initialized = true
	return nil
}

// repoExists checks for the marker files of an already-initialized repo.
func (s *GitStore) repoExists() bool {
	marker := filepath.Join(s.path, ".git")
	if s.mode == ModeBare {
		marker = filepath.Join(s.path, "objects")
	}
	_, err := os.Stat(marker)
	return err == nil
}

// scaffold writes the repository skeleton and the initial commit.
func (s *GitStore) scaffold(ctx context.Context) error {
	files := map[string]string{
		"README.md":  readmeContent,
		".gitignore": gitignoreContent,
		filepath.Join(skillsDir, ".gitkeep"):   "",
		filepath.Join(metadataDir, ".gitkeep"): "",
	}
	for rel, content := range files {
		abs := filepath.Join(s.path, rel)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return types.WrapError(types.KindBackendUnavailable, "create scaffold directory", err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return types.WrapError(types.KindBackendUnavailable, "write scaffold file", err)
		}
	}

	if _, err := s.git(ctx, "add", "-A"); err != nil {
		return types.WrapError(types.KindBackendUnavailable, "stage scaffold", err)
	}
	_, err := s.git(ctx,
		"commit", "-m", "Initial commit: set up skills repository structure",
		"--author", fmt.Sprintf("%s <%s>", systemAuthor, systemAuthorEmail))
	if err != nil {
		return types.WrapError(types.KindBackendUnavailable, "initial commit", err)
	}
	return nil
}

// CommitSkill writes the code file and metadata sidecar under the
// sanitized skill name and commits both atomically as one revision
// authored by the skill's author.
func (s *GitStore) CommitSkill(ctx context.Context, skill *types.Skill, code string) (string, error) {
	if s.mode == ModeBare {
		return "", types.NewError(types.KindInvalidOperation, "bare store cannot accept commits; use a cloned working copy")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	san := identity.SanitizeName(skill.Metadata.Name)
	relCode := filepath.Join(skillsDir, san+identity.FileExtension(skill.Metadata.Language))
	relMeta := filepath.Join(metadataDir, san+".json")

	if err := os.WriteFile(filepath.Join(s.path, relCode), []byte(code), 0o644); err != nil {
		return "", types.WrapError(types.KindTransient, "write skill code", err)
	}

	sidecar := sidecarFromSkill(skill)
	metaJSON, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return "", types.WrapError(types.KindTransient, "encode skill metadata", err)
	}
	if err := os.WriteFile(filepath.Join(s.path, relMeta), metaJSON, 0o644); err != nil {
		return "", types.WrapError(types.KindTransient, "write skill metadata", err)
	}

	if _, err := s.git(ctx, "add", relCode, relMeta); err != nil {
		return "", types.WrapError(types.KindTransient, "stage skill files", err)
	}

	author := strings.TrimSpace(skill.Metadata.Author)
	authorSpec := fmt.Sprintf("%s <%s>", systemAuthor, systemAuthorEmail)
	if author != "" {
		authorSpec = fmt.Sprintf("%s <%s>", author, agentAuthorEmail)
	}

	// --allow-empty keeps re-commits of identical content from failing:
	// every accepted write maps to exactly one revision.
	message := fmt.Sprintf("Add skill: %s v%s", skill.Metadata.Name, skill.Metadata.Version)
	if _, err := s.git(ctx, "commit", "--allow-empty", "-m", message, "--author", authorSpec); err != nil {
		return "", types.WrapError(types.KindTransient, "commit skill", err)
	}

	hash, err := s.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", types.WrapError(types.KindTransient, "resolve revision", err)
	}
	return strings.TrimSpace(hash), nil
}

// History returns the commits touching the named skill, newest-first.
func (s *GitStore) History(ctx context.Context, skillName string) ([]types.RevisionSummary, error) {
	// A repository without commits has no history for any skill.
	if _, err := s.git(ctx, "rev-parse", "--verify", "HEAD"); err != nil {
		return []types.RevisionSummary{}, nil
	}

	pathspec := skillsDir + "/" + escapeGlob(identity.SanitizeName(skillName)) + ".*"
	out, err := s.git(ctx,
		"log", "--numstat", "--format=%x1e%H%x1f%an <%ae>%x1f%cI%x1f%s",
		"--", pathspec)
	if err != nil {
		return nil, types.WrapError(types.KindTransient, "read skill history", err)
	}
	return parseLog(out), nil
}

// escapeGlob backslash-escapes glob metacharacters the sanitizer lets
// through (brackets, mainly) so names match pathspecs literally.
func escapeGlob(name string) string {
	return globEscaper.Replace(name)
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

// parseLog decodes `git log --numstat` output with RS/US separated
// header fields into revision summaries.
func parseLog(out string) []types.RevisionSummary {
	revisions := []types.RevisionSummary{}
	for _, record := range strings.Split(out, "\x1e") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		lines := strings.SplitN(record, "\n", 2)
		fields := strings.Split(lines[0], "\x1f")
		if len(fields) < 4 {
			continue
		}

		rev := types.RevisionSummary{
			Hash:    fields[0],
			Author:  fields[1],
			Message: fields[3],
		}
		if len(rev.Hash) >= 7 {
			rev.ShortHash = rev.Hash[:7]
		}
		if ts, err := time.Parse(time.RFC3339, fields[2]); err == nil {
			rev.Date = ts
		}

		if len(lines) == 2 {
			for _, stat := range strings.Split(lines[1], "\n") {
				parts := strings.Fields(stat)
				if len(parts) != 3 {
					continue
				}
				ins, _ := strconv.Atoi(parts[0])
				del, _ := strconv.Atoi(parts[1])
				rev.Insertions += ins
				rev.Deletions += del
			}
			rev.Lines = rev.Insertions + rev.Deletions
		}
		revisions = append(revisions, rev)
	}
	return revisions
}

// Clone copies the repository to targetPath, removing any pre-existing
// directory there first. Irreversible for the target.
func (s *GitStore) Clone(ctx context.Context, targetPath, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch == "" {
		branch = defaultBranch
	}
	if err := os.RemoveAll(targetPath); err != nil {
		return types.WrapError(types.KindTransient, "clear clone target", err)
	}
	if _, err := s.git(ctx, "clone", "--branch", branch, s.path, targetPath); err != nil {
		return types.WrapError(types.KindTransient, "clone store", err)
	}
	return nil
}

// CreateBranch creates branch name from another branch and checks it out.
func (s *GitStore) CreateBranch(ctx context.Context, name, from string) error {
	if s.mode == ModeBare {
		return types.NewError(types.KindInvalidOperation, "bare store cannot create branches")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if from == "" {
		from = defaultBranch
	}
	if _, err := s.git(ctx, "checkout", "-b", name, from); err != nil {
		return types.WrapError(types.KindTransient, "create branch", err)
	}
	return nil
}

// MergeBranch merges source into target and returns the merge revision.
func (s *GitStore) MergeBranch(ctx context.Context, source, target, message string) (string, error) {
	if s.mode == ModeBare {
		return "", types.NewError(types.KindInvalidOperation, "bare store cannot merge branches")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if target == "" {
		target = defaultBranch
	}
	if _, err := s.git(ctx, "checkout", target); err != nil {
		return "", types.WrapError(types.KindTransient, "checkout merge target", err)
	}

	mergeArgs := []string{"merge", "--no-edit"}
	if message != "" {
		mergeArgs = append(mergeArgs, "-m", message)
	}
	mergeArgs = append(mergeArgs, source)
	if _, err := s.git(ctx, mergeArgs...); err != nil {
		return "", types.WrapError(types.KindTransient, "merge branch", err)
	}

	hash, err := s.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", types.WrapError(types.KindTransient, "resolve merge revision", err)
	}
	return strings.TrimSpace(hash), nil
}

// ListSkills reads every code file plus sidecar from the working tree.
// Sidecar-less files still index under defaults so that a partially
// damaged store rebuilds as much as possible.
func (s *GitStore) ListSkills(ctx context.Context) ([]StoredSkill, error) {
	if s.mode == ModeBare {
		return nil, types.NewError(types.KindInvalidOperation, "bare store has no working tree to read")
	}

	entries, err := os.ReadDir(filepath.Join(s.path, skillsDir))
	if os.IsNotExist(err) {
		return []StoredSkill{}, nil
	}
	if err != nil {
		return nil, types.WrapError(types.KindTransient, "read skills directory", err)
	}

	skills := []StoredSkill{}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == ".gitkeep" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		code, err := os.ReadFile(filepath.Join(s.path, skillsDir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable skill file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}

		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		skill := skillFromSidecar(s.readSidecar(stem), stem)
		skills = append(skills, StoredSkill{Skill: skill, Code: string(code)})
	}
	return skills, nil
}

// readSidecar loads the metadata sidecar for a skill stem, or nil when
// it is missing or unparseable.
func (s *GitStore) readSidecar(stem string) *skillSidecar {
	data, err := os.ReadFile(filepath.Join(s.path, metadataDir, stem+".json"))
	if err != nil {
		return nil
	}
	var sc skillSidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		s.logger.Warn("unparseable metadata sidecar", zap.String("skill", stem), zap.Error(err))
		return nil
	}
	return &sc
}

// Stats reports best-effort repository statistics.
func (s *GitStore) Stats(ctx context.Context) types.StoreStats {
	stats := types.StoreStats{Branches: []string{}}

	if out, err := s.git(ctx, "rev-list", "--count", "HEAD"); err == nil {
		stats.TotalCommits, _ = strconv.Atoi(strings.TrimSpace(out))
	}
	if out, err := s.git(ctx, "for-each-ref", "--format=%(refname:short)", "refs/heads"); err == nil {
		for _, b := range strings.Split(strings.TrimSpace(out), "\n") {
			if b != "" {
				stats.Branches = append(stats.Branches, b)
			}
		}
	}

	if s.mode == ModeWorking {
		if entries, err := os.ReadDir(filepath.Join(s.path, skillsDir)); err == nil {
			for _, entry := range entries {
				if !entry.IsDir() && entry.Name() != ".gitkeep" {
					stats.SkillsCount++
				}
			}
		}
	}

	// Size is best effort; walk errors degrade to 0.
	var size int64
	err := filepath.WalkDir(s.path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if info, err := d.Info(); err == nil && !d.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err == nil {
		stats.SizeBytes = size
	}
	return stats
}

// git runs one git command inside the store directory. Committer
// identity is pinned per invocation so the store never depends on the
// host's git configuration.
func (s *GitStore) git(ctx context.Context, args ...string) (string, error) {
	full := append([]string{
		"-c", "user.name=" + systemAuthor,
		"-c", "user.email=" + systemAuthorEmail,
	}, args...)

	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Dir = s.path
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// sidecarFromSkill projects a skill into its metadata sidecar.
func sidecarFromSkill(skill *types.Skill) skillSidecar {
	sc := skillSidecar{
		ID:           skill.ID,
		Name:         skill.Metadata.Name,
		Version:      skill.Metadata.Version,
		Description:  skill.Metadata.Description,
		Author:       skill.Metadata.Author,
		Language:     skill.Metadata.Language,
		Tags:         skill.Metadata.Tags,
		Dependencies: skill.Metadata.Dependencies,
		CreatedBy:    skill.CreatedBy,
		Status:       skill.Status,
	}
	if !skill.CreatedAt.IsZero() {
		created := skill.CreatedAt
		sc.CreatedAt = &created
	}
	if !skill.UpdatedAt.IsZero() {
		updated := skill.UpdatedAt
		sc.UpdatedAt = &updated
	}
	if sc.Tags == nil {
		sc.Tags = []string{}
	}
	if sc.Dependencies == nil {
		sc.Dependencies = []string{}
	}
	return sc
}

// skillFromSidecar reconstructs a skill from its sidecar, falling back
// to stem-derived defaults when the sidecar is missing.
func skillFromSidecar(sc *skillSidecar, stem string) types.Skill {
	now := time.Now().UTC()
	if sc == nil {
		return types.Skill{
			ID:        identity.DeriveID(stem, ""),
			Metadata:  types.SkillMetadata{Name: stem, Version: "1.0.0", Tags: []string{}, Dependencies: []string{}},
			Status:    types.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
			Rating:    5.0,
		}
	}

	skill := types.Skill{
		ID: sc.ID,
		Metadata: types.SkillMetadata{
			Name:         sc.Name,
			Version:      sc.Version,
			Description:  sc.Description,
			Author:       sc.Author,
			Language:     sc.Language,
			Tags:         sc.Tags,
			Dependencies: sc.Dependencies,
		},
		Status:    sc.Status,
		CreatedBy: sc.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
		Rating:    5.0,
	}
	if skill.ID == "" {
		skill.ID = identity.DeriveID(skill.Metadata.Name, skill.Metadata.Author)
	}
	if !skill.Status.Valid() {
		skill.Status = types.StatusActive
	}
	if sc.CreatedAt != nil {
		skill.CreatedAt = *sc.CreatedAt
	}
	if sc.UpdatedAt != nil {
		skill.UpdatedAt = *sc.UpdatedAt
	}
	return skill
}
