package types

import "time"

// SkillStatus represents the lifecycle state of a skill.
type SkillStatus string

const (
	StatusActive     SkillStatus = "active"
	StatusDeprecated SkillStatus = "deprecated"
	StatusError      SkillStatus = "error"
	StatusPending    SkillStatus = "pending"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s SkillStatus) Valid() bool {
	switch s {
	case StatusActive, StatusDeprecated, StatusError, StatusPending:
		return true
	}
	return false
}

// SkillMetadata describes a skill independently of its code.
// A metadata value is immutable once embedded in a skill revision;
// changing any field produces a new revision.
type SkillMetadata struct {
	Name         string                 `json:"name" binding:"required"`
	Version      string                 `json:"version"`
	Description  string                 `json:"description"`
	Author       string                 `json:"author"`
	Language     string                 `json:"language"`
	Tags         []string               `json:"tags"`
	Dependencies []string               `json:"dependencies"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	ReturnType   *string                `json:"return_type,omitempty"`
	Examples     []string               `json:"examples,omitempty"`
}

// Skill is the unit of storage and search in the registry.
type Skill struct {
	ID         string        `json:"id"`
	Metadata   SkillMetadata `json:"metadata"`
	Code       string        `json:"code"`
	Status     SkillStatus   `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	CreatedBy  *string       `json:"created_by,omitempty"`
	UsageCount int64         `json:"usage_count"`
	Rating     float64       `json:"rating"`
}

// RevisionSummary describes one commit touching a skill in the
// versioned store, newest-first when returned from History.
type RevisionSummary struct {
	Hash       string    `json:"hash"`
	ShortHash  string    `json:"short_hash"`
	Message    string    `json:"message"`
	Author     string    `json:"author"`
	Date       time.Time `json:"date"`
	Insertions int       `json:"insertions"`
	Deletions  int       `json:"deletions"`
	Lines      int       `json:"lines"`
}

// StoreStats summarizes the versioned store.
type StoreStats struct {
	TotalCommits int      `json:"total_commits"`
	Branches     []string `json:"branches"`
	SkillsCount  int      `json:"skills_count"`
	SizeBytes    int64    `json:"size_bytes"`
}

// IndexedSkill is the denormalized view of a skill as stored in the
// semantic index. It is derived state: always rebuildable from the
// versioned store and never authoritative.
type IndexedSkill struct {
	DocID        string      `json:"id"`
	SkillID      string      `json:"skill_id"`
	Name         string      `json:"name"`
	Version      string      `json:"version"`
	Description  string      `json:"description"`
	Author       string      `json:"author"`
	Language     string      `json:"language"`
	Tags         []string    `json:"tags"`
	Dependencies []string    `json:"dependencies"`
	Status       SkillStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Document     string      `json:"document"`
}

// ScoredSkill is a search hit with its normalized similarity score.
// Scores are in [0,1]; 1.0 is a perfect match.
type ScoredSkill struct {
	IndexedSkill
	SimilarityScore float64 `json:"similarity_score"`
}

// IndexStats summarizes the semantic index.
type IndexStats struct {
	TotalDocuments int    `json:"total_documents"`
	Collection     string `json:"collection_name"`
	EmbeddingDims  int    `json:"embedding_dims"`
}

// SyncState tracks what a single agent is known to have synchronized.
// It is owned by the coordinator, keyed by agent id.
type SyncState struct {
	AgentID     string          `json:"agent_id"`
	LastSync    time.Time       `json:"last_sync"`
	KnownSkills map[string]bool `json:"known_skills"`
}
