package types

import "time"

// SkillCreateRequest creates a new skill.
type SkillCreateRequest struct {
	Metadata SkillMetadata `json:"metadata" binding:"required"`
	Code     string        `json:"code" binding:"required"`
}

// SkillUpdateRequest updates an existing skill. Nil fields are left
// untouched; the id in the URL identifies the target.
type SkillUpdateRequest struct {
	Metadata *SkillMetadata `json:"metadata,omitempty"`
	Code     *string        `json:"code,omitempty"`
	Status   *SkillStatus   `json:"status,omitempty"`
}

// SearchFilters narrows search and list results over denormalized
// metadata. Zero values mean "no filter".
type SearchFilters struct {
	Tags   []string    `json:"tags,omitempty"`
	Author string      `json:"author,omitempty"`
	Status SkillStatus `json:"status,omitempty"`
}

// SkillSearchRequest performs a semantic search.
type SkillSearchRequest struct {
	Query  string      `json:"query" binding:"required"`
	TopK   int         `json:"top_k"`
	Tags   []string    `json:"tags,omitempty"`
	Author string      `json:"author,omitempty"`
	Status SkillStatus `json:"status,omitempty"`
}

// SkillSearchResponse carries ranked search hits.
type SkillSearchResponse struct {
	Skills []ScoredSkill `json:"skills"`
	Total  int           `json:"total"`
	Query  string        `json:"query"`
}

// SyncRequest asks for the delta since the agent's last synchronization.
// A nil LastSync requests a full sync.
type SyncRequest struct {
	AgentID     string     `json:"agent_id" binding:"required"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	LocalSkills []string   `json:"local_skills"`
}

// SyncResponse is the incremental delta for one agent. NextSync is the
// server clock at response time and must be echoed back on the next
// call; this bounds clock-skew drift but does not remove skew itself.
type SyncResponse struct {
	NewSkills     []IndexedSkill `json:"new_skills"`
	UpdatedSkills []IndexedSkill `json:"updated_skills"`
	DeletedSkills []string       `json:"deleted_skills"`
	NextSync      time.Time      `json:"next_sync"`
}

// HealthCheck is the /health response body.
type HealthCheck struct {
	Status          string    `json:"status"`
	Version         string    `json:"version"`
	Timestamp       time.Time `json:"timestamp"`
	UptimeSeconds   float64   `json:"uptime"`
	ConnectedAgents int       `json:"connected_agents"`
	TotalSkills     int       `json:"total_skills"`
}
