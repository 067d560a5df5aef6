package registry

import (
	"time"

	"go.uber.org/zap"

	"github.com/lanagent/skillhub/internal/types"
)

// Sync computes the incremental delta for one agent:
//
//   - new: created after last_sync and not among the agent's local ids
//   - updated: modified after last_sync and already held locally
//   - deleted: local ids with no live index entry
//
// A nil LastSync is a full sync: every live skill is returned as new.
// NextSync is the server clock; agents echo it back, so a skill written
// concurrently with the cutoff may be delivered twice but is never lost.
func (c *Coordinator) Sync(req types.SyncRequest) types.SyncResponse {
	now := time.Now().UTC()
	live := c.index.List(types.SearchFilters{})

	local := make(map[string]bool, len(req.LocalSkills))
	for _, id := range req.LocalSkills {
		local[id] = true
	}

	resp := types.SyncResponse{
		NewSkills:     []types.IndexedSkill{},
		UpdatedSkills: []types.IndexedSkill{},
		DeletedSkills: []string{},
		NextSync:      now,
	}

	liveIDs := make(map[string]bool, len(live))
	for _, view := range live {
		liveIDs[view.SkillID] = true

		if req.LastSync == nil {
			resp.NewSkills = append(resp.NewSkills, view)
			continue
		}
		switch {
		case view.CreatedAt.After(*req.LastSync) && !local[view.SkillID]:
			resp.NewSkills = append(resp.NewSkills, view)
		case view.UpdatedAt.After(*req.LastSync) && local[view.SkillID]:
			resp.UpdatedSkills = append(resp.UpdatedSkills, view)
		}
	}

	for _, id := range req.LocalSkills {
		if !liveIDs[id] {
			resp.DeletedSkills = append(resp.DeletedSkills, id)
		}
	}

	c.rememberSync(req.AgentID, now, liveIDs)
	if c.metrics != nil {
		c.metrics.SyncsTotal.Inc()
	}
	c.logger.Debug("sync delta served",
		zap.String("agent_id", req.AgentID),
		zap.Int("new", len(resp.NewSkills)),
		zap.Int("updated", len(resp.UpdatedSkills)),
		zap.Int("deleted", len(resp.DeletedSkills)))
	return resp
}

// SyncStates returns a snapshot of per-agent sync state, keyed by agent
// id. Used by the stats endpoint.
func (c *Coordinator) SyncStates() map[string]types.SyncState {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	out := make(map[string]types.SyncState, len(c.syncStates))
	for id, state := range c.syncStates {
		out[id] = *state
	}
	return out
}

func (c *Coordinator) rememberSync(agentID string, at time.Time, known map[string]bool) {
	if agentID == "" {
		return
	}
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	c.syncStates[agentID] = &types.SyncState{
		AgentID:     agentID,
		LastSync:    at,
		KnownSkills: known,
	}
}
