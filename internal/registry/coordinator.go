// Package registry implements the coordinator that owns a skill write
// end to end: validation, identity, the versioned commit, the semantic
// index projection and the change notification. It also computes sync
// deltas for agents and rebuilds the index from the store on startup.
//
// Consistency model: the versioned store is the single source of truth;
// the index is a derived cache. A write that commits to the store but
// fails index upsert still succeeds (degraded, skill left pending
// re-indexing); the startup rebuild guarantees convergence. There is no
// two-phase commit across the two backends.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lanagent/skillhub/internal/identity"
	"github.com/lanagent/skillhub/internal/monitoring"
	"github.com/lanagent/skillhub/internal/store"
	"github.com/lanagent/skillhub/internal/types"
)

const (
	retryAttempts = 3
	retryBackoff  = 200 * time.Millisecond

	defaultVersion = "1.0.0"
	defaultRating  = 5.0
)

// Indexer is the semantic index surface the coordinator depends on.
// *index.Index satisfies it; tests substitute failing fakes.
type Indexer interface {
	Upsert(skill *types.Skill, code string) (string, error)
	Remove(skillID string) bool
	Search(query string, topK int, filters types.SearchFilters) []types.ScoredSkill
	Get(skillID string) (*types.IndexedSkill, bool)
	List(filters types.SearchFilters) []types.IndexedSkill
	Count() int
	Stats() types.IndexStats
	Flush() error
}

// Notifier receives change events for fan-out to connected agents.
// Delivery is best effort; implementations never return errors.
type Notifier interface {
	BroadcastSkillUpdate(payload types.SkillUpdatePayload)
}

// record is the coordinator's cached authoritative snapshot of one
// skill, kept so updates and re-ratings have the current code at hand.
type record struct {
	skill types.Skill
	code  string
}

// Coordinator orchestrates writes across the versioned store and the
// semantic index and owns per-agent sync state. Construct one instance
// at startup and pass it to every handler; there are no ambient globals.
type Coordinator struct {
	store    store.Store
	index    Indexer
	notifier Notifier
	metrics  *monitoring.Metrics
	logger   *zap.Logger

	// skillLocks serializes writes per skill id so two writes to the
	// same id reach the store in receipt order. Writes to different
	// ids proceed concurrently.
	skillLocks sync.Map

	records sync.Map // skill id -> *record

	// tombstones maps deleted skill ids to their last known name.
	// Deletion is logical: store history outlives the live skill, and
	// the history route still needs the id -> name resolution.
	tombstones sync.Map

	syncMu     sync.Mutex
	syncStates map[string]*types.SyncState
}

// New creates a coordinator over an initialized store and index.
func New(st store.Store, idx Indexer, notifier Notifier, metrics *monitoring.Metrics, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:      st,
		index:      idx,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger,
		syncStates: make(map[string]*types.SyncState),
	}
}

// SetNotifier wires the notification hub after construction; the hub
// needs the coordinator's stats and the coordinator needs the hub.
func (c *Coordinator) SetNotifier(n Notifier) { c.notifier = n }

// Create validates and persists a brand-new skill. A fresh id is always
// assigned; re-creating a skill with the same name and author yields a
// distinct id.
func (c *Coordinator) Create(ctx context.Context, req types.SkillCreateRequest) (*types.Skill, error) {
	start := time.Now()

	// Stage 1: validate. Nothing is persisted on failure.
	if err := identity.ValidateMetadata(req.Metadata); err != nil {
		c.metrics.ObserveWrite("rejected", start)
		return nil, err
	}
	if err := identity.ValidateCode(req.Code, req.Metadata.Language); err != nil {
		c.metrics.ObserveWrite("rejected", start)
		return nil, err
	}

	// Stage 2: identity.
	meta := req.Metadata
	if meta.Version == "" {
		meta.Version = defaultVersion
	}
	if meta.Tags == nil {
		meta.Tags = []string{}
	}
	if meta.Dependencies == nil {
		meta.Dependencies = []string{}
	}

	now := time.Now().UTC()
	skill := &types.Skill{
		ID:        identity.DeriveID(meta.Name, meta.Author),
		Metadata:  meta,
		Code:      req.Code,
		Status:    types.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		Rating:    defaultRating,
	}
	if meta.Author != "" {
		author := meta.Author
		skill.CreatedBy = &author
	}

	if err := c.applyWrite(ctx, skill, "created", start); err != nil {
		return nil, err
	}
	return skill, nil
}

// Update applies a partial update to an existing skill. The id and
// created_at are never touched; updated_at advances.
func (c *Coordinator) Update(ctx context.Context, id string, req types.SkillUpdateRequest) (*types.Skill, error) {
	start := time.Now()

	current, ok := c.loadRecord(id)
	if !ok {
		return nil, types.NewError(types.KindNotFound, fmt.Sprintf("skill %s not found", id))
	}

	skill := current.skill
	code := current.code
	if req.Metadata != nil {
		if err := identity.ValidateMetadata(*req.Metadata); err != nil {
			c.metrics.ObserveWrite("rejected", start)
			return nil, err
		}
		skill.Metadata = *req.Metadata
	}
	if req.Code != nil {
		if err := identity.ValidateCode(*req.Code, skill.Metadata.Language); err != nil {
			c.metrics.ObserveWrite("rejected", start)
			return nil, err
		}
		code = *req.Code
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			c.metrics.ObserveWrite("rejected", start)
			return nil, types.NewError(types.KindValidation, fmt.Sprintf("unknown status %q", *req.Status))
		}
		skill.Status = *req.Status
	}

	skill.Code = code
	skill.UpdatedAt = time.Now().UTC()

	if err := c.applyWrite(ctx, &skill, "updated", start); err != nil {
		return nil, err
	}
	return &skill, nil
}

// applyWrite runs the commit, index and notify stages for one skill
// under its per-id lock.
func (c *Coordinator) applyWrite(ctx context.Context, skill *types.Skill, action string, start time.Time) error {
	lock := c.lockFor(skill.ID)
	lock.Lock()
	defer lock.Unlock()

	// Stage 3: versioned commit. Bare stores have nothing to commit
	// into; the write continues with search-only persistence.
	if c.store.Mode() == store.ModeBare {
		c.logger.Warn("store is bare; skipping versioned commit (degraded durability)",
			zap.String("skill_id", skill.ID))
	} else {
		err := c.withRetry(ctx, "commit_skill", func() error {
			_, err := c.store.CommitSkill(ctx, skill, skill.Code)
			return err
		})
		if err != nil {
			c.metrics.ObserveWrite("failed", start)
			return err
		}
	}

	// Stage 4: index upsert. The index is a rebuildable cache, so a
	// failure here degrades the write instead of failing it.
	err := c.withRetry(ctx, "index_upsert", func() error {
		_, err := c.index.Upsert(skill, skill.Code)
		return err
	})
	if err != nil {
		skill.Status = types.StatusPending
		c.storeRecord(skill)
		c.logger.Warn("index upsert failed after versioned commit; skill left pending re-index",
			zap.String("skill_id", skill.ID), zap.Error(err))
		if c.metrics != nil {
			c.metrics.DegradedWrites.Inc()
		}
		c.metrics.ObserveWrite("degraded", start)
		return nil
	}

	c.storeRecord(skill)
	if err := c.index.Flush(); err != nil {
		c.logger.Warn("index flush failed", zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.IndexedSkills.Set(float64(c.index.Count()))
	}
	c.metrics.ObserveWrite("committed", start)

	// Stage 5: notify. Delivery failures never fail the write.
	if c.notifier != nil {
		c.notifier.BroadcastSkillUpdate(types.SkillUpdatePayload{
			Action:  action,
			SkillID: skill.ID,
			Name:    skill.Metadata.Name,
			Version: skill.Metadata.Version,
			Author:  skill.Metadata.Author,
		})
	}
	return nil
}

// Delete removes a skill from the semantic index. The versioned store
// keeps its history: deletion is logical, never a history rewrite.
// Deleting an unknown id is a no-op returning false, not an error.
func (c *Coordinator) Delete(ctx context.Context, id string) bool {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	view, hadView := c.index.Get(id)
	removed := c.index.Remove(id)
	rec, hadRecord := c.loadRecord(id)
	c.records.Delete(id)
	if !removed && !hadRecord {
		return false
	}

	switch {
	case hadRecord:
		c.tombstones.Store(id, rec.skill.Metadata.Name)
	case hadView:
		c.tombstones.Store(id, view.Name)
	}

	if err := c.index.Flush(); err != nil {
		c.logger.Warn("index flush failed", zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.IndexedSkills.Set(float64(c.index.Count()))
	}

	if c.notifier != nil {
		payload := types.SkillUpdatePayload{Action: "deleted", SkillID: id}
		if hadRecord {
			payload.Name = rec.skill.Metadata.Name
			payload.Version = rec.skill.Metadata.Version
			payload.Author = rec.skill.Metadata.Author
		}
		c.notifier.BroadcastSkillUpdate(payload)
	}
	return true
}

// Get returns the indexed view of a skill, falling back to the
// coordinator's record cache for skills that are pending re-index.
func (c *Coordinator) Get(id string) (*types.IndexedSkill, error) {
	if view, ok := c.index.Get(id); ok {
		return view, nil
	}
	if rec, ok := c.loadRecord(id); ok {
		view := viewFromRecord(rec)
		return &view, nil
	}
	return nil, types.NewError(types.KindNotFound, fmt.Sprintf("skill %s not found", id))
}

// List returns indexed skills matching the filters.
func (c *Coordinator) List(filters types.SearchFilters) []types.IndexedSkill {
	return c.index.List(filters)
}

// Search runs a semantic query against the index.
func (c *Coordinator) Search(req types.SkillSearchRequest) types.SkillSearchResponse {
	start := time.Now()
	results := c.index.Search(req.Query, req.TopK, types.SearchFilters{
		Tags:   req.Tags,
		Author: req.Author,
		Status: req.Status,
	})
	c.metrics.ObserveSearch(start)
	return types.SkillSearchResponse{Skills: results, Total: len(results), Query: req.Query}
}

// History returns the revision history of a skill by name.
func (c *Coordinator) History(ctx context.Context, skillName string) ([]types.RevisionSummary, error) {
	return c.store.History(ctx, skillName)
}

// HistoryByID resolves a skill id to its stored name and returns the
// revision history. Deleted skills still resolve through their
// tombstone: deletion removes a skill from the live index but never
// erases its store history.
func (c *Coordinator) HistoryByID(ctx context.Context, id string) (string, []types.RevisionSummary, error) {
	name, err := c.resolveName(id)
	if err != nil {
		return "", nil, err
	}
	revisions, err := c.store.History(ctx, name)
	return name, revisions, err
}

// resolveName maps a skill id to its name via the index, the record
// cache, or the deletion tombstones, in that order.
func (c *Coordinator) resolveName(id string) (string, error) {
	if view, ok := c.index.Get(id); ok {
		return view.Name, nil
	}
	if rec, ok := c.loadRecord(id); ok {
		return rec.skill.Metadata.Name, nil
	}
	if name, ok := c.tombstones.Load(id); ok {
		return name.(string), nil
	}
	return "", types.NewError(types.KindNotFound, fmt.Sprintf("skill %s not found", id))
}

// IncrementUsage bumps a skill's monotonic usage counter.
func (c *Coordinator) IncrementUsage(id string) error {
	return c.mutateRecord(id, func(rec *record) {
		rec.skill.UsageCount++
	})
}

// Rate sets a skill's rating, clamped to [0,5].
func (c *Coordinator) Rate(id string, rating float64) error {
	if rating < 0 || rating > 5 {
		return types.NewError(types.KindValidation, "rating must be within [0,5]")
	}
	return c.mutateRecord(id, func(rec *record) {
		rec.skill.Rating = rating
	})
}

// mutateRecord applies an informational mutation to a cached skill and
// refreshes its index entry. These fields are not versioned: they do
// not produce store commits.
func (c *Coordinator) mutateRecord(id string, fn func(*record)) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec, ok := c.loadRecord(id)
	if !ok {
		return types.NewError(types.KindNotFound, fmt.Sprintf("skill %s not found", id))
	}
	fn(&rec)
	rec.skill.UpdatedAt = time.Now().UTC()
	c.records.Store(id, &rec)

	if _, err := c.index.Upsert(&rec.skill, rec.code); err != nil {
		c.logger.Warn("index refresh failed", zap.String("skill_id", id), zap.Error(err))
	}
	return nil
}

// Rebuild re-projects every stored skill into the semantic index. Run
// at startup: if the index is empty but the store is not, the index is
// reconstructed before queries are served. A failure is logged, not
// fatal; the next startup retries.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	if c.store.Mode() == store.ModeBare {
		return nil
	}
	if c.index.Count() > 0 {
		c.warmRecords(ctx)
		return nil
	}

	stored, err := c.store.ListSkills(ctx)
	if err != nil {
		return fmt.Errorf("walk store for rebuild: %w", err)
	}
	if len(stored) == 0 {
		return nil
	}

	count := 0
	for i := range stored {
		s := stored[i]
		if _, err := c.index.Upsert(&s.Skill, s.Code); err != nil {
			c.logger.Warn("rebuild: index upsert failed",
				zap.String("skill", s.Skill.Metadata.Name), zap.Error(err))
			continue
		}
		skill := s.Skill
		skill.Code = s.Code
		c.storeRecord(&skill)
		count++
	}
	if err := c.index.Flush(); err != nil {
		c.logger.Warn("index flush failed after rebuild", zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.IndexedSkills.Set(float64(c.index.Count()))
	}
	c.logger.Info("index rebuilt from versioned store", zap.Int("skills", count))
	return nil
}

// warmRecords fills the record cache from the store when the index was
// already populated at startup, so updates have code at hand.
func (c *Coordinator) warmRecords(ctx context.Context) {
	stored, err := c.store.ListSkills(ctx)
	if err != nil {
		c.logger.Warn("record warm-up failed", zap.Error(err))
		return
	}
	for i := range stored {
		skill := stored[i].Skill
		skill.Code = stored[i].Code
		c.storeRecord(&skill)
	}
}

// Stats aggregates store and index statistics.
func (c *Coordinator) Stats(ctx context.Context) (types.StoreStats, types.IndexStats) {
	return c.store.Stats(ctx), c.index.Stats()
}

// Close flushes the index. Called at shutdown.
func (c *Coordinator) Close() error {
	return c.index.Flush()
}

// withRetry runs fn up to retryAttempts times with a fixed backoff,
// retrying only transient failures.
func (c *Coordinator) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if types.KindOf(err) != types.KindTransient {
			return err
		}
		if attempt < retryAttempts {
			c.logger.Warn("transient failure; retrying",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

func (c *Coordinator) lockFor(id string) *sync.Mutex {
	lock, _ := c.skillLocks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (c *Coordinator) storeRecord(skill *types.Skill) {
	c.records.Store(skill.ID, &record{skill: *skill, code: skill.Code})
}

func (c *Coordinator) loadRecord(id string) (record, bool) {
	val, ok := c.records.Load(id)
	if !ok {
		return record{}, false
	}
	return *val.(*record), true
}

func viewFromRecord(rec record) types.IndexedSkill {
	return types.IndexedSkill{
		DocID:        "skill_" + rec.skill.ID,
		SkillID:      rec.skill.ID,
		Name:         rec.skill.Metadata.Name,
		Version:      rec.skill.Metadata.Version,
		Description:  rec.skill.Metadata.Description,
		Author:       rec.skill.Metadata.Author,
		Language:     rec.skill.Metadata.Language,
		Tags:         rec.skill.Metadata.Tags,
		Dependencies: rec.skill.Metadata.Dependencies,
		Status:       rec.skill.Status,
		CreatedAt:    rec.skill.CreatedAt,
		UpdatedAt:    rec.skill.UpdatedAt,
	}
}
