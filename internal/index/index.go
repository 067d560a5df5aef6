package index

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lanagent/skillhub/internal/types"
)

const (
	// docIDPrefix makes index ids deterministic: re-upserting a skill
	// always overwrites the same entry.
	docIDPrefix = "skill_"

	// codeExcerptLen caps how much code is embedded. Longer code is
	// intentionally not fully embedded: the excerpt trades recall for
	// embedding cost and latency.
	codeExcerptLen = 2000

	// MaxTopK bounds search result counts.
	MaxTopK = 20

	snapshotFile = "index.json"
)

// entry is one indexed skill with its embedding vector.
type entry struct {
	View   types.IndexedSkill `json:"view"`
	Vector []float64          `json:"vector"`
}

// snapshot is the on-disk persistence format.
type snapshot struct {
	Collection string  `json:"collection"`
	Dims       int     `json:"dims"`
	Entries    []entry `json:"entries"`
}

// Index is an in-memory vector index with JSON snapshot persistence.
// Mutations are serialized internally; reads take a shared lock and may
// observe a slightly stale view relative to an in-flight write, which
// is acceptable under the registry's eventual-consistency policy.
type Index struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	embedder   Embedder
	dir        string
	collection string
	logger     *zap.Logger
}

// Open loads or creates an index under dir. A failure here is fatal to
// the caller: the registry refuses to serve without its index.
func Open(dir, collection string, embedder Embedder, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.WrapError(types.KindBackendUnavailable, "create index directory", err)
	}

	idx := &Index{
		entries:    make(map[string]*entry),
		embedder:   embedder,
		dir:        dir,
		collection: collection,
		logger:     logger,
	}

	data, err := os.ReadFile(idx.snapshotPath())
	switch {
	case os.IsNotExist(err):
		// Fresh index; the coordinator decides whether to rebuild.
	case err != nil:
		return nil, types.WrapError(types.KindBackendUnavailable, "read index snapshot", err)
	default:
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, types.WrapError(types.KindBackendUnavailable, "decode index snapshot", err)
		}
		for i := range snap.Entries {
			e := snap.Entries[i]
			idx.entries[e.View.DocID] = &e
		}
	}

	logger.Info("semantic index ready",
		zap.String("collection", collection),
		zap.Int("documents", len(idx.entries)),
		zap.Int("dims", embedder.Dim()))
	return idx, nil
}

// Upsert projects the current skill snapshot into the index. It is
// idempotent: the entry is keyed by a deterministic doc id derived from
// the skill id, so re-upserting replaces rather than duplicates.
func (idx *Index) Upsert(skill *types.Skill, code string) (string, error) {
	document := buildDocument(skill, code)
	vector := idx.embedder.Embed(document)

	view := types.IndexedSkill{
		DocID:        docIDPrefix + skill.ID,
		SkillID:      skill.ID,
		Name:         skill.Metadata.Name,
		Version:      skill.Metadata.Version,
		Description:  skill.Metadata.Description,
		Author:       skill.Metadata.Author,
		Language:     skill.Metadata.Language,
		Tags:         append([]string{}, skill.Metadata.Tags...),
		Dependencies: append([]string{}, skill.Metadata.Dependencies...),
		Status:       skill.Status,
		CreatedAt:    skill.CreatedAt,
		UpdatedAt:    skill.UpdatedAt,
		Document:     document,
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	// Delete-then-insert under one lock; last writer wins per doc id.
	delete(idx.entries, view.DocID)
	idx.entries[view.DocID] = &entry{View: view, Vector: vector}
	return view.DocID, nil
}

// Remove deletes the entry for a skill id. Idempotent: removing an
// absent entry returns false, never an error.
func (idx *Index) Remove(skillID string) bool {
	docID := docIDPrefix + skillID

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.entries[docID]; !ok {
		return false
	}
	delete(idx.entries, docID)
	return true
}

// Search embeds the query and returns up to topK entries ranked by
// similarity, non-increasing. Filters are applied after retrieval, so
// selective filters may return fewer than topK results. topK is clamped
// to [1, MaxTopK]. Scores are 1 - cosine distance, clamped to [0,1].
func (idx *Index) Search(query string, topK int, filters types.SearchFilters) []types.ScoredSkill {
	if topK < 1 {
		topK = 1
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	queryVec := idx.embedder.Embed(query)

	idx.mu.RLock()
	results := make([]types.ScoredSkill, 0, len(idx.entries))
	for _, e := range idx.entries {
		if !matches(&e.View, filters) {
			continue
		}
		score := cosine(queryVec, e.Vector)
		results = append(results, types.ScoredSkill{
			IndexedSkill:    e.View,
			SimilarityScore: clamp01(score),
		})
	}
	idx.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].SimilarityScore > results[j].SimilarityScore
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Get returns the indexed view of one skill, if present.
func (idx *Index) Get(skillID string) (*types.IndexedSkill, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	e, ok := idx.entries[docIDPrefix+skillID]
	if !ok {
		return nil, false
	}
	view := e.View
	return &view, true
}

// List returns every entry matching the filters, unranked.
func (idx *Index) List(filters types.SearchFilters) []types.IndexedSkill {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	views := make([]types.IndexedSkill, 0, len(idx.entries))
	for _, e := range idx.entries {
		if matches(&e.View, filters) {
			views = append(views, e.View)
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

// Count returns the number of indexed documents.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Stats summarizes the index.
func (idx *Index) Stats() types.IndexStats {
	return types.IndexStats{
		TotalDocuments: idx.Count(),
		Collection:     idx.collection,
		EmbeddingDims:  idx.embedder.Dim(),
	}
}

// Flush persists the current entries to the snapshot file. Called at
// least once per logical write and at shutdown. The write is atomic:
// a temp file is renamed over the previous snapshot.
func (idx *Index) Flush() error {
	idx.mu.RLock()
	snap := snapshot{
		Collection: idx.collection,
		Dims:       idx.embedder.Dim(),
		Entries:    make([]entry, 0, len(idx.entries)),
	}
	for _, e := range idx.entries {
		snap.Entries = append(snap.Entries, *e)
	}
	idx.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return types.WrapError(types.KindTransient, "encode index snapshot", err)
	}

	tmp := idx.snapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return types.WrapError(types.KindTransient, "write index snapshot", err)
	}
	if err := os.Rename(tmp, idx.snapshotPath()); err != nil {
		return types.WrapError(types.KindTransient, "replace index snapshot", err)
	}
	return nil
}

func (idx *Index) snapshotPath() string {
	return filepath.Join(idx.dir, snapshotFile)
}

// buildDocument composes the bounded text that gets embedded: name,
// description, tags and a capped code excerpt.
func buildDocument(skill *types.Skill, code string) string {
	excerpt := code
	if len(excerpt) > codeExcerptLen {
		excerpt = excerpt[:codeExcerptLen]
	}
	return fmt.Sprintf("Name: %s\n\nDescription: %s\n\nTags: %s\n\nCode:\n%s",
		skill.Metadata.Name,
		skill.Metadata.Description,
		strings.Join(skill.Metadata.Tags, ", "),
		excerpt)
}

// matches applies equality/containment filters over denormalized
// metadata. Filter tags must all be present on the entry.
func matches(view *types.IndexedSkill, filters types.SearchFilters) bool {
	if filters.Author != "" && view.Author != filters.Author {
		return false
	}
	if filters.Status != "" && view.Status != filters.Status {
		return false
	}
	for _, want := range filters.Tags {
		found := false
		for _, tag := range view.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
