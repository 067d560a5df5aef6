package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanagent/skillhub/internal/hub"
	"github.com/lanagent/skillhub/internal/index"
	"github.com/lanagent/skillhub/internal/registry"
	"github.com/lanagent/skillhub/internal/store"
	"github.com/lanagent/skillhub/internal/types"
)

// memStore is a minimal in-memory store.Store for handler tests.
type memStore struct {
	commits   int
	revisions []types.RevisionSummary
}

func (s *memStore) Init(ctx context.Context) error { return nil }
func (s *memStore) Mode() store.Mode               { return store.ModeWorking }
func (s *memStore) Path() string                   { return "/tmp/mem" }

func (s *memStore) CommitSkill(ctx context.Context, skill *types.Skill, code string) (string, error) {
	s.commits++
	return fmt.Sprintf("commit-%d", s.commits), nil
}

func (s *memStore) History(ctx context.Context, skillName string) ([]types.RevisionSummary, error) {
	return s.revisions, nil
}

func (s *memStore) Clone(ctx context.Context, targetPath, branch string) error { return nil }
func (s *memStore) CreateBranch(ctx context.Context, name, from string) error  { return nil }
func (s *memStore) MergeBranch(ctx context.Context, source, target, message string) (string, error) {
	return "", nil
}
func (s *memStore) ListSkills(ctx context.Context) ([]store.StoredSkill, error) { return nil, nil }
func (s *memStore) Stats(ctx context.Context) types.StoreStats {
	return types.StoreStats{TotalCommits: s.commits}
}

func setupRouter(t *testing.T) (*gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := &memStore{}
	idx, err := index.Open(t.TempDir(), "skills", index.NewHashingEmbedder(64), nil)
	require.NoError(t, err)

	notifyHub := hub.New(time.Second, nil, nil)
	coordinator := registry.New(st, idx, notifyHub, nil, nil)
	handlers := NewHandlers(coordinator, notifyHub)

	router := gin.New()
	router.GET("/health", handlers.Health)
	api := router.Group("/api/v1")
	{
		api.POST("/skills", handlers.CreateSkill)
		api.GET("/skills", handlers.ListSkills)
		api.GET("/skills/:id", handlers.GetSkill)
		api.PUT("/skills/:id", handlers.UpdateSkill)
		api.DELETE("/skills/:id", handlers.DeleteSkill)
		api.POST("/skills/search", handlers.SearchSkills)
		api.GET("/skills/:id/history", handlers.SkillHistory)
		api.POST("/skills/:id/usage", handlers.IncrementUsage)
		api.POST("/skills/:id/rate", handlers.RateSkill)
		api.POST("/sync", handlers.Sync)
		api.GET("/stats", handlers.Stats)
	}
	return router, st
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createBody(name string) types.SkillCreateRequest {
	return types.SkillCreateRequest{
		Metadata: types.SkillMetadata{
			Name:        name,
			Version:     "1.0.0",
			Description: "parses csv files",
			Author:      "agent-a",
			Language:    "python",
			Tags:        []string{"csv"},
		},
		Code: "def run(): pass",
	}
}

func createSkill(t *testing.T, router *gin.Engine, name string) string {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/skills", createBody(name))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Skill types.Skill `json:"skill"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Skill.ID
}

func TestCreateAndGetSkill(t *testing.T) {
	router, st := setupRouter(t)

	id := createSkill(t, router, "csv_parser")
	assert.Len(t, id, 16)
	assert.Equal(t, 1, st.commits)

	w := doJSON(t, router, "GET", "/api/v1/skills/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Skill types.IndexedSkill `json:"skill"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "csv_parser", resp.Skill.Name)
}

func TestGetUnknownSkillIs404(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(t, router, "GET", "/api/v1/skills/ffffffffffffffff", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp["kind"])
}

func TestCreateRejectsBadSyntax(t *testing.T) {
	router, st := setupRouter(t)

	body := createBody("bad_js")
	body.Metadata.Language = "javascript"
	body.Code = "function ( {"

	w := doJSON(t, router, "POST", "/api/v1/skills", body)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation", resp["kind"])
	assert.Equal(t, 0, st.commits, "rejected writes persist nothing")
}

func TestCreateRejectsMalformedJSON(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest("POST", "/api/v1/skills", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateSkill(t *testing.T) {
	router, _ := setupRouter(t)
	id := createSkill(t, router, "csv_parser")

	code := "def run(rows): return rows"
	w := doJSON(t, router, "PUT", "/api/v1/skills/"+id, types.SkillUpdateRequest{Code: &code})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Skill types.Skill `json:"skill"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, code, resp.Skill.Code)
}

func TestDeleteSkillIsIdempotent(t *testing.T) {
	router, _ := setupRouter(t)
	id := createSkill(t, router, "csv_parser")

	w := doJSON(t, router, "DELETE", "/api/v1/skills/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":true`)

	w = doJSON(t, router, "DELETE", "/api/v1/skills/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":false`)
}

func TestListSkillsWithTagFilter(t *testing.T) {
	router, _ := setupRouter(t)
	createSkill(t, router, "csv_parser")

	other := createBody("http_client")
	other.Metadata.Tags = []string{"http"}
	w := doJSON(t, router, "POST", "/api/v1/skills", other)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, "GET", "/api/v1/skills?tags=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Skills []types.IndexedSkill `json:"skills"`
		Total  int                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "csv_parser", resp.Skills[0].Name)
}

func TestSearchSkills(t *testing.T) {
	router, _ := setupRouter(t)
	createSkill(t, router, "csv_parser")

	w := doJSON(t, router, "POST", "/api/v1/skills/search", types.SkillSearchRequest{
		Query: "parses csv files",
		TopK:  5,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.SkillSearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Skills)
	assert.Equal(t, "csv_parser", resp.Skills[0].Name)
}

func TestSkillHistory(t *testing.T) {
	router, st := setupRouter(t)
	id := createSkill(t, router, "csv_parser")
	st.revisions = []types.RevisionSummary{
		{Hash: "abc", ShortHash: "abc", Message: "Add skill: csv_parser v1.0.0"},
	}

	w := doJSON(t, router, "GET", "/api/v1/skills/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Add skill: csv_parser v1.0.0")
}

func TestSkillHistorySurvivesDeletion(t *testing.T) {
	router, st := setupRouter(t)
	id := createSkill(t, router, "csv_parser")
	st.revisions = []types.RevisionSummary{
		{Hash: "abc", ShortHash: "abc", Message: "Add skill: csv_parser v1.0.0"},
	}

	w := doJSON(t, router, "DELETE", "/api/v1/skills/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/api/v1/skills/"+id, nil)
	require.Equal(t, http.StatusNotFound, w.Code, "deleted skills have no live view")

	w = doJSON(t, router, "GET", "/api/v1/skills/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code, "deletion never erases history")
	assert.Contains(t, w.Body.String(), "Add skill: csv_parser v1.0.0")
	assert.Contains(t, w.Body.String(), `"name":"csv_parser"`)
}

func TestRateSkillValidation(t *testing.T) {
	router, _ := setupRouter(t)
	id := createSkill(t, router, "csv_parser")

	w := doJSON(t, router, "POST", "/api/v1/skills/"+id+"/rate", gin.H{"rating": 4.5})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/skills/"+id+"/rate", gin.H{"rating": 0.0})
	require.Equal(t, http.StatusOK, w.Code, "zero is a legal rating, not a missing field")

	w = doJSON(t, router, "POST", "/api/v1/skills/"+id+"/rate", gin.H{"rating": 9.0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/skills/"+id+"/rate", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "rating field itself is required")
}

func TestSyncEndpoint(t *testing.T) {
	router, _ := setupRouter(t)
	createSkill(t, router, "csv_parser")

	w := doJSON(t, router, "POST", "/api/v1/sync", types.SyncRequest{AgentID: "agent-1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.SyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.NewSkills, 1, "nil last_sync returns everything as new")
	assert.False(t, resp.NextSync.IsZero())
}

func TestHealthAndStats(t *testing.T) {
	router, _ := setupRouter(t)
	createSkill(t, router, "csv_parser")

	w := doJSON(t, router, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health types.HealthCheck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.TotalSkills)

	w = doJSON(t, router, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "total_documents")
}
