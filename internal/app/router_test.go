package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpulse.io/stockpulse/internal/api/middleware"
	"stockpulse.io/stockpulse/internal/app/modules"
	"stockpulse.io/stockpulse/internal/config"
	"stockpulse.io/stockpulse/internal/storage"
)

func TestBuildCORSConfig_DefaultsToAllowlistWhenOriginsEmpty(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{AllowCredentials: true},
	}

	got := buildCORSConfig(cfg)
	if got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want false", got.AllowAllOrigins)
	}
	if !got.AllowCredentials {
		t.Fatalf("AllowCredentials = %v, want true", got.AllowCredentials)
	}
	if len(got.AllowOrigins) != 2 {
		t.Fatalf("len(AllowOrigins) = %d, want 2", len(got.AllowOrigins))
	}
}

func TestBuildCORSConfig_StripsWildcardUnlessUnsafeFlagEnabled(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:   []string{"*", "https://example.com"},
			AllowCredentials: true,
		},
	}

	got := buildCORSConfig(cfg)
	if got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want false", got.AllowAllOrigins)
	}
	if len(got.AllowOrigins) != 1 || got.AllowOrigins[0] != "https://example.com" {
		t.Fatalf("AllowOrigins = %#v, want []string{\"https://example.com\"}", got.AllowOrigins)
	}
}

func TestBuildCORSConfig_UnsafeAllowAllDisablesCredentials(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:        []string{"*"},
			AllowCredentials:      true,
			UnsafeAllowAllOrigins: true,
		},
	}

	got := buildCORSConfig(cfg)
	if !got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want true", got.AllowAllOrigins)
	}
	if got.AllowCredentials {
		t.Fatalf("AllowCredentials = %v, want false", got.AllowCredentials)
	}
	if len(got.AllowOrigins) != 0 {
		t.Fatalf("AllowOrigins = %#v, want empty", got.AllowOrigins)
	}
}

type apiClient struct {
	t      *testing.T
	router *gin.Engine
	jwt    middleware.JWTConfig
}

func (a apiClient) do(method, path, body string, perms ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if perms != nil {
		cfg := a.jwt
		cfg.ExpiresIn = time.Hour
		token, _, err := middleware.GenerateToken(cfg, "test", perms)
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func newTestAPI(t *testing.T) (apiClient, *storage.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := memoryConfig(t)
	app, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)

	mem, ok := app.Infra.Storage.(*storage.Memory)
	require.True(t, ok)
	return apiClient{t: t, router: app.Router, jwt: modules.NewJWTConfig(cfg.Security)}, mem
}

func TestRouter_PublicAndProtectedRoutes(t *testing.T) {
	api, _ := newTestAPI(t)

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/health/live", "").Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/health/ready", "").Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/metrics", "").Code)

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/v1/queue/stats", "").Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/queue/stats", "", middleware.PermPipelineRead).Code)
	assert.Equal(t, http.StatusForbidden,
		api.do(http.MethodPost, "/api/v1/events", `{}`, middleware.PermPipelineRead).Code)
	assert.Equal(t, http.StatusForbidden,
		api.do(http.MethodPost, "/api/v1/admin/process", "", middleware.PermPipelineRead).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/nope", "").Code)
}

func TestRouter_EnqueueProcessAndInspect(t *testing.T) {
	api, mem := newTestAPI(t)
	mem.Catalog.AddProducts(1).AddWarehouse(1, 10)

	today := time.Now().UTC().Format("2006-01-02")
	body := `[
		{"product_id":1,"warehouse_id":1,"quantity":4,"event_date":"` + today + `","record_type":"sale"},
		{"product_id":2,"warehouse_id":1,"quantity":1,"event_date":"` + today + `","record_type":"sale"}
	]`
	w := api.do(http.MethodPost, "/api/v1/events", body, middleware.PermEventsWrite)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = api.do(http.MethodPost, "/api/v1/admin/process", "", middleware.PermPipelineAdmin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var run struct {
		Consumed     int    `json:"consumed"`
		Aggregated   int    `json:"aggregated"`
		DeadLettered int    `json:"dead_lettered"`
		StopReason   string `json:"stop_reason"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, 2, run.Consumed)
	assert.Equal(t, 1, run.Aggregated)
	assert.Equal(t, 1, run.DeadLettered)
	assert.Equal(t, "queue_empty", run.StopReason)

	w = api.do(http.MethodGet, "/api/v1/rolling-stats/1/1?window=30", "", middleware.PermPipelineRead)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/dead-letters?kind=referential_error", "", middleware.PermPipelineRead)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)

	w = api.do(http.MethodPost, "/api/v1/dead-letters/discard", `{"ids":["`+list.Items[0].ID+`"]}`, middleware.PermPipelineAdmin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"affected":1`)
}
