package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"gempool-go/internal/config"
	"gempool-go/internal/events"
	"gempool-go/internal/handlers/manage"
)

func testSettings() *config.Settings {
	cfg := config.Defaults()
	cfg.Server.Port = "7861"
	return cfg
}

func buildTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testSettings()
	mgH := manage.New(nil, nil, nil, config.NewRegistry(cfg.Runtime, nil), events.NewHub(), cfg.Google, "test-secret")
	return Build(cfg, Dependencies{Manage: mgH})
}

func TestHealthRoute(t *testing.T) {
	engine := buildTestEngine(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("health body = %s", w.Body.String())
	}
}

func TestManagementRequiresSession(t *testing.T) {
	engine := buildTestEngine(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/manage/keys", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated keys status = %d, want 401", w.Code)
	}
}

func TestAnnouncementIsPublic(t *testing.T) {
	engine := buildTestEngine(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/manage/announcement", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("announcement status = %d", w.Code)
	}
}

func TestBasePathPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testSettings()
	cfg.Server.BasePath = "/gw"
	mgH := manage.New(nil, nil, nil, config.NewRegistry(cfg.Runtime, nil), events.NewHub(), cfg.Google, "test-secret")
	engine := Build(cfg, Dependencies{Manage: mgH})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gw/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("prefixed health status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unprefixed health status = %d, want 404", w.Code)
	}
}
