package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/pogojam/HomeAssistantVoiceAssistant/internal/config"
	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/ws"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := appconfig.Config{
		APIKey:               "test",
		RealtimeURL:          "ws://127.0.0.1:1",
		MaxReconnectAttempts: 1,
	}
	handler := ws.NewHandler(zap.NewNop(), cfg)
	return NewRouter(cfg, handler, zap.NewNop())
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"sessions":0`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"upstream_connected":0`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestServicesWithoutSessions(t *testing.T) {
	router := newTestRouter(t)
	for _, path := range []string{
		"/api/services/start_conversation",
		"/api/services/stop_conversation",
		"/api/services/clear_context",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"sessions":0`) {
			t.Fatalf("%s body = %s", path, rec.Body.String())
		}
	}
}

func TestSetSystemPromptRequiresPrompt(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/services/set_system_prompt", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/services/set_system_prompt", strings.NewReader(`{"prompt":"be brief"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
