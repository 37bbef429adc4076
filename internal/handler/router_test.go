package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/fin-onboard/backend/internal/service/gateway"
	"github.com/zhouzirui/fin-onboard/backend/internal/service/onboarding"
	"github.com/zhouzirui/fin-onboard/backend/internal/storage"
)

func TestRouterServesHealthAndCORS(t *testing.T) {
	registry := onboarding.NewRegistry(onboarding.RegistryConfig{
		Controller: onboarding.DefaultConfig(),
		Storage:    storage.NewMemoryStore(),
		NewGateway: func(gateway.TokenSource) gateway.Gateway { return gateway.Gateway{} },
	})
	defer registry.Close()
	router := NewRouter(registry, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/api/onboarding", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/personas/sample", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
