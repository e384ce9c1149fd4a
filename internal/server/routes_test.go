package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"regions-server/internal/app"
	"regions-server/internal/auth"
	"regions-server/internal/middleware"
	"regions-server/internal/models"
	regionHandlers "regions-server/internal/region/handlers"
	scanHandlers "regions-server/internal/scan/handlers"
	serverHandlers "regions-server/internal/server/handlers"
	"regions-server/internal/shared/config"
	"regions-server/internal/shared/logger"
	"regions-server/internal/spatial"
	"regions-server/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	*httptest.Server
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Auth:      config.AuthConfig{JWTSecret: testSecret, TokenExpiration: time.Hour},
		Frontend:  config.FrontendConfig{URL: "http://localhost:3000"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Store:     config.StoreConfig{Driver: config.StoreDriverMemory},
		World:     config.DefaultWorldConfig(),
	}

	a, err := app.NewWithStore(cfg, memstore.New(logger.Discard()), logger.Discard())
	require.NoError(t, err)

	tokens, err := auth.NewTokenManager(cfg.Auth)
	require.NoError(t, err)

	routes := NewRoutes(
		scanHandlers.NewScanHandler(a.Scans),
		regionHandlers.NewRegionHandler(a.Regions, a.Lifecycle),
		serverHandlers.NewHealthHandler(cfg.Store.Driver, nil, nil),
		middleware.NewAuthenticator(tokens),
		logger.Discard(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	handler := Handler(routes.Setup(), middleware.NewCORS(cfg.Frontend), middleware.NewRateLimiter(ctx, cfg.RateLimit))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/server/health", "", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestScanThenFetchAndRefreshRegion(t *testing.T) {
	s := newTestServer(t)
	center, err := spatial.CellCenter("89283082837ffff")
	require.NoError(t, err)

	body := bytes.NewBufferString(fmt.Sprintf(`{"coordinates":[%f,%f]}`, center.Lat, center.Lng))
	resp := s.do(t, http.MethodPost, "/api/scan", "", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result models.ScanResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Regions, 7)
	regionPath := fmt.Sprintf("/api/regions/%d", result.Regions[0].ID)

	resp = s.do(t, http.MethodGet, regionPath, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var region models.RegionWithResources
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&region))
	assert.Equal(t, "89283082837ffff", region.CellIndex)
	assert.Len(t, region.Resources, 3)

	resp = s.do(t, http.MethodPost, regionPath+"/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	player, err := s.tokens.Generate(3, "ada", auth.RolePlayer)
	require.NoError(t, err)
	resp = s.do(t, http.MethodPost, regionPath+"/refresh", player, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	operator, err := s.tokens.Generate(0, "ops", auth.RoleOperator)
	require.NoError(t, err)
	resp = s.do(t, http.MethodPost, regionPath+"/refresh", operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var refreshed models.RegionWithResources
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&refreshed))
	require.NotNil(t, refreshed.LastRefreshedAt)
	// still fresh, so resources are kept
	assert.Equal(t, region.Resources, refreshed.Resources)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "regions_created_total")
}
