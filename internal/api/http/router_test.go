package http

import (
	"bytes"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sapphire/support-core/internal/api/http/handlers"
	"github.com/sapphire/support-core/internal/auth"
	"github.com/sapphire/support-core/internal/config"
	"github.com/sapphire/support-core/internal/entitlement"
	"github.com/sapphire/support-core/internal/events"
	"github.com/sapphire/support-core/internal/lock"
	"github.com/sapphire/support-core/internal/observability"
	"github.com/sapphire/support-core/internal/persistence"
	"github.com/sapphire/support-core/internal/repository/memory"
	"github.com/sapphire/support-core/internal/routing"
	"github.com/sapphire/support-core/internal/service"
)

const testTenant = "3c1f6a52-7b2e-4d8f-a1c0-5e6d7f8a9b01"

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics(nil, config.AppConfig{Name: "support-core", Env: "test"})
	repos := memory.NewStore().Repositories()
	locker := lock.NewKeyedMutex()
	dispatcher := events.NewInMemoryDispatcher(logger)
	resolver := entitlement.NewResolver(nil)

	cases := service.NewCaseService(service.CaseDependencies{
		CaseRepo: repos.Cases, TenantRepo: repos.Tenants, EventRepo: repos.Events,
		OnboardingRepo: repos.Onboarding, EntitlementRepo: repos.Entitlements, PolicyRepo: repos.Policies,
		Resolver: resolver, Locker: locker, Dispatcher: dispatcher, Metrics: metrics, Logger: logger,
	})
	sla := service.NewSLAService(service.SLADependencies{
		CaseRepo: repos.Cases, EventRepo: repos.Events, OnboardingRepo: repos.Onboarding,
		Locker: locker, Dispatcher: dispatcher, Metrics: metrics, Logger: logger,
	})
	onboarding := service.NewOnboardingService(service.OnboardingDependencies{
		TenantRepo: repos.Tenants, OnboardingRepo: repos.Onboarding, EntitlementRepo: repos.Entitlements,
		PolicyRepo: repos.Policies, Resolver: resolver, Locker: locker, Dispatcher: dispatcher,
		Metrics: metrics, Logger: logger,
	})
	intake := service.NewIntakeService(service.IntakeDependencies{
		IntakeRepo: repos.Intakes, TenantRepo: repos.Tenants, CaseService: cases,
		Router: routing.NewRouter(0, 0), Dispatcher: dispatcher, Metrics: metrics, Logger: logger,
	})

	tokens := auth.NewTokenManager("test-secret", "support-core", 5)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("support-core", "test", &persistence.Postgres{}, &persistence.Redis{}),
		Cases:          handlers.NewCasesHandler(cases, sla),
		Onboarding:     handlers.NewOnboardingHandler(onboarding),
		Intake:         handlers.NewIntakeHandler(intake),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
	})
	return &testServer{app: app, tokens: tokens}
}

func (s *testServer) do(t *testing.T, role auth.Role, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, _, err := s.tokens.GenerateToken("test-"+string(role), role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "missing data in %v", body)
	return d
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, auth.RoleSystem, nethttp.MethodPost, "/v1/onboarding", map[string]any{
		"tenant_id":   testTenant,
		"tenant_name": "Acme",
		"tier":        "tier2",
	})
	require.Equal(t, nethttp.StatusCreated, status, body)

	status, body = s.do(t, auth.RoleAgent, nethttp.MethodPost, "/v1/cases", map[string]any{
		"tenant_id": testTenant,
		"title":     "Login broken",
		"priority":  "high",
	})
	require.Equal(t, nethttp.StatusCreated, status, body)
	created := data(t, body)["case"].(map[string]any)
	caseID := created["id"].(string)
	assert.Equal(t, "new", created["status"])
	assert.Equal(t, float64(2), created["version"])

	status, body = s.do(t, auth.RoleAgent, nethttp.MethodPost, "/v1/cases/"+caseID+"/transition",
		map[string]any{"target_status": "open"})
	require.Equal(t, nethttp.StatusOK, status, body)
	assert.Equal(t, false, data(t, body)["already_applied"])

	status, body = s.do(t, auth.RoleAgent, nethttp.MethodPost, "/v1/cases/"+caseID+"/transition",
		map[string]any{"target_status": "open"})
	require.Equal(t, nethttp.StatusOK, status, body)
	assert.Equal(t, true, data(t, body)["already_applied"])

	status, body = s.do(t, auth.RoleAgent, nethttp.MethodPost, "/v1/cases/"+caseID+"/transition",
		map[string]any{"target_status": "closed"})
	require.Equal(t, nethttp.StatusConflict, status)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_TRANSITION", errBody["code"])
	assert.Equal(t, "open", errBody["details"].(map[string]any)["current_status"])

	status, body = s.do(t, auth.RoleAgent, nethttp.MethodGet, "/v1/cases/"+caseID+"/sla", nil)
	require.Equal(t, nethttp.StatusOK, status, body)
	sla := data(t, body)
	assert.Equal(t, true, sla["breach_suppressed"])
	assert.Equal(t, float64(60), sla["first_response"].(map[string]any)["budget_minutes"])

	status, body = s.do(t, auth.RoleAgent, nethttp.MethodGet, "/v1/cases/"+caseID+"/events", nil)
	require.Equal(t, nethttp.StatusOK, status, body)
	assert.Len(t, body["data"].([]any), 3)

	status, body = s.do(t, auth.RoleAgent, nethttp.MethodGet, "/v1/tenants/"+testTenant+"/events?limit=2", nil)
	require.Equal(t, nethttp.StatusOK, status, body)
	feed := body["data"].([]any)
	require.Len(t, feed, 2)
	assert.Equal(t, "case.status_changed", feed[0].(map[string]any)["type"])
}

func TestOpsOnlyRoutes(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.do(t, auth.RoleSystem, nethttp.MethodPost, "/v1/onboarding", map[string]any{"tenant_id": testTenant})
	require.Equal(t, nethttp.StatusCreated, status)

	status, body := s.do(t, auth.RoleAgent, nethttp.MethodPost, "/v1/onboarding/"+testTenant+"/pause", map[string]any{"reason": "x"})
	assert.Equal(t, nethttp.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["error"].(map[string]any)["code"])

	status, body = s.do(t, auth.RoleOps, nethttp.MethodPost, "/v1/onboarding/"+testTenant+"/pause", map[string]any{"reason": "x"})
	require.Equal(t, nethttp.StatusOK, status, body)
	assert.Equal(t, "paused", data(t, body)["session"].(map[string]any)["status"])

	status, body = s.do(t, auth.RoleOps, nethttp.MethodPost, "/v1/tenants/"+testTenant+"/tier", map[string]any{"new_tier": "tier2"})
	require.Equal(t, nethttp.StatusOK, status, body)
	assert.Equal(t, "tier2", data(t, body)["tenant"].(map[string]any)["tier"])

	status, _ = s.do(t, "", nethttp.MethodGet, "/v1/onboarding/"+testTenant, nil)
	assert.Equal(t, nethttp.StatusUnauthorized, status)
}

func TestOnboardingStepErrorsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.do(t, auth.RoleSystem, nethttp.MethodPost, "/v1/onboarding", map[string]any{"tenant_id": testTenant})
	require.Equal(t, nethttp.StatusCreated, status)

	status, body := s.do(t, auth.RoleSystem, nethttp.MethodPost, "/v1/onboarding", map[string]any{"tenant_id": testTenant})
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, true, data(t, body)["already_applied"])

	status, body = s.do(t, auth.RoleAgent, nethttp.MethodPost, "/v1/onboarding/"+testTenant+"/steps", map[string]any{"step_key": "team_adoption"})
	assert.Equal(t, nethttp.StatusUnprocessableEntity, status)
	assert.Equal(t, "UNKNOWN_STEP", body["error"].(map[string]any)["code"])

	status, body = s.do(t, auth.RoleAgent, nethttp.MethodGet, "/v1/onboarding/"+testTenant, nil)
	require.Equal(t, nethttp.StatusOK, status, body)
	assert.Equal(t, "phase_0_provisioned", data(t, body)["session"].(map[string]any)["phase"])
}

func TestIntakeOverHTTP(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, auth.RoleSystem, nethttp.MethodPost, "/v1/intake", map[string]any{
		"from_email": "lead@newcorp.example",
		"subject":    "Pricing",
		"classification": map[string]any{
			"intent":     "sales",
			"urgency":    "normal",
			"confidence": 0.92,
		},
	})
	require.Equal(t, nethttp.StatusCreated, status, body)
	assert.Equal(t, "route_sales", data(t, body)["action"])

	status, _ = s.do(t, auth.RoleAgent, nethttp.MethodPost, "/v1/intake", map[string]any{"from_email": "x@y.z"})
	assert.Equal(t, nethttp.StatusForbidden, status)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "", nethttp.MethodGet, "/health/live", nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, _ = s.do(t, "", nethttp.MethodGet, "/health/ready", nil)
	assert.Equal(t, nethttp.StatusOK, status)

	req := httptest.NewRequest(nethttp.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "support_core_http_requests_total")

	status, body = s.do(t, "", nethttp.MethodGet, "/nope", nil)
	assert.Equal(t, nethttp.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])
}
