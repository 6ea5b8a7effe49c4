package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/idesk/helpdesk/internal/api/dto"
	"github.com/idesk/helpdesk/internal/api/http/handlers"
	"github.com/idesk/helpdesk/internal/auth"
	"github.com/idesk/helpdesk/internal/domain"
	"github.com/idesk/helpdesk/internal/events"
	"github.com/idesk/helpdesk/internal/observability"
	"github.com/idesk/helpdesk/internal/persistence"
	"github.com/idesk/helpdesk/internal/repository"
	"github.com/idesk/helpdesk/internal/service"
	"github.com/idesk/helpdesk/internal/sla"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	store := sla.NewPolicyStore()
	policies := service.NewPolicyService(service.PolicyDependencies{
		Store:  store,
		Repo:   repository.NewMemorySLAPolicyRepository(),
		Logger: logger,
	})
	require.NoError(t, policies.Bootstrap(context.Background()))

	clock := sla.NewClock(store)
	evaluator, err := sla.NewEvaluator(clock, sla.DefaultThresholds())
	require.NoError(t, err)
	tickets := service.NewTicketSLAService(service.TicketSLADependencies{
		TicketRepo:      repository.NewMemoryTicketRepository(),
		HistoryRepo:     repository.NewMemoryHistoryRepository(),
		Clock:           clock,
		Tracker:         sla.NewTracker(clock, logger),
		Evaluator:       evaluator,
		Classifications: repository.NewMemoryClassificationStore(0),
		Dispatcher:      events.NewInMemoryDispatcher(logger),
		Logger:          logger,
		UpdateRetries:   3,
	})

	tokens := auth.NewTokenManager("test-secret", 5)
	validator := dto.NewValidator()
	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("idesk-sla-service", "test", stubPinger{err: persistence.ErrNotConfigured}, nil),
		Metrics:        handlers.NewMetricsHandler(metrics),
		Policies:       handlers.NewSLAPolicyHandler(policies, validator),
		Tickets:        handlers.NewTicketSLAHandler(tickets, validator),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})
	return &testServer{app: app, tokens: tokens}
}

func (s *testServer) token(t *testing.T, subject domain.SubjectType, role *domain.StaffRole) string {
	t.Helper()
	token, _, err := s.tokens.GenerateToken(string(subject)+"-1", subject, role)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func roleRef(r domain.StaffRole) *domain.StaffRole { return &r }

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/health/live", "", "")
	assert.Equal(t, 200, status)
	assert.Equal(t, "alive", body["status"])

	status, body = s.do(t, "GET", "/health/ready", "", "")
	assert.Equal(t, 200, status)
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "disabled", deps["postgres"])
	assert.Equal(t, "disabled", deps["redis"])

	status, body = s.do(t, "GET", "/metrics", "", "")
	assert.Equal(t, 200, status)
	assert.Contains(t, body, "requests")
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	app := fiber.New()
	h := handlers.NewHealthHandler("svc", "v", stubPinger{}, stubPinger{err: assert.AnError})
	app.Get("/ready", h.Ready)

	resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestUnknownRouteRendersDomainError(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, "GET", "/nope", "", "")
	assert.Equal(t, 404, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestAdminPolicyRoutes(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, domain.SubjectTypeStaff, roleRef(domain.StaffRoleAdmin))
	agent := s.token(t, domain.SubjectTypeStaff, roleRef(domain.StaffRoleAgent))

	status, _ := s.do(t, "GET", "/admin/sla/policies", "", "")
	assert.Equal(t, 401, status)
	status, _ = s.do(t, "GET", "/admin/sla/policies", agent, "")
	assert.Equal(t, 403, status)

	status, body := s.do(t, "GET", "/admin/sla/policies", admin, "")
	require.Equal(t, 200, status)
	assert.Len(t, body["data"], 4)

	status, body = s.do(t, "PUT", "/admin/sla/policies/vip", admin, `{"resolution_time_minutes":0,"response_time_minutes":10}`)
	assert.Equal(t, 400, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = s.do(t, "PUT", "/admin/sla/policies/vip", admin, `{"resolution_time_minutes":90,"response_time_minutes":10}`)
	require.Equal(t, 200, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "VIP", data["priority"])
	assert.Equal(t, false, data["builtin"])

	status, body = s.do(t, "GET", "/admin/sla/policies", admin, "")
	require.Equal(t, 200, status)
	assert.Len(t, body["data"], 5)

	status, body = s.do(t, "DELETE", "/admin/sla/policies/HIGH", admin, "")
	assert.Equal(t, 409, status)
	assert.Equal(t, "CONFLICT", errorCode(body))

	status, _ = s.do(t, "DELETE", "/admin/sla/policies/VIP", admin, "")
	assert.Equal(t, 204, status)

	status, body = s.do(t, "POST", "/admin/sla/policies/reset", admin, "")
	require.Equal(t, 200, status)
	assert.Len(t, body["data"], 4)
}

func TestTicketSLARoutes(t *testing.T) {
	s := newTestServer(t)
	user := s.token(t, domain.SubjectTypeUser, nil)
	agent := s.token(t, domain.SubjectTypeStaff, roleRef(domain.StaffRoleAgent))
	admin := s.token(t, domain.SubjectTypeStaff, roleRef(domain.StaffRoleAdmin))

	status, body := s.do(t, "POST", "/tickets", user, `{"title":"","description":"x"}`)
	assert.Equal(t, 400, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, _ = s.do(t, "POST", "/tickets", agent, `{"title":"VPN down","description":"since 9am","priority":"HIGH"}`)
	assert.Equal(t, 403, status)

	status, body = s.do(t, "POST", "/tickets", user, `{"title":"VPN down","description":"since 9am","priority":"HIGH","tags":["vpn"]}`)
	require.Equal(t, 201, status)
	ticket := body["data"].(map[string]any)
	id := ticket["id"].(string)
	assert.Equal(t, "RUNNING", ticket["sla_state"])
	assert.Equal(t, "USER-1", ticket["requester_id"])

	status, body = s.do(t, "GET", "/tickets/"+id+"/sla", agent, "")
	require.Equal(t, 200, status)
	view := body["data"].(map[string]any)
	assert.Equal(t, "ON_TRACK", view["classification"])
	assert.NotNil(t, view["first_response_target"])
	assert.NotNil(t, view["resolution_deadline"])

	status, _ = s.do(t, "GET", "/tickets/"+id+"/sla", user, "")
	assert.Equal(t, 403, status)

	status, body = s.do(t, "POST", "/tickets/"+id+"/status", agent, `{"status":"CLOSED"}`)
	assert.Equal(t, 409, status)
	assert.Equal(t, "INVALID_STATE_TRANSITION", errorCode(body))

	status, body = s.do(t, "POST", "/tickets/"+id+"/status", agent, `{"status":"BOGUS"}`)
	assert.Equal(t, 400, status)

	for _, next := range []string{"IN_PROGRESS", "WAITING_VENDOR"} {
		status, body = s.do(t, "POST", "/tickets/"+id+"/status", agent, `{"status":"`+next+`"}`)
		require.Equal(t, 200, status, body)
	}
	assert.Equal(t, "PAUSED", body["data"].(map[string]any)["sla_state"])

	status, body = s.do(t, "POST", "/tickets/"+id+"/first-response", agent, "")
	require.Equal(t, 200, status)
	assert.Equal(t, true, body["data"].(map[string]any)["recorded"])
	status, body = s.do(t, "POST", "/tickets/"+id+"/first-response", agent, "")
	require.Equal(t, 200, status)
	assert.Equal(t, false, body["data"].(map[string]any)["recorded"])

	status, body = s.do(t, "POST", "/tickets/"+id+"/priority", agent, `{"priority":"critical"}`)
	require.Equal(t, 200, status)
	assert.Equal(t, "CRITICAL", body["data"].(map[string]any)["priority"])

	status, body = s.do(t, "POST", "/tickets/"+id+"/priority", agent, `{"priority":"GOLD"}`)
	assert.GreaterOrEqual(t, status, 400)

	status, _ = s.do(t, "POST", "/tickets/"+id+"/sla/breach-override", agent, `{"reason":"customer was reached by phone"}`)
	assert.Equal(t, 403, status)
	status, body = s.do(t, "POST", "/tickets/"+id+"/sla/breach-override", admin, `{"reason":"customer was reached by phone"}`)
	require.Equal(t, 200, status)
	assert.Equal(t, false, body["data"].(map[string]any)["first_response_breached"])

	status, body = s.do(t, "GET", "/tickets/"+id+"/history", agent, "")
	require.Equal(t, 200, status)
	assert.NotEmpty(t, body["data"])

	status, body = s.do(t, "GET", "/tickets?sla_state=paused", agent, "")
	require.Equal(t, 200, status)
	assert.Len(t, body["data"], 1)
	status, body = s.do(t, "GET", "/tickets?sla_state=stopped", agent, "")
	require.Equal(t, 200, status)
	assert.Empty(t, body["data"])

	status, body = s.do(t, "GET", "/tickets/missing/sla", agent, "")
	assert.Equal(t, 404, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}
