package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idesk/helpdesk/internal/domain"
	apperrors "github.com/idesk/helpdesk/pkg/util"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	role := domain.StaffRoleAdmin
	token, _, err := tm.GenerateToken("staff-1", domain.SubjectTypeStaff, &role)
	require.NoError(t, err)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "staff-1", claims.Subject)
	assert.Equal(t, domain.SubjectTypeStaff, claims.SubjectType)
	require.NotNil(t, claims.Role)
	assert.Equal(t, domain.StaffRoleAdmin, *claims.Role)

	_, err = NewTokenManager("other", 5).ParseToken(token)
	assert.Error(t, err)
}

func newApp(tm *TokenManager, guards ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).SendString(de.Code)
		},
	})
	handlers := append([]fiber.Handler{NewAuthMiddleware(tm).Handle}, guards...)
	handlers = append(handlers, func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.SendString(p.SubjectID)
	})
	app.Get("/", handlers...)
	return app
}

func TestAuthMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	admin := domain.StaffRoleAdmin
	agent := domain.StaffRoleAgent
	adminToken, _, err := tm.GenerateToken("staff-1", domain.SubjectTypeStaff, &admin)
	require.NoError(t, err)
	agentToken, _, err := tm.GenerateToken("staff-2", domain.SubjectTypeStaff, &agent)
	require.NoError(t, err)
	userToken, _, err := tm.GenerateToken("user-1", domain.SubjectTypeUser, nil)
	require.NoError(t, err)
	roleless, _, err := tm.GenerateToken("staff-3", domain.SubjectTypeStaff, nil)
	require.NoError(t, err)

	adminOnly := newApp(tm, RequireStaffRole(domain.StaffRoleAdmin))
	usersOnly := newApp(tm, RequireUser())

	tests := []struct {
		name   string
		app    *fiber.App
		header string
		want   int
	}{
		{name: "missing header", app: adminOnly, header: "", want: 401},
		{name: "malformed header", app: adminOnly, header: "Token abc", want: 401},
		{name: "bad token", app: adminOnly, header: "Bearer nope", want: 401},
		{name: "staff without role", app: adminOnly, header: "Bearer " + roleless, want: 401},
		{name: "admin allowed", app: adminOnly, header: "Bearer " + adminToken, want: 200},
		{name: "agent forbidden", app: adminOnly, header: "Bearer " + agentToken, want: 403},
		{name: "user forbidden on staff route", app: adminOnly, header: "Bearer " + userToken, want: 403},
		{name: "user allowed", app: usersOnly, header: "Bearer " + userToken, want: 200},
		{name: "staff forbidden on user route", app: usersOnly, header: "Bearer " + agentToken, want: 403},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := tc.app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}
