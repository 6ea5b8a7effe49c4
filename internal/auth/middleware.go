package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/idesk/helpdesk/internal/domain"
	apperrors "github.com/idesk/helpdesk/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	SubjectType domain.SubjectType
	SubjectID   string
	Role        *domain.StaffRole
}

// Actor converts the principal for audit and event records.
func (p *Principal) Actor() domain.Actor {
	id := p.SubjectID
	return domain.Actor{Type: p.SubjectType, ID: &id}
}

// AuthMiddleware validates bearer tokens. The principal comes from the claims alone;
// user and staff records live in the identity service.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	principal := &Principal{SubjectType: claims.SubjectType, SubjectID: claims.Subject, Role: claims.Role}
	switch claims.SubjectType {
	case domain.SubjectTypeUser:
	case domain.SubjectTypeStaff:
		if claims.Role == nil {
			return apperrors.NewUnauthorized("staff token without role")
		}
	default:
		return apperrors.NewUnauthorized("unknown subject")
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
