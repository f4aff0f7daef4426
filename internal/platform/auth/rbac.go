package auth

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
)

const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// ValidRole reports whether r is a known role.
func ValidRole(r string) bool {
	return r == RoleAdmin || r == RoleUser
}

// RequireRole returns middleware that checks if the caller has one of the
// specified roles. ADMIN passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := RoleFromContext(c.Request().Context())
			if role == RoleAdmin {
				return next(c)
			}
			for _, required := range roles {
				if role != "" && role == required {
					return next(c)
				}
			}
			return apperr.ToHTTP(apperr.Permission("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireAdmin is RequireRole(RoleAdmin).
func RequireAdmin() echo.MiddlewareFunc { return RequireRole(RoleAdmin) }

// CanActFor reports whether the caller may act on a record owned by ownerID.
func CanActFor(id Identity, ownerID uuid.UUID) bool {
	return id.IsAdmin() || (ownerID != uuid.Nil && id.UserID == ownerID)
}
