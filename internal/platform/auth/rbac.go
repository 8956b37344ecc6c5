package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/apperr"
)

// RequireRole admits actors holding any of roles. Patient-level checks still
// happen in the services; this only gates which surface a caller may reach.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, err := CurrentActor(c)
			if err != nil {
				return err
			}
			if !actor.HasAnyRole(roles...) {
				return apperr.Forbidden("requires role %s", strings.Join(roles, " or "))
			}
			return next(c)
		}
	}
}
