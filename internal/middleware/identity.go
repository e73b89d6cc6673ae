package middleware

// identity.go holds the context keys written by JWTAuth and the accessors
// handlers use to read the authenticated caller.

import "github.com/labstack/echo/v4"

// Roles carried in the JWT "role" claim.
const (
	RoleUser    = "user"
	RoleAdmin   = "admin"
	RoleService = "service"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// UserID returns the authenticated subject, or "" on public routes.
func UserID(c echo.Context) string {
	s, _ := c.Get(ctxUserID).(string)
	return s
}

// Role returns the authenticated role, or "".
func Role(c echo.Context) string {
	s, _ := c.Get(ctxRole).(string)
	return s
}

// IsAdmin reports whether the caller has the admin role.
func IsAdmin(c echo.Context) bool { return Role(c) == RoleAdmin }

// rateKeyUser identifies the caller for rate limiting.
func rateKeyUser(c echo.Context) string {
	if id := UserID(c); id != "" {
		return id
	}
	return "anon"
}
