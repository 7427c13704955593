package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticketing-reservation/internal/middleware"
)

// HeaderSessionID carries the client session when the body does not.
const HeaderSessionID = "X-Session-ID"

var errNoUser = errors.New("invalid user_id in context")

// getUserID returns the authenticated user id stored by JWTAuth.
func getUserID(c echo.Context) (string, error) {
	if s, ok := c.Get(middleware.CtxUserID).(string); ok && s != "" {
		return s, nil
	}
	return "", errNoUser
}

// isAdmin reports whether the caller carries the ADMIN role.
func isAdmin(c echo.Context) bool {
	role, _ := c.Get(middleware.CtxRole).(string)
	return role == middleware.RoleAdmin
}

// sessionID prefers the session sent in the body and falls back to the
// X-Session-ID header.
func sessionID(c echo.Context, fromBody string) string {
	if s := strings.TrimSpace(fromBody); s != "" {
		return s
	}
	return strings.TrimSpace(c.Request().Header.Get(HeaderSessionID))
}

// parseID parses a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad_request", "message": msg})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}
