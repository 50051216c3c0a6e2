package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// getUserID extracts the user_id placed in the context by the JWT
// middleware and converts it to uint64.  Stored claims may arrive as
// several numeric types depending on how the token was decoded.
func getUserID(c echo.Context) (uint64, error) {
	v := c.Get("user_id")
	switch t := v.(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// sessionID resolves the booking session identifier for a request.  The
// client sends it in the X-Session-ID header; an explicit body field wins
// when both are present so browser clients can override the header.
func sessionID(c echo.Context, bodySession string) string {
	if s := strings.TrimSpace(bodySession); s != "" {
		return s
	}
	return strings.TrimSpace(c.Request().Header.Get("X-Session-ID"))
}

// pathID parses a positive uint64 path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
