package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ctxUser extracts the auth claims injected by the Auth middleware and
// fails fast if they are missing — presence of userId proves the
// middleware ran and the token parsed.
func ctxUser(c echo.Context) (userID, email string, err error) {
	userID, _ = c.Get("userId").(string)
	if userID == "" {
		return "", "", echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	email, _ = c.Get("email").(string)
	return userID, email, nil
}
