package controller

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rryowa/vidauth/internal/models"
)

func (c *Controller) setAuthCookies(ctx echo.Context, pair models.TokenPair) {
	ctx.SetCookie(c.authCookie(models.AccessTokenCookie, pair.AccessToken))
	ctx.SetCookie(c.authCookie(models.RefreshTokenCookie, pair.RefreshToken))
}

func (c *Controller) clearAuthCookies(ctx echo.Context) {
	for _, name := range []string{models.AccessTokenCookie, models.RefreshTokenCookie} {
		cookie := c.authCookie(name, "")
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
		ctx.SetCookie(cookie)
	}
}

// authCookie builds a session cookie; expiry is enforced by the token itself.
func (c *Controller) authCookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.cookies.Secure,
		SameSite: c.cookies.SameSite,
	}
}
