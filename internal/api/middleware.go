package api

import (
	"strings"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/rryowa/vidauth/internal/models"
	"github.com/rryowa/vidauth/internal/service"
)

const bearerPrefix = "Bearer "

// RequireAccessToken verifies the access token from the accessToken cookie,
// falling back to an Authorization bearer header, and stores its claims in
// the echo context under models.MwClaimsKey.
func RequireAccessToken(authService *service.AuthService, log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := authService.Authenticate(accessTokenFrom(c))
			if err != nil {
				log.Debugw("Access token rejected", "reason", err, "uri", c.Request().RequestURI)
				return err
			}

			c.Set(models.MwClaimsKey, claims)
			return next(c)
		}
	}
}

func accessTokenFrom(c echo.Context) string {
	if cookie, err := c.Cookie(models.AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	return ""
}

func GetLoggerMiddlewareConfig(a *API) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogError:   true,
		LogLatency: true,
		// run ErrorHandler before logging so v.Status is the status actually sent
		HandleError: true,

		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
				a.log.Warnw("Request", fields...)
			} else {
				a.log.Infow("Request", fields...)
			}
			return nil
		},
	}
}
