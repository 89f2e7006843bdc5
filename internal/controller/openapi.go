package controller

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"

	"github.com/rryowa/vidauth/internal/models"
)

//go:embed openapi.yaml
var rawSpec []byte

// GetSwagger parses and validates the embedded OpenAPI document.
func GetSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := swagger.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi spec: %w", err)
	}
	return swagger, nil
}

// EchoRouter is satisfied by both *echo.Echo and *echo.Group.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PATCH(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers mounts every documented route on router. requireAuth
// guards the routes that act on the current identity.
func RegisterHandlers(router EchoRouter, c *Controller, requireAuth echo.MiddlewareFunc) {
	router.GET("/healthcheck", c.HealthCheck)

	router.POST("/users/register", c.Register)
	router.POST(models.LoginPath, c.Login)
	router.POST(models.RefreshTokenPath, c.RefreshToken)

	router.POST("/users/logout", c.Logout, requireAuth)
	router.GET("/users/current-user", c.CurrentUser, requireAuth)
	router.POST("/users/change-password", c.ChangePassword, requireAuth)
	router.PATCH("/users/update-account", c.UpdateAccount, requireAuth)
}
