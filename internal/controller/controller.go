package controller

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/vidauth/internal/models"
	"github.com/rryowa/vidauth/internal/service"
	"github.com/rryowa/vidauth/internal/util"
)

type Controller struct {
	zapLogger   *zap.SugaredLogger
	authService *service.AuthService
	cookies     *util.CookieConfig
}

func NewController(logger *zap.SugaredLogger, authService *service.AuthService, cookies *util.CookieConfig) *Controller {
	return &Controller{
		zapLogger:   logger,
		authService: authService,
		cookies:     cookies,
	}
}

// (GET /api/v1/healthcheck).
func (c *Controller) HealthCheck(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, models.NewAPIResponse(http.StatusOK, "OK", "Service is healthy"))
}

// (POST /api/v1/users/register).
func (c *Controller) Register(ctx echo.Context) error {
	var req models.RegisterRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	identity, err := c.authService.Register(ctx.Request().Context(), req)
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusCreated,
		models.NewAPIResponse(http.StatusCreated, identity.Profile(), "User registered successfully"))
}

// (POST /api/v1/users/login).
func (c *Controller) Login(ctx echo.Context) error {
	var req models.LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	identity, pair, err := c.authService.Login(ctx.Request().Context(), req.Login, req.Password)
	if err != nil {
		return err
	}

	c.setAuthCookies(ctx, pair)
	return ctx.JSON(http.StatusOK, models.NewAPIResponse(http.StatusOK,
		models.LoginResponse{User: identity.Profile()}, "User logged in successfully"))
}

// (POST /api/v1/users/refresh-token). The refresh token is read from its
// cookie only.
func (c *Controller) RefreshToken(ctx echo.Context) error {
	cookie, err := ctx.Cookie(models.RefreshTokenCookie)
	if err != nil || cookie.Value == "" {
		return service.ErrUnauthorized
	}

	_, pair, err := c.authService.RefreshTokens(ctx.Request().Context(), cookie.Value)
	if err != nil {
		return err
	}

	c.setAuthCookies(ctx, pair)
	return ctx.JSON(http.StatusOK, models.NewAPIResponse(http.StatusOK, nil, "Access token refreshed"))
}

// (POST /api/v1/users/logout).
func (c *Controller) Logout(ctx echo.Context) error {
	claims, err := claimsFrom(ctx)
	if err != nil {
		return err
	}

	if err := c.authService.Logout(ctx.Request().Context(), claims.Subject); err != nil {
		return err
	}

	c.clearAuthCookies(ctx)
	return ctx.JSON(http.StatusOK, models.NewAPIResponse(http.StatusOK, nil, "User logged out"))
}

// (GET /api/v1/users/current-user).
func (c *Controller) CurrentUser(ctx echo.Context) error {
	claims, err := claimsFrom(ctx)
	if err != nil {
		return err
	}

	identity, err := c.authService.CurrentIdentity(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK,
		models.NewAPIResponse(http.StatusOK, identity.Profile(), "Current user fetched successfully"))
}

// (POST /api/v1/users/change-password).
func (c *Controller) ChangePassword(ctx echo.Context) error {
	claims, err := claimsFrom(ctx)
	if err != nil {
		return err
	}

	var req models.ChangePasswordRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	err = c.authService.ChangePassword(ctx.Request().Context(), claims.Subject, req.OldPassword, req.NewPassword)
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, models.NewAPIResponse(http.StatusOK, nil, "Password changed successfully"))
}

// (PATCH /api/v1/users/update-account).
func (c *Controller) UpdateAccount(ctx echo.Context) error {
	claims, err := claimsFrom(ctx)
	if err != nil {
		return err
	}

	var req models.UpdateAccountRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	identity, err := c.authService.UpdateAccount(ctx.Request().Context(), claims.Subject, req)
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK,
		models.NewAPIResponse(http.StatusOK, identity.Profile(), "Account details updated successfully"))
}

func claimsFrom(ctx echo.Context) (*service.AccessClaims, error) {
	claims, ok := ctx.Get(models.MwClaimsKey).(*service.AccessClaims)
	if !ok || claims == nil {
		return nil, service.ErrUnauthorized
	}
	return claims, nil
}
