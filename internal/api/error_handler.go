package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/vidauth/internal/models"
	"github.com/rryowa/vidauth/internal/service"
	"github.com/rryowa/vidauth/internal/storage"
	"github.com/rryowa/vidauth/internal/util"
)

// ErrorHandler writes every error as the standard envelope. Token failures
// all collapse to one 401 so callers cannot tell which check failed.
func ErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, message := statusFor(err)
		switch {
		case status >= http.StatusInternalServerError:
			log.Errorw("unhandled error", "error", err, "uri", c.Request().RequestURI)
		case status == http.StatusUnauthorized:
			log.Debugw("unauthorized", "reason", err, "uri", c.Request().RequestURI)
		}

		if err := c.JSON(status, models.NewAPIError(status, message)); err != nil {
			log.Errorw("failed to write json response", "error", err)
		}
	}
}

func statusFor(err error) (int, string) {
	var (
		respErr util.ResponseError
		he      *echo.HTTPError
	)
	switch {
	case isUnauthorizedTokenError(err):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, service.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "too many failed login attempts"
	case errors.Is(err, storage.ErrIdentityExists):
		return http.StatusConflict, "user with this handle or contact already exists"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &respErr):
		return respErr.Status, respErr.Msg
	case errors.As(err, &he):
		if he.Code >= http.StatusInternalServerError {
			return he.Code, http.StatusText(he.Code)
		}
		return he.Code, fmt.Sprint(he.Message)
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func isUnauthorizedTokenError(err error) bool {
	return errors.Is(err, service.ErrUnauthorized) ||
		errors.Is(err, service.ErrTokenExpired) ||
		errors.Is(err, service.ErrTokenMalformed) ||
		errors.Is(err, service.ErrTokenBadSignature) ||
		errors.Is(err, service.ErrTokenMismatch)
}
