package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/interview_prep/internal/apiclient"
	"github.com/Skotchmaster/interview_prep/internal/identity/service"
	"github.com/Skotchmaster/interview_prep/pkg/logging"
)

// ErrorHandler renders every error in the structured shape clients decode
// into apiclient.APIError.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	body := apiclient.APIError{
		Status:    http.StatusInternalServerError,
		Message:   "Internal server error",
		Path:      c.Request().URL.Path,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var vErr *service.ValidationError
	var he *echo.HTTPError
	switch {
	case errors.As(err, &vErr):
		body.Status = http.StatusBadRequest
		body.Message = "Validation failed"
		body.ValidationErrors = vErr.Fields
	case errors.As(err, &he):
		body.Status = he.Code
		if msg, ok := he.Message.(string); ok {
			body.Message = msg
		} else {
			body.Message = fmt.Sprint(he.Message)
		}
	default:
		logging.FromContext(c.Request().Context()).Error("unhandled_error", "error", err)
	}
	body.Kind = http.StatusText(body.Status)

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(body.Status)
		return
	}
	_ = c.JSON(body.Status, body)
}

// toHTTPError maps service errors to their status and user-facing text.
// Validation errors pass through untouched for ErrorHandler.
func toHTTPError(err error) error {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		return err
	case errors.Is(err, service.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email/username or password")
	case errors.Is(err, service.ErrInvalidRefresh):
		return echo.NewHTTPError(http.StatusUnauthorized, "Refresh token is invalid or expired")
	case errors.Is(err, service.ErrInvalidAccess):
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
	case errors.Is(err, service.ErrEmailTaken):
		return echo.NewHTTPError(http.StatusConflict, "Email is already registered")
	case errors.Is(err, service.ErrUsernameTaken):
		return echo.NewHTTPError(http.StatusConflict, "Username is already taken")
	case errors.Is(err, service.ErrInvalidResetToken):
		return echo.NewHTTPError(http.StatusBadRequest, "Reset token is invalid or expired")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error").SetInternal(err)
	}
}
