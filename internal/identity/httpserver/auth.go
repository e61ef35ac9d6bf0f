package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/interview_prep/internal/identity/service"
	"github.com/Skotchmaster/interview_prep/internal/models"
	"github.com/Skotchmaster/interview_prep/pkg/logging"
)

const ctxAccessToken = "access_token"

type AuthHTTP struct {
	Svc *service.AuthService
	// ResetURL is prefixed to issued reset tokens in the log line that stands
	// in for the reset email.
	ResetURL string
}

func (h *AuthHTTP) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req models.RegisterRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	resp, err := h.Svc.Register(ctx, req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req models.LoginRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	resp, err := h.Svc.Login(ctx, req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.RefreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return toHTTPError(&service.ValidationError{Fields: map[string]string{"refreshToken": "Refresh token is required"}})
	}

	resp, err := h.Svc.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AuthHTTP) LogOut(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	var req models.LogoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := h.Svc.Logout(ctx, req.RefreshToken); err != nil {
		l.Error("logout_failed", "status", 500, "reason", "cannot revoke refresh token", "error", err)
		return toHTTPError(err)
	}

	l.Info("successful_logout")
	return c.JSON(http.StatusOK, models.MessageResponse{Message: "Logged out successfully"})
}

func (h *AuthHTTP) Me(c echo.Context) error {
	token, _ := c.Get(ctxAccessToken).(string)
	user, err := h.Svc.Me(c.Request().Context(), token)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, user)
}

func (h *AuthHTTP) Validate(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Svc.Validate(bearerToken(c)))
}

func (h *AuthHTTP) ForgotPassword(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_forgot_password")

	var req models.ForgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	token, err := h.Svc.ForgotPassword(ctx, req.Email)
	if err != nil {
		return toHTTPError(err)
	}
	if token != "" {
		// no mail transport in the dev server: the log is the inbox
		l.Info("password_reset_issued", "reset_url", h.ResetURL+token)
	}
	return c.JSON(http.StatusOK, models.MessageResponse{Message: "If the email exists, a reset link has been sent"})
}

func (h *AuthHTTP) ResetPassword(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := h.Svc.ResetPassword(ctx, req); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, models.MessageResponse{Message: "Password has been reset"})
}

func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// RequireBearer rejects requests without a bearer token. Token validity is
// left to the handler, which needs the claims anyway.
func RequireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing access token")
		}
		c.Set(ctxAccessToken, token)
		return next(c)
	}
}
