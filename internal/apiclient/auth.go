package apiclient

import (
	"context"
	"net/http"

	"github.com/Skotchmaster/interview_prep/internal/models"
)

// Credential submissions never go through the refresh-and-retry path: a 401
// from them means the credentials are wrong, not that a token went stale.

func (c *Client) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	var out models.AuthResponse
	if err := c.request(ctx, http.MethodPost, "/auth/login", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	var out models.AuthResponse
	if err := c.request(ctx, http.MethodPost, "/auth/register", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.request(ctx, http.MethodPost, "/auth/logout", models.LogoutRequest{RefreshToken: refreshToken}, nil, false)
}

// Refresh talks to the refresh endpoint directly: no bearer header and no
// retry, so a failing refresh can never recurse into another one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	payload, err := encodeBody(models.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, http.MethodPost, "/auth/refresh", payload, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out models.AuthResponse
	if err := decodeResponse(resp, "/auth/refresh", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*models.UserProfile, error) {
	var out models.UserProfile
	if err := c.Do(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate checks an arbitrary bearer token, not necessarily the stored one.
func (c *Client) Validate(ctx context.Context, token string) (*models.TokenValidation, error) {
	resp, err := c.send(ctx, http.MethodGet, "/auth/validate", nil, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out models.TokenValidation
	if err := decodeResponse(resp, "/auth/validate", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ForgotPassword(ctx context.Context, email string) (*models.MessageResponse, error) {
	var out models.MessageResponse
	if err := c.request(ctx, http.MethodPost, "/auth/forgot-password", models.ForgotPasswordRequest{Email: email}, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) (*models.MessageResponse, error) {
	req := models.ResetPasswordRequest{
		Token:           token,
		NewPassword:     newPassword,
		ConfirmPassword: newPassword,
	}
	var out models.MessageResponse
	if err := c.request(ctx, http.MethodPost, "/auth/reset-password", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}
