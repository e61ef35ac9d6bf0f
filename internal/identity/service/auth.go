package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/interview_prep/internal/hash"
	idmodels "github.com/Skotchmaster/interview_prep/internal/identity/models"
	"github.com/Skotchmaster/interview_prep/internal/identity/repo"
	"github.com/Skotchmaster/interview_prep/internal/identity/tokens"
	"github.com/Skotchmaster/interview_prep/internal/models"
	"github.com/Skotchmaster/interview_prep/pkg/logging"
)

const resetTokenTTL = time.Hour

type EventPublisher interface {
	PublishEvent(ctx context.Context, key string, event any) error
}

type AuthService struct {
	Repo   *repo.GormRepo
	Tokens *tokens.Issuer
	Hasher hash.Bcrypt
	// Events is optional.
	Events EventPublisher
	Now    func() time.Time
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if err := validateRegister(req); err != nil {
		l.Warn("register_invalid", "error", err)
		return nil, err
	}

	pwHash, err := s.Hasher.HashPassword(req.Password)
	if err != nil {
		l.Error("register_error", "reason", "cannot hash the password", "error", err)
		return nil, err
	}
	user := idmodels.User{
		ID:           uuid.New(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: pwHash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         string(models.RoleUser),
	}

	if err := s.Repo.CreateUser(ctx, &user); err != nil {
		switch {
		case errors.Is(err, repo.ErrEmailTaken):
			l.Warn("register_conflict", "field", "email")
			return nil, ErrEmailTaken
		case errors.Is(err, repo.ErrUsernameTaken):
			l.Warn("register_conflict", "field", "username")
			return nil, ErrUsernameTaken
		}
		l.Error("register_error", "error", err)
		return nil, err
	}

	l.Info("register_successful", "user_id", user.ID)
	s.publish(ctx, "user_registered", user)
	return s.issue(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	if err := validateLogin(req); err != nil {
		return nil, err
	}

	user, err := s.Repo.FindByLogin(ctx, strings.TrimSpace(req.EmailOrUsername))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("login_failed", "reason", "unknown user")
			return nil, ErrInvalidCredentials
		}
		l.Error("login_error", "error", err)
		return nil, err
	}
	if !s.Hasher.CheckPassword(user.PasswordHash, req.Password) {
		l.Warn("login_failed", "reason", "wrong password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	l.Info("login_successful", "user_id", user.ID)
	s.publish(ctx, "user_logged_in", *user)
	return s.issue(ctx, *user)
}

// Refresh exchanges a refresh token for a new pair. Refresh tokens are single
// use: the presented one is revoked in the same transaction that stores the
// new one.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := s.Tokens.RefreshClaimsFromToken(refreshToken)
	if err != nil {
		l.Warn("refresh_invalid", "error", err)
		return nil, ErrInvalidRefresh
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	user, err := s.Repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}

	access, _, err := s.Tokens.CreateAccessToken(subjectOf(*user))
	if err != nil {
		return nil, err
	}
	refresh, jti, refreshExp, err := s.Tokens.CreateRefreshToken(user.ID.String())
	if err != nil {
		return nil, err
	}

	err = s.Repo.RotateRefreshToken(ctx, claims.ID, s.now().Unix(), &idmodels.RefreshToken{
		Token:     tokens.Sha256Hex(refresh),
		UserID:    user.ID,
		JTI:       jti,
		ExpiresAt: refreshExp.Unix(),
	})
	if err != nil {
		if errors.Is(err, repo.ErrTokenRevoked) {
			l.Warn("refresh_reused", "user_id", user.ID, "jti", claims.ID)
			return nil, ErrInvalidRefresh
		}
		l.Error("refresh_error", "error", err)
		return nil, err
	}

	l.Debug("refresh_successful", "user_id", user.ID)
	return s.bundle(*user, access, refresh), nil
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.Repo.RevokeRefresh(ctx, refreshToken); err != nil {
		logging.FromContext(ctx).Error("logout_error", "error", err)
		return err
	}
	return nil
}

func (s *AuthService) Me(ctx context.Context, accessToken string) (*models.UserProfile, error) {
	claims, err := s.Tokens.AccessClaimsFromToken(accessToken)
	if err != nil {
		return nil, ErrInvalidAccess
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidAccess
	}
	user, err := s.Repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidAccess
		}
		return nil, err
	}
	p := user.Profile()
	return &p, nil
}

// Validate never fails on a bad token; it reports it as not valid.
func (s *AuthService) Validate(accessToken string) models.TokenValidation {
	claims, err := s.Tokens.AccessClaimsFromToken(accessToken)
	if err != nil {
		return models.TokenValidation{Valid: false}
	}
	return models.TokenValidation{
		Valid:    true,
		UserID:   claims.Subject,
		Email:    claims.Email,
		Username: claims.Username,
		Role:     models.Role(claims.Role),
	}
}

// ForgotPassword issues a reset token when the email is known. The token is
// returned so the caller can deliver it; unknown emails yield "" and no error
// so the endpoint does not leak which addresses exist.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	l := logging.FromContext(ctx).With("svc", "auth.forgot_password")

	f := fieldErrors{}
	validateEmail(f, strings.TrimSpace(email))
	if err := f.err(); err != nil {
		return "", err
	}

	user, err := s.Repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Info("reset_unknown_email")
			return "", nil
		}
		return "", err
	}

	token := uuid.NewString()
	err = s.Repo.AddPasswordReset(ctx, &idmodels.PasswordReset{
		TokenHash: tokens.Sha256Hex(token),
		UserID:    user.ID,
		ExpiresAt: s.now().Add(resetTokenTTL).Unix(),
	})
	if err != nil {
		l.Error("reset_issue_failed", "error", err)
		return "", err
	}
	s.publish(ctx, "password_reset_requested", *user)
	return token, nil
}

func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	l := logging.FromContext(ctx).With("svc", "auth.reset_password")

	if err := validateReset(req); err != nil {
		return err
	}
	pwHash, err := s.Hasher.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.Repo.ConsumePasswordReset(ctx, tokens.Sha256Hex(req.Token), pwHash, s.now().Unix()); err != nil {
		if errors.Is(err, repo.ErrResetTokenUsed) {
			l.Warn("reset_token_rejected")
			return ErrInvalidResetToken
		}
		l.Error("reset_error", "error", err)
		return err
	}
	l.Info("password_reset")
	return nil
}

func (s *AuthService) issue(ctx context.Context, user idmodels.User) (*models.AuthResponse, error) {
	access, _, err := s.Tokens.CreateAccessToken(subjectOf(user))
	if err != nil {
		return nil, err
	}
	refresh, jti, refreshExp, err := s.Tokens.CreateRefreshToken(user.ID.String())
	if err != nil {
		return nil, err
	}
	err = s.Repo.AddRefresh(ctx, &idmodels.RefreshToken{
		Token:     tokens.Sha256Hex(refresh),
		UserID:    user.ID,
		JTI:       jti,
		ExpiresAt: refreshExp.Unix(),
	})
	if err != nil {
		return nil, err
	}
	return s.bundle(user, access, refresh), nil
}

func (s *AuthService) bundle(user idmodels.User, access, refresh string) *models.AuthResponse {
	return &models.AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.Tokens.AccessTTL / time.Second),
		User:         user.Profile(),
	}
}

func (s *AuthService) publish(ctx context.Context, kind string, user idmodels.User) {
	if s.Events == nil {
		return
	}
	event := map[string]any{
		"type":     kind,
		"user_id":  user.ID.String(),
		"username": user.Username,
		"at":       s.now().UTC(),
	}
	if err := s.Events.PublishEvent(ctx, user.ID.String(), event); err != nil {
		logging.FromContext(ctx).Error("kafka_publish_failed", "type", kind, "error", err)
	}
}

func subjectOf(u idmodels.User) tokens.Subject {
	return tokens.Subject{
		ID:       u.ID.String(),
		Email:    u.Email,
		Username: u.Username,
		Role:     u.Role,
	}
}
