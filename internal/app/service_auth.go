package app

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"helppages/api/internal/auth"
	"helppages/api/internal/authpw"
	"helppages/api/internal/rbac"
	"helppages/api/internal/store"
	"helppages/api/internal/util"
)

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken(32)
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and reloads the user so role
// changes apply before the token expires.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Refresh rotates a refresh token: the presented one is consumed and a new
// session is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.ConsumeRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh token", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) SignUp(ctx context.Context, emailAddr, password, displayName string) (map[string]any, error) {
	resp, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Email:       emailAddr,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			return nil, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		}
		return nil, err
	}

	response := map[string]any{
		"userId":  resp.User.ID,
		"message": "Please check your email to verify your account",
	}
	if s.SMTPConfigured() {
		link := s.appLink("/verify-email", resp.VerificationToken)
		if err := s.mail.SendVerificationEmail(resp.User.Email, resp.User.DisplayName, link); err != nil {
			s.logger.Warn("send verification email", zap.String("user_id", resp.User.ID), zap.Error(err))
		}
	} else {
		response["devVerificationToken"] = resp.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}
	return response, nil
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	resp, err := s.accounts.SignIn(ctx, authpw.SignInRequest{Email: emailAddr, Password: password})
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	}
	return s.issueSession(ctx, resp.User)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if err := s.accounts.VerifyEmail(ctx, token); err != nil {
		if errors.Is(err, authpw.ErrInvalidToken) {
			return domainError(http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		}
		return err
	}
	return nil
}

// ResendVerification never reveals whether the address has an account.
func (s *Service) ResendVerification(ctx context.Context, emailAddr string) (map[string]any, error) {
	token, user, err := s.accounts.ResendVerification(ctx, emailAddr)
	if err != nil {
		return nil, err
	}
	response := map[string]any{"message": "If the account needs verification, an email has been sent"}
	if token == "" {
		return response, nil
	}
	if s.SMTPConfigured() {
		if err := s.mail.SendVerificationEmail(user.Email, user.DisplayName, s.appLink("/verify-email", token)); err != nil {
			s.logger.Warn("send verification email", zap.String("user_id", user.ID), zap.Error(err))
		}
	} else {
		response["devVerificationToken"] = token
	}
	return response, nil
}

// RequestPasswordReset never reveals whether the address has an account.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) (map[string]any, error) {
	token, user, err := s.accounts.RequestPasswordReset(ctx, emailAddr)
	if err != nil {
		return nil, err
	}
	response := map[string]any{"message": "If an account exists, a reset email has been sent"}
	if token == "" {
		return response, nil
	}
	if s.SMTPConfigured() {
		if err := s.mail.SendPasswordResetEmail(user.Email, user.DisplayName, s.appLink("/reset-password", token)); err != nil {
			s.logger.Warn("send reset email", zap.String("user_id", user.ID), zap.Error(err))
		}
	} else {
		response["devResetToken"] = token
	}
	return response, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	err := s.accounts.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword})
	if errors.Is(err, authpw.ErrInvalidToken) {
		return domainError(http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
	}
	return err
}

func (s *Service) appLink(path, token string) string {
	return strings.TrimRight(s.cfg.AppURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func (s *Service) ListUsers(ctx context.Context, sess Session) ([]map[string]any, error) {
	if rbac.Normalize(sess.Role) != rbac.RoleAdmin {
		return nil, forbiddenError()
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userView(user))
	}
	return items, nil
}

func (s *Service) UpdateUserRole(ctx context.Context, sess Session, userID, role string) (map[string]any, error) {
	if rbac.Normalize(sess.Role) != rbac.RoleAdmin {
		return nil, forbiddenError()
	}
	if !rbac.Valid(role) {
		return nil, validationError("role", "role must be admin, editor or viewer")
	}
	if userID == sess.UserID {
		return nil, domainError(http.StatusConflict, "SELF_ROLE_CHANGE", "Admins cannot change their own role", nil)
	}
	if err := s.store.UpdateUserRole(ctx, userID, role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError("User")
		}
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userView(user), nil
}

func userView(user store.User) map[string]any {
	return map[string]any{
		"id":            user.ID,
		"email":         user.Email,
		"displayName":   user.DisplayName,
		"role":          user.Role,
		"emailVerified": user.IsEmailVerified,
		"createdAt":     user.CreatedAt,
	}
}
