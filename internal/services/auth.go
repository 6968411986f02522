package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/models"
	"outpatient-backend/pkg/utils"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuthService issues and revokes staff sessions.
type AuthService struct {
	*base
	secret   string
	ttl      time.Duration
	resetTTL time.Duration
}

// LoginResult is returned to the dashboard after a successful login.
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Login checks the credentials and issues a session token.
func (s *AuthService) Login(ctx context.Context, in models.LoginInput) (*LoginResult, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	// 1. Find the account by username
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", in.Username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Unauthorized("Invalid username or password")
	}
	if err != nil {
		return nil, apperr.Internal("Could not load account", err)
	}

	// 2. Check the password
	if !utils.CheckPassword(in.Password, user.PasswordHash) {
		return nil, apperr.Unauthorized("Invalid username or password")
	}

	// 3. Issue the token
	token, claims, err := utils.GenerateToken(s.secret, s.ttl, user.ID, user.Username, string(user.Role), user.SessionVersion)
	if err != nil {
		return nil, apperr.Internal("Could not issue token", err)
	}

	log.Info().Uint64("user_id", user.ID).Str("role", string(user.Role)).Msg("staff logged in")
	return &LoginResult{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: &user}, nil
}

// Authenticate resolves a token into live session claims. A token is
// rejected once revoked, or when its account was removed, changed role or
// changed password.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*utils.Claims, error) {
	claims, err := utils.ValidateToken(s.secret, token)
	if err != nil {
		return nil, apperr.Unauthorized("Session is invalid or has expired")
	}

	var revoked int64
	if err := s.db.WithContext(ctx).Model(&models.RevokedToken{}).
		Where("jti = ?", claims.ID).Count(&revoked).Error; err != nil {
		return nil, apperr.Internal("Could not check session", err)
	}
	if revoked > 0 {
		return nil, apperr.Unauthorized("Session has been logged out")
	}

	var user models.User
	err = s.db.WithContext(ctx).Select("id", "role", "session_version").First(&user, claims.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Unauthorized("Account no longer exists")
	}
	if err != nil {
		return nil, apperr.Internal("Could not check session", err)
	}
	if string(user.Role) != claims.Role {
		return nil, apperr.Unauthorized("Account role has changed, please log in again")
	}
	if user.SessionVersion != claims.SessionVersion {
		return nil, apperr.Unauthorized("Password has changed, please log in again")
	}
	return claims, nil
}

// Profile returns the account behind a session.
func (s *AuthService) Profile(ctx context.Context, userID uint64) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Account not found")
	}
	if err != nil {
		return nil, apperr.Internal("Could not load account", err)
	}
	return &user, nil
}

// Logout revokes the session. Expired revocations are purged on the way.
func (s *AuthService) Logout(ctx context.Context, claims *utils.Claims) error {
	expires := s.now().Add(s.ttl)
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}

	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.RevokedToken{
		JTI:       claims.ID,
		UserID:    claims.UserID,
		ExpiresAt: expires,
	}).Error
	if err != nil {
		return apperr.Internal("Could not log out", err)
	}

	if err := db.Where("expires_at < ?", s.now()).Delete(&models.RevokedToken{}).Error; err != nil {
		log.Warn().Err(err).Msg("purging expired revoked tokens failed")
	}
	return nil
}

// ForgotPassword issues a one-hour reset token. Unknown emails get an
// empty token and no error, so callers cannot discover accounts. The
// token is returned because this deployment has no mail delivery.
func (s *AuthService) ForgotPassword(ctx context.Context, in models.ForgotPasswordInput) (string, error) {
	if err := validate(in); err != nil {
		return "", err
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", in.Email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Info().Msg("password reset requested for unknown email")
		return "", nil
	}
	if err != nil {
		return "", apperr.Internal("Could not load account", err)
	}

	token := uuid.NewString()
	hashed := hashToken(token)
	expires := s.now().Add(s.resetTTL)
	if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"reset_token":   hashed,
		"reset_expires": expires,
	}).Error; err != nil {
		return "", apperr.Internal("Could not store reset token", err)
	}
	return token, nil
}

// ResetPassword consumes a reset token and ends every session issued
// before it.
func (s *AuthService) ResetPassword(ctx context.Context, token string, in models.ResetPasswordInput) error {
	if err := validate(in); err != nil {
		return err
	}
	if token == "" {
		return apperr.Validation("Password reset token is invalid or has expired", nil)
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return apperr.Internal("Could not process password", err)
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("reset_token = ? AND reset_expires > ?", hashToken(token), s.now()).
		Updates(map[string]interface{}{
			"password_hash":   hash,
			"reset_token":     nil,
			"reset_expires":   nil,
			"session_version": gorm.Expr("session_version + 1"),
		})
	if res.Error != nil {
		return apperr.Internal("Could not reset password", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Validation("Password reset token is invalid or has expired", nil)
	}
	return nil
}

// SeedMaster creates the Master account when none exists yet.
func (s *AuthService) SeedMaster(ctx context.Context, username, email, password string) (bool, error) {
	if username == "" || len(password) < 6 {
		return false, apperr.Validation("Master username and a password of at least 6 characters are required", nil)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("role = ?", models.RoleMaster).Count(&count).Error; err != nil {
		return false, apperr.Internal("Could not check master account", err)
	}
	if count > 0 {
		return false, nil
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return false, apperr.Internal("Could not process password", err)
	}
	master := models.User{Username: username, Email: email, Role: models.RoleMaster, PasswordHash: hash}
	if err := s.db.WithContext(ctx).Create(&master).Error; err != nil {
		return false, apperr.Internal("Could not create master account", err)
	}
	return true, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
