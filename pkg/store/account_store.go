package store

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/featherpost/publisher-go/pkg/db/models"
	"github.com/featherpost/publisher-go/pkg/puberr"
)

// AccountStore persists social accounts and OAuth credentials.
type AccountStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewAccountStore creates a new account store
func NewAccountStore(db *gorm.DB, logger *logrus.Logger) *AccountStore {
	return &AccountStore{
		db:     db,
		logger: logger,
	}
}

// AccountForUser loads an active account owned by the given user.
func (s *AccountStore) AccountForUser(ctx context.Context, userID, accountID uint) (*models.SocialAccount, error) {
	var account models.SocialAccount
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND active", accountID, userID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, puberr.New(puberr.ErrCodeNotFound, "account not found or inactive")
	}
	if err != nil {
		return nil, puberr.Wrap(puberr.ErrCodeUpstream, "failed to load account", err)
	}
	return &account, nil
}

// ActiveCredential loads the user's active OAuth app registration for a
// provider. Token refresh always uses the user's own registration, never a
// shared one.
func (s *AccountStore) ActiveCredential(ctx context.Context, userID uint, provider string) (*models.OAuthCredential, error) {
	var cred models.OAuthCredential
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND active", userID, provider).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, puberr.New(puberr.ErrCodeAuth, "no active oauth credential for provider "+provider)
	}
	if err != nil {
		return nil, puberr.Wrap(puberr.ErrCodeUpstream, "failed to load oauth credential", err)
	}
	return &cred, nil
}

// SaveTokens persists a refreshed access/refresh token pair in place.
func (s *AccountStore) SaveTokens(ctx context.Context, accountID uint, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	updates := map[string]interface{}{
		"access_token":            accessToken,
		"access_token_expires_at": expiresAt,
		"updated_at":              time.Now().UTC(),
	}
	if refreshToken != nil {
		updates["refresh_token"] = *refreshToken
	}

	res := s.db.WithContext(ctx).Model(&models.SocialAccount{}).
		Where("id = ?", accountID).
		Updates(updates)
	if res.Error != nil {
		return puberr.Wrap(puberr.ErrCodeUpstream, "failed to persist refreshed tokens", res.Error)
	}
	if res.RowsAffected == 0 {
		return puberr.New(puberr.ErrCodeNotFound, "account not found")
	}

	s.logger.WithField("account_id", accountID).Info("refreshed tokens persisted")
	return nil
}

// Deactivate disconnects an account: flips it inactive and clears the token
// fields. The row itself is never deleted. Scoped to the owning user.
func (s *AccountStore) Deactivate(ctx context.Context, userID, accountID uint) error {
	res := s.db.WithContext(ctx).Model(&models.SocialAccount{}).
		Where("id = ? AND user_id = ?", accountID, userID).
		Updates(map[string]interface{}{
			"active":                  false,
			"access_token":            "",
			"refresh_token":           nil,
			"access_token_expires_at": nil,
			"updated_at":              time.Now().UTC(),
		})
	if res.Error != nil {
		return puberr.Wrap(puberr.ErrCodeUpstream, "failed to deactivate account", res.Error)
	}
	if res.RowsAffected == 0 {
		return puberr.New(puberr.ErrCodeNotFound, "account not found")
	}
	return nil
}
