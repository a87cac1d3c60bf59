// Package vault supplies account-bound platform clients. It owns the OAuth
// material: client secrets are AES-GCM encrypted at rest and decrypted only
// at the point of a token refresh, and refreshed tokens are persisted before
// the client is handed out.
package vault

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/featherpost/publisher-go/pkg/db/models"
	"github.com/featherpost/publisher-go/pkg/platform"
	"github.com/featherpost/publisher-go/pkg/puberr"
)

// AccountSource is the slice of the store the vault needs.
type AccountSource interface {
	AccountForUser(ctx context.Context, userID, accountID uint) (*models.SocialAccount, error)
	ActiveCredential(ctx context.Context, userID uint, provider string) (*models.OAuthCredential, error)
	SaveTokens(ctx context.Context, accountID uint, accessToken string, refreshToken *string, expiresAt *time.Time) error
}

// Vault builds platform clients from stored account tokens, refreshing
// expired access tokens with the owning user's own OAuth app credentials.
type Vault struct {
	accounts    AccountSource
	cipher      *FieldCipher
	platformCfg *platform.Config
	tokenURL    string
	logger      *logrus.Logger
	now         func() time.Time
}

// Option customizes the vault.
type Option func(*Vault)

// WithClock injects a clock (used by tests).
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		v.now = now
	}
}

// New creates a vault. tokenURL is the provider's OAuth2 token endpoint.
func New(accounts AccountSource, cipher *FieldCipher, platformCfg *platform.Config, tokenURL string, logger *logrus.Logger, opts ...Option) *Vault {
	v := &Vault{
		accounts:    accounts,
		cipher:      cipher,
		platformCfg: platformCfg,
		tokenURL:    tokenURL,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ClientFor returns a platform client bound to a fresh access token for the
// given account. An expired token with no refresh token fails with
// TOKEN_EXPIRED_NO_REFRESH; that is an auth failure the dispatcher must not
// retry.
func (v *Vault) ClientFor(ctx context.Context, userID, accountID uint) (*platform.Client, error) {
	account, err := v.accounts.AccountForUser(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}

	accessToken := account.AccessToken
	if account.TokenExpired(v.now()) {
		if account.RefreshToken == nil || *account.RefreshToken == "" {
			return nil, puberr.New(puberr.ErrCodeTokenExpired, "access token expired and no refresh token available")
		}
		accessToken, err = v.refresh(ctx, account)
		if err != nil {
			return nil, err
		}
	}

	return platform.NewClient(v.platformCfg, accessToken)
}

// refresh exchanges the refresh token for a new token pair and persists it.
func (v *Vault) refresh(ctx context.Context, account *models.SocialAccount) (string, error) {
	cred, err := v.accounts.ActiveCredential(ctx, account.UserID, account.Provider)
	if err != nil {
		return "", err
	}

	secret, err := v.cipher.Decrypt(cred.ClientSecretEnc)
	if err != nil {
		return "", puberr.Wrap(puberr.ErrCodeAuth, "failed to decrypt client secret", err)
	}

	conf := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: secret,
		RedirectURL:  cred.RedirectURI,
		Endpoint:     oauth2.Endpoint{TokenURL: v.tokenURL},
	}

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: *account.RefreshToken}).Token()
	if err != nil {
		return "", puberr.Wrap(puberr.ErrCodeAuth, "token refresh exchange failed", err)
	}

	var newRefresh *string
	if token.RefreshToken != "" {
		newRefresh = &token.RefreshToken
	}
	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		e := token.Expiry.UTC()
		expiresAt = &e
	}

	if err := v.accounts.SaveTokens(ctx, account.ID, token.AccessToken, newRefresh, expiresAt); err != nil {
		return "", err
	}

	v.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"expires_at": expiresAt,
	}).Info("access token refreshed")
	return token.AccessToken, nil
}
