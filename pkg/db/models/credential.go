package models

import "time"

// OAuthCredential is a user's own OAuth app registration for a provider.
// ClientSecretEnc is AES-GCM encrypted at rest (pkg/vault); the plaintext
// secret exists only at the point of a token refresh and is never logged.
// At most one credential per (user, provider) is active.
type OAuthCredential struct {
	ID              uint      `gorm:"primaryKey;column:id"`
	UserID          uint      `gorm:"column:user_id;not null;index:idx_cred_user_provider"`
	Provider        string    `gorm:"column:provider;not null;index:idx_cred_user_provider"`
	ClientID        string    `gorm:"column:client_id;not null"`
	ClientSecretEnc string    `gorm:"column:client_secret_enc;type:text;not null"`
	RedirectURI     string    `gorm:"column:redirect_uri;not null"`
	Active          bool      `gorm:"column:active;not null;default:true"`
	CreatedAt       time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the OAuthCredential model
func (OAuthCredential) TableName() string {
	return "oauth_credentials"
}
