package models

import "time"

// SocialAccount is a connected platform account with its OAuth tokens.
// Tokens are mutated in place on refresh. Disconnecting an account never
// deletes the row: Active is flipped off and the token fields are cleared.
type SocialAccount struct {
	ID        uint      `gorm:"primaryKey;column:id"`
	UserID    uint      `gorm:"column:user_id;not null;index"`
	Provider  string    `gorm:"column:provider;not null"`
	Handle    string    `gorm:"column:handle;not null"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`

	AccessToken string `gorm:"column:access_token;type:text"`
	// RefreshToken is nil for accounts whose grant had no offline scope.
	RefreshToken *string `gorm:"column:refresh_token;type:text"`
	// AccessTokenExpiresAt nil means the token does not expire by policy.
	AccessTokenExpiresAt *time.Time `gorm:"column:access_token_expires_at"`
}

// TableName specifies the table name for the SocialAccount model
func (SocialAccount) TableName() string {
	return "social_accounts"
}

// TokenExpired reports whether the access token is past its expiry at now.
func (a *SocialAccount) TokenExpired(now time.Time) bool {
	return a.AccessTokenExpiresAt != nil && !a.AccessTokenExpiresAt.After(now)
}
