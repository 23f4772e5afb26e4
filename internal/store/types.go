package store

import (
	"database/sql"
	"time"
)

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	DiscordID    sql.NullString
	IsActive     bool
	IsAdmin      bool
	BaseQuota    int
	BonusQuota   int
	CreatedAt    time.Time
	LastLoginAt  sql.NullTime
}

// EffectiveQuota is the user's daily request allowance.
func (u *User) EffectiveQuota() int { return u.BaseQuota + u.BonusQuota }

type APIKey struct {
	ID         int64
	UserID     int64
	Secret     string
	Name       string
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt sql.NullTime
}

// Credential types.
const (
	CredentialTypeOAuth  = "oauth"
	CredentialTypeAPIKey = "api_key"
)

// Account types persisted after verification.
const (
	AccountTypePro     = "pro"
	AccountTypeFree    = "free"
	AccountTypeUnknown = "unknown"
)

// Model tiers.
const (
	Tier25 = "2.5"
	Tier3  = "3"
)

type Credential struct {
	ID             int64
	OwnerUserID    sql.NullInt64
	DisplayName    string
	Email          string
	ProjectID      string
	CredentialType string

	AccessTokenCT       string
	RefreshTokenCT      string
	RefreshTokenSHA     string
	OAuthClientIDCT     string
	OAuthClientSecretCT string

	ModelTier   string
	AccountType string
	IsPublic    bool
	IsActive    bool

	TotalRequests  int64
	FailedRequests int64
	LastError      string

	LastUsedAt    sql.NullTime
	LastUsedFlash sql.NullTime
	LastUsedPro   sql.NullTime
	LastUsed30    sql.NullTime
	CreatedAt     time.Time
}

type UsageLog struct {
	ID           int64
	UserID       int64
	APIKeyID     sql.NullInt64
	CredentialID sql.NullInt64
	Model        string
	ModelGroup   string
	Endpoint     string
	StatusCode   int
	LatencyMS    int64
	CreatedAt    time.Time
}
