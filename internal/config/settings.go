package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Settings is the full process configuration: static sections loaded from
// file/environment plus the Runtime tunables that admins can override at
// runtime (persisted through the Registry).
type Settings struct {
	Server   ServerSettings   `yaml:"server"`
	Database DatabaseSettings `yaml:"database"`
	Secrets  SecretSettings   `yaml:"secrets"`
	Google   GoogleSettings   `yaml:"google"`
	OpenAI   OpenAISettings   `yaml:"openai"`
	Runtime  Runtime          `yaml:"runtime"`
}

type ServerSettings struct {
	Port     string `yaml:"port"`
	BasePath string `yaml:"base_path"`
	Debug    bool   `yaml:"debug"`
	LogFile  string `yaml:"log_file"`
}

type DatabaseSettings struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

type SecretSettings struct {
	// EncryptionKey seeds the vault key for token material at rest.
	EncryptionKey string `yaml:"encryption_key"`
	// JWTSecret signs management-session tokens.
	JWTSecret string `yaml:"jwt_secret"`
}

type GoogleSettings struct {
	ClientID           string `yaml:"client_id"`
	ClientSecret       string `yaml:"client_secret"`
	CodeAssistEndpoint string `yaml:"code_assist_endpoint"`
	TokenEndpoint      string `yaml:"token_endpoint"`
	DriveAboutEndpoint string `yaml:"drive_about_endpoint"`
}

type OpenAISettings struct {
	APIKey  string `yaml:"api_key"`
	APIBase string `yaml:"api_base"`
}

// Runtime holds the admin-tunable knobs. Field-by-field semantics follow the
// system configuration table; every field here has a snake_case key in the
// registry whitelist.
type Runtime struct {
	BaseRPM         int `yaml:"base_rpm"`
	ContributorRPM  int `yaml:"contributor_rpm"`
	ErrorRetryCount int `yaml:"error_retry_count"`

	// Per-model-group cooldowns, seconds.
	CDFlash int `yaml:"cd_flash"`
	CDPro   int `yaml:"cd_pro"`
	CD30    int `yaml:"cd_30"`

	// Per-credential daily budgets; these also define donation rewards.
	QuotaFlash int `yaml:"quota_flash"`
	Quota25Pro int `yaml:"quota_25pro"`
	Quota30Pro int `yaml:"quota_30pro"`

	// Daily caps for users without any active credential, by model group.
	NoCredQuotaFlash int `yaml:"no_cred_quota_flash"`
	NoCredQuota25Pro int `yaml:"no_cred_quota_25pro"`
	NoCredQuota30Pro int `yaml:"no_cred_quota_30pro"`

	DefaultDailyQuota int `yaml:"default_daily_quota"`

	// private | tier3_shared | full_shared
	CredentialPoolMode string `yaml:"credential_pool_mode"`
	ForceDonate        bool   `yaml:"force_donate"`
	LockDonate         bool   `yaml:"lock_donate"`

	AllowRegistration       bool `yaml:"allow_registration"`
	DiscordOnlyRegistration bool `yaml:"discord_only_registration"`
	DiscordOAuthOnly        bool `yaml:"discord_oauth_only"`

	AnnouncementEnabled     bool   `yaml:"announcement_enabled"`
	AnnouncementTitle       string `yaml:"announcement_title"`
	AnnouncementContent     string `yaml:"announcement_content"`
	AnnouncementReadSeconds int    `yaml:"announcement_read_seconds"`
}

// Pool sharing modes.
const (
	PoolModePrivate     = "private"
	PoolModeTier3Shared = "tier3_shared"
	PoolModeFullShared  = "full_shared"
)

// Defaults returns the built-in configuration.
func Defaults() *Settings {
	return &Settings{
		Server: ServerSettings{
			Port: "5001",
		},
		Database: DatabaseSettings{
			PostgresDSN: "postgres://localhost:5432/gempool?sslmode=disable",
		},
		Google: GoogleSettings{
			CodeAssistEndpoint: "https://cloudcode-pa.googleapis.com",
			TokenEndpoint:      "https://oauth2.googleapis.com/token",
			DriveAboutEndpoint: "https://www.googleapis.com/drive/v3/about",
		},
		OpenAI: OpenAISettings{
			APIBase: "https://api.openai.com",
		},
		Runtime: Runtime{
			BaseRPM:                 5,
			ContributorRPM:          10,
			ErrorRetryCount:         3,
			CDFlash:                 5,
			CDPro:                   30,
			CD30:                    60,
			QuotaFlash:              100,
			Quota25Pro:              50,
			Quota30Pro:              50,
			NoCredQuotaFlash:        0,
			NoCredQuota25Pro:        0,
			NoCredQuota30Pro:        0,
			DefaultDailyQuota:       100,
			CredentialPoolMode:      PoolModeFullShared,
			AllowRegistration:       true,
			AnnouncementReadSeconds: 5,
		},
	}
}

// Load reads the YAML file at path (if present), overlays environment
// variables, and returns the merged settings. A missing file is not an error;
// the defaults plus environment are used.
func Load(path string) (*Settings, error) {
	s := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, s); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			log.WithField("path", path).Warn("config file not found; using defaults")
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	s.mergeEnv()

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) mergeEnv() {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setBool := func(dst *bool, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setStr(&s.Server.Port, "GEMPOOL_PORT")
	setBool(&s.Server.Debug, "GEMPOOL_DEBUG")
	setStr(&s.Server.LogFile, "GEMPOOL_LOG_FILE")
	setStr(&s.Database.PostgresDSN, "GEMPOOL_POSTGRES_DSN")
	setStr(&s.Secrets.EncryptionKey, "GEMPOOL_ENCRYPTION_KEY")
	setStr(&s.Secrets.JWTSecret, "GEMPOOL_JWT_SECRET")
	setStr(&s.Google.ClientID, "GEMPOOL_GOOGLE_CLIENT_ID")
	setStr(&s.Google.ClientSecret, "GEMPOOL_GOOGLE_CLIENT_SECRET")
	setStr(&s.OpenAI.APIKey, "GEMPOOL_OPENAI_API_KEY")
	setStr(&s.OpenAI.APIBase, "GEMPOOL_OPENAI_API_BASE")
}

func (s *Settings) validate() error {
	switch s.Runtime.CredentialPoolMode {
	case PoolModePrivate, PoolModeTier3Shared, PoolModeFullShared:
	default:
		return fmt.Errorf("invalid credential_pool_mode %q", s.Runtime.CredentialPoolMode)
	}
	if s.Secrets.EncryptionKey == "" {
		log.Warn("secrets.encryption_key is empty; a process-local random key will be used and stored tokens will not survive restarts")
	}
	return nil
}
