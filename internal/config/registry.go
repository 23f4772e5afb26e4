package config

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
)

// OverrideStore persists runtime overrides. Implemented by the postgres store.
type OverrideStore interface {
	ListSystemConfig(ctx context.Context) (map[string]string, error)
	UpsertSystemConfig(ctx context.Context, key, value string) error
	DeleteSystemConfig(ctx context.Context, key string) error
}

// Registry serves the effective Runtime configuration: file/env values with
// database overrides layered on top. Admin updates write through to the store
// and take effect immediately.
type Registry struct {
	mu    sync.RWMutex
	base  Runtime
	cur   Runtime
	store OverrideStore
}

func NewRegistry(base Runtime, store OverrideStore) *Registry {
	return &Registry{base: base, cur: base, store: store}
}

// Snapshot returns a copy of the effective runtime configuration.
func (r *Registry) Snapshot() Runtime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur
}

// LoadOverrides reads persisted overrides from the store and applies them.
// Unknown keys are logged and skipped.
func (r *Registry) LoadOverrides(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	overrides, err := r.store.ListSystemConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config overrides: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.base
	for key, value := range overrides {
		if err := applyKey(&next, key, value); err != nil {
			log.WithFields(log.Fields{"key": key, "value": value}).
				WithError(err).Warn("ignoring stored config override")
		}
	}
	r.cur = next
	return nil
}

// Update validates, applies, and persists a single override.
func (r *Registry) Update(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cur
	if err := applyKey(&next, key, value); err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.UpsertSystemConfig(ctx, key, value); err != nil {
			return fmt.Errorf("persist config %s: %w", key, err)
		}
	}
	r.cur = next
	log.WithFields(log.Fields{"key": key, "value": value}).Info("runtime config updated")
	return nil
}

// Reset removes an override and restores the file/env value for the key.
func (r *Registry) Reset(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	probe := r.cur
	if err := applyKey(&probe, key, ""); err != nil && !isValueError(err) {
		return err
	}
	if r.store != nil {
		if err := r.store.DeleteSystemConfig(ctx, key); err != nil {
			return fmt.Errorf("delete config %s: %w", key, err)
		}
	}
	next := r.cur
	copyKey(&next, &r.base, key)
	r.cur = next
	return nil
}

// SetBase replaces the file/env layer, for example after a config file reload.
// Persisted overrides are re-applied on top by the caller via LoadOverrides.
func (r *Registry) SetBase(base Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.base = base
}

// Keys returns the override-able key names in a stable order.
func Keys() []string {
	return []string{
		"base_rpm", "contributor_rpm", "error_retry_count",
		"cd_flash", "cd_pro", "cd_30",
		"quota_flash", "quota_25pro", "quota_30pro",
		"no_cred_quota_flash", "no_cred_quota_25pro", "no_cred_quota_30pro",
		"default_daily_quota",
		"credential_pool_mode", "force_donate", "lock_donate",
		"allow_registration", "discord_only_registration", "discord_oauth_only",
		"announcement_enabled", "announcement_title", "announcement_content",
		"announcement_read_seconds",
	}
}

// Values renders every override-able key of rt as a string, in Keys() order.
// The admin config endpoint serves this map.
func Values(rt Runtime) map[string]string {
	out := make(map[string]string, len(Keys()))
	for _, key := range Keys() {
		out[key] = valueOf(rt, key)
	}
	return out
}

func valueOf(rt Runtime, key string) string {
	switch key {
	case "base_rpm":
		return strconv.Itoa(rt.BaseRPM)
	case "contributor_rpm":
		return strconv.Itoa(rt.ContributorRPM)
	case "error_retry_count":
		return strconv.Itoa(rt.ErrorRetryCount)
	case "cd_flash":
		return strconv.Itoa(rt.CDFlash)
	case "cd_pro":
		return strconv.Itoa(rt.CDPro)
	case "cd_30":
		return strconv.Itoa(rt.CD30)
	case "quota_flash":
		return strconv.Itoa(rt.QuotaFlash)
	case "quota_25pro":
		return strconv.Itoa(rt.Quota25Pro)
	case "quota_30pro":
		return strconv.Itoa(rt.Quota30Pro)
	case "no_cred_quota_flash":
		return strconv.Itoa(rt.NoCredQuotaFlash)
	case "no_cred_quota_25pro":
		return strconv.Itoa(rt.NoCredQuota25Pro)
	case "no_cred_quota_30pro":
		return strconv.Itoa(rt.NoCredQuota30Pro)
	case "default_daily_quota":
		return strconv.Itoa(rt.DefaultDailyQuota)
	case "credential_pool_mode":
		return rt.CredentialPoolMode
	case "force_donate":
		return strconv.FormatBool(rt.ForceDonate)
	case "lock_donate":
		return strconv.FormatBool(rt.LockDonate)
	case "allow_registration":
		return strconv.FormatBool(rt.AllowRegistration)
	case "discord_only_registration":
		return strconv.FormatBool(rt.DiscordOnlyRegistration)
	case "discord_oauth_only":
		return strconv.FormatBool(rt.DiscordOAuthOnly)
	case "announcement_enabled":
		return strconv.FormatBool(rt.AnnouncementEnabled)
	case "announcement_title":
		return rt.AnnouncementTitle
	case "announcement_content":
		return rt.AnnouncementContent
	case "announcement_read_seconds":
		return strconv.Itoa(rt.AnnouncementReadSeconds)
	}
	return ""
}

type valueError struct{ err error }

func (v valueError) Error() string { return v.err.Error() }

func isValueError(err error) bool {
	_, ok := err.(valueError)
	return ok
}

func applyKey(rt *Runtime, key, value string) error {
	setInt := func(dst *int, min int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return valueError{fmt.Errorf("%s: expected integer, got %q", key, value)}
		}
		if n < min {
			return valueError{fmt.Errorf("%s: must be >= %d", key, min)}
		}
		*dst = n
		return nil
	}
	setBool := func(dst *bool) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return valueError{fmt.Errorf("%s: expected boolean, got %q", key, value)}
		}
		*dst = b
		return nil
	}

	switch key {
	case "base_rpm":
		return setInt(&rt.BaseRPM, 0)
	case "contributor_rpm":
		return setInt(&rt.ContributorRPM, 0)
	case "error_retry_count":
		return setInt(&rt.ErrorRetryCount, 0)
	case "cd_flash":
		return setInt(&rt.CDFlash, 0)
	case "cd_pro":
		return setInt(&rt.CDPro, 0)
	case "cd_30":
		return setInt(&rt.CD30, 0)
	case "quota_flash":
		return setInt(&rt.QuotaFlash, 0)
	case "quota_25pro":
		return setInt(&rt.Quota25Pro, 0)
	case "quota_30pro":
		return setInt(&rt.Quota30Pro, 0)
	case "no_cred_quota_flash":
		return setInt(&rt.NoCredQuotaFlash, 0)
	case "no_cred_quota_25pro":
		return setInt(&rt.NoCredQuota25Pro, 0)
	case "no_cred_quota_30pro":
		return setInt(&rt.NoCredQuota30Pro, 0)
	case "default_daily_quota":
		return setInt(&rt.DefaultDailyQuota, 0)
	case "credential_pool_mode":
		switch value {
		case PoolModePrivate, PoolModeTier3Shared, PoolModeFullShared:
			rt.CredentialPoolMode = value
			return nil
		default:
			return valueError{fmt.Errorf("credential_pool_mode: invalid mode %q", value)}
		}
	case "force_donate":
		return setBool(&rt.ForceDonate)
	case "lock_donate":
		return setBool(&rt.LockDonate)
	case "allow_registration":
		return setBool(&rt.AllowRegistration)
	case "discord_only_registration":
		return setBool(&rt.DiscordOnlyRegistration)
	case "discord_oauth_only":
		return setBool(&rt.DiscordOAuthOnly)
	case "announcement_enabled":
		return setBool(&rt.AnnouncementEnabled)
	case "announcement_title":
		rt.AnnouncementTitle = value
		return nil
	case "announcement_content":
		rt.AnnouncementContent = value
		return nil
	case "announcement_read_seconds":
		return setInt(&rt.AnnouncementReadSeconds, 0)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
}

func copyKey(dst, src *Runtime, key string) {
	var tmp Runtime = *dst
	switch key {
	case "base_rpm":
		tmp.BaseRPM = src.BaseRPM
	case "contributor_rpm":
		tmp.ContributorRPM = src.ContributorRPM
	case "error_retry_count":
		tmp.ErrorRetryCount = src.ErrorRetryCount
	case "cd_flash":
		tmp.CDFlash = src.CDFlash
	case "cd_pro":
		tmp.CDPro = src.CDPro
	case "cd_30":
		tmp.CD30 = src.CD30
	case "quota_flash":
		tmp.QuotaFlash = src.QuotaFlash
	case "quota_25pro":
		tmp.Quota25Pro = src.Quota25Pro
	case "quota_30pro":
		tmp.Quota30Pro = src.Quota30Pro
	case "no_cred_quota_flash":
		tmp.NoCredQuotaFlash = src.NoCredQuotaFlash
	case "no_cred_quota_25pro":
		tmp.NoCredQuota25Pro = src.NoCredQuota25Pro
	case "no_cred_quota_30pro":
		tmp.NoCredQuota30Pro = src.NoCredQuota30Pro
	case "default_daily_quota":
		tmp.DefaultDailyQuota = src.DefaultDailyQuota
	case "credential_pool_mode":
		tmp.CredentialPoolMode = src.CredentialPoolMode
	case "force_donate":
		tmp.ForceDonate = src.ForceDonate
	case "lock_donate":
		tmp.LockDonate = src.LockDonate
	case "allow_registration":
		tmp.AllowRegistration = src.AllowRegistration
	case "discord_only_registration":
		tmp.DiscordOnlyRegistration = src.DiscordOnlyRegistration
	case "discord_oauth_only":
		tmp.DiscordOAuthOnly = src.DiscordOAuthOnly
	case "announcement_enabled":
		tmp.AnnouncementEnabled = src.AnnouncementEnabled
	case "announcement_title":
		tmp.AnnouncementTitle = src.AnnouncementTitle
	case "announcement_content":
		tmp.AnnouncementContent = src.AnnouncementContent
	case "announcement_read_seconds":
		tmp.AnnouncementReadSeconds = src.AnnouncementReadSeconds
	}
	*dst = tmp
}
