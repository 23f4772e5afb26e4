// Package quota enforces per-user daily quotas and per-minute rates against
// the usage log. The accounting day rolls over at 07:00 UTC, not midnight.
package quota

import (
	"context"
	"fmt"
	"time"

	"gempool-go/internal/config"
	"gempool-go/internal/errors"
	"gempool-go/internal/models"
	"gempool-go/internal/store"
)

const rolloverHourUTC = 7

const rpmWindow = time.Minute

// StartOfDay returns the accounting-day start for now: 07:00 UTC today when
// now is at or past it, otherwise 07:00 UTC yesterday.
func StartOfDay(now time.Time) time.Time {
	utc := now.UTC()
	start := time.Date(utc.Year(), utc.Month(), utc.Day(), rolloverHourUTC, 0, 0, 0, time.UTC)
	if utc.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// Source is the slice of the store the limiter reads.
type Source interface {
	UserHasActiveCredential(ctx context.Context, userID int64) (bool, error)
	UserHasActivePublicCredential(ctx context.Context, userID int64) (bool, error)
	CountSuccessSince(ctx context.Context, userID int64, since time.Time) (int, error)
	CountSuccessSinceByGroup(ctx context.Context, userID int64, since time.Time, group string) (int, error)
	CountRecent(ctx context.Context, userID int64, window time.Duration) (int, error)
}

type Limiter struct {
	src Source
	reg *config.Registry
	now func() time.Time
}

func NewLimiter(src Source, reg *config.Registry) *Limiter {
	return &Limiter{src: src, reg: reg, now: time.Now}
}

// Check enforces both the per-minute rate and the daily quota for one request.
// A nil return means the request may proceed.
func (l *Limiter) Check(ctx context.Context, user *store.User, variant models.Variant) error {
	rt := l.reg.Snapshot()

	if !user.IsAdmin {
		if err := l.checkRate(ctx, user, rt); err != nil {
			return err
		}
	}
	return l.checkDaily(ctx, user, variant, rt)
}

func (l *Limiter) checkRate(ctx context.Context, user *store.User, rt config.Runtime) error {
	limit := rt.BaseRPM
	hasPublic, err := l.src.UserHasActivePublicCredential(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("rate check: %w", err)
	}
	if hasPublic {
		limit = rt.ContributorRPM
	}

	recent, err := l.src.CountRecent(ctx, user.ID, rpmWindow)
	if err != nil {
		return fmt.Errorf("rate check: %w", err)
	}
	if recent >= limit {
		return errors.QuotaExceeded(fmt.Sprintf("rate limit exceeded: %d requests per minute", limit))
	}
	return nil
}

func (l *Limiter) checkDaily(ctx context.Context, user *store.User, variant models.Variant, rt config.Runtime) error {
	since := StartOfDay(l.now())

	hasCred, err := l.src.UserHasActiveCredential(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}

	if hasCred {
		used, err := l.src.CountSuccessSince(ctx, user.ID, since)
		if err != nil {
			return fmt.Errorf("quota check: %w", err)
		}
		if used >= user.EffectiveQuota() {
			return errors.QuotaExceeded(fmt.Sprintf("daily quota exhausted: %d of %d used", used, user.EffectiveQuota()))
		}
		return nil
	}

	group := variant.Group()
	cap := noCredCap(rt, group)
	if cap <= 0 {
		return errors.QuotaExceeded(fmt.Sprintf("no credential on file; %s models are unavailable", group))
	}
	used, err := l.src.CountSuccessSinceByGroup(ctx, user.ID, since, string(group))
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}
	if used >= cap {
		return errors.QuotaExceeded(fmt.Sprintf("daily no-credential quota exhausted for %s models: %d of %d used", group, used, cap))
	}
	return nil
}

func noCredCap(rt config.Runtime, group models.Group) int {
	switch group {
	case models.Group30:
		return rt.NoCredQuota30Pro
	case models.GroupPro:
		return rt.NoCredQuota25Pro
	default:
		return rt.NoCredQuotaFlash
	}
}
