package quota

import (
	"context"
	"testing"
	"time"

	"gempool-go/internal/config"
	apierrors "gempool-go/internal/errors"
	"gempool-go/internal/models"
	"gempool-go/internal/store"
)

func TestStartOfDayRollover(t *testing.T) {
	cases := []struct {
		now  string
		want string
	}{
		{"2026-08-26T06:59:59Z", "2026-08-25T07:00:00Z"},
		{"2026-08-26T07:00:00Z", "2026-08-26T07:00:00Z"},
		{"2026-08-26T07:00:01Z", "2026-08-26T07:00:00Z"},
		{"2026-08-26T23:30:00Z", "2026-08-26T07:00:00Z"},
		{"2026-08-26T00:00:00Z", "2026-08-25T07:00:00Z"},
		// 14:59 Beijing is 06:59 UTC, previous accounting day.
		{"2026-08-26T14:59:00+08:00", "2026-08-25T07:00:00Z"},
	}
	for _, tc := range cases {
		now, err := time.Parse(time.RFC3339, tc.now)
		if err != nil {
			t.Fatal(err)
		}
		want, _ := time.Parse(time.RFC3339, tc.want)
		if got := StartOfDay(now); !got.Equal(want) {
			t.Errorf("StartOfDay(%s) = %s, want %s", tc.now, got, want)
		}
	}
}

type fakeSource struct {
	hasCred      bool
	hasPublic    bool
	daily        int
	dailyByGroup map[string]int
	recent       int
}

func (f *fakeSource) UserHasActiveCredential(ctx context.Context, id int64) (bool, error) {
	return f.hasCred, nil
}

func (f *fakeSource) UserHasActivePublicCredential(ctx context.Context, id int64) (bool, error) {
	return f.hasPublic, nil
}

func (f *fakeSource) CountSuccessSince(ctx context.Context, id int64, since time.Time) (int, error) {
	return f.daily, nil
}

func (f *fakeSource) CountSuccessSinceByGroup(ctx context.Context, id int64, since time.Time, group string) (int, error) {
	return f.dailyByGroup[group], nil
}

func (f *fakeSource) CountRecent(ctx context.Context, id int64, window time.Duration) (int, error) {
	return f.recent, nil
}

func newLimiter(src Source, mut func(*config.Runtime)) *Limiter {
	rt := config.Defaults().Runtime
	if mut != nil {
		mut(&rt)
	}
	return NewLimiter(src, config.NewRegistry(rt, nil))
}

func wantRateErr(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected quota error, got nil")
	}
	apiErr, ok := err.(*apierrors.APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.HTTPStatus != 429 {
		t.Errorf("status = %d, want 429", apiErr.HTTPStatus)
	}
}

func TestCheckAllowsUnderLimits(t *testing.T) {
	src := &fakeSource{hasCred: true, daily: 10, recent: 2}
	l := newLimiter(src, nil)
	user := &store.User{ID: 1, BaseQuota: 100}
	if err := l.Check(context.Background(), user, models.Parse("gemini-2.5-flash")); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestCheckDailyQuotaIncludesBonus(t *testing.T) {
	src := &fakeSource{hasCred: true, daily: 100, recent: 0}
	l := newLimiter(src, nil)

	user := &store.User{ID: 1, BaseQuota: 100}
	wantRateErr(t, l.Check(context.Background(), user, models.Parse("gemini-2.5-flash")))

	user.BonusQuota = 50
	if err := l.Check(context.Background(), user, models.Parse("gemini-2.5-flash")); err != nil {
		t.Fatalf("bonus quota should lift the cap: %v", err)
	}
}

func TestCheckRPMContributorVsBase(t *testing.T) {
	src := &fakeSource{hasCred: true, recent: 5}
	l := newLimiter(src, func(rt *config.Runtime) {
		rt.BaseRPM = 5
		rt.ContributorRPM = 10
	})
	user := &store.User{ID: 1, BaseQuota: 100}

	wantRateErr(t, l.Check(context.Background(), user, models.Parse("gemini-2.5-flash")))

	src.hasPublic = true
	if err := l.Check(context.Background(), user, models.Parse("gemini-2.5-flash")); err != nil {
		t.Fatalf("contributor limit should admit 5 recent: %v", err)
	}
}

func TestCheckAdminExemptFromRPM(t *testing.T) {
	src := &fakeSource{hasCred: true, recent: 1000}
	l := newLimiter(src, nil)
	admin := &store.User{ID: 1, BaseQuota: 100, IsAdmin: true}
	if err := l.Check(context.Background(), admin, models.Parse("gemini-2.5-flash")); err != nil {
		t.Fatalf("admin should bypass RPM: %v", err)
	}
}

func TestCheckNoCredentialCaps(t *testing.T) {
	src := &fakeSource{dailyByGroup: map[string]int{"flash": 3}}
	l := newLimiter(src, func(rt *config.Runtime) {
		rt.NoCredQuotaFlash = 5
		rt.NoCredQuota30Pro = 0
	})
	user := &store.User{ID: 1, BaseQuota: 100}

	if err := l.Check(context.Background(), user, models.Parse("gemini-2.5-flash")); err != nil {
		t.Fatalf("under no-cred cap should pass: %v", err)
	}

	src.dailyByGroup["flash"] = 5
	wantRateErr(t, l.Check(context.Background(), user, models.Parse("gemini-2.5-flash")))

	// Zero cap means the group is closed to credential-less users.
	wantRateErr(t, l.Check(context.Background(), user, models.Parse("gemini-3-pro-preview")))
}
