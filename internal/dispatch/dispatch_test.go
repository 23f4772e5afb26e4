package dispatch

import (
	"context"
	goerrors "errors"
	"net/http"
	"testing"
	"time"

	"gempool-go/internal/config"
	apierrors "gempool-go/internal/errors"
	"gempool-go/internal/models"
	"gempool-go/internal/quota"
	"gempool-go/internal/store"
)

type usageRecorder struct {
	logs []*store.UsageLog
}

func (u *usageRecorder) InsertUsageLog(_ context.Context, l *store.UsageLog) error {
	u.logs = append(u.logs, l)
	return nil
}

// floodedSource reports a user far over the per-minute window.
type floodedSource struct{}

func (floodedSource) UserHasActiveCredential(context.Context, int64) (bool, error) {
	return true, nil
}

func (floodedSource) UserHasActivePublicCredential(context.Context, int64) (bool, error) {
	return false, nil
}

func (floodedSource) CountSuccessSince(context.Context, int64, time.Time) (int, error) {
	return 0, nil
}

func (floodedSource) CountSuccessSinceByGroup(context.Context, int64, time.Time, string) (int, error) {
	return 0, nil
}

func (floodedSource) CountRecent(context.Context, int64, time.Duration) (int, error) {
	return 1 << 20, nil
}

func TestRateLimitedRequestStillLogged(t *testing.T) {
	reg := config.NewRegistry(config.Defaults().Runtime, nil)
	rec := &usageRecorder{}
	d := New(rec, nil, quota.NewLimiter(floodedSource{}, reg), nil, reg, nil)

	req := &Request{
		User:     &store.User{ID: 7, BaseQuota: 100},
		APIKeyID: 3,
		Variant:  models.Parse("gemini-2.5-flash"),
		Endpoint: "/v1/chat/completions",
	}
	_, err := d.Do(context.Background(), req)

	var apiErr *apierrors.APIError
	if !goerrors.As(err, &apiErr) || apiErr.HTTPStatus != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want a 429 APIError", err)
	}
	if len(rec.logs) != 1 {
		t.Fatalf("usage rows = %d, want 1", len(rec.logs))
	}
	l := rec.logs[0]
	if l.StatusCode != http.StatusTooManyRequests {
		t.Errorf("logged status = %d, want 429", l.StatusCode)
	}
	if l.CredentialID.Valid {
		t.Error("rejected request logged with a credential")
	}
	if !l.APIKeyID.Valid || l.APIKeyID.Int64 != 3 {
		t.Errorf("logged api key = %+v, want 3", l.APIKeyID)
	}
	if l.UserID != 7 || l.Model != "gemini-2.5-flash" {
		t.Errorf("log row = %+v", l)
	}
}
