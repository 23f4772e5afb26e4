package store

import (
	"context"
	"fmt"
	"time"
)

func (s *Store) InsertUsageLog(ctx context.Context, l *UsageLog) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_logs (user_id, api_key_id, credential_id, model, model_group, endpoint, status_code, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		l.UserID, l.APIKeyID, l.CredentialID, l.Model, l.ModelGroup, l.Endpoint, l.StatusCode, l.LatencyMS).
		Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

// CountSuccessSince counts the user's successful requests since the given
// instant. This is the daily-quota window.
func (s *Store) CountSuccessSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	return s.countUsage(ctx, `
		SELECT count(*) FROM usage_logs
		WHERE user_id = $1 AND created_at >= $2 AND status_code = 200`, userID, since)
}

// CountSuccessSinceByGroup is the per-group variant used for no-credential caps.
func (s *Store) CountSuccessSinceByGroup(ctx context.Context, userID int64, since time.Time, group string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM usage_logs
		WHERE user_id = $1 AND created_at >= $2 AND status_code = 200 AND model_group = $3`,
		userID, since, group).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// CountRecent counts all of the user's logs (any status) in the trailing
// window. This is the RPM window.
func (s *Store) CountRecent(ctx context.Context, userID int64, window time.Duration) (int, error) {
	return s.countUsage(ctx, `
		SELECT count(*) FROM usage_logs
		WHERE user_id = $1 AND created_at >= $2`, userID, time.Now().Add(-window))
}

func (s *Store) countUsage(ctx context.Context, query string, userID int64, since time.Time) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var n int
	if err := s.db.QueryRowContext(ctx, query, userID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// Aggregates for the admin stats endpoints.

type ModelCount struct {
	Model string
	Count int64
}

type UserCount struct {
	UserID   int64
	Username string
	Count    int64
}

type DayCount struct {
	Day   time.Time
	Count int64
}

type UsageTotals struct {
	TotalRequests int64
	SuccessCount  int64
	FailureCount  int64
}

func (s *Store) UsageTotals(ctx context.Context, since time.Time) (*UsageTotals, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var t UsageTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status_code = 200),
		       count(*) FILTER (WHERE status_code <> 200)
		FROM usage_logs WHERE created_at >= $1`, since).
		Scan(&t.TotalRequests, &t.SuccessCount, &t.FailureCount)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	return &t, nil
}

func (s *Store) UsageByModel(ctx context.Context, since time.Time) ([]ModelCount, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, count(*) FROM usage_logs
		WHERE created_at >= $1
		GROUP BY model ORDER BY count(*) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("usage by model: %w", err)
	}
	defer rows.Close()

	var out []ModelCount
	for rows.Next() {
		var mc ModelCount
		if err := rows.Scan(&mc.Model, &mc.Count); err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

func (s *Store) UsageByUser(ctx context.Context, since time.Time) ([]UserCount, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.user_id, u.username, count(*)
		FROM usage_logs l JOIN users u ON u.id = l.user_id
		WHERE l.created_at >= $1
		GROUP BY l.user_id, u.username ORDER BY count(*) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("usage by user: %w", err)
	}
	defer rows.Close()

	var out []UserCount
	for rows.Next() {
		var uc UserCount
		if err := rows.Scan(&uc.UserID, &uc.Username, &uc.Count); err != nil {
			return nil, err
		}
		out = append(out, uc)
	}
	return out, rows.Err()
}

// UsageDailySeries returns per-day request counts for the trailing days
// window, most recent last.
func (s *Store) UsageDailySeries(ctx context.Context, days int) ([]DayCount, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT date_trunc('day', created_at) AS day, count(*)
		FROM usage_logs
		WHERE created_at >= now() - ($1 * interval '1 day')
		GROUP BY day ORDER BY day`, days)
	if err != nil {
		return nil, fmt.Errorf("usage daily series: %w", err)
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}
