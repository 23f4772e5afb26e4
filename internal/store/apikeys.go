package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const apiKeyColumns = `id, user_id, secret, name, is_active, created_at, last_used_at`

func scanAPIKey(row interface{ Scan(...interface{}) error }) (*APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.UserID, &k.Secret, &k.Name, &k.IsActive, &k.CreatedAt, &k.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return &k, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, userID int64, secret, name string) (*APIKey, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (user_id, secret, name)
		VALUES ($1, $2, $3)
		RETURNING `+apiKeyColumns,
		userID, secret, name)
	return scanAPIKey(row)
}

func (s *Store) CountAPIKeys(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM api_keys WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return n, nil
}

func (s *Store) ListAPIKeys(ctx context.Context, userID int64) ([]*APIKey, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteAPIKey removes a key; the user_id guard prevents cross-user deletes.
func (s *Store) DeleteAPIKey(ctx context.Context, userID, keyID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, keyID, userID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireRow(res)
}

// RotateAPIKey swaps the secret of an existing key.
func (s *Store) RotateAPIKey(ctx context.Context, userID, keyID int64, newSecret string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET secret = $3 WHERE id = $1 AND user_id = $2`, keyID, userID, newSecret)
	if err != nil {
		return fmt.Errorf("rotate api key: %w", err)
	}
	return requireRow(res)
}

func (s *Store) TouchAPIKey(ctx context.Context, keyID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`, keyID)
	return err
}

// ResolveAPIKey looks up an inbound secret and returns the owning user plus
// the key row. Inactive keys resolve to ErrNotFound; a disabled user is
// returned as-is so the caller can answer 403 instead of 401.
func (s *Store) ResolveAPIKey(ctx context.Context, secret string) (*User, *APIKey, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `
		SELECT k.id, k.user_id, k.secret, k.name, k.is_active, k.created_at, k.last_used_at,
		       u.id, u.username, u.password_hash, u.discord_id, u.is_active, u.is_admin,
		       u.base_quota, u.bonus_quota, u.created_at, u.last_login_at
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.secret = $1 AND k.is_active`, secret)

	var k APIKey
	var u User
	err := row.Scan(&k.ID, &k.UserID, &k.Secret, &k.Name, &k.IsActive, &k.CreatedAt, &k.LastUsedAt,
		&u.ID, &u.Username, &u.PasswordHash, &u.DiscordID, &u.IsActive, &u.IsAdmin,
		&u.BaseQuota, &u.BonusQuota, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve api key: %w", err)
	}
	return &u, &k, nil
}
