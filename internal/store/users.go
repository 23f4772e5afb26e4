package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const userColumns = `id, username, password_hash, discord_id, is_active, is_admin,
	base_quota, bonus_quota, created_at, last_login_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DiscordID, &u.IsActive,
		&u.IsAdmin, &u.BaseQuota, &u.BonusQuota, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, baseQuota int) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, base_quota)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		username, passwordHash, baseQuota)
	return scanUser(row)
}

func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return requireRow(res)
}

func (s *Store) SetUserBaseQuota(ctx context.Context, id int64, baseQuota int) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `UPDATE users SET base_quota = $2 WHERE id = $1`, id, baseQuota)
	if err != nil {
		return fmt.Errorf("set user quota: %w", err)
	}
	return requireRow(res)
}

func (s *Store) TouchLastLogin(ctx context.Context, id int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = now() WHERE id = $1`, id)
	return err
}

// EnsureAdminUser creates or promotes the bootstrap admin account. The
// password hash is only written on first creation; an existing user keeps
// their password and gains the admin flag.
func (s *Store) EnsureAdminUser(ctx context.Context, username, passwordHash string, baseQuota int) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, base_quota, is_admin)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (username) DO UPDATE SET is_admin = TRUE
		RETURNING `+userColumns,
		username, passwordHash, baseQuota)
	return scanUser(row)
}

// AddBonusQuotaTx adjusts bonus_quota by delta inside an existing transaction,
// clamping at zero. Donation credits pass a positive delta, claw-backs a
// negative one.
func AddBonusQuotaTx(ctx context.Context, tx *sql.Tx, userID int64, delta int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET bonus_quota = GREATEST(bonus_quota + $2, 0) WHERE id = $1`,
		userID, delta)
	if err != nil {
		return fmt.Errorf("adjust bonus quota: %w", err)
	}
	return nil
}

func (s *Store) AddBonusQuota(ctx context.Context, userID int64, delta int) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return AddBonusQuotaTx(ctx, tx, userID, delta)
	})
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
