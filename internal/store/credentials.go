package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	pq "github.com/lib/pq"
)

const credColumns = `id, owner_user_id, display_name, email, project_id, credential_type,
	access_token_ct, refresh_token_ct, refresh_token_sha, oauth_client_id_ct, oauth_client_secret_ct,
	model_tier, account_type, is_public, is_active, total_requests, failed_requests, last_error,
	last_used_at, last_used_flash, last_used_pro, last_used_30, created_at`

func scanCredential(row interface{ Scan(...interface{}) error }) (*Credential, error) {
	var c Credential
	err := row.Scan(&c.ID, &c.OwnerUserID, &c.DisplayName, &c.Email, &c.ProjectID, &c.CredentialType,
		&c.AccessTokenCT, &c.RefreshTokenCT, &c.RefreshTokenSHA, &c.OAuthClientIDCT, &c.OAuthClientSecretCT,
		&c.ModelTier, &c.AccountType, &c.IsPublic, &c.IsActive, &c.TotalRequests, &c.FailedRequests, &c.LastError,
		&c.LastUsedAt, &c.LastUsedFlash, &c.LastUsedPro, &c.LastUsed30, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return &c, nil
}

func (s *Store) InsertCredential(ctx context.Context, c *Credential) (*Credential, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO credentials (owner_user_id, display_name, email, project_id, credential_type,
			access_token_ct, refresh_token_ct, refresh_token_sha, oauth_client_id_ct, oauth_client_secret_ct,
			model_tier, account_type, is_public, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+credColumns,
		c.OwnerUserID, c.DisplayName, c.Email, c.ProjectID, c.CredentialType,
		c.AccessTokenCT, c.RefreshTokenCT, c.RefreshTokenSHA, c.OAuthClientIDCT, c.OAuthClientSecretCT,
		c.ModelTier, c.AccountType, c.IsPublic, c.IsActive)
	return scanCredential(row)
}

// CredentialExists reports whether a credential with the given refresh-token
// fingerprint or (non-empty) email is already stored. Used for upload dedup.
func (s *Store) CredentialExists(ctx context.Context, refreshTokenSHA, email string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM credentials
			WHERE refresh_token_sha = $1 OR ($2 <> '' AND email = $2)
		)`, refreshTokenSHA, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("credential exists: %w", err)
	}
	return exists, nil
}

func (s *Store) GetCredential(ctx context.Context, id int64) (*Credential, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `SELECT `+credColumns+` FROM credentials WHERE id = $1`, id)
	return scanCredential(row)
}

// GetCredentialForUpdateTx loads a credential with a row lock held for the
// duration of the transaction.
func GetCredentialForUpdateTx(ctx context.Context, tx *sql.Tx, id int64) (*Credential, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+credColumns+` FROM credentials WHERE id = $1 FOR UPDATE`, id)
	return scanCredential(row)
}

func (s *Store) ListCredentialsByOwner(ctx context.Context, ownerID int64) ([]*Credential, error) {
	return s.listCredentials(ctx,
		`SELECT `+credColumns+` FROM credentials WHERE owner_user_id = $1 ORDER BY id`, ownerID)
}

func (s *Store) ListAllCredentials(ctx context.Context) ([]*Credential, error) {
	return s.listCredentials(ctx, `SELECT `+credColumns+` FROM credentials ORDER BY id`)
}

func (s *Store) listCredentials(ctx context.Context, query string, args ...interface{}) ([]*Credential, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// Ownership probes used by quota checks and sharing-mode gating.

func (s *Store) UserHasActiveCredential(ctx context.Context, userID int64) (bool, error) {
	return s.existsCredential(ctx,
		`SELECT EXISTS (SELECT 1 FROM credentials WHERE owner_user_id = $1 AND is_active)`, userID)
}

func (s *Store) UserHasActivePublicCredential(ctx context.Context, userID int64) (bool, error) {
	return s.existsCredential(ctx,
		`SELECT EXISTS (SELECT 1 FROM credentials WHERE owner_user_id = $1 AND is_active AND is_public)`, userID)
}

func (s *Store) UserHasActiveTier3Credential(ctx context.Context, userID int64) (bool, error) {
	return s.existsCredential(ctx,
		`SELECT EXISTS (SELECT 1 FROM credentials WHERE owner_user_id = $1 AND is_active AND model_tier = '3')`, userID)
}

func (s *Store) existsCredential(ctx context.Context, query string, userID int64) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("credential probe: %w", err)
	}
	return exists, nil
}

// CandidateQuery describes the pool's selection constraints. The sharing-mode
// policy is resolved by the caller; this layer only turns it into SQL.
type CandidateQuery struct {
	OwnerID int64

	// IncludePublic admits public credentials from other users; PublicTiers
	// narrows which tiers of those are admissible (nil means any tier).
	IncludePublic bool
	PublicTiers   []string

	// RequiredTier "" accepts any tier; "3" requires a tier-3 credential.
	RequiredTier string

	ExcludedIDs []int64

	// CooldownColumn is one of the last_used_* group columns; when
	// EnforceCooldown is set, rows used within CooldownSecs are skipped.
	CooldownColumn  string
	CooldownSecs    int
	EnforceCooldown bool
}

var cooldownColumns = map[string]bool{
	"last_used_flash": true,
	"last_used_pro":   true,
	"last_used_30":    true,
}

func buildCandidateSQL(q CandidateQuery) (string, []interface{}, error) {
	if q.CooldownColumn != "" && !cooldownColumns[q.CooldownColumn] {
		return "", nil, fmt.Errorf("invalid cooldown column %q", q.CooldownColumn)
	}

	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	// oauth rows need refresh material; api_key rows carry the key itself.
	where = append(where,
		"is_active",
		"project_id <> ''",
		"((credential_type = 'oauth' AND refresh_token_ct <> '') OR (credential_type = 'api_key' AND access_token_ct <> ''))",
	)

	if q.IncludePublic {
		pub := "is_public"
		if len(q.PublicTiers) > 0 {
			pub = fmt.Sprintf("(is_public AND model_tier = ANY(%s))", arg(pq.Array(q.PublicTiers)))
		}
		where = append(where, fmt.Sprintf("(owner_user_id = %s OR %s)", arg(q.OwnerID), pub))
	} else {
		where = append(where, fmt.Sprintf("owner_user_id = %s", arg(q.OwnerID)))
	}

	if q.RequiredTier != "" {
		where = append(where, fmt.Sprintf("model_tier = %s", arg(q.RequiredTier)))
	}
	if len(q.ExcludedIDs) > 0 {
		where = append(where, fmt.Sprintf("NOT (id = ANY(%s))", arg(pq.Array(q.ExcludedIDs))))
	}
	if q.EnforceCooldown && q.CooldownColumn != "" && q.CooldownSecs > 0 {
		where = append(where, fmt.Sprintf("(%[1]s IS NULL OR %[1]s < now() - (%[2]s * interval '1 second'))",
			q.CooldownColumn, arg(q.CooldownSecs)))
	}

	query := `SELECT ` + credColumns + `
		FROM credentials
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY last_used_at ASC NULLS FIRST, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`
	return query, args, nil
}

// SelectCandidateTx returns the least-recently-used credential matching the
// query, locking the row for the transaction. ErrNotFound when the candidate
// set is empty.
func SelectCandidateTx(ctx context.Context, tx *sql.Tx, q CandidateQuery) (*Credential, error) {
	query, args, err := buildCandidateSQL(q)
	if err != nil {
		return nil, err
	}
	return scanCredential(tx.QueryRowContext(ctx, query, args...))
}

// MarkSelectedTx stamps the selection: last_used_at, the per-group timestamp,
// and the request counter, all on the locked row.
func MarkSelectedTx(ctx context.Context, tx *sql.Tx, id int64, groupColumn string) error {
	if !cooldownColumns[groupColumn] {
		return fmt.Errorf("invalid group column %q", groupColumn)
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE credentials
		SET last_used_at = now(), %s = now(), total_requests = total_requests + 1
		WHERE id = $1`, groupColumn), id)
	if err != nil {
		return fmt.Errorf("mark selected: %w", err)
	}
	return nil
}

// RecordFailureTx increments the failure counter and stores the error text;
// deactivate additionally flips is_active off.
func RecordFailureTx(ctx context.Context, tx *sql.Tx, id int64, errText string, deactivate bool) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE credentials
		SET failed_requests = failed_requests + 1,
		    last_error = $2,
		    is_active = is_active AND NOT $3
		WHERE id = $1`, id, errText, deactivate)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// UpdateAccessTokenTx writes the freshly refreshed (encrypted) access token.
func UpdateAccessTokenTx(ctx context.Context, tx *sql.Tx, id int64, accessTokenCT string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE credentials SET access_token_ct = $2 WHERE id = $1`, id, accessTokenCT)
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}
	return nil
}

func SetCredentialPublicTx(ctx context.Context, tx *sql.Tx, id int64, public bool) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE credentials SET is_public = $2 WHERE id = $1`, id, public)
	if err != nil {
		return fmt.Errorf("set credential public: %w", err)
	}
	return nil
}

func SetCredentialActiveTx(ctx context.Context, tx *sql.Tx, id int64, active bool) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE credentials SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set credential active: %w", err)
	}
	return nil
}

func (s *Store) SetCredentialActive(ctx context.Context, id int64, active bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set credential active: %w", err)
	}
	return requireRow(res)
}

func (s *Store) SetCredentialTier(ctx context.Context, id int64, tier string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET model_tier = $2 WHERE id = $1`, id, tier)
	if err != nil {
		return fmt.Errorf("set credential tier: %w", err)
	}
	return requireRow(res)
}

func SetCredentialTierTx(ctx context.Context, tx *sql.Tx, id int64, tier string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE credentials SET model_tier = $2 WHERE id = $1`, id, tier)
	if err != nil {
		return fmt.Errorf("set credential tier: %w", err)
	}
	return nil
}

// UpdateVerificationTx persists a verification outcome on a locked row.
func UpdateVerificationTx(ctx context.Context, tx *sql.Tx, id int64, tier, accountType string, isActive bool, lastError string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE credentials
		SET model_tier = $2, account_type = $3, is_active = $4, last_error = $5
		WHERE id = $1`, id, tier, accountType, isActive, lastError)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	return nil
}

// UpdateVerification persists a verification outcome.
func (s *Store) UpdateVerification(ctx context.Context, id int64, tier, accountType string, isActive bool, lastError string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET model_tier = $2, account_type = $3, is_active = $4, last_error = $5
		WHERE id = $1`, id, tier, accountType, isActive, lastError)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	return requireRow(res)
}

func DeleteCredentialTx(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// ListCredentialsByOwnerAndIDs returns the owner's credentials restricted to
// ids, for batch operations.
func (s *Store) ListCredentialsByOwnerAndIDs(ctx context.Context, ownerID int64, ids []int64) ([]*Credential, error) {
	return s.listCredentials(ctx,
		`SELECT `+credColumns+` FROM credentials WHERE owner_user_id = $1 AND id = ANY($2) ORDER BY id`,
		ownerID, pq.Array(ids))
}

func (s *Store) ListInactiveCredentialsByOwner(ctx context.Context, ownerID int64) ([]*Credential, error) {
	return s.listCredentials(ctx,
		`SELECT `+credColumns+` FROM credentials WHERE owner_user_id = $1 AND NOT is_active ORDER BY id`,
		ownerID)
}
