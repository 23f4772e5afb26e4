// Package pool selects upstream credentials for inbound requests and keeps
// their lifecycle state (cooldowns, failure counters, donation accounting)
// consistent.
package pool

import (
	"context"
	"database/sql"
	goerrors "errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"gempool-go/internal/config"
	"gempool-go/internal/errors"
	"gempool-go/internal/models"
	"gempool-go/internal/oauth"
	"gempool-go/internal/store"
	upstream "gempool-go/internal/upstream/gemini"
	"gempool-go/internal/vault"
)

type Pool struct {
	store     *store.Store
	vault     *vault.Vault
	refresher *oauth.Refresher
	client    *upstream.Client
	reg       *config.Registry
}

func New(st *store.Store, v *vault.Vault, r *oauth.Refresher, client *upstream.Client, reg *config.Registry) *Pool {
	return &Pool{store: st, vault: v, refresher: r, client: client, reg: reg}
}

// ownership captures the user-side facts the sharing policy depends on.
type ownership struct {
	hasTier3  bool
	hasPublic bool
}

// buildQuery resolves the sharing mode into a concrete candidate query.
// A nil error with a nil query means policy forbids any selection; the
// returned *errors.APIError explains why.
func buildQuery(rt config.Runtime, userID int64, own ownership, variant models.Variant, excluded []int64) (*store.CandidateQuery, *errors.APIError) {
	requiredTier := ""
	if variant.RequiredTier() == store.Tier3 {
		requiredTier = store.Tier3
	}

	q := store.CandidateQuery{
		OwnerID:      userID,
		RequiredTier: requiredTier,
		ExcludedIDs:  excluded,
	}

	switch rt.CredentialPoolMode {
	case config.PoolModePrivate:
		// own credentials only

	case config.PoolModeTier3Shared:
		q.IncludePublic = true
		if !own.hasTier3 {
			// Public tier-2.5 credentials stay open; public tier-3 access
			// requires owning an active tier-3 credential.
			q.PublicTiers = []string{store.Tier25}
			if requiredTier == store.Tier3 {
				return nil, errors.NoCredentialAvailable(
					"no tier-3 credential available: contribute an active tier-3 credential to use shared ones")
			}
		}

	case config.PoolModeFullShared:
		// Potluck rule: sharing requires bringing a dish.
		q.IncludePublic = own.hasPublic
	}

	return &q, nil
}

// Select picks and stamps a credential for this request. The cooldown filter
// is tried first; when everything is cooling down, the least-recently-used
// candidate is returned anyway and the caller absorbs any upstream 429.
func (p *Pool) Select(ctx context.Context, user *store.User, variant models.Variant, excluded []int64) (*store.Credential, error) {
	rt := p.reg.Snapshot()

	var own ownership
	var err error
	if own.hasTier3, err = p.store.UserHasActiveTier3Credential(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("pool select: %w", err)
	}
	if own.hasPublic, err = p.store.UserHasActivePublicCredential(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("pool select: %w", err)
	}

	q, policyErr := buildQuery(rt, user.ID, own, variant, excluded)
	if policyErr != nil {
		return nil, policyErr
	}

	group := variant.Group()
	q.CooldownColumn = group.Column()
	q.CooldownSecs = cooldownSecs(rt, group)

	var cred *store.Credential
	err = p.store.WithTx(ctx, func(tx *sql.Tx) error {
		cq := *q
		cq.EnforceCooldown = true
		c, err := store.SelectCandidateTx(ctx, tx, cq)
		if goerrors.Is(err, store.ErrNotFound) {
			// Everything in cooldown: degrade to plain LRU.
			cq.EnforceCooldown = false
			c, err = store.SelectCandidateTx(ctx, tx, cq)
		}
		if err != nil {
			return err
		}
		if err := store.MarkSelectedTx(ctx, tx, c.ID, group.Column()); err != nil {
			return err
		}
		cred = c
		return nil
	})
	if goerrors.Is(err, store.ErrNotFound) {
		return nil, noCredentialError(rt, variant, len(excluded) > 0)
	}
	if err != nil {
		return nil, fmt.Errorf("pool select: %w", err)
	}

	log.WithFields(log.Fields{
		"credential": cred.ID,
		"user":       user.ID,
		"model":      variant.Base,
		"group":      group,
	}).Debug("credential selected")
	return cred, nil
}

func noCredentialError(rt config.Runtime, variant models.Variant, retried bool) *errors.APIError {
	switch {
	case retried:
		return errors.NoCredentialAvailable("all credentials exhausted for this request, try again later")
	case variant.RequiredTier() == store.Tier3:
		return errors.NoCredentialAvailable("no tier-3 credential available for " + variant.Base)
	case rt.CredentialPoolMode == config.PoolModePrivate:
		return errors.NoCredentialAvailable("no active credential on your account; upload one to proceed")
	default:
		return errors.NoCredentialAvailable("no credential available, try again later")
	}
}

func cooldownSecs(rt config.Runtime, group models.Group) int {
	switch group {
	case models.Group30:
		return rt.CD30
	case models.GroupPro:
		return rt.CDPro
	default:
		return rt.CDFlash
	}
}

// Resolve turns a selected credential into a usable access token. OAuth
// credentials go through the refresh grant and the re-encrypted access token
// is persisted; api_key credentials decrypt to the bearer token as-is.
// ErrInvalidGrant propagates so the caller can disable the credential.
func (p *Pool) Resolve(ctx context.Context, cred *store.Credential) (*oauth.Token, error) {
	// Plain API-key credentials carry the bearer token directly; there is
	// nothing to refresh.
	if cred.CredentialType == store.CredentialTypeAPIKey {
		key, err := p.vault.Decrypt(cred.AccessTokenCT)
		if err != nil {
			return nil, fmt.Errorf("decrypt api key for credential %d: %w", cred.ID, err)
		}
		return &oauth.Token{AccessToken: key}, nil
	}

	refreshToken, err := p.vault.Decrypt(cred.RefreshTokenCT)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token for credential %d: %w", cred.ID, err)
	}

	m := oauth.Material{RefreshToken: refreshToken}
	if cred.OAuthClientIDCT != "" && cred.OAuthClientSecretCT != "" {
		if m.ClientID, err = p.vault.Decrypt(cred.OAuthClientIDCT); err != nil {
			return nil, fmt.Errorf("decrypt client id: %w", err)
		}
		if m.ClientSecret, err = p.vault.Decrypt(cred.OAuthClientSecretCT); err != nil {
			return nil, fmt.Errorf("decrypt client secret: %w", err)
		}
	}

	tok, err := p.refresher.Refresh(ctx, m)
	if err != nil {
		return nil, err
	}

	ct, err := p.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	err = p.store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpdateAccessTokenTx(ctx, tx, cred.ID, ct)
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// RecordFailure increments the failure counters and stores the error. Auth
// failures additionally deactivate the credential and claw back the owner's
// donation bonus, all in one transaction.
func (p *Pool) RecordFailure(ctx context.Context, credID int64, errText string) error {
	rt := p.reg.Snapshot()
	isAuth := errors.IsAuthFailure(errText)

	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		cred, err := store.GetCredentialForUpdateTx(ctx, tx, credID)
		if err != nil {
			return err
		}
		if err := store.RecordFailureTx(ctx, tx, credID, errText, isAuth); err != nil {
			return err
		}
		if isAuth && cred.IsActive && cred.IsPublic && cred.OwnerUserID.Valid {
			if err := store.AddBonusQuotaTx(ctx, tx, cred.OwnerUserID.Int64, -Reward(rt, cred.ModelTier)); err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"credential": credID,
				"owner":      cred.OwnerUserID.Int64,
			}).Warn("credential auth failure: disabled and donation bonus reclaimed")
		}
		return nil
	})
}
