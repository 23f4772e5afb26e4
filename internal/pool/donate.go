package pool

import (
	"context"
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"

	"gempool-go/internal/config"
	"gempool-go/internal/errors"
	"gempool-go/internal/store"
)

// Reward is the bonus-quota credit for donating one credential of the given
// tier. Tier-3 donations earn the 3.0 budget on top of the 2.5 one.
func Reward(rt config.Runtime, tier string) int {
	r := rt.QuotaFlash + rt.Quota25Pro
	if tier == store.Tier3 {
		r += rt.Quota30Pro
	}
	return r
}

// SetDonated flips a credential's public flag, crediting or debiting the
// owner's bonus quota. The transition is idempotent: setting the current
// state is a no-op. asAdmin bypasses the lock_donate gate.
func (p *Pool) SetDonated(ctx context.Context, userID, credID int64, public, asAdmin bool) error {
	rt := p.reg.Snapshot()

	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		cred, err := store.GetCredentialForUpdateTx(ctx, tx, credID)
		if err != nil {
			return err
		}
		if !asAdmin && (!cred.OwnerUserID.Valid || cred.OwnerUserID.Int64 != userID) {
			return errors.Forbidden("credential belongs to another user")
		}
		if cred.IsPublic == public {
			return nil
		}
		if !public && rt.LockDonate && cred.IsActive && !asAdmin {
			return errors.Forbidden("donations are locked: active credentials cannot be withdrawn")
		}

		if err := store.SetCredentialPublicTx(ctx, tx, credID, public); err != nil {
			return err
		}
		// Bonus only moves for active credentials; a dead credential earned
		// nothing and owes nothing.
		if cred.IsActive && cred.OwnerUserID.Valid {
			delta := Reward(rt, cred.ModelTier)
			if !public {
				delta = -delta
			}
			if err := store.AddBonusQuotaTx(ctx, tx, cred.OwnerUserID.Int64, delta); err != nil {
				return err
			}
		}
		log.WithFields(log.Fields{
			"credential": credID,
			"public":     public,
		}).Info("credential donation state changed")
		return nil
	})
}

// SetActive enables or disables a credential, keeping the owner's donation
// bonus in step: disabling an active public credential claws the reward back,
// re-enabling restores it.
func (p *Pool) SetActive(ctx context.Context, userID, credID int64, active, asAdmin bool) error {
	rt := p.reg.Snapshot()

	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		cred, err := store.GetCredentialForUpdateTx(ctx, tx, credID)
		if err != nil {
			return err
		}
		if !asAdmin && (!cred.OwnerUserID.Valid || cred.OwnerUserID.Int64 != userID) {
			return errors.Forbidden("credential belongs to another user")
		}
		if cred.IsActive == active {
			return nil
		}
		if err := store.SetCredentialActiveTx(ctx, tx, credID, active); err != nil {
			return err
		}
		if cred.IsPublic && cred.OwnerUserID.Valid {
			delta := Reward(rt, cred.ModelTier)
			if !active {
				delta = -delta
			}
			if err := store.AddBonusQuotaTx(ctx, tx, cred.OwnerUserID.Int64, delta); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a credential, reversing the donation bonus when it was an
// active public one.
func (p *Pool) Delete(ctx context.Context, userID, credID int64, asAdmin bool) error {
	rt := p.reg.Snapshot()

	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		cred, err := store.GetCredentialForUpdateTx(ctx, tx, credID)
		if err != nil {
			return err
		}
		if !asAdmin && (!cred.OwnerUserID.Valid || cred.OwnerUserID.Int64 != userID) {
			return errors.Forbidden("credential belongs to another user")
		}
		if cred.IsPublic && cred.IsActive && cred.OwnerUserID.Valid {
			if err := store.AddBonusQuotaTx(ctx, tx, cred.OwnerUserID.Int64, -Reward(rt, cred.ModelTier)); err != nil {
				return err
			}
		}
		return store.DeleteCredentialTx(ctx, tx, credID)
	})
}

// SetTier is the manual tier override. The donation bonus is regraded so a
// donated 2.5 credential promoted to tier 3 earns the difference.
func (p *Pool) SetTier(ctx context.Context, userID, credID int64, tier string, asAdmin bool) error {
	if tier != store.Tier25 && tier != store.Tier3 {
		return errors.BadRequest("tier must be " + store.Tier25 + " or " + store.Tier3)
	}
	rt := p.reg.Snapshot()

	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		cred, err := store.GetCredentialForUpdateTx(ctx, tx, credID)
		if err != nil {
			return err
		}
		if !asAdmin && (!cred.OwnerUserID.Valid || cred.OwnerUserID.Int64 != userID) {
			return errors.Forbidden("credential belongs to another user")
		}
		if cred.ModelTier == tier {
			return nil
		}
		if err := gradeTierChange(ctx, tx, rt, cred, tier); err != nil {
			return err
		}
		return store.SetCredentialTierTx(ctx, tx, credID, tier)
	})
}

// gradeTierChange moves the bonus delta when an active public credential is
// re-tiered by verification (a 2.5 donation that turns out to be tier 3 earns
// the difference).
func gradeTierChange(ctx context.Context, tx *sql.Tx, rt config.Runtime, cred *store.Credential, newTier string) error {
	if !cred.IsPublic || !cred.IsActive || !cred.OwnerUserID.Valid || cred.ModelTier == newTier {
		return nil
	}
	delta := Reward(rt, newTier) - Reward(rt, cred.ModelTier)
	if delta == 0 {
		return nil
	}
	if err := store.AddBonusQuotaTx(ctx, tx, cred.OwnerUserID.Int64, delta); err != nil {
		return fmt.Errorf("regrade donation bonus: %w", err)
	}
	return nil
}
