package pool

import (
	"context"
	"database/sql"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"gempool-go/internal/models"
	"gempool-go/internal/oauth"
	"gempool-go/internal/store"
	upstream "gempool-go/internal/upstream/gemini"
)

// Workspace accounts report at least 2 TiB of Drive storage.
const proStorageBytes = int64(2) << 40

const probePayload = `{"contents":[{"role":"user","parts":[{"text":"hi"}]}],"generationConfig":{"maxOutputTokens":1}}`

// VerifyResult is the outcome of probing one credential.
type VerifyResult struct {
	Valid       bool    `json:"valid"`
	Tier        string  `json:"tier"`
	AccountType string  `json:"account_type"`
	StorageGB   float64 `json:"storage_gb,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Verify probes a credential against the live endpoint and persists the
// outcome: validity, tier, and account type. An invalid credential is
// deactivated with its donation bonus reclaimed.
func (p *Pool) Verify(ctx context.Context, credID int64) (*VerifyResult, error) {
	cred, err := p.store.GetCredential(ctx, credID)
	if err != nil {
		return nil, err
	}

	res := p.probeCredential(ctx, cred)

	err = p.store.WithTx(ctx, func(tx *sql.Tx) error {
		locked, err := store.GetCredentialForUpdateTx(ctx, tx, credID)
		if err != nil {
			return err
		}
		rt := p.reg.Snapshot()
		if res.Valid {
			if err := gradeTierChange(ctx, tx, rt, locked, res.Tier); err != nil {
				return err
			}
		} else if locked.IsActive && locked.IsPublic && locked.OwnerUserID.Valid {
			if err := store.AddBonusQuotaTx(ctx, tx, locked.OwnerUserID.Int64, -Reward(rt, locked.ModelTier)); err != nil {
				return err
			}
		}
		return store.UpdateVerificationTx(ctx, tx, credID, res.Tier, res.AccountType, res.Valid, res.Error)
	})
	if err != nil {
		return nil, fmt.Errorf("persist verification: %w", err)
	}

	log.WithFields(log.Fields{
		"credential": credID,
		"valid":      res.Valid,
		"tier":       res.Tier,
		"account":    res.AccountType,
	}).Info("credential verified")
	return res, nil
}

func (p *Pool) probeCredential(ctx context.Context, cred *store.Credential) *VerifyResult {
	res := &VerifyResult{Tier: cred.ModelTier, AccountType: cred.AccountType}
	if res.Tier == "" {
		res.Tier = store.Tier25
	}

	tok, err := p.Resolve(ctx, cred)
	if err != nil {
		if goerrors.Is(err, oauth.ErrInvalidGrant) {
			res.Error = "refresh token revoked (invalid_grant)"
		} else {
			res.Error = err.Error()
		}
		return res
	}
	call := upstream.Call{AccessToken: tok.AccessToken, ProjectID: cred.ProjectID}

	// Probe 1: is the credential usable at all. A 429 means the account is
	// alive but rate-limited, which still counts as valid.
	status, err := p.probe(ctx, call, "gemini-2.5-flash")
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if status != http.StatusOK && status != http.StatusTooManyRequests {
		res.Error = fmt.Sprintf("probe failed with status %d", status)
		return res
	}
	res.Valid = true

	// Probe 2: tier detection via the gemini-3 preview model.
	res.Tier = store.Tier25
	if status, err := p.probe(ctx, call, "gemini-3-pro-preview"); err == nil {
		if status == http.StatusOK || status == http.StatusTooManyRequests {
			res.Tier = store.Tier3
		}
	}

	res.AccountType, res.StorageGB = p.detectAccountType(ctx, call)
	return res
}

func (p *Pool) probe(ctx context.Context, call upstream.Call, model string) (int, error) {
	payload, err := upstream.BuildEnvelope(models.Variant{Base: model}, call.ProjectID, []byte(probePayload))
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Generate(ctx, call, payload)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode, nil
}

// detectAccountType prefers the Drive storage quota signal; when the token
// lacks Drive scope it falls back to three consecutive unary calls, where
// surviving all three without a per-minute 429 indicates a paid account.
func (p *Pool) detectAccountType(ctx context.Context, call upstream.Call) (string, float64) {
	limit, err := p.client.DriveStorageLimit(ctx, call.AccessToken)
	if err == nil {
		gb := float64(limit) / (1 << 30)
		if limit >= proStorageBytes {
			return store.AccountTypePro, gb
		}
		return store.AccountTypeFree, gb
	}
	if !upstream.IsDriveUnauthorized(err) {
		log.WithError(err).Debug("drive quota probe failed")
		return store.AccountTypeUnknown, 0
	}

	for i := 0; i < 3; i++ {
		status, err := p.probe(ctx, call, "gemini-2.5-flash")
		if err != nil {
			return store.AccountTypeUnknown, 0
		}
		if status == http.StatusTooManyRequests {
			return store.AccountTypeFree, 0
		}
		if status != http.StatusOK {
			return store.AccountTypeUnknown, 0
		}
	}
	return store.AccountTypePro, 0
}
