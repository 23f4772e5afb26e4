package manage

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	apierrors "gempool-go/internal/errors"
	"gempool-go/internal/middleware"
	"gempool-go/internal/store"
	"gempool-go/internal/vault"
)

const (
	maxUploadBytes   = 16 << 20
	maxZipEntryBytes = 1 << 20
)

// uploadCredential is the accepted upload shape; unknown keys are ignored.
// An api_key field without a refresh_token stores a plain API-key credential.
type uploadCredential struct {
	RefreshToken string `json:"refresh_token"`
	Token        string `json:"token"`
	APIKey       string `json:"api_key"`
	ProjectID    string `json:"project_id"`
	Email        string `json:"email"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type uploadResult struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// UploadCredentials handles POST /api/manage/credentials. The body is either
// a single credential JSON, or a multipart form whose file is a credential
// JSON or a ZIP of them. Duplicates (by refresh-token fingerprint or email)
// are skipped, not errors.
func (h *Handler) UploadCredentials(c *gin.Context) {
	user := middleware.UserFrom(c)
	rt := h.reg.Snapshot()

	var donate bool
	switch {
	case rt.ForceDonate:
		donate = true
	case c.Query("donate") == "true":
		donate = true
	}

	var res uploadResult
	contentType := c.ContentType()

	if strings.HasPrefix(contentType, "multipart/") {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			middleware.AbortWithError(c, apierrors.BadRequest("multipart upload requires a file field"))
			return
		}
		defer file.Close()

		raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			middleware.AbortWithError(c, apierrors.BadRequest("failed to read upload"))
			return
		}
		if strings.EqualFold(path.Ext(header.Filename), ".zip") {
			h.ingestZip(c.Request.Context(), user.ID, raw, donate, &res)
		} else {
			h.ingestJSON(c.Request.Context(), user.ID, header.Filename, raw, donate, &res)
		}
	} else {
		raw, err := c.GetRawData()
		if err != nil {
			middleware.AbortWithError(c, apierrors.BadRequest("failed to read request body"))
			return
		}
		h.ingestJSON(c.Request.Context(), user.ID, "", raw, donate, &res)
	}

	status := http.StatusOK
	if res.Added > 0 {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

func (h *Handler) ingestZip(ctx context.Context, userID int64, raw []byte, donate bool, res *uploadResult) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		res.Errors = append(res.Errors, "invalid zip archive")
		return
	}
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || !strings.EqualFold(path.Ext(entry.Name), ".json") {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", entry.Name, err))
			continue
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxZipEntryBytes))
		rc.Close()
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", entry.Name, err))
			continue
		}
		h.ingestJSON(ctx, userID, entry.Name, content, donate, res)
	}
}

func (h *Handler) ingestJSON(ctx context.Context, userID int64, name string, raw []byte, donate bool, res *uploadResult) {
	var uc uploadCredential
	if err := json.Unmarshal(raw, &uc); err != nil {
		res.Errors = append(res.Errors, entryError(name, "not valid JSON"))
		return
	}
	if strings.TrimSpace(uc.RefreshToken) == "" && strings.TrimSpace(uc.APIKey) == "" {
		res.Errors = append(res.Errors, entryError(name, "refresh_token or api_key is required"))
		return
	}

	added, err := h.insertCredential(ctx, userID, name, &uc, donate)
	if err != nil {
		log.WithError(err).Warn("credential upload failed")
		res.Errors = append(res.Errors, entryError(name, err.Error()))
		return
	}
	if added {
		res.Added++
	} else {
		res.Skipped++
	}
}

func entryError(name, msg string) string {
	if name == "" {
		return msg
	}
	return name + ": " + msg
}

// insertCredential encrypts and stores one upload; returns false when skipped
// as a duplicate. The dedup fingerprint hashes whichever secret the upload
// carries (refresh token for oauth, the key itself for api_key).
func (h *Handler) insertCredential(ctx context.Context, userID int64, name string, uc *uploadCredential, donate bool) (bool, error) {
	secret := uc.RefreshToken
	credType := store.CredentialTypeOAuth
	if secret == "" {
		secret = uc.APIKey
		credType = store.CredentialTypeAPIKey
	}
	sha := vault.Fingerprint(secret)

	exists, err := h.st.CredentialExists(ctx, sha, uc.Email)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	cred := &store.Credential{
		OwnerUserID:     sql.NullInt64{Int64: userID, Valid: true},
		DisplayName:     displayName(name, uc.Email),
		Email:           uc.Email,
		ProjectID:       uc.ProjectID,
		CredentialType:  credType,
		RefreshTokenSHA: sha,
		ModelTier:       store.Tier25,
		AccountType:     store.AccountTypeUnknown,
		IsActive:        true,
	}
	if credType == store.CredentialTypeAPIKey {
		if cred.AccessTokenCT, err = h.vault.Encrypt(uc.APIKey); err != nil {
			return false, err
		}
	} else {
		if cred.RefreshTokenCT, err = h.vault.Encrypt(uc.RefreshToken); err != nil {
			return false, err
		}
		if uc.Token != "" {
			if cred.AccessTokenCT, err = h.vault.Encrypt(uc.Token); err != nil {
				return false, err
			}
		}
		if uc.ClientID != "" && uc.ClientSecret != "" {
			if cred.OAuthClientIDCT, err = h.vault.Encrypt(uc.ClientID); err != nil {
				return false, err
			}
			if cred.OAuthClientSecretCT, err = h.vault.Encrypt(uc.ClientSecret); err != nil {
				return false, err
			}
		}
	}

	inserted, err := h.st.InsertCredential(ctx, cred)
	if err != nil {
		return false, err
	}

	// Donation goes through the pool so the bonus accounting stays in one
	// place.
	if donate {
		if err := h.pool.SetDonated(ctx, userID, inserted.ID, true, false); err != nil {
			log.WithError(err).Warnf("donate uploaded credential %d", inserted.ID)
		}
	}
	return true, nil
}

func displayName(filename, email string) string {
	if email != "" {
		return email
	}
	if filename != "" {
		return strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	}
	return "uploaded credential"
}
