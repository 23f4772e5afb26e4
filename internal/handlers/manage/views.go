package manage

import (
	"database/sql"
	"encoding/json"

	"github.com/gin-gonic/gin"

	"gempool-go/internal/events"
	"gempool-go/internal/store"
)

func nullTime(t sql.NullTime) interface{} {
	if !t.Valid {
		return nil
	}
	return t.Time
}

// credView omits ciphertext columns; secrets only leave through export.
func credView(c *store.Credential) gin.H {
	return gin.H{
		"id":              c.ID,
		"display_name":    c.DisplayName,
		"email":           c.Email,
		"project_id":      c.ProjectID,
		"credential_type": c.CredentialType,
		"model_tier":      c.ModelTier,
		"account_type":    c.AccountType,
		"is_public":       c.IsPublic,
		"is_active":       c.IsActive,
		"total_requests":  c.TotalRequests,
		"failed_requests": c.FailedRequests,
		"last_error":      c.LastError,
		"last_used_at":    nullTime(c.LastUsedAt),
		"created_at":      c.CreatedAt,
	}
}

// exportJSON reconstructs the authorized_user document a credential was
// uploaded as. A stored client pair wins over the server-wide one.
func (h *Handler) exportJSON(cred *store.Credential) ([]byte, error) {
	if cred.CredentialType == store.CredentialTypeAPIKey {
		key, err := h.vault.Decrypt(cred.AccessTokenCT)
		if err != nil {
			return nil, err
		}
		doc := map[string]interface{}{"api_key": key}
		if cred.ProjectID != "" {
			doc["project_id"] = cred.ProjectID
		}
		if cred.Email != "" {
			doc["email"] = cred.Email
		}
		return json.MarshalIndent(doc, "", "  ")
	}

	refresh, err := h.vault.Decrypt(cred.RefreshTokenCT)
	if err != nil {
		return nil, err
	}

	clientID, clientSecret := h.google.ClientID, h.google.ClientSecret
	if cred.OAuthClientIDCT != "" && cred.OAuthClientSecretCT != "" {
		if clientID, err = h.vault.Decrypt(cred.OAuthClientIDCT); err != nil {
			return nil, err
		}
		if clientSecret, err = h.vault.Decrypt(cred.OAuthClientSecretCT); err != nil {
			return nil, err
		}
	}

	doc := map[string]interface{}{
		"type":          "authorized_user",
		"client_id":     clientID,
		"client_secret": clientSecret,
		"refresh_token": refresh,
	}
	if cred.AccessTokenCT != "" {
		token, err := h.vault.Decrypt(cred.AccessTokenCT)
		if err != nil {
			return nil, err
		}
		doc["token"] = token
	}
	if cred.ProjectID != "" {
		doc["project_id"] = cred.ProjectID
	}
	if cred.Email != "" {
		doc["email"] = cred.Email
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (h *Handler) notifyCredentialChange(id int64) {
	if h.hub == nil {
		return
	}
	payload := gin.H{}
	if id > 0 {
		payload["id"] = id
	}
	h.hub.Publish(events.EventCredential, payload)
}
