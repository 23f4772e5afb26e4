// Package middleware holds the gin middleware chain: API-key authentication,
// burst rate limiting, CORS, panic recovery, request ids, and access logging.
package middleware

import (
	goerrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	apierrors "gempool-go/internal/errors"
	"gempool-go/internal/store"
)

// Context keys set by the auth middleware.
const (
	CtxUser     = "auth_user"
	CtxAPIKeyID = "auth_api_key_id"
)

// ExtractAPIKey pulls the key from Authorization: Bearer, x-api-key,
// x-goog-api-key, or the key query parameter, in that order.
func ExtractAPIKey(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if v := strings.TrimSpace(c.GetHeader("x-api-key")); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.GetHeader("x-goog-api-key")); v != "" {
		return v
	}
	return strings.TrimSpace(c.Query("key"))
}

// APIKeyAuth resolves the caller's API key to a user. Missing or unknown keys
// get 401, disabled accounts 403. On success the user and key id land in the
// gin context and the key's last-used stamp is refreshed.
func APIKeyAuth(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := ExtractAPIKey(c)
		if secret == "" {
			abortWithError(c, apierrors.Unauthenticated("API key not provided"))
			return
		}

		user, key, err := st.ResolveAPIKey(c.Request.Context(), secret)
		if goerrors.Is(err, store.ErrNotFound) {
			abortWithError(c, apierrors.Unauthenticated("Invalid API key"))
			return
		}
		if err != nil {
			log.Errorf("resolve api key: %v", err)
			abortWithError(c, apierrors.New(http.StatusInternalServerError, "internal_error", "server_error", "Internal server error"))
			return
		}
		if !user.IsActive {
			abortWithError(c, apierrors.Forbidden("Account disabled"))
			return
		}

		if err := st.TouchAPIKey(c.Request.Context(), key.ID); err != nil {
			log.Warnf("touch api key %d: %v", key.ID, err)
		}

		c.Set(CtxUser, user)
		c.Set(CtxAPIKeyID, key.ID)
		c.Next()
	}
}

// UserFrom returns the authenticated user, or nil outside the auth chain.
func UserFrom(c *gin.Context) *store.User {
	if v, ok := c.Get(CtxUser); ok {
		if u, ok := v.(*store.User); ok {
			return u
		}
	}
	return nil
}

// APIKeyIDFrom returns the authenticated key id, or 0.
func APIKeyIDFrom(c *gin.Context) int64 {
	if v, ok := c.Get(CtxAPIKeyID); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// responseFormat picks the error wire shape by path: Gemini-style for
// /v1beta, OpenAI-style everywhere else.
func responseFormat(path string) apierrors.ErrorFormat {
	if strings.HasPrefix(path, "/v1beta") {
		return apierrors.FormatGemini
	}
	return apierrors.FormatOpenAI
}

func abortWithError(c *gin.Context, apiErr *apierrors.APIError) {
	payload, err := apiErr.ToJSON(responseFormat(c.Request.URL.Path))
	if err != nil {
		c.AbortWithStatusJSON(apiErr.HTTPStatus, gin.H{"error": gin.H{"message": apiErr.Message}})
		return
	}
	c.Data(apiErr.HTTPStatus, "application/json", payload)
	c.Abort()
}

// AbortWithError renders an APIError in the format matching the request path.
// Handlers share this so errors look the same everywhere.
func AbortWithError(c *gin.Context, apiErr *apierrors.APIError) {
	abortWithError(c, apiErr)
}
