package manage

import (
	"crypto/rand"
	"encoding/hex"
	goerrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apierrors "gempool-go/internal/errors"
	"gempool-go/internal/middleware"
	"gempool-go/internal/store"
)

const maxAPIKeys = 5

// newKeySecret mints an sk-gp- key with 48 hex chars of entropy.
func newKeySecret() string {
	var b [24]byte
	_, _ = rand.Read(b[:])
	return "sk-gp-" + hex.EncodeToString(b[:])
}

func keyView(k *store.APIKey) gin.H {
	return gin.H{
		"id":           k.ID,
		"name":         k.Name,
		"secret":       k.Secret,
		"is_active":    k.IsActive,
		"created_at":   k.CreatedAt,
		"last_used_at": nullTime(k.LastUsedAt),
	}
}

// ListKeys handles GET /api/manage/keys.
func (h *Handler) ListKeys(c *gin.Context) {
	user := middleware.UserFrom(c)
	keys, err := h.st.ListAPIKeys(c.Request.Context(), user.ID)
	if err != nil {
		h.internalError(c, "list api keys", err)
		return
	}
	out := make([]gin.H, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyView(k))
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

// CreateKey handles POST /api/manage/keys.
func (h *Handler) CreateKey(c *gin.Context) {
	user := middleware.UserFrom(c)

	n, err := h.st.CountAPIKeys(c.Request.Context(), user.ID)
	if err != nil {
		h.internalError(c, "count api keys", err)
		return
	}
	if n >= maxAPIKeys {
		middleware.AbortWithError(c, apierrors.BadRequest("api key limit reached (5)"))
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	_ = c.ShouldBindJSON(&body)
	name := strings.TrimSpace(body.Name)
	if name == "" {
		name = "default"
	}

	key, err := h.st.CreateAPIKey(c.Request.Context(), user.ID, newKeySecret(), name)
	if err != nil {
		h.internalError(c, "create api key", err)
		return
	}
	c.JSON(http.StatusCreated, keyView(key))
}

// DeleteKey handles DELETE /api/manage/keys/:id.
func (h *Handler) DeleteKey(c *gin.Context) {
	user := middleware.UserFrom(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		middleware.AbortWithError(c, apierrors.BadRequest("invalid key id"))
		return
	}

	err = h.st.DeleteAPIKey(c.Request.Context(), user.ID, id)
	if goerrors.Is(err, store.ErrNotFound) {
		middleware.AbortWithError(c, apierrors.New(http.StatusNotFound, "not_found", "invalid_request_error", "api key not found"))
		return
	}
	if err != nil {
		h.internalError(c, "delete api key", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RotateKey handles POST /api/manage/keys/:id/rotate, swapping the secret in
// place so dependent configs only change one value.
func (h *Handler) RotateKey(c *gin.Context) {
	user := middleware.UserFrom(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		middleware.AbortWithError(c, apierrors.BadRequest("invalid key id"))
		return
	}

	secret := newKeySecret()
	err = h.st.RotateAPIKey(c.Request.Context(), user.ID, id, secret)
	if goerrors.Is(err, store.ErrNotFound) {
		middleware.AbortWithError(c, apierrors.New(http.StatusNotFound, "not_found", "invalid_request_error", "api key not found"))
		return
	}
	if err != nil {
		h.internalError(c, "rotate api key", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "secret": secret})
}
