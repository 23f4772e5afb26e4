package manage

import (
	"archive/zip"
	"bytes"
	goerrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	apierrors "gempool-go/internal/errors"
	"gempool-go/internal/middleware"
	"gempool-go/internal/store"
)

// ListCredentials handles GET /api/manage/credentials.
func (h *Handler) ListCredentials(c *gin.Context) {
	user := middleware.UserFrom(c)
	creds, err := h.st.ListCredentialsByOwner(c.Request.Context(), user.ID)
	if err != nil {
		h.internalError(c, "list credentials", err)
		return
	}
	out := make([]gin.H, 0, len(creds))
	for _, cred := range creds {
		out = append(out, credView(cred))
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

// SetDonation handles POST /api/manage/credentials/:id/donate.
func (h *Handler) SetDonation(c *gin.Context) {
	user := middleware.UserFrom(c)
	id, ok := credentialID(c)
	if !ok {
		return
	}
	var body struct {
		Public bool `json:"public"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.AbortWithError(c, apierrors.BadRequest("public flag is required"))
		return
	}

	if err := h.pool.SetDonated(c.Request.Context(), user.ID, id, body.Public, user.IsAdmin); err != nil {
		h.abortPoolError(c, "set donation", err)
		return
	}
	h.notifyCredentialChange(id)
	c.JSON(http.StatusOK, gin.H{"id": id, "public": body.Public})
}

// SetTier handles PUT /api/manage/credentials/:id/tier, the manual override
// for when verification misgrades an account.
func (h *Handler) SetTier(c *gin.Context) {
	user := middleware.UserFrom(c)
	id, ok := credentialID(c)
	if !ok {
		return
	}
	var body struct {
		Tier string `json:"tier"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Tier == "" {
		middleware.AbortWithError(c, apierrors.BadRequest("tier is required"))
		return
	}

	if err := h.pool.SetTier(c.Request.Context(), user.ID, id, body.Tier, user.IsAdmin); err != nil {
		h.abortPoolError(c, "set tier", err)
		return
	}
	h.notifyCredentialChange(id)
	c.JSON(http.StatusOK, gin.H{"id": id, "model_tier": body.Tier})
}

// VerifyCredential handles POST /api/manage/credentials/:id/verify.
func (h *Handler) VerifyCredential(c *gin.Context) {
	user := middleware.UserFrom(c)
	id, ok := credentialID(c)
	if !ok {
		return
	}
	if !h.ownsCredential(c, user, id) {
		return
	}

	result, err := h.pool.Verify(c.Request.Context(), id)
	if err != nil {
		h.abortPoolError(c, "verify credential", err)
		return
	}
	h.notifyCredentialChange(id)
	c.JSON(http.StatusOK, result)
}

// VerifyAllCredentials handles POST /api/manage/credentials/verify-all,
// probing each of the caller's credentials in turn.
func (h *Handler) VerifyAllCredentials(c *gin.Context) {
	user := middleware.UserFrom(c)
	creds, err := h.st.ListCredentialsByOwner(c.Request.Context(), user.ID)
	if err != nil {
		h.internalError(c, "list credentials", err)
		return
	}

	results := make(map[string]interface{}, len(creds))
	for _, cred := range creds {
		result, err := h.pool.Verify(c.Request.Context(), cred.ID)
		if err != nil {
			results[strconv.FormatInt(cred.ID, 10)] = gin.H{"valid": false, "error": err.Error()}
			continue
		}
		results[strconv.FormatInt(cred.ID, 10)] = result
	}
	h.notifyCredentialChange(0)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// BatchCredentials handles POST /api/manage/credentials/batch with
// action ∈ {enable, disable, delete}.
func (h *Handler) BatchCredentials(c *gin.Context) {
	user := middleware.UserFrom(c)
	var body struct {
		Action string  `json:"action"`
		IDs    []int64 `json:"ids"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || len(body.IDs) == 0 {
		middleware.AbortWithError(c, apierrors.BadRequest("action and ids are required"))
		return
	}

	var failed []int64
	for _, id := range body.IDs {
		var err error
		switch body.Action {
		case "enable":
			err = h.pool.SetActive(c.Request.Context(), user.ID, id, true, user.IsAdmin)
		case "disable":
			err = h.pool.SetActive(c.Request.Context(), user.ID, id, false, user.IsAdmin)
		case "delete":
			err = h.pool.Delete(c.Request.Context(), user.ID, id, user.IsAdmin)
		default:
			middleware.AbortWithError(c, apierrors.BadRequest("unknown action "+body.Action))
			return
		}
		if err != nil {
			log.WithError(err).Warnf("batch %s credential %d", body.Action, id)
			failed = append(failed, id)
		}
	}
	h.notifyCredentialChange(0)
	c.JSON(http.StatusOK, gin.H{
		"action":    body.Action,
		"processed": len(body.IDs) - len(failed),
		"failed":    failed,
	})
}

// DeleteCredential handles DELETE /api/manage/credentials/:id.
func (h *Handler) DeleteCredential(c *gin.Context) {
	user := middleware.UserFrom(c)
	id, ok := credentialID(c)
	if !ok {
		return
	}
	if err := h.pool.Delete(c.Request.Context(), user.ID, id, user.IsAdmin); err != nil {
		h.abortPoolError(c, "delete credential", err)
		return
	}
	h.notifyCredentialChange(id)
	c.Status(http.StatusNoContent)
}

// DeleteInactiveCredentials handles POST /api/manage/credentials/delete-inactive.
func (h *Handler) DeleteInactiveCredentials(c *gin.Context) {
	user := middleware.UserFrom(c)
	creds, err := h.st.ListInactiveCredentialsByOwner(c.Request.Context(), user.ID)
	if err != nil {
		h.internalError(c, "list inactive credentials", err)
		return
	}

	deleted := 0
	for _, cred := range creds {
		if err := h.pool.Delete(c.Request.Context(), user.ID, cred.ID, user.IsAdmin); err != nil {
			log.WithError(err).Warnf("delete inactive credential %d", cred.ID)
			continue
		}
		deleted++
	}
	h.notifyCredentialChange(0)
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// ExportCredential handles GET /api/manage/credentials/:id/export, emitting
// the original upload shape with the effective OAuth client pair.
func (h *Handler) ExportCredential(c *gin.Context) {
	user := middleware.UserFrom(c)
	id, ok := credentialID(c)
	if !ok {
		return
	}
	cred, err := h.st.GetCredential(c.Request.Context(), id)
	if goerrors.Is(err, store.ErrNotFound) {
		middleware.AbortWithError(c, apierrors.New(http.StatusNotFound, "not_found", "invalid_request_error", "credential not found"))
		return
	}
	if err != nil {
		h.internalError(c, "load credential", err)
		return
	}
	if !user.IsAdmin && (!cred.OwnerUserID.Valid || cred.OwnerUserID.Int64 != user.ID) {
		middleware.AbortWithError(c, apierrors.Forbidden("credential belongs to another user"))
		return
	}

	out, err := h.exportJSON(cred)
	if err != nil {
		h.internalError(c, "export credential", err)
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

// ExportAllCredentials handles GET /api/manage/credentials/export as a ZIP.
func (h *Handler) ExportAllCredentials(c *gin.Context) {
	user := middleware.UserFrom(c)
	creds, err := h.st.ListCredentialsByOwner(c.Request.Context(), user.ID)
	if err != nil {
		h.internalError(c, "list credentials", err)
		return
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, cred := range creds {
		out, err := h.exportJSON(cred)
		if err != nil {
			log.WithError(err).Warnf("export credential %d", cred.ID)
			continue
		}
		name := cred.Email
		if name == "" {
			name = "credential-" + strconv.FormatInt(cred.ID, 10)
		}
		w, err := zw.Create(name + ".json")
		if err != nil {
			h.internalError(c, "build export archive", err)
			return
		}
		if _, err := w.Write(out); err != nil {
			h.internalError(c, "build export archive", err)
			return
		}
	}
	if err := zw.Close(); err != nil {
		h.internalError(c, "build export archive", err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="credentials.zip"`)
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

func credentialID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.AbortWithError(c, apierrors.BadRequest("invalid credential id"))
		return 0, false
	}
	return id, true
}

func (h *Handler) ownsCredential(c *gin.Context, user *store.User, id int64) bool {
	cred, err := h.st.GetCredential(c.Request.Context(), id)
	if goerrors.Is(err, store.ErrNotFound) {
		middleware.AbortWithError(c, apierrors.New(http.StatusNotFound, "not_found", "invalid_request_error", "credential not found"))
		return false
	}
	if err != nil {
		h.internalError(c, "load credential", err)
		return false
	}
	if !user.IsAdmin && (!cred.OwnerUserID.Valid || cred.OwnerUserID.Int64 != user.ID) {
		middleware.AbortWithError(c, apierrors.Forbidden("credential belongs to another user"))
		return false
	}
	return true
}

func (h *Handler) abortPoolError(c *gin.Context, op string, err error) {
	var apiErr *apierrors.APIError
	if goerrors.As(err, &apiErr) {
		middleware.AbortWithError(c, apiErr)
		return
	}
	if goerrors.Is(err, store.ErrNotFound) {
		middleware.AbortWithError(c, apierrors.New(http.StatusNotFound, "not_found", "invalid_request_error", "credential not found"))
		return
	}
	h.internalError(c, op, err)
}
