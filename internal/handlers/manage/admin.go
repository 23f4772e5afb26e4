package manage

import (
	goerrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gempool-go/internal/config"
	apierrors "gempool-go/internal/errors"
	"gempool-go/internal/events"
	"gempool-go/internal/middleware"
	"gempool-go/internal/quota"
	"gempool-go/internal/store"
)

// Me handles GET /api/manage/me, returning the profile with today's usage
// counted from the 07:00 UTC rollover.
func (h *Handler) Me(c *gin.Context) {
	user := middleware.UserFrom(c)
	used, err := h.st.CountSuccessSince(c.Request.Context(), user.ID, quota.StartOfDay(time.Now()))
	if err != nil {
		h.internalError(c, "count usage", err)
		return
	}
	view := userView(user)
	view["used_today"] = used
	view["daily_quota"] = user.BaseQuota + user.BonusQuota
	c.JSON(http.StatusOK, view)
}

// Announcement handles GET /api/manage/announcement.
func (h *Handler) Announcement(c *gin.Context) {
	rt := h.reg.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"enabled":      rt.AnnouncementEnabled,
		"title":        rt.AnnouncementTitle,
		"content":      rt.AnnouncementContent,
		"read_seconds": rt.AnnouncementReadSeconds,
	})
}

// GetConfig handles GET /api/manage/admin/config.
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"config": config.Values(h.reg.Snapshot())})
}

// UpdateConfig handles PUT /api/manage/admin/config. Changes persist as
// overrides and take effect immediately.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Key == "" {
		middleware.AbortWithError(c, apierrors.BadRequest("key and value are required"))
		return
	}
	if err := h.reg.Update(c.Request.Context(), body.Key, body.Value); err != nil {
		middleware.AbortWithError(c, apierrors.BadRequest(err.Error()))
		return
	}
	if h.hub != nil {
		h.hub.Publish(events.EventConfig, gin.H{"key": body.Key})
	}
	c.JSON(http.StatusOK, gin.H{"config": config.Values(h.reg.Snapshot())})
}

// ResetConfig handles DELETE /api/manage/admin/config/:key, dropping the
// override so the file value applies again.
func (h *Handler) ResetConfig(c *gin.Context) {
	key := c.Param("key")
	if err := h.reg.Reset(c.Request.Context(), key); err != nil {
		middleware.AbortWithError(c, apierrors.BadRequest(err.Error()))
		return
	}
	if h.hub != nil {
		h.hub.Publish(events.EventConfig, gin.H{"key": key})
	}
	c.JSON(http.StatusOK, gin.H{"config": config.Values(h.reg.Snapshot())})
}

// ListUsers handles GET /api/manage/admin/users.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.st.ListUsers(c.Request.Context())
	if err != nil {
		h.internalError(c, "list users", err)
		return
	}
	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		out = append(out, userView(u))
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// SetUserActive handles PUT /api/manage/admin/users/:id/active.
func (h *Handler) SetUserActive(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	var body struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.AbortWithError(c, apierrors.BadRequest("active flag is required"))
		return
	}
	if actor := middleware.UserFrom(c); actor != nil && actor.ID == id && !body.Active {
		middleware.AbortWithError(c, apierrors.BadRequest("cannot disable your own account"))
		return
	}
	if err := h.st.SetUserActive(c.Request.Context(), id, body.Active); err != nil {
		h.abortUserError(c, "set user active", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_active": body.Active})
}

// SetUserQuota handles PUT /api/manage/admin/users/:id/quota, adjusting the
// base quota only; the bonus part is owned by donation accounting.
func (h *Handler) SetUserQuota(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	var body struct {
		BaseQuota int `json:"base_quota"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.BaseQuota < 0 {
		middleware.AbortWithError(c, apierrors.BadRequest("base_quota must be >= 0"))
		return
	}
	if err := h.st.SetUserBaseQuota(c.Request.Context(), id, body.BaseQuota); err != nil {
		h.abortUserError(c, "set user quota", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "base_quota": body.BaseQuota})
}

// Stats handles GET /api/manage/admin/stats. ?days bounds the daily series,
// default 7, max 90.
func (h *Handler) Stats(c *gin.Context) {
	days := 7
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 90 {
			middleware.AbortWithError(c, apierrors.BadRequest("days must be between 1 and 90"))
			return
		}
		days = n
	}
	since := quota.StartOfDay(time.Now())
	ctx := c.Request.Context()

	totals, err := h.st.UsageTotals(ctx, since)
	if err != nil {
		h.internalError(c, "usage totals", err)
		return
	}
	byModel, err := h.st.UsageByModel(ctx, since)
	if err != nil {
		h.internalError(c, "usage by model", err)
		return
	}
	byUser, err := h.st.UsageByUser(ctx, since)
	if err != nil {
		h.internalError(c, "usage by user", err)
		return
	}
	series, err := h.st.UsageDailySeries(ctx, days)
	if err != nil {
		h.internalError(c, "usage series", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"today":    totals,
		"by_model": byModel,
		"by_user":  byUser,
		"daily":    series,
	})
}

// ListAllCredentials handles GET /api/manage/admin/credentials, the pool-wide
// view across owners.
func (h *Handler) ListAllCredentials(c *gin.Context) {
	creds, err := h.st.ListAllCredentials(c.Request.Context())
	if err != nil {
		h.internalError(c, "list all credentials", err)
		return
	}
	out := make([]gin.H, 0, len(creds))
	for _, cred := range creds {
		view := credView(cred)
		if cred.OwnerUserID.Valid {
			view["owner_user_id"] = cred.OwnerUserID.Int64
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.AbortWithError(c, apierrors.BadRequest("invalid user id"))
		return 0, false
	}
	return id, true
}

func (h *Handler) abortUserError(c *gin.Context, op string, err error) {
	if goerrors.Is(err, store.ErrNotFound) {
		middleware.AbortWithError(c, apierrors.New(http.StatusNotFound, "not_found", "invalid_request_error", "user not found"))
		return
	}
	h.internalError(c, op, err)
}
