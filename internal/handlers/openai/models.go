package openai

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"gempool-go/internal/middleware"
	"gempool-go/internal/models"
)

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ListModels handles GET /v1/models and /models. Tier-3 models are only
// advertised to users with an active tier-3 credential of their own.
func (h *Handler) ListModels(c *gin.Context) {
	catalog := models.CatalogFor(h.includeTier3(c))
	created := time.Now().Unix()
	entries := make([]modelEntry, 0, len(catalog))
	for _, name := range catalog {
		entries = append(entries, modelEntry{
			ID:      name,
			Object:  "model",
			Created: created,
			OwnedBy: "google",
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": entries})
}

// includeTier3 fails open: a lookup error must not empty the listing.
func (h *Handler) includeTier3(c *gin.Context) bool {
	user := middleware.UserFrom(c)
	if h.tiers == nil || user == nil {
		return true
	}
	ok, err := h.tiers.UserHasActiveTier3Credential(c.Request.Context(), user.ID)
	if err != nil {
		log.WithError(err).Warn("tier-3 credential lookup failed")
		return true
	}
	return ok
}
