package gemini

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"gempool-go/internal/middleware"
	"gempool-go/internal/models"
)

type modelInfo struct {
	Name                       string   `json:"name"`
	Version                    string   `json:"version"`
	DisplayName                string   `json:"displayName"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	InputTokenLimit            int      `json:"inputTokenLimit"`
	OutputTokenLimit           int      `json:"outputTokenLimit"`
}

// ListModels handles GET /v1beta/models. Tier-3 models are only advertised
// to users with an active tier-3 credential of their own.
func (h *Handler) ListModels(c *gin.Context) {
	catalog := models.CatalogFor(h.includeTier3(c))
	out := make([]modelInfo, 0, len(catalog))
	for _, name := range catalog {
		out = append(out, modelInfo{
			Name:        "models/" + name,
			Version:     "001",
			DisplayName: name,
			SupportedGenerationMethods: []string{
				"generateContent", "streamGenerateContent", "countTokens",
			},
			InputTokenLimit:  1048576,
			OutputTokenLimit: 65536,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
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
