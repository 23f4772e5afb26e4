// Package gemini serves the Gemini-native surface under /v1beta: the model
// list plus generateContent, streamGenerateContent, and countTokens on
// model-action paths.
package gemini

import (
	"context"
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"gempool-go/internal/dispatch"
	apierrors "gempool-go/internal/errors"
	"gempool-go/internal/middleware"
	"gempool-go/internal/models"
)

// TierSource answers whether a user owns an active tier-3 credential.
// Satisfied by the store.
type TierSource interface {
	UserHasActiveTier3Credential(ctx context.Context, userID int64) (bool, error)
}

type Handler struct {
	disp  *dispatch.Dispatcher
	tiers TierSource
}

func New(disp *dispatch.Dispatcher, tiers TierSource) *Handler {
	return &Handler{disp: disp, tiers: tiers}
}

// splitModelAction parses the gin wildcard "/{model}:{action}" tail. The
// model name may itself contain slashes because of the stream-mode prefixes.
func splitModelAction(tail string) (model, action string, err error) {
	tail = strings.TrimPrefix(tail, "/")
	idx := strings.LastIndex(tail, ":")
	if idx <= 0 || idx == len(tail)-1 {
		return "", "", fmt.Errorf("expected model:action, got %q", tail)
	}
	return tail[:idx], tail[idx+1:], nil
}

func (h *Handler) abortDispatchError(c *gin.Context, err error) {
	var apiErr *apierrors.APIError
	if goerrors.As(err, &apiErr) {
		middleware.AbortWithError(c, apiErr)
		return
	}
	log.WithError(err).Error("gemini dispatch failed")
	middleware.AbortWithError(c, apierrors.UpstreamFatal("upstream request failed"))
}

func (h *Handler) parseVariant(c *gin.Context, name string) (models.Variant, bool) {
	variant := models.Parse(name)
	if !models.IsKnown(variant.Base) {
		middleware.AbortWithError(c, apierrors.BadRequest("unknown model "+name))
		return variant, false
	}
	return variant, true
}
