// Package openai serves the OpenAI-compatible surface: chat completions in
// all three stream modes, the combinatorial model listing, and the optional
// raw reverse proxy to the real OpenAI API.
package openai

import (
	"context"

	"gempool-go/internal/dispatch"
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
