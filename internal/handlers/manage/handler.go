// Package manage is the account-facing API: registration and login, API key
// management, credential upload and lifecycle, donation toggles, the admin
// configuration/stats endpoints, and the live activity WebSocket.
package manage

import (
	"gempool-go/internal/config"
	"gempool-go/internal/events"
	"gempool-go/internal/pool"
	"gempool-go/internal/store"
	"gempool-go/internal/vault"
)

type Handler struct {
	st        *store.Store
	vault     *vault.Vault
	pool      *pool.Pool
	reg       *config.Registry
	hub       *events.Hub
	google    config.GoogleSettings
	jwtSecret []byte
}

func New(st *store.Store, v *vault.Vault, p *pool.Pool, reg *config.Registry, hub *events.Hub, google config.GoogleSettings, jwtSecret string) *Handler {
	return &Handler{
		st:        st,
		vault:     v,
		pool:      p,
		reg:       reg,
		hub:       hub,
		google:    google,
		jwtSecret: []byte(jwtSecret),
	}
}
