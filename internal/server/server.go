// Package server assembles the gin engine: inference routes under the OpenAI
// and Gemini surfaces, and the management API under /api/manage.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gempool-go/internal/config"
	"gempool-go/internal/dispatch"
	gh "gempool-go/internal/handlers/gemini"
	"gempool-go/internal/handlers/manage"
	oh "gempool-go/internal/handlers/openai"
	mw "gempool-go/internal/middleware"
	"gempool-go/internal/store"
)

// Dependencies are the runtime services the routes need.
type Dependencies struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher
	Manage     *manage.Handler
}

// Build constructs the engine with all routes mounted.
func Build(cfg *config.Settings, deps Dependencies) *gin.Engine {
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(mw.RequestID(), mw.RequestLogger(), mw.Recovery(), mw.CORS())

	root := engine.Group(cfg.Server.BasePath)

	root.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	registerInference(root, cfg, deps)
	registerManagement(root, deps.Manage)
	return engine
}

func registerInference(root *gin.RouterGroup, cfg *config.Settings, deps Dependencies) {
	openaiH := oh.New(deps.Dispatcher, deps.Store)
	geminiH := gh.New(deps.Dispatcher, deps.Store)

	rt := cfg.Runtime
	infer := root.Group("")
	infer.Use(mw.BurstLimiter(rt.BaseRPM, rt.BaseRPM*2), mw.APIKeyAuth(deps.Store))

	// OpenAI surface, with and without the /v1 prefix.
	for _, p := range []string{"/v1", ""} {
		infer.POST(p+"/chat/completions", openaiH.ChatCompletions)
		infer.GET(p+"/models", openaiH.ListModels)
	}

	// Gemini surface. Model actions carry a colon (model:generateContent),
	// so the tail is a wildcard split by the handler.
	infer.GET("/v1beta/models", geminiH.ListModels)
	infer.POST("/v1beta/models/*modelAction", geminiH.ModelAction)

	// Optional passthrough to a real OpenAI-compatible backend.
	if proxy := oh.ReverseProxy(cfg.OpenAI); proxy != nil {
		infer.Any("/openai/*path", proxy)
	}
}

func registerManagement(root *gin.RouterGroup, h *manage.Handler) {
	mg := root.Group("/api/manage")

	mg.POST("/register", h.Register)
	mg.POST("/login", h.Login)
	mg.GET("/announcement", h.Announcement)

	authed := mg.Group("")
	authed.Use(h.RequireSession())

	authed.GET("/me", h.Me)
	authed.GET("/ws", h.EventStream)

	authed.GET("/keys", h.ListKeys)
	authed.POST("/keys", h.CreateKey)
	authed.DELETE("/keys/:id", h.DeleteKey)
	authed.POST("/keys/:id/rotate", h.RotateKey)

	authed.GET("/credentials", h.ListCredentials)
	authed.POST("/credentials", h.UploadCredentials)
	authed.GET("/credentials/export", h.ExportAllCredentials)
	authed.POST("/credentials/verify-all", h.VerifyAllCredentials)
	authed.POST("/credentials/batch", h.BatchCredentials)
	authed.POST("/credentials/delete-inactive", h.DeleteInactiveCredentials)
	authed.DELETE("/credentials/:id", h.DeleteCredential)
	authed.POST("/credentials/:id/donate", h.SetDonation)
	authed.PUT("/credentials/:id/tier", h.SetTier)
	authed.POST("/credentials/:id/verify", h.VerifyCredential)
	authed.GET("/credentials/:id/export", h.ExportCredential)

	admin := authed.Group("/admin")
	admin.Use(h.RequireAdmin())

	admin.GET("/config", h.GetConfig)
	admin.PUT("/config", h.UpdateConfig)
	admin.DELETE("/config/:key", h.ResetConfig)
	admin.GET("/users", h.ListUsers)
	admin.PUT("/users/:id/active", h.SetUserActive)
	admin.PUT("/users/:id/quota", h.SetUserQuota)
	admin.GET("/stats", h.Stats)
	admin.GET("/credentials", h.ListAllCredentials)
}

// HTTPServer wraps the engine with sane timeouts. Write timeout stays off so
// long streams are not cut.
func HTTPServer(cfg *config.Settings, engine *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
