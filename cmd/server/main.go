package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"gempool-go/internal/config"
	"gempool-go/internal/dispatch"
	"gempool-go/internal/events"
	"gempool-go/internal/handlers/manage"
	"gempool-go/internal/logging"
	"gempool-go/internal/middleware"
	"gempool-go/internal/oauth"
	"gempool-go/internal/pool"
	"gempool-go/internal/quota"
	"gempool-go/internal/server"
	"gempool-go/internal/store"
	upstream "gempool-go/internal/upstream/gemini"
	"gempool-go/internal/vault"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Server.Debug, cfg.Server.LogFile); err != nil {
		return err
	}

	st, err := store.Open(cfg.Database.PostgresDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := store.MigrateUp(st.DB()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry(cfg.Runtime, st)
	if err := reg.LoadOverrides(ctx); err != nil {
		return err
	}
	middleware.SafeGo("config-watcher", func() {
		err := config.Watch(ctx, configPath, func(next *config.Settings) {
			reg.SetBase(next.Runtime)
			if err := reg.LoadOverrides(ctx); err != nil {
				log.WithError(err).Warn("reload overrides after config change")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("config watcher stopped")
		}
	})

	v, err := vault.New(cfg.Secrets.EncryptionKey)
	if err != nil {
		return err
	}

	refresher := oauth.NewRefresher(cfg.Google.ClientID, cfg.Google.ClientSecret,
		oauth.WithTokenURL(cfg.Google.TokenEndpoint))
	client := upstream.NewClient(
		upstream.WithEndpoint(cfg.Google.CodeAssistEndpoint),
		upstream.WithDriveAboutURL(cfg.Google.DriveAboutEndpoint))

	credPool := pool.New(st, v, refresher, client, reg)
	limiter := quota.NewLimiter(st, reg)
	hub := events.NewHub()
	disp := dispatch.New(st, credPool, limiter, client, reg, hub)

	if err := bootstrapAdmin(ctx, st, reg); err != nil {
		return err
	}

	mgHandler := manage.New(st, v, credPool, reg, hub, cfg.Google, cfg.Secrets.JWTSecret)
	engine := server.Build(cfg, server.Dependencies{
		Store:      st,
		Dispatcher: disp,
		Manage:     mgHandler,
	})
	srv := server.HTTPServer(cfg, engine)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// bootstrapAdmin promotes or creates the admin account named by
// GEMPOOL_ADMIN_USERNAME / GEMPOOL_ADMIN_PASSWORD. An existing user keeps
// their password.
func bootstrapAdmin(ctx context.Context, st *store.Store, reg *config.Registry) error {
	username := os.Getenv("GEMPOOL_ADMIN_USERNAME")
	password := os.Getenv("GEMPOOL_ADMIN_PASSWORD")
	if username == "" {
		return nil
	}
	if password == "" {
		return errors.New("GEMPOOL_ADMIN_PASSWORD is required with GEMPOOL_ADMIN_USERNAME")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user, err := st.EnsureAdminUser(ctx, username, string(hash), reg.Snapshot().DefaultDailyQuota)
	if err != nil {
		return err
	}
	log.Infof("admin account %q ready (id %d)", user.Username, user.ID)
	return nil
}
